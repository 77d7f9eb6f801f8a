package types

// Super partition metadata layout.
//
// Offsets from the start of the super device:
//
//	0                      reserved (ReservedBytes)
//	ReservedBytes          primary geometry (GeometrySize)
//	+GeometrySize          backup geometry (GeometrySize)
//	+GeometrySize          primary metadata, SlotCount * MaxSize
//	...                    backup metadata, SlotCount * MaxSize
//	FirstLogicalSector*512 partition data
const (
	SectorSize              = 512
	ReservedBytes           = 4096
	GeometrySize            = 4096
	DefaultLogicalBlockSize = 4096

	GeometryMagic = 0x616c4467 // "gDla"
	HeaderMagic   = 0x414C5030 // "0PLA"

	MetadataMajorVersion = 10
	MetadataMinorVersion = 0

	// MaxNameLength is the fixed width of name fields in the tables.
	MaxNameLength = 36

	DefaultGroupName = "default"
	// CowGroupName holds copy-on-write partitions left behind by snapshots.
	CowGroupName = "cow"
)

// Partition attribute bits.
const (
	PartitionAttrNone         uint32 = 0
	PartitionAttrReadOnly     uint32 = 1 << 0
	PartitionAttrSlotSuffixed uint32 = 1 << 1
	PartitionAttrUpdated      uint32 = 1 << 2
)

// Extent target types.
const (
	TargetTypeLinear uint32 = 0
	TargetTypeZero   uint32 = 1
)

// Geometry is the fixed description of the metadata region.
type Geometry struct {
	// MetadataMaxSize is the size reserved for each metadata slot.
	MetadataMaxSize uint32
	// MetadataSlotCount is the number of metadata slots (2 for A/B).
	MetadataSlotCount uint32
	// LogicalBlockSize is the allocation granularity of partitions.
	LogicalBlockSize uint32
}

// MetadataRegionSize is the number of bytes before partition data.
func (g Geometry) MetadataRegionSize() uint64 {
	return ReservedBytes + 2*GeometrySize + 2*uint64(g.MetadataMaxSize)*uint64(g.MetadataSlotCount)
}

// PrimaryMetadataOffset returns the byte offset of a slot's primary copy.
func (g Geometry) PrimaryMetadataOffset(slot Slot) int64 {
	return int64(ReservedBytes+2*GeometrySize) + int64(slot)*int64(g.MetadataMaxSize)
}

// BackupMetadataOffset returns the byte offset of a slot's backup copy.
func (g Geometry) BackupMetadataOffset(slot Slot) int64 {
	return g.PrimaryMetadataOffset(0) + int64(g.MetadataSlotCount)*int64(g.MetadataMaxSize) + int64(slot)*int64(g.MetadataMaxSize)
}

// PartitionEntry is a partition record.
type PartitionEntry struct {
	Name             string
	Attributes       uint32
	FirstExtentIndex uint32
	NumExtents       uint32
	GroupIndex       uint32
}

// ExtentEntry maps a run of logical sectors onto a block device.
type ExtentEntry struct {
	NumSectors   uint64
	TargetType   uint32
	TargetData   uint64 // physical sector for linear extents
	TargetSource uint32 // block device index
}

// GroupEntry is a partition group record. MaximumSize 0 means unlimited.
type GroupEntry struct {
	Name        string
	Flags       uint32
	MaximumSize uint64
}

// BlockDeviceEntry describes a physical device backing the table.
type BlockDeviceEntry struct {
	FirstLogicalSector uint64
	Alignment          uint32
	AlignmentOffset    uint32
	Size               uint64
	PartitionName      string
	Flags              uint32
}

// Metadata is a decoded metadata slot together with its geometry.
type Metadata struct {
	Geometry     Geometry
	MajorVersion uint16
	MinorVersion uint16
	Partitions   []PartitionEntry
	Extents      []ExtentEntry
	Groups       []GroupEntry
	BlockDevices []BlockDeviceEntry
}
