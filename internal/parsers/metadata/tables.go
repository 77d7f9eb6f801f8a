package metadata

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// Encoded record sizes.
const (
	HeaderSize           = 128
	PartitionEntrySize   = 52
	ExtentEntrySize      = 24
	GroupEntrySize       = 48
	BlockDeviceEntrySize = 64
)

// table descriptor offsets within the header
const (
	partitionsDescOffset   = 80
	extentsDescOffset      = 92
	groupsDescOffset       = 104
	blockDevicesDescOffset = 116
)

type tableDescriptor struct {
	offset     uint32
	numEntries uint32
	entrySize  uint32
}

func readDescriptor(data []byte) tableDescriptor {
	return tableDescriptor{
		offset:     endian.Uint32(data[0:4]),
		numEntries: endian.Uint32(data[4:8]),
		entrySize:  endian.Uint32(data[8:12]),
	}
}

func (d tableDescriptor) put(data []byte) {
	endian.PutUint32(data[0:4], d.offset)
	endian.PutUint32(data[4:8], d.numEntries)
	endian.PutUint32(data[8:12], d.entrySize)
}

// entries returns the raw bytes of each entry, checking bounds.
func (d tableDescriptor) entries(tables []byte, name string, wantSize uint32) ([][]byte, error) {
	if d.entrySize != wantSize {
		return nil, fmt.Errorf("%s table: entry size %d, want %d", name, d.entrySize, wantSize)
	}
	end := uint64(d.offset) + uint64(d.numEntries)*uint64(d.entrySize)
	if end > uint64(len(tables)) {
		return nil, fmt.Errorf("%s table: %w", name, ErrTruncated)
	}
	out := make([][]byte, 0, d.numEntries)
	for i := uint32(0); i < d.numEntries; i++ {
		start := d.offset + i*d.entrySize
		out = append(out, tables[start:start+d.entrySize])
	}
	return out, nil
}

func readName(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data)
}

func putName(data []byte, name string) error {
	if len(name) > types.MaxNameLength {
		return fmt.Errorf("name %q exceeds %d bytes", name, types.MaxNameLength)
	}
	copy(data, name)
	return nil
}

// ParseMetadata decodes one metadata slot (header followed by tables).
func ParseMetadata(data []byte, geometry types.Geometry) (*types.Metadata, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header: %w: %d bytes", ErrTruncated, len(data))
	}

	magic := endian.Uint32(data[0:4])
	if magic != types.HeaderMagic {
		return nil, fmt.Errorf("header: %w: got 0x%08X, want 0x%08X", ErrBadMagic, magic, types.HeaderMagic)
	}

	m := &types.Metadata{
		Geometry:     geometry,
		MajorVersion: endian.Uint16(data[4:6]),
		MinorVersion: endian.Uint16(data[6:8]),
	}
	if m.MajorVersion != types.MetadataMajorVersion {
		return nil, fmt.Errorf("header: unsupported version %d.%d", m.MajorVersion, m.MinorVersion)
	}
	if size := endian.Uint32(data[8:12]); size != HeaderSize {
		return nil, fmt.Errorf("header: unexpected header size %d", size)
	}

	header := make([]byte, HeaderSize)
	copy(header, data[:HeaderSize])
	clear(header[12:44])
	if sum := sha256.Sum256(header); !bytes.Equal(sum[:], data[12:44]) {
		return nil, fmt.Errorf("header: %w", ErrChecksum)
	}

	tablesSize := endian.Uint32(data[44:48])
	if uint64(HeaderSize)+uint64(tablesSize) > uint64(len(data)) {
		return nil, fmt.Errorf("tables: %w", ErrTruncated)
	}
	tables := data[HeaderSize : HeaderSize+tablesSize]
	if sum := sha256.Sum256(tables); !bytes.Equal(sum[:], data[48:80]) {
		return nil, fmt.Errorf("tables: %w", ErrChecksum)
	}

	partitions, err := readDescriptor(data[partitionsDescOffset:]).entries(tables, "partition", PartitionEntrySize)
	if err != nil {
		return nil, err
	}
	extents, err := readDescriptor(data[extentsDescOffset:]).entries(tables, "extent", ExtentEntrySize)
	if err != nil {
		return nil, err
	}
	groups, err := readDescriptor(data[groupsDescOffset:]).entries(tables, "group", GroupEntrySize)
	if err != nil {
		return nil, err
	}
	blockDevices, err := readDescriptor(data[blockDevicesDescOffset:]).entries(tables, "block device", BlockDeviceEntrySize)
	if err != nil {
		return nil, err
	}

	for _, e := range extents {
		m.Extents = append(m.Extents, types.ExtentEntry{
			NumSectors:   endian.Uint64(e[0:8]),
			TargetType:   endian.Uint32(e[8:12]),
			TargetData:   endian.Uint64(e[12:20]),
			TargetSource: endian.Uint32(e[20:24]),
		})
	}
	for _, e := range groups {
		m.Groups = append(m.Groups, types.GroupEntry{
			Name:        readName(e[0:36]),
			Flags:       endian.Uint32(e[36:40]),
			MaximumSize: endian.Uint64(e[40:48]),
		})
	}
	for _, e := range blockDevices {
		m.BlockDevices = append(m.BlockDevices, types.BlockDeviceEntry{
			FirstLogicalSector: endian.Uint64(e[0:8]),
			Alignment:          endian.Uint32(e[8:12]),
			AlignmentOffset:    endian.Uint32(e[12:16]),
			Size:               endian.Uint64(e[16:24]),
			PartitionName:      readName(e[24:60]),
			Flags:              endian.Uint32(e[60:64]),
		})
	}
	for _, e := range partitions {
		p := types.PartitionEntry{
			Name:             readName(e[0:36]),
			Attributes:       endian.Uint32(e[36:40]),
			FirstExtentIndex: endian.Uint32(e[40:44]),
			NumExtents:       endian.Uint32(e[44:48]),
			GroupIndex:       endian.Uint32(e[48:52]),
		}
		if uint64(p.FirstExtentIndex)+uint64(p.NumExtents) > uint64(len(m.Extents)) {
			return nil, fmt.Errorf("partition %q: extent range out of bounds", p.Name)
		}
		if int(p.GroupIndex) >= len(m.Groups) {
			return nil, fmt.Errorf("partition %q: group index %d out of bounds", p.Name, p.GroupIndex)
		}
		m.Partitions = append(m.Partitions, p)
	}
	for _, e := range m.Extents {
		if e.TargetType == types.TargetTypeLinear && int(e.TargetSource) >= len(m.BlockDevices) {
			return nil, fmt.Errorf("extent: block device index %d out of bounds", e.TargetSource)
		}
	}

	return m, nil
}

// EncodeMetadata serializes the header and tables of one metadata slot.
// The result never exceeds the geometry's metadata max size.
func EncodeMetadata(m *types.Metadata) ([]byte, error) {
	descs := []tableDescriptor{
		{numEntries: uint32(len(m.Partitions)), entrySize: PartitionEntrySize},
		{numEntries: uint32(len(m.Extents)), entrySize: ExtentEntrySize},
		{numEntries: uint32(len(m.Groups)), entrySize: GroupEntrySize},
		{numEntries: uint32(len(m.BlockDevices)), entrySize: BlockDeviceEntrySize},
	}
	var tablesSize uint32
	for i := range descs {
		descs[i].offset = tablesSize
		tablesSize += descs[i].numEntries * descs[i].entrySize
	}

	total := uint64(HeaderSize) + uint64(tablesSize)
	if total > uint64(m.Geometry.MetadataMaxSize) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, total, m.Geometry.MetadataMaxSize)
	}

	buf := make([]byte, total)
	tables := buf[HeaderSize:]

	off := descs[0].offset
	for _, p := range m.Partitions {
		e := tables[off : off+PartitionEntrySize]
		if err := putName(e[0:36], p.Name); err != nil {
			return nil, fmt.Errorf("partition: %w", err)
		}
		endian.PutUint32(e[36:40], p.Attributes)
		endian.PutUint32(e[40:44], p.FirstExtentIndex)
		endian.PutUint32(e[44:48], p.NumExtents)
		endian.PutUint32(e[48:52], p.GroupIndex)
		off += PartitionEntrySize
	}
	for _, x := range m.Extents {
		e := tables[off : off+ExtentEntrySize]
		endian.PutUint64(e[0:8], x.NumSectors)
		endian.PutUint32(e[8:12], x.TargetType)
		endian.PutUint64(e[12:20], x.TargetData)
		endian.PutUint32(e[20:24], x.TargetSource)
		off += ExtentEntrySize
	}
	for _, g := range m.Groups {
		e := tables[off : off+GroupEntrySize]
		if err := putName(e[0:36], g.Name); err != nil {
			return nil, fmt.Errorf("group: %w", err)
		}
		endian.PutUint32(e[36:40], g.Flags)
		endian.PutUint64(e[40:48], g.MaximumSize)
		off += GroupEntrySize
	}
	for _, b := range m.BlockDevices {
		e := tables[off : off+BlockDeviceEntrySize]
		endian.PutUint64(e[0:8], b.FirstLogicalSector)
		endian.PutUint32(e[8:12], b.Alignment)
		endian.PutUint32(e[12:16], b.AlignmentOffset)
		endian.PutUint64(e[16:24], b.Size)
		if err := putName(e[24:60], b.PartitionName); err != nil {
			return nil, fmt.Errorf("block device: %w", err)
		}
		endian.PutUint32(e[60:64], b.Flags)
		off += BlockDeviceEntrySize
	}

	endian.PutUint32(buf[0:4], types.HeaderMagic)
	endian.PutUint16(buf[4:6], types.MetadataMajorVersion)
	endian.PutUint16(buf[6:8], types.MetadataMinorVersion)
	endian.PutUint32(buf[8:12], HeaderSize)
	endian.PutUint32(buf[44:48], tablesSize)
	tablesSum := sha256.Sum256(tables)
	copy(buf[48:80], tablesSum[:])
	descs[0].put(buf[partitionsDescOffset:])
	descs[1].put(buf[extentsDescOffset:])
	descs[2].put(buf[groupsDescOffset:])
	descs[3].put(buf[blockDevicesDescOffset:])

	headerSum := sha256.Sum256(buf[:HeaderSize])
	copy(buf[12:44], headerSum[:])

	return buf, nil
}
