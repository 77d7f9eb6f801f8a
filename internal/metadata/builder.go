// Package metadata models the super partition metadata table: partition
// groups, logical partitions and the linear extents that back them.
package metadata

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

var (
	ErrNoMetadata       = errors.New("no metadata")
	ErrNoSpace          = errors.New("not enough free space")
	ErrGroupFull        = errors.New("partition group is full")
	ErrGroupExists      = errors.New("group already exists")
	ErrPartitionExists  = errors.New("partition already exists")
	ErrUnknownGroup     = errors.New("unknown group")
	ErrNameTooLong      = errors.New("name too long")
	ErrGeometryMismatch = errors.New("geometry mismatch")
)

// Extent is a run of sectors mapped linearly onto a block device.
type Extent struct {
	NumSectors     uint64
	PhysicalSector uint64
	DeviceIndex    uint32
}

// Partition is a logical partition in the table.
type Partition struct {
	name       string
	groupName  string
	attributes uint32
	extents    []Extent
}

func (p *Partition) Name() string       { return p.name }
func (p *Partition) GroupName() string  { return p.groupName }
func (p *Partition) Attributes() uint32 { return p.attributes }

// Extents returns a copy of the partition's extents in logical order.
func (p *Partition) Extents() []Extent {
	return append([]Extent(nil), p.extents...)
}

// Size returns the partition size in bytes.
func (p *Partition) Size() uint64 {
	var sectors uint64
	for _, e := range p.extents {
		sectors += e.NumSectors
	}
	return sectors * types.SectorSize
}

func (p *Partition) appendExtent(e Extent) {
	if n := len(p.extents); n > 0 {
		last := &p.extents[n-1]
		if last.DeviceIndex == e.DeviceIndex && last.PhysicalSector+last.NumSectors == e.PhysicalSector {
			last.NumSectors += e.NumSectors
			return
		}
	}
	p.extents = append(p.extents, e)
}

func (p *Partition) shrinkTo(sectors uint64) {
	var kept []Extent
	for _, e := range p.extents {
		if sectors == 0 {
			break
		}
		if e.NumSectors > sectors {
			e.NumSectors = sectors
		}
		kept = append(kept, e)
		sectors -= e.NumSectors
	}
	p.extents = kept
}

// Group is a named quota shared by a set of partitions.
type Group struct {
	name    string
	maxSize uint64
}

func (g *Group) Name() string { return g.name }

// MaximumSize returns the group quota in bytes; 0 means unlimited.
func (g *Group) MaximumSize() uint64 { return g.maxSize }

// BlockDevice is a physical device holding partition data.
type BlockDevice struct {
	Name               string
	FirstLogicalSector uint64
	Size               uint64
	Alignment          uint32
	AlignmentOffset    uint32
	Flags              uint32
}

// Builder is an in-memory, mutable metadata table.
type Builder struct {
	geometry     types.Geometry
	blockDevices []BlockDevice
	groups       []*Group
	partitions   []*Partition
	log          logrus.FieldLogger
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// New creates an empty table for a single super device.
func New(deviceName string, deviceSize uint64, metadataMaxSize, slotCount uint32) (*Builder, error) {
	geometry := types.Geometry{
		MetadataMaxSize:   metadataMaxSize,
		MetadataSlotCount: slotCount,
		LogicalBlockSize:  types.DefaultLogicalBlockSize,
	}
	if metadataMaxSize == 0 || metadataMaxSize%types.SectorSize != 0 {
		return nil, fmt.Errorf("metadata max size %d must be a positive multiple of %d", metadataMaxSize, types.SectorSize)
	}
	if slotCount == 0 {
		return nil, fmt.Errorf("metadata slot count must be positive")
	}
	if err := checkName(deviceName); err != nil {
		return nil, err
	}

	lbs := uint64(geometry.LogicalBlockSize)
	firstLogical := alignUp(geometry.MetadataRegionSize(), lbs)
	size := alignDown(deviceSize, lbs)
	if size <= firstLogical {
		return nil, fmt.Errorf("device size %d too small for metadata region of %d bytes", deviceSize, firstLogical)
	}

	return &Builder{
		geometry: geometry,
		blockDevices: []BlockDevice{{
			Name:               deviceName,
			FirstLogicalSector: firstLogical / types.SectorSize,
			Size:               size,
			Alignment:          geometry.LogicalBlockSize,
		}},
		groups: []*Group{{name: types.DefaultGroupName}},
		log:    discardLogger(),
	}, nil
}

// NewFromMetadata builds a table from decoded metadata.
func NewFromMetadata(m *types.Metadata) (*Builder, error) {
	b := &Builder{geometry: m.Geometry, log: discardLogger()}
	for _, bd := range m.BlockDevices {
		b.blockDevices = append(b.blockDevices, BlockDevice{
			Name:               bd.PartitionName,
			FirstLogicalSector: bd.FirstLogicalSector,
			Size:               bd.Size,
			Alignment:          bd.Alignment,
			AlignmentOffset:    bd.AlignmentOffset,
			Flags:              bd.Flags,
		})
	}
	for _, g := range m.Groups {
		b.groups = append(b.groups, &Group{name: g.Name, maxSize: g.MaximumSize})
	}
	for _, pe := range m.Partitions {
		if int(pe.GroupIndex) >= len(m.Groups) {
			return nil, fmt.Errorf("partition %q: group index %d out of range", pe.Name, pe.GroupIndex)
		}
		p := &Partition{
			name:       pe.Name,
			groupName:  m.Groups[pe.GroupIndex].Name,
			attributes: pe.Attributes,
		}
		end := uint64(pe.FirstExtentIndex) + uint64(pe.NumExtents)
		if end > uint64(len(m.Extents)) {
			return nil, fmt.Errorf("partition %q: extents out of range", pe.Name)
		}
		for _, e := range m.Extents[pe.FirstExtentIndex:end] {
			if e.TargetType != types.TargetTypeLinear {
				return nil, fmt.Errorf("partition %q: unsupported extent type %d", pe.Name, e.TargetType)
			}
			p.extents = append(p.extents, Extent{
				NumSectors:     e.NumSectors,
				PhysicalSector: e.TargetData,
				DeviceIndex:    e.TargetSource,
			})
		}
		b.partitions = append(b.partitions, p)
	}
	if b.FindGroup(types.DefaultGroupName) == nil {
		b.groups = append([]*Group{{name: types.DefaultGroupName}}, b.groups...)
	}
	return b, nil
}

// SetLogger replaces the builder's logger.
func (b *Builder) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		b.log = log
	}
}

// Geometry returns the table geometry.
func (b *Builder) Geometry() types.Geometry {
	return b.geometry
}

// Clone returns a deep copy of the table.
func (b *Builder) Clone() *Builder {
	c := &Builder{
		geometry:     b.geometry,
		blockDevices: append([]BlockDevice(nil), b.blockDevices...),
		log:          b.log,
	}
	for _, g := range b.groups {
		cg := *g
		c.groups = append(c.groups, &cg)
	}
	for _, p := range b.partitions {
		cp := *p
		cp.extents = append([]Extent(nil), p.extents...)
		c.partitions = append(c.partitions, &cp)
	}
	return c
}

// Restore replaces the table contents with a deep copy of from.
// Partition pointers obtained before the call are no longer part of the table.
func (b *Builder) Restore(from *Builder) {
	c := from.Clone()
	b.geometry = c.geometry
	b.blockDevices = c.blockDevices
	b.groups = c.groups
	b.partitions = c.partitions
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if len(name) > types.MaxNameLength {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrNameTooLong, name, types.MaxNameLength)
	}
	return nil
}

// AddGroup adds a partition group with the given quota (0 = unlimited).
func (b *Builder) AddGroup(name string, maxSize uint64) error {
	if err := checkName(name); err != nil {
		return err
	}
	if b.FindGroup(name) != nil {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}
	b.groups = append(b.groups, &Group{name: name, maxSize: maxSize})
	return nil
}

// FindGroup returns the named group or nil.
func (b *Builder) FindGroup(name string) *Group {
	for _, g := range b.groups {
		if g.name == name {
			return g
		}
	}
	return nil
}

// Groups returns the groups in table order.
func (b *Builder) Groups() []*Group {
	return append([]*Group(nil), b.groups...)
}

// RemoveGroupAndPartitions removes a group and every partition in it.
// The default group itself is never removed, only emptied.
func (b *Builder) RemoveGroupAndPartitions(name string) {
	kept := b.partitions[:0]
	for _, p := range b.partitions {
		if p.groupName != name {
			kept = append(kept, p)
		}
	}
	b.partitions = kept

	if name == types.DefaultGroupName {
		return
	}
	for i, g := range b.groups {
		if g.name == name {
			b.groups = append(b.groups[:i], b.groups[i+1:]...)
			return
		}
	}
}

// AddPartition adds an empty partition to an existing group.
func (b *Builder) AddPartition(name, groupName string, attributes uint32) (*Partition, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if b.FindPartition(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrPartitionExists, name)
	}
	if b.FindGroup(groupName) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, groupName)
	}
	p := &Partition{name: name, groupName: groupName, attributes: attributes}
	b.partitions = append(b.partitions, p)
	return p, nil
}

// FindPartition returns the named partition or nil.
func (b *Builder) FindPartition(name string) *Partition {
	for _, p := range b.partitions {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Partitions returns every partition in table order.
func (b *Builder) Partitions() []*Partition {
	return append([]*Partition(nil), b.partitions...)
}

// ListPartitionsInGroup returns the partitions belonging to a group.
func (b *Builder) ListPartitionsInGroup(groupName string) []*Partition {
	var out []*Partition
	for _, p := range b.partitions {
		if p.groupName == groupName {
			out = append(out, p)
		}
	}
	return out
}

// RemovePartition deletes a partition, freeing its extents.
func (b *Builder) RemovePartition(name string) {
	for i, p := range b.partitions {
		if p.name == name {
			b.partitions = append(b.partitions[:i], b.partitions[i+1:]...)
			return
		}
	}
}

// ResizePartition grows or shrinks a partition to size bytes, rounded up
// to the logical block size. On error the partition is unchanged.
func (b *Builder) ResizePartition(p *Partition, size uint64) error {
	aligned := alignUp(size, uint64(b.geometry.LogicalBlockSize))
	old := p.Size()
	switch {
	case aligned == old:
		return nil
	case aligned < old:
		p.shrinkTo(aligned / types.SectorSize)
		b.log.WithFields(logrus.Fields{"partition": p.name, "size": aligned}).Debug("shrunk partition")
		return nil
	}

	group := b.FindGroup(p.groupName)
	if group == nil {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, p.groupName)
	}
	if group.maxSize > 0 {
		var used uint64
		for _, other := range b.ListPartitionsInGroup(group.name) {
			if other != p {
				used += other.Size()
			}
		}
		if used+aligned > group.maxSize {
			return fmt.Errorf("%w: %s needs %d bytes, group %s has %d of %d free",
				ErrGroupFull, p.name, aligned, group.name, group.maxSize-min(used, group.maxSize), group.maxSize)
		}
	}

	needed := (aligned - old) / types.SectorSize
	var allocated []Extent
	for _, r := range b.freeRegions() {
		if needed == 0 {
			break
		}
		take := min(r.NumSectors, needed)
		allocated = append(allocated, Extent{NumSectors: take, PhysicalSector: r.PhysicalSector, DeviceIndex: r.DeviceIndex})
		needed -= take
	}
	if needed > 0 {
		return fmt.Errorf("%w: %s needs %d more bytes", ErrNoSpace, p.name, needed*types.SectorSize)
	}
	for _, e := range allocated {
		p.appendExtent(e)
	}
	b.log.WithFields(logrus.Fields{"partition": p.name, "size": aligned}).Debug("grew partition")
	return nil
}

// freeRegions returns unallocated, block-aligned sector ranges on all block
// devices, in device then sector order.
func (b *Builder) freeRegions() []Extent {
	sectorsPerBlock := uint64(b.geometry.LogicalBlockSize) / types.SectorSize
	var free []Extent
	for idx, bd := range b.blockDevices {
		var used []Extent
		for _, p := range b.partitions {
			for _, e := range p.extents {
				if e.DeviceIndex == uint32(idx) {
					used = append(used, e)
				}
			}
		}
		sort.Slice(used, func(i, j int) bool { return used[i].PhysicalSector < used[j].PhysicalSector })

		cursor := bd.FirstLogicalSector
		end := bd.Size / types.SectorSize
		addGap := func(from, to uint64) {
			from = alignUp(from, sectorsPerBlock)
			to = alignDown(to, sectorsPerBlock)
			if to > from {
				free = append(free, Extent{NumSectors: to - from, PhysicalSector: from, DeviceIndex: uint32(idx)})
			}
		}
		for _, e := range used {
			if e.PhysicalSector > cursor {
				addGap(cursor, e.PhysicalSector)
			}
			cursor = max(cursor, e.PhysicalSector+e.NumSectors)
		}
		if end > cursor {
			addGap(cursor, end)
		}
	}
	return free
}

// AllocatableSpace returns the bytes available for partition data on all
// block devices.
func (b *Builder) AllocatableSpace() uint64 {
	var total uint64
	for _, bd := range b.blockDevices {
		total += bd.Size - bd.FirstLogicalSector*types.SectorSize
	}
	return total
}

// UsedSpace returns the bytes allocated to partitions.
func (b *Builder) UsedSpace() uint64 {
	var used uint64
	for _, p := range b.partitions {
		used += p.Size()
	}
	return used
}

// HasBlockDevice reports whether name is one of the table's block devices.
func (b *Builder) HasBlockDevice(name string) bool {
	for _, bd := range b.blockDevices {
		if bd.Name == name {
			return true
		}
	}
	return false
}

// BlockDevices returns the table's block devices.
func (b *Builder) BlockDevices() []BlockDevice {
	return append([]BlockDevice(nil), b.blockDevices...)
}

// Export converts the table into its on-disk record form.
func (b *Builder) Export() (*types.Metadata, error) {
	m := &types.Metadata{
		Geometry:     b.geometry,
		MajorVersion: types.MetadataMajorVersion,
		MinorVersion: types.MetadataMinorVersion,
	}

	groupIndex := make(map[string]uint32, len(b.groups))
	for _, g := range b.groups {
		if err := checkName(g.name); err != nil {
			return nil, fmt.Errorf("group: %w", err)
		}
		groupIndex[g.name] = uint32(len(m.Groups))
		m.Groups = append(m.Groups, types.GroupEntry{Name: g.name, MaximumSize: g.maxSize})
	}

	for _, p := range b.partitions {
		if err := checkName(p.name); err != nil {
			return nil, fmt.Errorf("partition: %w", err)
		}
		gi, ok := groupIndex[p.groupName]
		if !ok {
			return nil, fmt.Errorf("partition %s: %w: %s", p.name, ErrUnknownGroup, p.groupName)
		}
		m.Partitions = append(m.Partitions, types.PartitionEntry{
			Name:             p.name,
			Attributes:       p.attributes,
			FirstExtentIndex: uint32(len(m.Extents)),
			NumExtents:       uint32(len(p.extents)),
			GroupIndex:       gi,
		})
		for _, e := range p.extents {
			m.Extents = append(m.Extents, types.ExtentEntry{
				NumSectors:   e.NumSectors,
				TargetType:   types.TargetTypeLinear,
				TargetData:   e.PhysicalSector,
				TargetSource: e.DeviceIndex,
			})
		}
	}

	for _, bd := range b.blockDevices {
		m.BlockDevices = append(m.BlockDevices, types.BlockDeviceEntry{
			FirstLogicalSector: bd.FirstLogicalSector,
			Alignment:          bd.Alignment,
			AlignmentOffset:    bd.AlignmentOffset,
			Size:               bd.Size,
			PartitionName:      bd.Name,
			Flags:              bd.Flags,
		})
	}
	return m, nil
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

func alignDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return v / align * align
}
