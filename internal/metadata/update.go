package metadata

import (
	"strings"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// UpdateOptions controls how a source slot's table is turned into the
// starting point for the target slot.
type UpdateOptions struct {
	// Retrofit means each slot has its own physical super device.
	Retrofit bool
	// VirtualAB means target partitions may share source extents through snapshots.
	VirtualAB bool
	// KeepSource keeps source-slot partitions allocated.
	KeepSource bool
}

// NewForUpdate builds the table for target from the metadata stored for source.
func NewForUpdate(m *types.Metadata, source, target types.Slot, opts UpdateOptions) (*Builder, error) {
	b, err := NewFromMetadata(m)
	if err != nil {
		return nil, err
	}
	if source == target || !target.Valid() {
		return b, nil
	}

	switch {
	case opts.Retrofit:
		b.updateForOtherSuper(source.Suffix(), target.Suffix())
	case opts.VirtualAB && !opts.KeepSource:
		b.updateForInPlaceSnapshot(source.Suffix(), target.Suffix())
	}
	return b, nil
}

// updateForOtherSuper rewrites a retrofit table read from the source
// slot's super so it describes the target slot's super instead.
func (b *Builder) updateForOtherSuper(sourceSuffix, targetSuffix string) {
	for i := range b.blockDevices {
		b.blockDevices[i].Name = ReplaceSuffix(b.blockDevices[i].Name, sourceSuffix, targetSuffix)
	}
	b.removeWithSuffix(sourceSuffix)
}

// updateForInPlaceSnapshot renames source-slot groups and partitions to the
// target slot, replacing any stale target-slot entries. Extents are kept so
// the target initially aliases the source data.
func (b *Builder) updateForInPlaceSnapshot(sourceSuffix, targetSuffix string) {
	b.removeWithSuffix(targetSuffix)
	for _, g := range b.groups {
		g.name = ReplaceSuffix(g.name, sourceSuffix, targetSuffix)
	}
	for _, p := range b.partitions {
		p.name = ReplaceSuffix(p.name, sourceSuffix, targetSuffix)
		p.groupName = ReplaceSuffix(p.groupName, sourceSuffix, targetSuffix)
		p.attributes |= types.PartitionAttrUpdated
	}
}

func (b *Builder) removeWithSuffix(suffix string) {
	DeleteGroupsWithSuffix(b, suffix)
	for _, p := range b.Partitions() {
		if strings.HasSuffix(p.name, suffix) {
			b.RemovePartition(p.name)
		}
	}
}

// DeleteGroupsWithSuffix removes every group whose name ends in suffix,
// along with its partitions.
func DeleteGroupsWithSuffix(b *Builder, suffix string) {
	for _, g := range b.Groups() {
		if strings.HasSuffix(g.name, suffix) {
			b.RemoveGroupAndPartitions(g.name)
		}
	}
}

// ReplaceSuffix swaps a trailing from suffix for to; other names are returned unchanged.
func ReplaceSuffix(name, from, to string) string {
	if from == "" || !strings.HasSuffix(name, from) {
		return name
	}
	return strings.TrimSuffix(name, from) + to
}
