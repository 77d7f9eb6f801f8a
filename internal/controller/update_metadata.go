package controller

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// UpdatePartitionMetadata replaces the target slot's groups in b with the
// groups declared by m. b is only modified when every group and partition
// fits.
func (c *Controller) UpdatePartitionMetadata(b *metadata.Builder, target types.Slot, m *manifest.Manifest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatePartitionMetadata(b, target, m)
}

func (c *Controller) updatePartitionMetadata(b *metadata.Builder, target types.Slot, m *manifest.Manifest) error {
	suffix := target.Suffix()
	log := c.log().WithField("target_slot", target.String())

	work := b.Clone()
	work.RemoveGroupAndPartitions(types.CowGroupName)
	metadata.DeleteGroupsWithSuffix(work, suffix)

	total, ok := m.TotalGroupSize()
	if !ok {
		log.Error("sum of group sizes overflows")
		return fmt.Errorf("%w: sum of group sizes overflows", ErrGroupsTooLarge)
	}
	allocatable := work.AllocatableSpace()
	budget := "allocatable space"
	if !c.flags.DynamicPartitions.IsRetrofit() {
		// the source slot keeps the other half
		allocatable /= 2
		budget = "half of allocatable space"
	}
	if total > allocatable {
		log.WithFields(logrus.Fields{"total": total, "allocatable": allocatable}).
			Errorf("groups with suffix %s exceed %s", suffix, budget)
		return fmt.Errorf("%w: groups need %d bytes, %s is %d", ErrGroupsTooLarge, total, budget, allocatable)
	}

	sizes := m.NewPartitionSizes()
	for _, g := range m.DynamicPartitionMetadata.Groups {
		groupName := g.Name + suffix
		if err := work.AddGroup(groupName, uint64(g.Size)); err != nil {
			return fmt.Errorf("add group %s: %w", groupName, err)
		}
		log.WithFields(logrus.Fields{"group": groupName, "size": uint64(g.Size)}).Info("added group")

		for _, name := range g.PartitionNames {
			size, ok := sizes[name]
			if !ok {
				log.WithField("partition", name).Error("group lists a partition that is not part of the manifest")
				return fmt.Errorf("%w: %s in group %s", ErrMissingPartition, name, g.Name)
			}
			partName := name + suffix
			p, err := work.AddPartition(partName, groupName, types.PartitionAttrReadOnly)
			if err != nil {
				return fmt.Errorf("add partition %s: %w", partName, err)
			}
			if err := work.ResizePartition(p, size); err != nil {
				return fmt.Errorf("resize partition %s to %d: %w", partName, size, err)
			}
			log.WithFields(logrus.Fields{"partition": partName, "group": groupName, "size": size}).Info("added partition")
		}
	}

	b.Restore(work)
	return nil
}

// DeleteSourcePartitions removes the source slot's groups so their space
// can be reused. Only allowed in recovery for full (non-incremental)
// packages, since the source slot is unbootable until the update finishes.
func (c *Controller) DeleteSourcePartitions(b *metadata.Builder, source types.Slot, m *manifest.Manifest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteSourcePartitions(b, source, m)
}

func (c *Controller) deleteSourcePartitions(b *metadata.Builder, source types.Slot, m *manifest.Manifest) error {
	if c.mode != types.ModeRecovery {
		return ErrNotRecovery
	}
	log := c.log().WithField("source_slot", source.String())
	if m.IsIncremental() {
		log.Error("cannot sideload incremental package because snapshots cannot be created")
		if c.flags.VirtualAB.IsLaunch() {
			log.Error("sideloading incremental updates on devices launched with Virtual A/B is not supported")
		}
		return ErrIncrementalUpdate
	}
	log.Warnf("will overwrite existing partitions, slot %s may be unbootable until the update finishes", source)
	metadata.DeleteGroupsWithSuffix(b, source.Suffix())
	return nil
}
