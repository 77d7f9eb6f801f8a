package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
	"github.com/deploymenttheory/go-dynpart/internal/snapshot"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// PreparePartitionsForUpdate prepares the target slot before any payload
// data is written. With update false only the checks run and nothing is
// written. When the snapshot engine runs out of space the additional bytes
// it needs are returned along with the error.
func (c *Controller) PreparePartitionsForUpdate(ctx context.Context, source, target types.Slot, m *manifest.Manifest, update bool) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sourceSlot = source
	c.targetSlot = target
	c.isTargetDynamic = false
	c.targetSupportsSnapshot = false
	c.session = uuid.NewString()

	log := c.log().WithFields(logrus.Fields{
		"source_slot": source.String(),
		"target_slot": target.String(),
	})

	if !c.flags.DynamicPartitions.IsEnabled() {
		log.Debug("dynamic partitions disabled, nothing to prepare")
		return 0, nil
	}
	if source == target {
		log.Error("cannot call PreparePartitionsForUpdate on current slot")
		return 0, ErrSameSlot
	}
	if m == nil {
		m = &manifest.Manifest{}
	}

	// A capable build may still receive a payload without groups, e.g. a
	// retrofit package. Target metadata is left alone.
	c.isTargetDynamic = m.IsDynamic()
	if !c.isTargetDynamic {
		log.Info("target payload is not dynamic, skipping metadata update")
		return 0, nil
	}
	c.targetSupportsSnapshot = m.DynamicPartitionMetadata.SnapshotEnabled

	if c.flags.VirtualAB.IsEnabled() {
		handle, err := c.snap.EnsureMetadataMounted(ctx)
		if err != nil {
			log.WithError(err).Error("snapshot metadata is not mounted")
			return 0, fmt.Errorf("mount snapshot metadata: %w", err)
		}
		c.replaceMetadataDevice(handle)
	}

	if !update {
		return 0, nil
	}

	deleteSource := false
	// set when snapshots did not fit; reported again if the fallback fails
	var required uint64
	if c.flags.VirtualAB.IsEnabled() {
		// Either BeginUpdate or CancelUpdate must run before the engine will
		// unmap snapshots, so every branch below ends in one of them.
		if c.targetSupportsSnapshot {
			err := c.prepareSnapshotPartitions(ctx, m)
			if err == nil {
				return 0, nil
			}
			if c.mode != types.ModeRecovery {
				log.WithError(err).Error("snapshot preparation failed in normal mode")
				return snapshot.RequiredSize(err), err
			}
			deleteSource = true
			required = snapshot.RequiredSize(err)
			log.WithError(err).Warn("snapshot preparation failed in recovery, overwriting existing partitions")
		} else {
			log.Info("using regular A/B on Virtual A/B because package disabled snapshots")
		}

		if c.expectMetadataMounted() {
			if err := c.snap.CancelUpdate(ctx); err != nil {
				return required, fmt.Errorf("cancel previous snapshot update: %w", err)
			}
		} else {
			log.Info("skip canceling previous update because snapshot metadata is not mounted")
		}
	}

	if err := c.prepareDynamicPartitions(ctx, source, target, m, deleteSource); err != nil {
		return required, err
	}
	log.Info("target slot metadata prepared")
	return 0, nil
}

func (c *Controller) prepareSnapshotPartitions(ctx context.Context, m *manifest.Manifest) error {
	if err := c.snap.BeginUpdate(ctx); err != nil {
		return fmt.Errorf("begin snapshot update: %w", err)
	}
	if err := c.snap.CreateUpdateSnapshots(ctx, m); err != nil {
		c.log().WithError(err).WithField("required_size", snapshot.RequiredSize(err)).Error("cannot create update snapshots")
		return fmt.Errorf("create update snapshots: %w", err)
	}
	c.log().Info("update snapshots created")
	return nil
}

// prepareDynamicPartitions is the non-snapshot path: rewrite the target
// slot's metadata from the source slot's table.
func (c *Controller) prepareDynamicPartitions(ctx context.Context, source, target types.Slot, m *manifest.Manifest, deleteSource bool) error {
	// target partitions would be inconsistent with the new table
	for _, g := range m.DynamicPartitionMetadata.Groups {
		for _, name := range g.PartitionNames {
			if err := c.unmapPartition(ctx, name+target.Suffix()); err != nil {
				return err
			}
		}
	}

	sourceDevice, err := c.SuperDevice(source)
	if err != nil {
		return fmt.Errorf("locate source super partition: %w", err)
	}
	b, err := c.meta.LoadForUpdate(sourceDevice, source, target, !c.targetSupportsSnapshot)
	if err != nil {
		c.log().WithError(err).WithField("slot", source.String()).Error("no metadata in source slot")
		return fmt.Errorf("load metadata from %s: %w", sourceDevice, err)
	}

	if deleteSource {
		if err := c.deleteSourcePartitions(b, source, m); err != nil {
			return err
		}
	}
	if err := c.updatePartitionMetadata(b, target, m); err != nil {
		return err
	}

	targetDevice, err := c.SuperDevice(target)
	if err != nil {
		return fmt.Errorf("locate target super partition: %w", err)
	}
	return c.storeMetadata(targetDevice, b, target)
}

// storeMetadata writes b for slot. Retrofit supers are flashed whole since
// each slot owns its device.
func (c *Controller) storeMetadata(device string, b *metadata.Builder, slot types.Slot) error {
	log := c.log().WithFields(logrus.Fields{"device": device, "slot": slot.String()})
	if c.flags.DynamicPartitions.IsRetrofit() {
		if err := c.meta.Flash(device, b); err != nil {
			return fmt.Errorf("flash metadata to %s: %w", device, err)
		}
		log.Info("flashed metadata")
		return nil
	}
	if err := c.meta.Update(device, b, slot); err != nil {
		return fmt.Errorf("update metadata on %s: %w", device, err)
	}
	log.Info("updated metadata slot")
	return nil
}

// expectMetadataMounted is false only in recovery when the snapshot
// metadata could not be mounted; snapshots cannot exist in that case.
func (c *Controller) expectMetadataMounted() bool {
	if c.mode != types.ModeRecovery {
		return true
	}
	return c.metadataDevice != nil
}
