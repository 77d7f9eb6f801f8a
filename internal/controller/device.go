package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-dynpart/internal/device"
	"github.com/deploymenttheory/go-dynpart/internal/devicemapper"
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

type lookupResult int

const (
	lookupFound lookupResult = iota
	lookupNotFound
)

// GetPartitionDevice returns the block device backing name in slot.
// current is the running slot. Logical partitions of the other slot are
// mapped writable; static partitions resolve to the by-name directory.
func (c *Controller) GetPartitionDevice(ctx context.Context, name string, slot, current types.Slot) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	suffixed := name + slot.Suffix()
	log := c.log().WithFields(logrus.Fields{"partition": suffixed, "slot": slot.String()})

	dir, err := c.dirs.DeviceDir()
	if err != nil {
		return "", fmt.Errorf("locate device directory: %w", err)
	}

	if c.flags.DynamicPartitions.IsEnabled() {
		if slot == current || c.isTargetDynamic {
			path, res, err := c.getDynamicPartitionDevice(ctx, dir, suffixed, slot, current)
			if err != nil {
				return "", err
			}
			if res == lookupFound {
				return path, nil
			}
		}
	}

	path := filepath.Join(dir, suffixed)
	if !device.Exists(c.fs, path) {
		log.WithField("device", path).Error("device file does not exist")
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	}
	return path, nil
}

func (c *Controller) getDynamicPartitionDevice(ctx context.Context, dir, name string, slot, current types.Slot) (string, lookupResult, error) {
	log := c.log().WithFields(logrus.Fields{"partition": name, "slot": slot.String()})

	superDevice := filepath.Join(dir, c.superPartitionName(slot))
	b, err := c.meta.Load(superDevice, slot)
	if err != nil {
		log.WithError(err).Error("no metadata in slot")
		return "", lookupNotFound, fmt.Errorf("load metadata from %s: %w", superDevice, err)
	}

	if b.FindPartition(name) == nil {
		if c.isSuperBlockDevice(dir, current, name) {
			log.Error("static partition is a block device of the current metadata, it cannot be used as a logical partition")
			return "", lookupNotFound, fmt.Errorf("%w: %s", ErrStaticInSuper, name)
		}
		log.Info("partition is not in super partition metadata")
		return "", lookupNotFound, nil
	}

	if slot == current {
		state, err := c.dm.State(ctx, name)
		if err != nil {
			return "", lookupNotFound, fmt.Errorf("query state of %s: %w", name, err)
		}
		if state == types.DmStateActive {
			path, err := c.dm.DevicePath(ctx, name)
			if err != nil {
				log.WithError(err).Error("partition is mapped but path is unknown")
				return "", lookupNotFound, err
			}
			log.WithField("device", path).Info("partition is mapped on device mapper")
			return path, lookupFound, nil
		}
		log.Warn("partition is at current slot but it is not mapped, mapping it now")
	}

	path, err := c.mapPartitionOnDeviceMapper(ctx, superDevice, name, slot, slot != current)
	if err != nil {
		return "", lookupNotFound, err
	}
	return path, lookupFound, nil
}

// isSuperBlockDevice reports whether name is a block device of the super
// partition described by slot's metadata.
func (c *Controller) isSuperBlockDevice(dir string, slot types.Slot, name string) bool {
	if !c.flags.DynamicPartitions.IsEnabled() || c.meta == nil {
		return false
	}
	superDevice := filepath.Join(dir, c.superPartitionName(slot))
	b, err := c.meta.Load(superDevice, slot)
	if err != nil {
		if !errors.Is(err, metadata.ErrNoMetadata) {
			c.log().WithError(err).WithField("device", superDevice).Debug("cannot read current metadata")
		}
		return false
	}
	return b.HasBlockDevice(name)
}

// mapPartitionOnDeviceMapper maps name, reconciling with the kernel first.
// A device the kernel reports active but that this controller did not map
// is unmapped and rechecked before mapping it again.
func (c *Controller) mapPartitionOnDeviceMapper(ctx context.Context, superDevice, name string, slot types.Slot, forceWritable bool) (string, error) {
	log := c.log().WithField("partition", name)

	state, err := c.dm.State(ctx, name)
	if err != nil {
		return "", fmt.Errorf("query state of %s: %w", name, err)
	}

	if state == types.DmStateActive {
		if _, ok := c.mapped[name]; ok {
			path, err := c.dm.DevicePath(ctx, name)
			if err != nil {
				log.WithError(err).Error("partition is mapped but path is unknown")
				return "", err
			}
			log.WithField("device", path).Info("partition is mapped on device mapper")
			return path, nil
		}

		if err := c.unmapPartition(ctx, name); err != nil {
			log.WithError(err).Error("partition was mapped before the update and cannot be unmapped")
			return "", err
		}
		state, err = c.dm.State(ctx, name)
		if err != nil {
			return "", fmt.Errorf("query state of %s: %w", name, err)
		}
		if state != types.DmStateInvalid {
			log.WithField("state", state.String()).Error("partition is unmapped but still present")
			return "", fmt.Errorf("%w: %s is %s after unmap", ErrUnknownState, name, state)
		}
	}

	if state != types.DmStateInvalid {
		log.WithField("state", state.String()).Error("partition is mapped on device mapper but state is unknown")
		return "", fmt.Errorf("%w: %s is %s", ErrUnknownState, name, state)
	}
	return c.mapPartitionInternal(ctx, superDevice, name, slot, forceWritable)
}

func (c *Controller) mapPartitionInternal(ctx context.Context, superDevice, name string, slot types.Slot, forceWritable bool) (string, error) {
	params := types.CreateParams{
		BlockDevice:   superDevice,
		MetadataSlot:  slot,
		PartitionName: name,
		ForceWritable: forceWritable,
	}

	var (
		path string
		err  error
	)
	// Target partitions may share extents with the source on Virtual A/B,
	// so writable target maps go through the snapshot engine.
	if c.flags.VirtualAB.IsEnabled() && c.targetSupportsSnapshot && forceWritable && c.expectMetadataMounted() {
		params.Timeout = devicemapper.MapSnapshotTimeout
		path, err = c.snap.MapUpdateSnapshot(ctx, params)
	} else {
		params.Timeout = devicemapper.MapTimeout
		path, err = c.dm.CreateLogicalPartition(ctx, params)
	}

	log := c.log().WithFields(logrus.Fields{"partition": name, "device": superDevice})
	if err != nil {
		log.WithError(err).Error("cannot map partition on device mapper")
		return "", fmt.Errorf("map %s from %s: %w", name, superDevice, err)
	}

	c.mapped[name] = struct{}{}
	msg := "mapped partition"
	if forceWritable {
		msg = "mapped writable partition"
	}
	log.WithField("path", path).Info(msg)
	return path, nil
}

// UnmapPartition removes the mapping for a slot-suffixed partition name.
// Unmapping a partition that is not mapped succeeds.
func (c *Controller) UnmapPartition(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unmapPartition(ctx, name)
}

func (c *Controller) unmapPartition(ctx context.Context, name string) error {
	if !c.flags.DynamicPartitions.IsEnabled() {
		return nil
	}

	log := c.log().WithField("partition", name)

	state, err := c.dm.State(ctx, name)
	if err != nil {
		return fmt.Errorf("query state of %s: %w", name, err)
	}
	if state == types.DmStateInvalid {
		delete(c.mapped, name)
		return nil
	}

	// Both teardowns run even if the first fails. A snapshot update may
	// leave devices underneath a dm-linear name.
	var errs []error
	if err := c.dm.DestroyLogicalPartition(ctx, name); err != nil {
		errs = append(errs, fmt.Errorf("destroy %s: %w", name, err))
	}
	if c.flags.VirtualAB.IsEnabled() {
		if c.expectMetadataMounted() {
			if err := c.snap.UnmapUpdateSnapshot(ctx, name); err != nil {
				errs = append(errs, fmt.Errorf("unmap snapshot %s: %w", name, err))
			}
		} else {
			log.Info("skip unmapping update snapshot because snapshot metadata is not mounted")
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Error("cannot unmap partition from device mapper")
		return err
	}

	delete(c.mapped, name)
	log.Debug("unmapped partition")
	return nil
}
