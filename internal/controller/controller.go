// Package controller orchestrates dynamic partitions during an A/B update:
// it rewrites the super partition metadata for the target slot, maps and
// unmaps logical partitions, and drives the Virtual A/B snapshot engine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-dynpart/internal/cleanup"
	"github.com/deploymenttheory/go-dynpart/internal/device"
	"github.com/deploymenttheory/go-dynpart/internal/features"
	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/snapshot"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

var (
	ErrSameSlot          = errors.New("cannot prepare an update onto the current slot")
	ErrNotRecovery       = errors.New("operation is only allowed in recovery")
	ErrIncrementalUpdate = errors.New("cannot overwrite source partitions for an incremental update")
	ErrGroupsTooLarge    = errors.New("partition groups exceed allocatable space")
	ErrMissingPartition  = errors.New("group references a partition missing from the manifest")
	ErrUnknownState      = errors.New("device-mapper state unknown")
	ErrDeviceNotFound    = errors.New("device does not exist")
	ErrStaticInSuper     = errors.New("static partition is a block device of the super partition")
)

// Options wires a Controller. Fs and Logger default to the OS filesystem
// and a discarding logger; Snapshot defaults to snapshot.Disabled when
// Virtual A/B is off.
type Options struct {
	Flags          features.Flags
	Mode           types.ExecutionMode
	DeviceMapper   interfaces.DeviceMapper
	Snapshot       interfaces.SnapshotManager
	Metadata       interfaces.MetadataStore
	DeviceDir      interfaces.DeviceDirLocator
	SuperPartition string
	Fs             afero.Fs
	Cleanup        cleanup.Action
	Logger         logrus.FieldLogger
}

// Controller is the dynamic partition orchestrator. All exported methods
// are serialized on one mutex.
type Controller struct {
	mu sync.Mutex

	flags     features.Flags
	mode      types.ExecutionMode
	dm        interfaces.DeviceMapper
	snap      interfaces.SnapshotManager
	meta      interfaces.MetadataStore
	dirs      interfaces.DeviceDirLocator
	superName string
	fs        afero.Fs
	cleanup   cleanup.Action
	baseLog   logrus.FieldLogger

	// partitions mapped by this controller, slot-suffixed
	mapped         map[string]struct{}
	metadataDevice io.Closer

	sourceSlot             types.Slot
	targetSlot             types.Slot
	isTargetDynamic        bool
	targetSupportsSnapshot bool
	session                string
}

// New validates opts and creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.DeviceDir == nil {
		return nil, fmt.Errorf("device directory locator is required")
	}
	if opts.Flags.DynamicPartitions.IsEnabled() {
		if opts.Metadata == nil || opts.DeviceMapper == nil {
			return nil, fmt.Errorf("dynamic partitions require a metadata store and a device mapper")
		}
	}
	if opts.Flags.VirtualAB.IsEnabled() && opts.Snapshot == nil {
		return nil, fmt.Errorf("virtual A/B requires a snapshot engine")
	}

	c := &Controller{
		flags:      opts.Flags,
		mode:       opts.Mode,
		dm:         opts.DeviceMapper,
		snap:       opts.Snapshot,
		meta:       opts.Metadata,
		dirs:       opts.DeviceDir,
		superName:  opts.SuperPartition,
		fs:         opts.Fs,
		cleanup:    opts.Cleanup,
		baseLog:    opts.Logger,
		mapped:     make(map[string]struct{}),
		sourceSlot: types.InvalidSlot,
		targetSlot: types.InvalidSlot,
	}
	if c.snap == nil {
		c.snap = snapshot.Disabled{}
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.baseLog == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.baseLog = l
	}
	if c.cleanup == nil {
		c.cleanup = cleanup.NewMergeWait(0, 0, c.baseLog)
	}
	return c, nil
}

func (c *Controller) log() logrus.FieldLogger {
	if c.session == "" {
		return c.baseLog
	}
	return c.baseLog.WithField("session", c.session)
}

// GetDynamicPartitionsFeatureFlag returns the dynamic partitions classification.
func (c *Controller) GetDynamicPartitionsFeatureFlag() types.FeatureFlag {
	return c.flags.DynamicPartitions
}

// GetVirtualAbFeatureFlag returns the Virtual A/B classification.
func (c *Controller) GetVirtualAbFeatureFlag() types.FeatureFlag {
	return c.flags.VirtualAB
}

// Mode returns the execution mode the controller was created with.
func (c *Controller) Mode() types.ExecutionMode {
	return c.mode
}

// DeviceDir returns the by-name device directory.
func (c *Controller) DeviceDir() (string, error) {
	return c.dirs.DeviceDir()
}

// SuperDevice returns the path of the super partition holding slot's metadata.
func (c *Controller) SuperDevice(slot types.Slot) (string, error) {
	dir, err := c.dirs.DeviceDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.superPartitionName(slot)), nil
}

func (c *Controller) superPartitionName(slot types.Slot) string {
	return device.SuperPartitionName(c.superName, slot, c.flags.DynamicPartitions.IsRetrofit())
}

// MappedPartitions returns the partitions this controller has mapped, sorted.
func (c *Controller) MappedPartitions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.mapped))
	for name := range c.mapped {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cleanup unmaps every partition this controller mapped and releases the
// snapshot metadata handle. Failures are logged and skipped. Safe to call
// more than once.
func (c *Controller) Cleanup(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.log()
	names := make([]string, 0, len(c.mapped))
	for name := range c.mapped {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		log.WithField("partitions", names).Info("destroying mapped partitions")
	}
	for _, name := range names {
		if err := c.unmapPartition(ctx, name); err != nil {
			log.WithError(err).WithField("partition", name).Warn("cleanup could not unmap partition")
		}
	}

	if c.metadataDevice != nil {
		if err := c.metadataDevice.Close(); err != nil {
			log.WithError(err).Warn("failed to release snapshot metadata device")
		}
		c.metadataDevice = nil
	}

	c.sourceSlot = types.InvalidSlot
	c.targetSlot = types.InvalidSlot
	c.isTargetDynamic = false
	c.targetSupportsSnapshot = false
	c.session = ""
}

func (c *Controller) replaceMetadataDevice(handle io.Closer) {
	if c.metadataDevice != nil {
		if err := c.metadataDevice.Close(); err != nil {
			c.log().WithError(err).Warn("failed to release previous snapshot metadata device")
		}
	}
	c.metadataDevice = handle
}
