// Package devicemapper maps logical partitions described by super
// partition metadata onto device-mapper linear targets using dmsetup.
package devicemapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-dynpart/internal/device"
	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

const (
	// MapTimeout bounds a plain linear map.
	MapTimeout = time.Second
	// MapSnapshotTimeout bounds a snapshot-backed map, which brings up
	// several devices.
	MapSnapshotTimeout = 5 * time.Second

	defaultDmsetup      = "dmsetup"
	defaultMapperDir    = "/dev/mapper"
	defaultPollInterval = 20 * time.Millisecond
)

var ErrTimeout = errors.New("timed out waiting for device")

// Options configures a Gateway. Zero values select defaults.
type Options struct {
	Dmsetup      string
	MapperDir    string
	PollInterval time.Duration
	Metadata     interfaces.MetadataReader
	Fs           afero.Fs
	Logger       logrus.FieldLogger
}

// Gateway implements interfaces.DeviceMapper over dmsetup.
type Gateway struct {
	dmsetup   string
	mapperDir string
	poll      time.Duration
	metadata  interfaces.MetadataReader
	fs        afero.Fs
	log       logrus.FieldLogger
}

var _ interfaces.DeviceMapper = (*Gateway)(nil)

// NewGateway creates a dmsetup-backed gateway.
func NewGateway(opts Options) *Gateway {
	g := &Gateway{
		dmsetup:   opts.Dmsetup,
		mapperDir: opts.MapperDir,
		poll:      opts.PollInterval,
		metadata:  opts.Metadata,
		fs:        opts.Fs,
		log:       opts.Logger,
	}
	if g.dmsetup == "" {
		g.dmsetup = defaultDmsetup
	}
	if g.mapperDir == "" {
		g.mapperDir = defaultMapperDir
	}
	if g.poll <= 0 {
		g.poll = defaultPollInterval
	}
	if g.fs == nil {
		g.fs = afero.NewOsFs()
	}
	if g.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		g.log = l
	}
	return g
}

// State implements interfaces.DeviceMapper.
func (g *Gateway) State(ctx context.Context, name string) (types.DmDeviceState, error) {
	info, err := g.Info(ctx, name)
	if err != nil {
		return types.DmStateInvalid, err
	}
	if info == nil {
		return types.DmStateInvalid, nil
	}
	switch info.State {
	case "ACTIVE":
		return types.DmStateActive, nil
	case "SUSPENDED":
		return types.DmStateSuspended, nil
	default:
		return types.DmStateInvalid, fmt.Errorf("device %s in unrecognized state %q", name, info.State)
	}
}

// DevicePath implements interfaces.DeviceMapper.
func (g *Gateway) DevicePath(ctx context.Context, name string) (string, error) {
	info, err := g.Info(ctx, name)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", fmt.Errorf("device %s does not exist", name)
	}
	return filepath.Join(g.mapperDir, name), nil
}

// buildTable renders the dm-linear table for a partition, one line per extent.
func (g *Gateway) buildTable(params types.CreateParams) (table string, readOnly bool, err error) {
	if g.metadata == nil {
		return "", false, fmt.Errorf("no metadata reader configured")
	}
	b, err := g.metadata.Load(params.BlockDevice, params.MetadataSlot)
	if err != nil {
		return "", false, fmt.Errorf("load metadata from %s slot %s: %w", params.BlockDevice, params.MetadataSlot, err)
	}
	p := b.FindPartition(params.PartitionName)
	if p == nil {
		return "", false, fmt.Errorf("partition %s not found in %s", params.PartitionName, params.BlockDevice)
	}
	extents := p.Extents()
	if len(extents) == 0 {
		return "", false, fmt.Errorf("partition %s has no extents", params.PartitionName)
	}

	blockDevices := b.BlockDevices()
	dir := filepath.Dir(params.BlockDevice)
	var lines []string
	var logical uint64
	for _, e := range extents {
		if int(e.DeviceIndex) >= len(blockDevices) {
			return "", false, fmt.Errorf("partition %s: extent on unknown block device %d", params.PartitionName, e.DeviceIndex)
		}
		target := params.BlockDevice
		if e.DeviceIndex != 0 {
			target = filepath.Join(dir, blockDevices[e.DeviceIndex].Name)
		}
		lines = append(lines, fmt.Sprintf("%d %d linear %s %d", logical, e.NumSectors, target, e.PhysicalSector))
		logical += e.NumSectors
	}

	readOnly = p.Attributes()&types.PartitionAttrReadOnly != 0 && !params.ForceWritable
	return strings.Join(lines, "\n") + "\n", readOnly, nil
}

// CreateLogicalPartition implements interfaces.DeviceMapper.
func (g *Gateway) CreateLogicalPartition(ctx context.Context, params types.CreateParams) (string, error) {
	table, readOnly, err := g.buildTable(params)
	if err != nil {
		return "", err
	}

	args := []string{"create", params.PartitionName}
	if readOnly {
		args = append(args, "--readonly")
	}
	cmd := ExecCommandContext(ctx, g.dmsetup, args...)
	cmd.SetStdin(strings.NewReader(table))
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", withOutput(fmt.Errorf("dmsetup create %q: %w", params.PartitionName, err), out)
	}

	path := filepath.Join(g.mapperDir, params.PartitionName)
	log := g.log.WithFields(logrus.Fields{"partition": params.PartitionName, "device": path})
	if params.Timeout > 0 {
		if err := g.waitForNode(ctx, path, params.Timeout); err != nil {
			log.WithError(err).Error("device node did not appear, removing mapping")
			if derr := g.DestroyLogicalPartition(context.WithoutCancel(ctx), params.PartitionName); derr != nil {
				log.WithError(derr).Warn("failed to remove mapping")
			}
			return "", err
		}
	}
	log.WithField("read_only", readOnly).Info("mapped logical partition")
	return path, nil
}

func (g *Gateway) waitForNode(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := uint(timeout/g.poll) + 1
	err := retry.Do(
		func() error {
			if device.Exists(g.fs, path) {
				return nil
			}
			return fmt.Errorf("%s not present", path)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(g.poll),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w %s after %s: %v", ErrTimeout, path, timeout, err)
	}
	return nil
}

// DestroyLogicalPartition implements interfaces.DeviceMapper.
func (g *Gateway) DestroyLogicalPartition(ctx context.Context, name string) error {
	out, err := ExecCommandContext(ctx, g.dmsetup, "remove", name).CombinedOutput()
	if err != nil {
		if isNotFound(out) {
			return nil
		}
		return withOutput(fmt.Errorf("dmsetup remove %q: %w", name, err), out)
	}
	g.log.WithField("partition", name).Info("unmapped logical partition")
	return nil
}
