package controller_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-dynpart/internal/controller"
	"github.com/deploymenttheory/go-dynpart/internal/device"
	dmfake "github.com/deploymenttheory/go-dynpart/internal/devicemapper/fake"
	"github.com/deploymenttheory/go-dynpart/internal/features"
	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/metadata"
	snapfake "github.com/deploymenttheory/go-dynpart/internal/snapshot/fake"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

const (
	GiB = uint64(1) << 30
	MiB = uint64(1) << 20

	testDeviceDir    = "/fake/dev/path"
	testSuperSize    = 10*GiB + MiB
	testMetadataSize = 65536

	slotA types.Slot = 0
	slotB types.Slot = 1
)

var (
	launchNoVAB = features.Flags{DynamicPartitions: types.FeatureLaunch}
	launchVAB   = features.Flags{DynamicPartitions: types.FeatureLaunch, VirtualAB: types.FeatureLaunch}
	retrofitDP  = features.Flags{DynamicPartitions: types.FeatureRetrofit}
)

type fixture struct {
	ctl   *controller.Controller
	fs    afero.Fs
	dm    *dmfake.DeviceMapper
	snap  *snapfake.Manager
	store *metadata.FileStore
	flags features.Flags
}

type fixtureOption func(*controller.Options)

func withMode(mode types.ExecutionMode) fixtureOption {
	return func(o *controller.Options) { o.Mode = mode }
}

func withSuperPartition(name string) fixtureOption {
	return func(o *controller.Options) { o.SuperPartition = name }
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newFixture creates a controller over an in-memory super partition whose
// metadata holds foo_a/system_a and foo_b/system_b, 1GiB each.
func newFixture(t *testing.T, flags features.Flags, opts ...fixtureOption) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	store := metadata.NewFileStore(fs, metadata.UpdateOptions{
		Retrofit:  flags.DynamicPartitions.IsRetrofit(),
		VirtualAB: flags.VirtualAB.IsEnabled(),
	}, nil)

	f := &fixture{
		fs:    fs,
		dm:    dmfake.NewDeviceMapper(),
		snap:  snapfake.NewManager(),
		store: store,
		flags: flags,
	}
	f.snap.Kernel = f.dm

	if flags.DynamicPartitions.IsRetrofit() {
		for _, slot := range []types.Slot{slotA, slotB} {
			name := device.SuperPartitionName("super", slot, true)
			f.flash(t, name, sourceTable(t, name))
		}
	} else {
		f.flash(t, "super", sourceTable(t, "super"))
	}

	o := controller.Options{
		Flags:          flags,
		Mode:           types.ModeNormal,
		DeviceMapper:   f.dm,
		Metadata:       store,
		DeviceDir:      device.StaticDir(testDeviceDir),
		SuperPartition: "super",
		Fs:             fs,
		Logger:         quietLogger(),
	}
	if flags.VirtualAB.IsEnabled() {
		o.Snapshot = f.snap
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctl, err := controller.New(o)
	require.NoError(t, err)
	f.ctl = ctl
	return f
}

func (f *fixture) path(name string) string {
	return filepath.Join(testDeviceDir, name)
}

func (f *fixture) flash(t *testing.T, superName string, b *metadata.Builder) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, f.path(superName), nil, 0o600))
	require.NoError(t, f.store.Flash(f.path(superName), b))
}

func (f *fixture) load(t *testing.T, slot types.Slot) *metadata.Builder {
	t.Helper()
	name := device.SuperPartitionName("super", slot, f.flags.DynamicPartitions.IsRetrofit())
	b, err := f.store.Load(f.path(name), slot)
	require.NoError(t, err)
	return b
}

func sourceTable(t *testing.T, blockDevice string) *metadata.Builder {
	t.Helper()
	b, err := metadata.New(blockDevice, testSuperSize, testMetadataSize, 2)
	require.NoError(t, err)
	for _, suffix := range []string{"_a", "_b"} {
		require.NoError(t, b.AddGroup("foo"+suffix, 4*GiB))
		p, err := b.AddPartition("system"+suffix, "foo"+suffix, types.PartitionAttrReadOnly)
		require.NoError(t, err)
		require.NoError(t, b.ResizePartition(p, GiB))
	}
	return b
}

// newManifest declares one group "foo" holding the given partitions.
func newManifest(groupSize uint64, snapshotEnabled bool, sizes map[string]uint64) *manifest.Manifest {
	m := &manifest.Manifest{}
	g := manifest.Group{Name: "foo", Size: manifest.Size(groupSize)}
	for name, size := range sizes {
		m.Partitions = append(m.Partitions, manifest.PartitionUpdate{
			PartitionName:    name,
			NewPartitionInfo: &manifest.PartitionInfo{Size: manifest.Size(size)},
		})
		g.PartitionNames = append(g.PartitionNames, name)
	}
	m.DynamicPartitionMetadata = manifest.DynamicPartitionMetadata{
		Groups:          []manifest.Group{g},
		SnapshotEnabled: snapshotEnabled,
	}
	return m
}
