package controller_test

import (
	"context"
	"errors"
	"path"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-dynpart/internal/controller"
	"github.com/deploymenttheory/go-dynpart/internal/devicemapper"
	dmfake "github.com/deploymenttheory/go-dynpart/internal/devicemapper/fake"
	"github.com/deploymenttheory/go-dynpart/internal/features"
	snapfake "github.com/deploymenttheory/go-dynpart/internal/snapshot/fake"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

func TestGetPartitionDevice(t *testing.T) {
	tests := []struct {
		name      string
		flags     features.Flags
		partition string
		slot      types.Slot
		opts      []fixtureOption
		prepare   bool
		setup     func(t *testing.T, f *fixture)
		wantPath  string
		wantErr   error
		validate  func(t *testing.T, f *fixture)
	}{
		{
			name:      "current slot already mapped",
			flags:     launchNoVAB,
			partition: "system",
			slot:      slotA,
			setup: func(t *testing.T, f *fixture) {
				f.dm.SetState("system_a", types.DmStateActive)
			},
			wantPath: path.Join(dmfake.DevicePathPrefix, "system_a"),
			validate: func(t *testing.T, f *fixture) {
				assert.Empty(t, f.dm.Created())
				assert.Empty(t, f.ctl.MappedPartitions())
			},
		},
		{
			name:      "current slot not mapped yet",
			flags:     launchNoVAB,
			partition: "system",
			slot:      slotA,
			wantPath:  path.Join(dmfake.DevicePathPrefix, "system_a"),
			validate: func(t *testing.T, f *fixture) {
				created := f.dm.Created()
				require.Len(t, created, 1)
				assert.False(t, created[0].ForceWritable)
				assert.Equal(t, devicemapper.MapTimeout, created[0].Timeout)
				assert.Equal(t, f.path("super"), created[0].BlockDevice)
				assert.Equal(t, slotA, created[0].MetadataSlot)
			},
		},
		{
			name:      "target slot mapped writable",
			flags:     launchNoVAB,
			partition: "system",
			slot:      slotB,
			prepare:   true,
			wantPath:  path.Join(dmfake.DevicePathPrefix, "system_b"),
			validate: func(t *testing.T, f *fixture) {
				created := f.dm.Created()
				require.Len(t, created, 1)
				assert.True(t, created[0].ForceWritable)
				assert.Equal(t, slotB, created[0].MetadataSlot)
				assert.Equal(t, []string{"system_b"}, f.ctl.MappedPartitions())
			},
		},
		{
			name:      "target slot of non-dynamic payload is static",
			flags:     launchNoVAB,
			partition: "system",
			slot:      slotB,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, afero.WriteFile(f.fs, f.path("system_b"), nil, 0o600))
			},
			wantPath: testDeviceDir + "/system_b",
			validate: func(t *testing.T, f *fixture) {
				assert.Empty(t, f.dm.Created())
			},
		},
		{
			name:      "target slot through snapshot",
			flags:     launchVAB,
			partition: "system",
			slot:      slotB,
			prepare:   true,
			wantPath:  path.Join(snapfake.DevicePathPrefix, "system_b"),
			validate: func(t *testing.T, f *fixture) {
				params, ok := f.snap.Mapped["system_b"]
				require.True(t, ok)
				assert.True(t, params.ForceWritable)
				assert.Equal(t, devicemapper.MapSnapshotTimeout, params.Timeout)
				assert.Empty(t, f.dm.Created())
			},
		},
		{
			name:      "stale mapping is replaced",
			flags:     launchNoVAB,
			partition: "system",
			slot:      slotB,
			prepare:   true,
			setup: func(t *testing.T, f *fixture) {
				f.dm.SetState("system_b", types.DmStateActive)
			},
			wantPath: path.Join(dmfake.DevicePathPrefix, "system_b"),
			validate: func(t *testing.T, f *fixture) {
				assert.Equal(t, []string{"system_b"}, f.dm.Removed())
				assert.Len(t, f.dm.Created(), 1)
			},
		},
		{
			name:      "suspended device is not touched",
			flags:     launchNoVAB,
			partition: "system",
			slot:      slotB,
			prepare:   true,
			setup: func(t *testing.T, f *fixture) {
				f.dm.SetState("system_b", types.DmStateSuspended)
			},
			wantErr: controller.ErrUnknownState,
		},
		{
			name:      "map failure",
			flags:     launchNoVAB,
			partition: "system",
			slot:      slotB,
			prepare:   true,
			setup: func(t *testing.T, f *fixture) {
				f.dm.FailCreate["system_b"] = devicemapper.ErrTimeout
			},
			wantErr: devicemapper.ErrTimeout,
			validate: func(t *testing.T, f *fixture) {
				assert.Empty(t, f.ctl.MappedPartitions())
			},
		},
		{
			name:      "static partition",
			flags:     launchNoVAB,
			partition: "boot",
			slot:      slotB,
			prepare:   true,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, afero.WriteFile(f.fs, f.path("boot_b"), nil, 0o600))
			},
			wantPath: testDeviceDir + "/boot_b",
		},
		{
			name:      "missing static partition",
			flags:     launchNoVAB,
			partition: "boot",
			slot:      slotB,
			prepare:   true,
			wantErr:   controller.ErrDeviceNotFound,
		},
		{
			name:      "dynamic partitions disabled",
			flags:     features.Flags{},
			partition: "system",
			slot:      slotA,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, afero.WriteFile(f.fs, f.path("system_a"), nil, 0o600))
			},
			wantPath: testDeviceDir + "/system_a",
		},
		{
			name:      "super block device cannot be logical",
			flags:     retrofitDP,
			partition: "super",
			slot:      slotA,
			wantErr:   controller.ErrStaticInSuper,
		},
		{
			name:      "retrofit super named after a logical partition",
			flags:     retrofitDP,
			partition: "system",
			slot:      slotA,
			opts:      []fixtureOption{withSuperPartition("system")},
			setup: func(t *testing.T, f *fixture) {
				f.flash(t, "system_a", sourceTable(t, "system_a"))
			},
			wantPath: path.Join(dmfake.DevicePathPrefix, "system_a"),
			validate: func(t *testing.T, f *fixture) {
				created := f.dm.Created()
				require.Len(t, created, 1)
				assert.Equal(t, f.path("system_a"), created[0].BlockDevice)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tt.flags, tt.opts...)
			if tt.prepare {
				_, err := f.ctl.PreparePartitionsForUpdate(ctx, slotA, slotB, newManifest(GiB, true, map[string]uint64{"system": MiB}), false)
				require.NoError(t, err)
			}
			if tt.setup != nil {
				tt.setup(t, f)
			}

			got, err := f.ctl.GetPartitionDevice(ctx, tt.partition, tt.slot, slotA)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantPath, got)
			}
			if tt.validate != nil {
				tt.validate(t, f)
			}
		})
	}
}

func TestUnmapPartition(t *testing.T) {
	ctx := context.Background()

	t.Run("not mapped", func(t *testing.T) {
		f := newFixture(t, launchNoVAB)
		require.NoError(t, f.ctl.UnmapPartition(ctx, "system_b"))
		require.NoError(t, f.ctl.UnmapPartition(ctx, "system_b"))
		assert.Empty(t, f.ctl.MappedPartitions())
		assert.Empty(t, f.dm.Removed())
	})

	t.Run("mapped", func(t *testing.T) {
		f := newFixture(t, launchNoVAB)
		_, err := f.ctl.GetPartitionDevice(ctx, "system", slotA, slotA)
		require.NoError(t, err)
		require.Equal(t, []string{"system_a"}, f.ctl.MappedPartitions())

		require.NoError(t, f.ctl.UnmapPartition(ctx, "system_a"))
		assert.Empty(t, f.ctl.MappedPartitions())
		assert.Equal(t, []string{"system_a"}, f.dm.Removed())
	})

	t.Run("snapshot unmap failure keeps entry", func(t *testing.T) {
		f := newFixture(t, launchVAB)
		_, err := f.ctl.PreparePartitionsForUpdate(ctx, slotA, slotB, newManifest(GiB, true, map[string]uint64{"system": MiB}), true)
		require.NoError(t, err)
		_, err = f.ctl.GetPartitionDevice(ctx, "system", slotB, slotA)
		require.NoError(t, err)

		f.snap.UnmapErr = errors.New("busy")
		assert.Error(t, f.ctl.UnmapPartition(ctx, "system_b"))
		assert.Equal(t, []string{"system_b"}, f.ctl.MappedPartitions())
		assert.True(t, f.snap.Called("UnmapUpdateSnapshot"))

		f.snap.UnmapErr = nil
		require.NoError(t, f.ctl.UnmapPartition(ctx, "system_b"))
		assert.Empty(t, f.ctl.MappedPartitions())
	})

	t.Run("unmapped device skips the snapshot engine", func(t *testing.T) {
		f := newFixture(t, launchVAB)
		f.snap.UnmapErr = errors.New("no update in progress")

		require.NoError(t, f.ctl.UnmapPartition(ctx, "system_b"))
		assert.False(t, f.snap.Called("UnmapUpdateSnapshot"))
		assert.Empty(t, f.dm.Removed())
	})

	t.Run("snapshot device is torn down", func(t *testing.T) {
		f := newFixture(t, launchVAB)
		_, err := f.ctl.PreparePartitionsForUpdate(ctx, slotA, slotB, newManifest(GiB, true, map[string]uint64{"system": MiB}), true)
		require.NoError(t, err)
		_, err = f.ctl.GetPartitionDevice(ctx, "system", slotB, slotA)
		require.NoError(t, err)

		require.NoError(t, f.ctl.UnmapPartition(ctx, "system_b"))
		assert.Empty(t, f.snap.Mapped)
		assert.Empty(t, f.ctl.MappedPartitions())
	})
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, launchVAB)
	_, err := f.ctl.PreparePartitionsForUpdate(ctx, slotA, slotB, newManifest(GiB, true, map[string]uint64{"system": MiB}), true)
	require.NoError(t, err)

	_, err = f.ctl.GetPartitionDevice(ctx, "system", slotA, slotA)
	require.NoError(t, err)
	_, err = f.ctl.GetPartitionDevice(ctx, "system", slotB, slotA)
	require.NoError(t, err)
	require.Equal(t, []string{"system_a", "system_b"}, f.ctl.MappedPartitions())

	f.dm.FailDestroy["system_a"] = errors.New("busy")
	f.ctl.Cleanup(ctx)

	assert.Equal(t, []string{"system_a"}, f.ctl.MappedPartitions(), "failures are skipped")
	assert.Empty(t, f.snap.Mapped)
	assert.Equal(t, 1, f.snap.Unmounts)

	delete(f.dm.FailDestroy, "system_a")
	f.ctl.Cleanup(ctx)
	assert.Empty(t, f.ctl.MappedPartitions())
	assert.Equal(t, 1, f.snap.Unmounts, "metadata handle released once")
}
