package metadata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

const (
	GiB = uint64(1) << 30
	MiB = uint64(1) << 20

	testSuperSize    = 10*GiB + MiB
	testMetadataSize = 65536
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := New("super", testSuperSize, testMetadataSize, 2)
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	b := newTestBuilder(t)

	assert.GreaterOrEqual(t, b.AllocatableSpace(), 10*GiB)
	assert.Less(t, b.AllocatableSpace(), testSuperSize)
	assert.True(t, b.HasBlockDevice("super"))
	assert.False(t, b.HasBlockDevice("super_b"))
	assert.NotNil(t, b.FindGroup(types.DefaultGroupName))

	_, err := New("super", 64*1024, testMetadataSize, 2)
	assert.Error(t, err, "device smaller than the metadata region")

	_, err = New("super", testSuperSize, 1000, 2)
	assert.Error(t, err)
}

func TestResizePartition(t *testing.T) {
	tests := []struct {
		name     string
		groupMax uint64
		initial  uint64
		resize   uint64
		wantErr  error
		wantSize uint64
	}{
		{name: "grow", initial: 1 * GiB, resize: 2 * GiB, wantSize: 2 * GiB},
		{name: "shrink", initial: 2 * GiB, resize: 1 * GiB, wantSize: 1 * GiB},
		{name: "unaligned rounds up", initial: 0, resize: 4097, wantSize: 8192},
		{name: "shrink to zero", initial: 1 * GiB, resize: 0, wantSize: 0},
		{name: "not enough space", initial: 1 * GiB, resize: 11 * GiB, wantErr: ErrNoSpace, wantSize: 1 * GiB},
		{name: "within group", groupMax: 5 * GiB, initial: 1 * GiB, resize: 5 * GiB, wantSize: 5 * GiB},
		{name: "group too small", groupMax: 5 * GiB, initial: 1 * GiB, resize: 6 * GiB, wantErr: ErrGroupFull, wantSize: 1 * GiB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(t)
			require.NoError(t, b.AddGroup("foo", tt.groupMax))
			p, err := b.AddPartition("system", "foo", types.PartitionAttrReadOnly)
			require.NoError(t, err)
			require.NoError(t, b.ResizePartition(p, tt.initial))

			err = b.ResizePartition(p, tt.resize)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantSize, p.Size())
		})
	}
}

func TestResizeSharesGroupQuota(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.AddGroup("foo", 5*GiB))
	system, err := b.AddPartition("system", "foo", types.PartitionAttrReadOnly)
	require.NoError(t, err)
	vendor, err := b.AddPartition("vendor", "foo", types.PartitionAttrReadOnly)
	require.NoError(t, err)

	require.NoError(t, b.ResizePartition(system, 3*GiB))
	require.NoError(t, b.ResizePartition(vendor, 2*GiB))
	assert.ErrorIs(t, b.ResizePartition(vendor, 2*GiB+4096), ErrGroupFull)

	require.NoError(t, b.ResizePartition(system, 1*GiB))
	assert.NoError(t, b.ResizePartition(vendor, 4*GiB))
}

func TestResizeReusesFreedSpace(t *testing.T) {
	b := newTestBuilder(t)
	a, err := b.AddPartition("a", types.DefaultGroupName, 0)
	require.NoError(t, err)
	c, err := b.AddPartition("c", types.DefaultGroupName, 0)
	require.NoError(t, err)

	require.NoError(t, b.ResizePartition(a, 5*GiB))
	require.NoError(t, b.ResizePartition(c, 5*GiB-MiB))
	b.RemovePartition("a")

	d, err := b.AddPartition("d", types.DefaultGroupName, 0)
	require.NoError(t, err)
	require.NoError(t, b.ResizePartition(d, 5*GiB))
	assert.Equal(t, 10*GiB-MiB, b.UsedSpace())
}

func TestGroups(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.AddGroup("foo_a", 5*GiB))
	assert.ErrorIs(t, b.AddGroup("foo_a", 1), ErrGroupExists)
	assert.ErrorIs(t, b.AddGroup("a_very_long_group_name_that_is_longer_than_allowed", 1), ErrNameTooLong)

	_, err := b.AddPartition("system_a", "missing", 0)
	assert.ErrorIs(t, err, ErrUnknownGroup)
	_, err = b.AddPartition("system_a", "foo_a", 0)
	require.NoError(t, err)
	_, err = b.AddPartition("system_a", "foo_a", 0)
	assert.ErrorIs(t, err, ErrPartitionExists)

	_, err = b.AddPartition("misc_a", types.DefaultGroupName, 0)
	require.NoError(t, err)

	b.RemoveGroupAndPartitions("foo_a")
	assert.Nil(t, b.FindGroup("foo_a"))
	assert.Nil(t, b.FindPartition("system_a"))

	b.RemoveGroupAndPartitions(types.DefaultGroupName)
	assert.NotNil(t, b.FindGroup(types.DefaultGroupName), "default group is never removed")
	assert.Nil(t, b.FindPartition("misc_a"))
}

func TestExportImport(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.AddGroup("foo_a", 5*GiB))
	p, err := b.AddPartition("system_a", "foo_a", types.PartitionAttrReadOnly)
	require.NoError(t, err)
	require.NoError(t, b.ResizePartition(p, 1*GiB))

	m, err := b.Export()
	require.NoError(t, err)
	require.Len(t, m.Partitions, 1)
	assert.Equal(t, uint32(1), m.Partitions[0].GroupIndex)

	loaded, err := NewFromMetadata(m)
	require.NoError(t, err)
	got := loaded.FindPartition("system_a")
	require.NotNil(t, got)
	assert.Equal(t, 1*GiB, got.Size())
	assert.Equal(t, "foo_a", got.GroupName())
	assert.Equal(t, types.PartitionAttrReadOnly, got.Attributes())
	assert.Equal(t, b.AllocatableSpace(), loaded.AllocatableSpace())
}

func TestCloneRestore(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.AddGroup("foo_a", 0))
	p, err := b.AddPartition("system_a", "foo_a", 0)
	require.NoError(t, err)
	require.NoError(t, b.ResizePartition(p, GiB))

	saved := b.Clone()
	require.NoError(t, b.ResizePartition(p, 2*GiB))
	require.NoError(t, b.AddGroup("bar_a", 0))
	assert.Equal(t, GiB, saved.FindPartition("system_a").Size())

	b.Restore(saved)
	assert.Nil(t, b.FindGroup("bar_a"))
	assert.Equal(t, GiB, b.FindPartition("system_a").Size())

	before, err := saved.Export()
	require.NoError(t, err)
	after, err := b.Export()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func slotTable(t *testing.T, blockDevice string) *types.Metadata {
	t.Helper()
	b, err := New(blockDevice, testSuperSize, testMetadataSize, 2)
	require.NoError(t, err)
	for _, suffix := range []string{"_a", "_b"} {
		require.NoError(t, b.AddGroup("foo"+suffix, 5*GiB))
		p, err := b.AddPartition("system"+suffix, "foo"+suffix, types.PartitionAttrReadOnly)
		require.NoError(t, err)
		require.NoError(t, b.ResizePartition(p, GiB))
	}
	m, err := b.Export()
	require.NoError(t, err)
	return m
}

func TestNewForUpdate(t *testing.T) {
	tests := []struct {
		name     string
		device   string
		opts     UpdateOptions
		validate func(t *testing.T, b *Builder)
	}{
		{
			name:   "launch keeps both slots",
			device: "super",
			opts:   UpdateOptions{KeepSource: true},
			validate: func(t *testing.T, b *Builder) {
				assert.NotNil(t, b.FindPartition("system_a"))
				assert.NotNil(t, b.FindPartition("system_b"))
			},
		},
		{
			name:   "virtual ab without keep source renames source to target",
			device: "super",
			opts:   UpdateOptions{VirtualAB: true},
			validate: func(t *testing.T, b *Builder) {
				assert.Nil(t, b.FindPartition("system_a"))
				assert.Nil(t, b.FindGroup("foo_a"))
				p := b.FindPartition("system_b")
				require.NotNil(t, p)
				assert.Equal(t, "foo_b", p.GroupName())
				assert.NotZero(t, p.Attributes()&types.PartitionAttrUpdated)
				assert.Equal(t, GiB, p.Size())
			},
		},
		{
			name:   "virtual ab keeping source is unchanged",
			device: "super",
			opts:   UpdateOptions{VirtualAB: true, KeepSource: true},
			validate: func(t *testing.T, b *Builder) {
				assert.NotNil(t, b.FindPartition("system_a"))
				assert.NotNil(t, b.FindPartition("system_b"))
			},
		},
		{
			name:   "retrofit moves to the other super",
			device: "system_a",
			opts:   UpdateOptions{Retrofit: true},
			validate: func(t *testing.T, b *Builder) {
				assert.True(t, b.HasBlockDevice("system_b"))
				assert.False(t, b.HasBlockDevice("system_a"))
				assert.Nil(t, b.FindGroup("foo_a"))
				assert.NotNil(t, b.FindPartition("system_b"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewForUpdate(slotTable(t, tt.device), 0, 1, tt.opts)
			require.NoError(t, err)
			tt.validate(t, b)
		})
	}
}

func TestDeleteGroupsWithSuffix(t *testing.T) {
	b, err := NewFromMetadata(slotTable(t, "super"))
	require.NoError(t, err)

	DeleteGroupsWithSuffix(b, "_b")
	assert.Nil(t, b.FindGroup("foo_b"))
	assert.Nil(t, b.FindPartition("system_b"))
	assert.NotNil(t, b.FindPartition("system_a"))
}

func TestReplaceSuffix(t *testing.T) {
	assert.Equal(t, "system_b", ReplaceSuffix("system_a", "_a", "_b"))
	assert.Equal(t, "super", ReplaceSuffix("super", "_a", "_b"))
	assert.Equal(t, "system_a", ReplaceSuffix("system_a", "", "_b"))
}
