package prepare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-dynpart/internal/controller"
	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/snapshot"
	"github.com/deploymenttheory/go-dynpart/internal/types"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

const testManifest = `partitions:
  - partition_name: system
    new_partition_info:
      size: 150MiB
  - partition_name: vendor
    new_partition_info:
      size: 64MiB
dynamic_partition_metadata:
  snapshot_enabled: true
  groups:
    - name: main
      size: 1GiB
      partition_names: [system, vendor]
`

type fakePreparer struct {
	required uint64
	err      error

	source, target types.Slot
	update         bool
	manifest       *manifest.Manifest
}

func (f *fakePreparer) PreparePartitionsForUpdate(_ context.Context, source, target types.Slot, m *manifest.Manifest, update bool) (uint64, error) {
	f.source, f.target, f.update, f.manifest = source, target, update, m
	return f.required, f.err
}

func (f *fakePreparer) GetDynamicPartitionsFeatureFlag() types.FeatureFlag { return types.FeatureLaunch }
func (f *fakePreparer) GetVirtualAbFeatureFlag() types.FeatureFlag         { return types.FeatureLaunch }

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestHandle(t *testing.T) {
	manifestPath := writeManifest(t, testManifest)

	tests := []struct {
		name     string
		request  *Request
		preparer *fakePreparer
		wantCode string
		validate func(*testing.T, *fakePreparer, *Response)
	}{
		{
			name:     "update",
			request:  &Request{ManifestPath: manifestPath, Slots: app.SlotPair{Source: "a", Target: "b"}},
			preparer: &fakePreparer{},
			validate: func(t *testing.T, p *fakePreparer, resp *Response) {
				assert.Equal(t, types.Slot(0), p.source)
				assert.Equal(t, types.Slot(1), p.target)
				assert.True(t, p.update)
				assert.Equal(t, "B", resp.Target)
				assert.True(t, resp.Updated)
				assert.True(t, resp.SnapshotEnabled)
				require.Len(t, resp.Groups, 1)
				assert.Equal(t, uint64(1<<30), resp.Groups[0].Size)
				assert.Equal(t, []PartitionResult{{Name: "system", Size: 150 << 20}, {Name: "vendor", Size: 64 << 20}}, resp.Groups[0].Partitions)
			},
		},
		{
			name:     "verify only",
			request:  &Request{ManifestPath: manifestPath, Slots: app.SlotPair{Source: "b", Target: "a"}, VerifyOnly: true},
			preparer: &fakePreparer{},
			validate: func(t *testing.T, p *fakePreparer, resp *Response) {
				assert.False(t, p.update)
				assert.False(t, resp.Updated)
			},
		},
		{
			name:     "missing manifest path",
			request:  &Request{Slots: app.SlotPair{Source: "a", Target: "b"}},
			preparer: &fakePreparer{},
			wantCode: app.ErrCodeInvalidInput,
		},
		{
			name:     "same slot",
			request:  &Request{ManifestPath: manifestPath, Slots: app.SlotPair{Source: "a", Target: "a"}},
			preparer: &fakePreparer{},
			wantCode: app.ErrCodeInvalidInput,
		},
		{
			name:     "unreadable manifest",
			request:  &Request{ManifestPath: filepath.Join(t.TempDir(), "missing.yaml"), Slots: app.SlotPair{Source: "a", Target: "b"}},
			preparer: &fakePreparer{},
			wantCode: app.ErrCodeInvalidInput,
		},
		{
			name:    "snapshot space",
			request: &Request{ManifestPath: manifestPath, Slots: app.SlotPair{Source: "a", Target: "b"}},
			preparer: &fakePreparer{
				required: 500 << 20,
				err:      fmt.Errorf("create: %w", &snapshot.Error{Code: snapshot.ErrorCodeNoSpace, RequiredSize: 500 << 20}),
			},
			wantCode: app.ErrCodeNoSpace,
		},
		{
			name:    "incremental package in recovery after snapshots did not fit",
			request: &Request{ManifestPath: manifestPath, Slots: app.SlotPair{Source: "a", Target: "b"}},
			preparer: &fakePreparer{
				required: 500 << 20,
				err:      fmt.Errorf("delete source: %w", controller.ErrIncrementalUpdate),
			},
			wantCode: app.ErrCodeInvalidInput,
		},
		{
			name:     "groups too large",
			request:  &Request{ManifestPath: manifestPath, Slots: app.SlotPair{Source: "a", Target: "b"}},
			preparer: &fakePreparer{err: controller.ErrGroupsTooLarge},
			wantCode: app.ErrCodeNoSpace,
		},
		{
			name:     "other failure",
			request:  &Request{ManifestPath: manifestPath, Slots: app.SlotPair{Source: "a", Target: "b"}},
			preparer: &fakePreparer{err: fmt.Errorf("write failed")},
			wantCode: app.ErrCodeMetadataAccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Handle(app.NewContext(), tt.preparer, tt.request)
			if tt.wantCode != "" {
				var ce *app.CommonError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, tt.wantCode, ce.Code)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			tt.validate(t, tt.preparer, resp)
		})
	}
}

func TestNoSpaceMessage(t *testing.T) {
	p := &fakePreparer{required: 500 << 20, err: &snapshot.Error{Code: snapshot.ErrorCodeNoSpace, RequiredSize: 500 << 20}}
	_, err := Handle(app.NewContext(), p, &Request{ManifestPath: writeManifest(t, testManifest), Slots: app.SlotPair{Source: "a", Target: "b"}})
	assert.ErrorContains(t, err, "500 MiB more required")
}

func TestFormatOutput(t *testing.T) {
	resp := &Response{
		Source: "A", Target: "B",
		DynamicPartitions: "launch", VirtualAB: "none",
		DynamicTarget: true, Updated: true,
		Groups: []GroupResult{{Name: "main", Size: 1 << 30, Partitions: []PartitionResult{{Name: "system", Size: 150 << 20}}}},
	}

	var buf bytes.Buffer
	require.NoError(t, FormatOutput(&buf, resp, "table"))
	assert.Contains(t, buf.String(), "main")
	assert.Contains(t, buf.String(), "150 MiB")
	assert.Contains(t, buf.String(), "target slot updated")

	buf.Reset()
	require.NoError(t, FormatOutput(&buf, resp, "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "B", decoded["target_slot"])

	buf.Reset()
	require.NoError(t, FormatOutput(&buf, resp, "yaml"))
	assert.Contains(t, buf.String(), "target_slot: B")

	assert.Error(t, FormatOutput(&buf, resp, "xml"))

	buf.Reset()
	require.NoError(t, FormatOutput(&buf, &Response{Source: "A", Target: "B"}, "table"))
	assert.Contains(t, buf.String(), "does not use dynamic partitions")
}
