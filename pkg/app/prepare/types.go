package prepare

import (
	"context"
	"time"

	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/types"
	"github.com/deploymenttheory/go-dynpart/pkg/app"
)

// Preparer is the part of the controller the prepare command drives
type Preparer interface {
	PreparePartitionsForUpdate(ctx context.Context, source, target types.Slot, m *manifest.Manifest, update bool) (uint64, error)
	GetDynamicPartitionsFeatureFlag() types.FeatureFlag
	GetVirtualAbFeatureFlag() types.FeatureFlag
}

// Request represents a preparation request
type Request struct {
	ManifestPath string
	Slots        app.SlotPair
	VerifyOnly   bool
}

// Response represents the outcome of a preparation pass
type Response struct {
	Source            string        `json:"source_slot" yaml:"source_slot"`
	Target            string        `json:"target_slot" yaml:"target_slot"`
	DynamicPartitions string        `json:"dynamic_partitions" yaml:"dynamic_partitions"`
	VirtualAB         string        `json:"virtual_ab" yaml:"virtual_ab"`
	DynamicTarget     bool          `json:"dynamic_target" yaml:"dynamic_target"`
	SnapshotEnabled   bool          `json:"snapshot_enabled" yaml:"snapshot_enabled"`
	Updated           bool          `json:"updated" yaml:"updated"`
	Groups            []GroupResult `json:"groups" yaml:"groups"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
}

// GroupResult describes one requested group
type GroupResult struct {
	Name       string            `json:"name" yaml:"name"`
	Size       uint64            `json:"size" yaml:"size"`
	Partitions []PartitionResult `json:"partitions" yaml:"partitions"`
}

// PartitionResult describes one requested partition
type PartitionResult struct {
	Name string `json:"name" yaml:"name"`
	Size uint64 `json:"size" yaml:"size"`
}

// TotalSize sums the requested group sizes
func (r *Response) TotalSize() uint64 {
	var total uint64
	for _, g := range r.Groups {
		total += g.Size
	}
	return total
}
