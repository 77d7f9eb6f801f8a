// File: internal/interfaces/snapshot_manager.go
package interfaces

import (
	"context"
	"io"

	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// SnapshotManager is the copy-on-write snapshot engine used for Virtual A/B updates
type SnapshotManager interface {
	// EnsureMetadataMounted mounts the engine's metadata store; closing the handle unmounts it
	EnsureMetadataMounted(ctx context.Context) (io.Closer, error)

	// BeginUpdate starts a new snapshot update session
	BeginUpdate(ctx context.Context) error

	// CancelUpdate abandons any snapshot update session
	CancelUpdate(ctx context.Context) error

	// CreateUpdateSnapshots creates snapshots for every partition in the manifest.
	// Running out of space is reported as a *snapshot.Error carrying the required size.
	CreateUpdateSnapshots(ctx context.Context, m *manifest.Manifest) error

	// MapUpdateSnapshot maps a target partition through its snapshot
	MapUpdateSnapshot(ctx context.Context, params types.CreateParams) (string, error)

	// UnmapUpdateSnapshot removes a snapshot mapping
	UnmapUpdateSnapshot(ctx context.Context, name string) error

	// GetUpdateState returns the state of the current update
	GetUpdateState(ctx context.Context) types.UpdateState

	// FinishedSnapshotWrites marks the end of writes to the target slot
	FinishedSnapshotWrites(ctx context.Context) error
}
