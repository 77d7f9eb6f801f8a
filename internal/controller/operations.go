package controller

import (
	"context"
	"fmt"

	"github.com/deploymenttheory/go-dynpart/internal/cleanup"
	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/snapshot"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// OptimizeOperation shrinks a SOURCE_COPY for a snapshot-mapped target
// partition. ok is false when the operation must be applied unchanged.
func (c *Controller) OptimizeOperation(partition string, op manifest.InstallOperation) (optimized manifest.InstallOperation, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.optimizeOperation(partition, op)
}

func (c *Controller) optimizeOperation(partition string, op manifest.InstallOperation) (manifest.InstallOperation, bool) {
	if op.Type != manifest.OperationSourceCopy {
		return op, false
	}
	if !c.targetSupportsSnapshot || !c.flags.VirtualAB.IsEnabled() {
		return op, false
	}
	if _, mapped := c.mapped[partition+c.targetSlot.Suffix()]; !mapped {
		return op, false
	}
	return snapshot.OptimizeSourceCopyOperation(op)
}

// ShouldSkipOperation reports whether op needs no writes at all because
// the snapshot of the source already holds every destination block.
func (c *Controller) ShouldSkipOperation(partition string, op manifest.InstallOperation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	optimized, ok := c.optimizeOperation(partition, op)
	return ok && snapshot.NumBlocks(optimized.DstExtents) == 0
}

// FinishUpdate tells the snapshot engine that all target writes are done.
func (c *Controller) FinishUpdate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.flags.VirtualAB.IsEnabled() {
		return nil
	}
	if !c.expectMetadataMounted() {
		c.log().Info("skip finishing snapshot writes because snapshot metadata is not mounted")
		return nil
	}
	if c.snap.GetUpdateState(ctx) != types.UpdateStateInitiated {
		return nil
	}
	c.log().Info("snapshot writes are done")
	if err := c.snap.FinishedSnapshotWrites(ctx); err != nil {
		return fmt.Errorf("finish snapshot writes: %w", err)
	}
	return nil
}

// GetCleanupPreviousUpdateAction returns the action that waits for a
// previous update to settle.
func (c *Controller) GetCleanupPreviousUpdateAction() cleanup.Action {
	if !c.flags.VirtualAB.IsEnabled() {
		return cleanup.NoOp{}
	}
	return c.cleanup
}

// CleanupSuccessfulUpdate blocks until the snapshot merge of the booted
// update completes. It does not hold the controller lock while waiting.
func (c *Controller) CleanupSuccessfulUpdate(ctx context.Context, progress cleanup.ProgressFunc) types.CleanupResult {
	result := c.GetCleanupPreviousUpdateAction().Run(ctx, c.snap, progress)
	c.baseLog.WithField("result", result.String()).Info("cleanup of successful update finished")
	return result
}
