// Package cleanup implements the actions run after the device has booted
// successfully into the updated slot.
package cleanup

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// ProgressFunc receives completion percentages in [0, 100].
type ProgressFunc func(percent int)

// Action is a post-update cleanup step.
type Action interface {
	Run(ctx context.Context, snap interfaces.SnapshotManager, progress ProgressFunc) types.CleanupResult
}

// NoOp is used when Virtual A/B is disabled; there is nothing to merge.
type NoOp struct{}

func (NoOp) Run(_ context.Context, _ interfaces.SnapshotManager, progress ProgressFunc) types.CleanupResult {
	if progress != nil {
		progress(100)
	}
	return types.CleanupSuccess
}

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMergeTimeout = 30 * time.Minute
)

var errStillMerging = errors.New("snapshot merge in progress")

// MergeWait blocks until the snapshot engine finishes merging.
type MergeWait struct {
	poll    time.Duration
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewMergeWait creates the action. Non-positive durations select defaults.
func NewMergeWait(poll, timeout time.Duration, log logrus.FieldLogger) *MergeWait {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultMergeTimeout
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &MergeWait{poll: poll, timeout: timeout, log: log}
}

// classify maps an update state to a final result; done is false while
// the merge is still running.
func classify(state types.UpdateState) (result types.CleanupResult, done bool) {
	switch state {
	case types.UpdateStateNone, types.UpdateStateMergeCompleted, types.UpdateStateCancelled:
		return types.CleanupSuccess, true
	case types.UpdateStateMerging:
		return types.CleanupError, false
	case types.UpdateStateMergeFailed:
		return types.CleanupDeviceCorrupted, true
	default:
		// initiated, unverified and merge-needs-reboot need another boot
		return types.CleanupError, true
	}
}

// Run polls the update state until the merge settles or the timeout expires.
func (a *MergeWait) Run(ctx context.Context, snap interfaces.SnapshotManager, progress ProgressFunc) types.CleanupResult {
	if progress == nil {
		progress = func(int) {}
	}
	progress(0)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var result types.CleanupResult
	var last types.UpdateState
	err := retry.Do(
		func() error {
			last = snap.GetUpdateState(ctx)
			r, done := classify(last)
			if !done {
				return errStillMerging
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(a.timeout/a.poll)+1),
		retry.Delay(a.poll),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, _ error) {
			a.log.WithField("attempt", n+1).Debug("waiting for snapshot merge")
		}),
	)
	if err != nil {
		a.log.WithError(err).WithField("state", last.String()).Error("snapshot merge did not finish")
		return types.CleanupError
	}

	log := a.log.WithFields(logrus.Fields{"state": last.String(), "result": result.String()})
	switch result {
	case types.CleanupSuccess:
		progress(100)
		log.Info("previous update cleaned up")
	case types.CleanupDeviceCorrupted:
		log.Error("merge failed, device may be corrupted")
	default:
		log.Warn("cleanup must be retried after reboot")
	}
	return result
}
