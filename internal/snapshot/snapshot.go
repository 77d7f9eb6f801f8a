// Package snapshot holds the protocol types shared with the Virtual A/B
// snapshot engine and helpers that do not depend on a particular engine.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// ErrorCode classifies a snapshot engine failure.
type ErrorCode int

const (
	ErrorCodeError ErrorCode = iota
	ErrorCodeNoSpace
)

func (c ErrorCode) String() string {
	if c == ErrorCodeNoSpace {
		return "no-space"
	}
	return "error"
}

// Error is returned by CreateUpdateSnapshots. RequiredSize is set for
// ErrorCodeNoSpace and holds the additional bytes the engine needs.
type Error struct {
	Code         ErrorCode
	RequiredSize uint64
	Err          error
}

func (e *Error) Error() string {
	msg := "snapshot engine failure"
	if e.Code == ErrorCodeNoSpace {
		msg = fmt.Sprintf("insufficient space for snapshots, %d more bytes required", e.RequiredSize)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RequiredSize extracts the required additional size from a no-space error.
// It returns 0 for every other error.
func RequiredSize(err error) uint64 {
	var se *Error
	if errors.As(err, &se) && se.Code == ErrorCodeNoSpace {
		return se.RequiredSize
	}
	return 0
}

// ErrUnavailable is returned by the Disabled engine.
var ErrUnavailable = errors.New("snapshot engine unavailable")

// Disabled is the engine for devices without Virtual A/B. Every call fails
// except the queries that have a natural empty answer.
type Disabled struct{}

var _ interfaces.SnapshotManager = Disabled{}

func (Disabled) EnsureMetadataMounted(context.Context) (io.Closer, error) {
	return nil, ErrUnavailable
}
func (Disabled) BeginUpdate(context.Context) error  { return ErrUnavailable }
func (Disabled) CancelUpdate(context.Context) error { return nil }
func (Disabled) CreateUpdateSnapshots(context.Context, *manifest.Manifest) error {
	return ErrUnavailable
}
func (Disabled) MapUpdateSnapshot(context.Context, types.CreateParams) (string, error) {
	return "", ErrUnavailable
}
func (Disabled) UnmapUpdateSnapshot(context.Context, string) error { return nil }
func (Disabled) GetUpdateState(context.Context) types.UpdateState {
	return types.UpdateStateNone
}
func (Disabled) FinishedSnapshotWrites(context.Context) error { return ErrUnavailable }
