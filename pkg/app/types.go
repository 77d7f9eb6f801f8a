package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/deploymenttheory/go-dynpart/internal/devicemapper"
	"github.com/deploymenttheory/go-dynpart/internal/snapshot"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// SlotPair represents the source and target slots of an update
type SlotPair struct {
	Source string
	Target string
}

// Parse returns the parsed slots
func (sp *SlotPair) Parse() (source, target types.Slot, err error) {
	source, err = types.ParseSlot(sp.Source)
	if err != nil {
		return types.InvalidSlot, types.InvalidSlot, fmt.Errorf("source slot: %w", err)
	}
	target, err = types.ParseSlot(sp.Target)
	if err != nil {
		return types.InvalidSlot, types.InvalidSlot, fmt.Errorf("target slot: %w", err)
	}
	return source, target, nil
}

// Validate ensures both slots parse and differ
func (sp *SlotPair) Validate() error {
	source, target, err := sp.Parse()
	if err != nil {
		return err
	}
	if source == target {
		return errors.New("source and target slot must differ")
	}
	return nil
}

// String returns a string representation of the slot pair
func (sp *SlotPair) String() string {
	return fmt.Sprintf("%s -> %s", sp.Source, sp.Target)
}

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeMetadataAccess = "METADATA_ACCESS"
	ErrCodeDeviceAccess   = "DEVICE_ACCESS"
	ErrCodeNoSpace        = "NO_SPACE"
	ErrCodePermission     = "PERMISSION_DENIED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeNotImplemented = "NOT_IMPLEMENTED"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Classify picks an error code for an error returned by the core packages.
// fallback is used when nothing more specific applies.
func Classify(err error, fallback string) string {
	var ce *CommonError
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case snapshot.RequiredSize(err) > 0:
		return ErrCodeNoSpace
	case errors.Is(err, devicemapper.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, os.ErrPermission):
		return ErrCodePermission
	default:
		return fallback
	}
}

// Wrap converts err into a CommonError, keeping an existing one unchanged
func Wrap(err error, fallback, message string) error {
	if err == nil {
		return nil
	}
	var ce *CommonError
	if errors.As(err, &ce) {
		return err
	}
	return NewError(Classify(err, fallback), message, err)
}
