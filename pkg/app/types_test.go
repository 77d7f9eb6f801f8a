package app

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deploymenttheory/go-dynpart/internal/devicemapper"
	"github.com/deploymenttheory/go-dynpart/internal/snapshot"
)

func TestSlotPairValidate(t *testing.T) {
	tests := []struct {
		name    string
		pair    SlotPair
		wantErr bool
	}{
		{name: "a to b", pair: SlotPair{Source: "a", Target: "b"}},
		{name: "numeric", pair: SlotPair{Source: "1", Target: "0"}},
		{name: "suffix form", pair: SlotPair{Source: "_a", Target: "_b"}},
		{name: "same slot", pair: SlotPair{Source: "a", Target: "A"}, wantErr: true},
		{name: "missing target", pair: SlotPair{Source: "a"}, wantErr: true},
		{name: "garbage", pair: SlotPair{Source: "a", Target: "slot-b"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pair.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "no space", err: fmt.Errorf("create: %w", &snapshot.Error{Code: snapshot.ErrorCodeNoSpace, RequiredSize: 1}), wantCode: ErrCodeNoSpace},
		{name: "timeout", err: fmt.Errorf("map: %w", devicemapper.ErrTimeout), wantCode: ErrCodeTimeout},
		{name: "fallback", err: errors.New("boom"), wantCode: ErrCodeMetadataAccess},
		{name: "already classified", err: NewError(ErrCodeInvalidInput, "bad", nil), wantCode: ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ce *CommonError
			err := Wrap(tt.err, ErrCodeMetadataAccess, "operation failed")
			assert.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantCode, ce.Code)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, Wrap(nil, ErrCodeMetadataAccess, "unused"))
}
