package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deploymenttheory/go-dynpart/internal/snapshot/fake"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

func TestNoOp(t *testing.T) {
	var reported []int
	result := NoOp{}.Run(context.Background(), nil, func(p int) { reported = append(reported, p) })
	assert.Equal(t, types.CleanupSuccess, result)
	assert.Equal(t, []int{100}, reported)
}

func TestMergeWait(t *testing.T) {
	tests := []struct {
		name         string
		states       []types.UpdateState
		want         types.CleanupResult
		wantProgress []int
	}{
		{name: "nothing to do", states: []types.UpdateState{types.UpdateStateNone}, want: types.CleanupSuccess, wantProgress: []int{0, 100}},
		{
			name:         "waits for merge",
			states:       []types.UpdateState{types.UpdateStateMerging, types.UpdateStateMerging, types.UpdateStateMergeCompleted},
			want:         types.CleanupSuccess,
			wantProgress: []int{0, 100},
		},
		{name: "merge failed", states: []types.UpdateState{types.UpdateStateMerging, types.UpdateStateMergeFailed}, want: types.CleanupDeviceCorrupted, wantProgress: []int{0}},
		{name: "needs reboot", states: []types.UpdateState{types.UpdateStateMergeNeedsReboot}, want: types.CleanupError, wantProgress: []int{0}},
		{name: "not booted yet", states: []types.UpdateState{types.UpdateStateUnverified}, want: types.CleanupError, wantProgress: []int{0}},
		{name: "cancelled", states: []types.UpdateState{types.UpdateStateCancelled}, want: types.CleanupSuccess, wantProgress: []int{0, 100}},
		{name: "never finishes", states: []types.UpdateState{types.UpdateStateMerging}, want: types.CleanupError, wantProgress: []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := fake.NewManager()
			snap.States = tt.states

			var progress []int
			action := NewMergeWait(time.Millisecond, 50*time.Millisecond, nil)
			got := action.Run(context.Background(), snap, func(p int) { progress = append(progress, p) })

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantProgress, progress)
		})
	}
}
