// Package fake provides an in-memory snapshot engine for tests.
package fake

import (
	"context"
	"errors"
	"io"
	"path"
	"sync"

	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/manifest"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// DevicePathPrefix is where mapped snapshot devices appear.
const DevicePathPrefix = "/fake/snapshot/dev/path/"

type closer struct {
	closed *int
}

func (c closer) Close() error {
	*c.closed++
	return nil
}

// StateSetter is the part of the device-mapper fake that mapped snapshots
// show up in.
type StateSetter interface {
	SetState(name string, state types.DmDeviceState)
}

// Manager records calls and lets tests inject state and failures.
type Manager struct {
	mu sync.Mutex

	State  types.UpdateState
	Mapped map[string]types.CreateParams
	Calls  []string

	// States, when set, is consumed by GetUpdateState one entry per call;
	// the last entry repeats.
	States []types.UpdateState

	MountErr  error
	BeginErr  error
	CancelErr error
	CreateErr error
	MapErr    error
	UnmapErr  error
	FinishErr error

	Unmounts int

	// Kernel, when set, sees snapshot devices appear and disappear.
	Kernel StateSetter
}

var _ interfaces.SnapshotManager = (*Manager)(nil)

// NewManager returns a fake engine with no update in progress.
func NewManager() *Manager {
	return &Manager{Mapped: make(map[string]types.CreateParams)}
}

func (m *Manager) record(call string) {
	m.Calls = append(m.Calls, call)
}

// Called reports whether the named call was made.
func (m *Manager) Called(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Calls {
		if c == call {
			return true
		}
	}
	return false
}

func (m *Manager) EnsureMetadataMounted(context.Context) (io.Closer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("EnsureMetadataMounted")
	if m.MountErr != nil {
		return nil, m.MountErr
	}
	return closer{closed: &m.Unmounts}, nil
}

func (m *Manager) BeginUpdate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("BeginUpdate")
	if m.BeginErr != nil {
		return m.BeginErr
	}
	if m.State != types.UpdateStateNone && m.State != types.UpdateStateCancelled {
		return errors.New("update already in progress")
	}
	m.State = types.UpdateStateInitiated
	return nil
}

func (m *Manager) CancelUpdate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelUpdate")
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.State = types.UpdateStateNone
	return nil
}

func (m *Manager) CreateUpdateSnapshots(context.Context, *manifest.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateUpdateSnapshots")
	return m.CreateErr
}

func (m *Manager) MapUpdateSnapshot(_ context.Context, params types.CreateParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("MapUpdateSnapshot")
	if m.MapErr != nil {
		return "", m.MapErr
	}
	m.Mapped[params.PartitionName] = params
	if m.Kernel != nil {
		m.Kernel.SetState(params.PartitionName, types.DmStateActive)
	}
	return path.Join(DevicePathPrefix, params.PartitionName), nil
}

func (m *Manager) UnmapUpdateSnapshot(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UnmapUpdateSnapshot")
	if m.UnmapErr != nil {
		return m.UnmapErr
	}
	delete(m.Mapped, name)
	if m.Kernel != nil {
		m.Kernel.SetState(name, types.DmStateInvalid)
	}
	return nil
}

func (m *Manager) GetUpdateState(context.Context) types.UpdateState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetUpdateState")
	if len(m.States) > 0 {
		m.State = m.States[0]
		if len(m.States) > 1 {
			m.States = m.States[1:]
		}
	}
	return m.State
}

func (m *Manager) FinishedSnapshotWrites(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("FinishedSnapshotWrites")
	if m.FinishErr != nil {
		return m.FinishErr
	}
	m.State = types.UpdateStateUnverified
	return nil
}
