package fake

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// DevicePathPrefix is where the fake places mapped devices.
const DevicePathPrefix = "/fake/dm/dev/path/"

// DeviceMapper is an in-memory interfaces.DeviceMapper. Tests inject
// state with SetState and failures with the Fail maps.
type DeviceMapper struct {
	mu      sync.Mutex
	states  map[string]types.DmDeviceState
	created []types.CreateParams
	removed []string

	FailCreate  map[string]error
	FailDestroy map[string]error
	FailState   map[string]error
}

// NewDeviceMapper returns an empty fake.
func NewDeviceMapper() *DeviceMapper {
	return &DeviceMapper{
		states:      make(map[string]types.DmDeviceState),
		FailCreate:  make(map[string]error),
		FailDestroy: make(map[string]error),
		FailState:   make(map[string]error),
	}
}

// SetState forces the kernel-visible state of a device.
func (d *DeviceMapper) SetState(name string, state types.DmDeviceState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state == types.DmStateInvalid {
		delete(d.states, name)
		return
	}
	d.states[name] = state
}

// Created returns the parameters of every successful create call.
func (d *DeviceMapper) Created() []types.CreateParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.CreateParams(nil), d.created...)
}

// Removed returns the names of every successful destroy call on a live device.
func (d *DeviceMapper) Removed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.removed...)
}

func (d *DeviceMapper) State(_ context.Context, name string) (types.DmDeviceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailState[name]; err != nil {
		return types.DmStateInvalid, err
	}
	return d.states[name], nil
}

func (d *DeviceMapper) DevicePath(_ context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[name]; !ok {
		return "", fmt.Errorf("device %s does not exist", name)
	}
	return path.Join(DevicePathPrefix, name), nil
}

func (d *DeviceMapper) CreateLogicalPartition(_ context.Context, params types.CreateParams) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailCreate[params.PartitionName]; err != nil {
		return "", err
	}
	if _, ok := d.states[params.PartitionName]; ok {
		return "", fmt.Errorf("device %s already exists", params.PartitionName)
	}
	d.states[params.PartitionName] = types.DmStateActive
	d.created = append(d.created, params)
	return path.Join(DevicePathPrefix, params.PartitionName), nil
}

func (d *DeviceMapper) DestroyLogicalPartition(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.FailDestroy[name]; err != nil {
		return err
	}
	if _, ok := d.states[name]; ok {
		delete(d.states, name)
		d.removed = append(d.removed, name)
	}
	return nil
}
