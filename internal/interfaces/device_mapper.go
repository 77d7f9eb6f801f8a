// File: internal/interfaces/device_mapper.go
package interfaces

import (
	"context"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// DeviceMapper maps logical partitions onto device-mapper nodes
type DeviceMapper interface {
	// State returns the kernel state of the named device; DmStateInvalid if it does not exist
	State(ctx context.Context, name string) (types.DmDeviceState, error)

	// DevicePath returns the node path of an existing device
	DevicePath(ctx context.Context, name string) (string, error)

	// CreateLogicalPartition maps a partition from super metadata and waits for its node
	CreateLogicalPartition(ctx context.Context, params types.CreateParams) (string, error)

	// DestroyLogicalPartition removes a mapping; removing a missing device succeeds
	DestroyLogicalPartition(ctx context.Context, name string) error
}
