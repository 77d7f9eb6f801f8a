package types

import "time"

// DmDeviceState is the kernel-reported state of a device-mapper node.
type DmDeviceState int

const (
	// DmStateInvalid means no such device exists.
	DmStateInvalid DmDeviceState = iota
	// DmStateSuspended means the device exists but I/O is suspended.
	DmStateSuspended
	// DmStateActive means the device exists and is live.
	DmStateActive
)

func (s DmDeviceState) String() string {
	switch s {
	case DmStateActive:
		return "ACTIVE"
	case DmStateSuspended:
		return "SUSPENDED"
	default:
		return "INVALID"
	}
}

// CreateParams describes a logical partition to map.
type CreateParams struct {
	// BlockDevice is the path of the super partition holding the metadata.
	BlockDevice string
	// MetadataSlot selects which metadata slot to read extents from.
	MetadataSlot Slot
	// PartitionName is the slot-suffixed partition name.
	PartitionName string
	// ForceWritable maps the device read-write even if the partition is read-only.
	ForceWritable bool
	// Timeout bounds how long to wait for the device node to appear.
	Timeout time.Duration
}
