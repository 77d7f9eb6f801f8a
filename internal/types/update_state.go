package types

// UpdateState is the snapshot engine's view of the current update.
type UpdateState int

const (
	UpdateStateNone UpdateState = iota
	// UpdateStateInitiated means snapshots exist and writes are in progress.
	UpdateStateInitiated
	// UpdateStateUnverified means writes finished and the new slot has not booted yet.
	UpdateStateUnverified
	UpdateStateMerging
	UpdateStateMergeNeedsReboot
	UpdateStateMergeCompleted
	UpdateStateMergeFailed
	UpdateStateCancelled
)

var updateStateNames = map[UpdateState]string{
	UpdateStateNone:             "none",
	UpdateStateInitiated:        "initiated",
	UpdateStateUnverified:       "unverified",
	UpdateStateMerging:          "merging",
	UpdateStateMergeNeedsReboot: "merge-needs-reboot",
	UpdateStateMergeCompleted:   "merge-completed",
	UpdateStateMergeFailed:      "merge-failed",
	UpdateStateCancelled:        "cancelled",
}

func (s UpdateState) String() string {
	if name, ok := updateStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// CleanupResult is the outcome of the post-update cleanup action.
type CleanupResult int

const (
	CleanupSuccess CleanupResult = iota
	// CleanupError is retryable, usually after a reboot.
	CleanupError
	// CleanupDeviceCorrupted is terminal.
	CleanupDeviceCorrupted
)

func (r CleanupResult) String() string {
	switch r {
	case CleanupSuccess:
		return "success"
	case CleanupDeviceCorrupted:
		return "device-corrupted"
	default:
		return "error"
	}
}
