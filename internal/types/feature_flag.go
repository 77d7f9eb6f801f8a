package types

// FeatureFlag classifies how a device-level feature is enabled.
type FeatureFlag int

const (
	// FeatureNone means the feature is disabled.
	FeatureNone FeatureFlag = iota
	// FeatureRetrofit means the feature was added after launch.
	FeatureRetrofit
	// FeatureLaunch means the device shipped with the feature.
	FeatureLaunch
)

// IsEnabled is true for both Retrofit and Launch.
func (f FeatureFlag) IsEnabled() bool {
	return f == FeatureRetrofit || f == FeatureLaunch
}

// IsRetrofit reports whether the feature was retrofitted.
func (f FeatureFlag) IsRetrofit() bool {
	return f == FeatureRetrofit
}

// IsLaunch reports whether the device launched with the feature.
func (f FeatureFlag) IsLaunch() bool {
	return f == FeatureLaunch
}

func (f FeatureFlag) String() string {
	switch f {
	case FeatureRetrofit:
		return "retrofit"
	case FeatureLaunch:
		return "launch"
	default:
		return "none"
	}
}

// ExecutionMode is the runtime environment the controller runs in.
type ExecutionMode int

const (
	// ModeNormal is a regular booted system.
	ModeNormal ExecutionMode = iota
	// ModeRecovery is the recovery/sideload environment, where the
	// snapshot path may fall back to overwriting the source slot.
	ModeRecovery
)

func (m ExecutionMode) String() string {
	if m == ModeRecovery {
		return "recovery"
	}
	return "normal"
}

// ParseExecutionMode parses "normal" or "recovery". Empty means normal.
func ParseExecutionMode(value string) (ExecutionMode, bool) {
	switch value {
	case "", "normal":
		return ModeNormal, true
	case "recovery":
		return ModeRecovery, true
	default:
		return ModeNormal, false
	}
}
