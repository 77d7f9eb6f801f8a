// Package features classifies the dynamic partition and Virtual A/B
// capabilities of the device from its system properties.
package features

import (
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-dynpart/internal/interfaces"
	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// Property keys.
const (
	DynamicPartitionsProperty         = "ro.boot.dynamic_partitions"
	DynamicPartitionsRetrofitProperty = "ro.boot.dynamic_partitions_retrofit"
	VirtualABProperty                 = "ro.virtual_ab.enabled"
	VirtualABRetrofitProperty         = "ro.virtual_ab.retrofit"
	SuperPartitionProperty            = "ro.boot.super_partition"
)

// Flags is the device's feature classification. It is read once and
// never changes afterwards.
type Flags struct {
	DynamicPartitions types.FeatureFlag
	VirtualAB         types.FeatureFlag
}

// Flag classifies one feature from its enable and retrofit properties.
// retrofit without enable is inconsistent; it is logged and treated as
// enabled.
func Flag(props interfaces.PropertyStore, enableKey, retrofitKey string, log logrus.FieldLogger) types.FeatureFlag {
	enabled := props.GetBool(enableKey, false)
	retrofit := props.GetBool(retrofitKey, false)

	if retrofit && !enabled {
		log.WithFields(logrus.Fields{
			"enable_property":   enableKey,
			"retrofit_property": retrofitKey,
		}).Error("retrofit is set but feature is not enabled, treating as enabled")
	}

	switch {
	case retrofit:
		return types.FeatureRetrofit
	case enabled:
		return types.FeatureLaunch
	default:
		return types.FeatureNone
	}
}

// Read classifies both features.
func Read(props interfaces.PropertyStore, log logrus.FieldLogger) Flags {
	return Flags{
		DynamicPartitions: Flag(props, DynamicPartitionsProperty, DynamicPartitionsRetrofitProperty, log),
		VirtualAB:         Flag(props, VirtualABProperty, VirtualABRetrofitProperty, log),
	}
}
