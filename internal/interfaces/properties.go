// File: internal/interfaces/properties.go
package interfaces

// PropertyStore is a read-only system property lookup
type PropertyStore interface {
	// GetBool returns the boolean value of key, or def if unset or unparsable
	GetBool(key string, def bool) bool

	// GetString returns the value of key, or def if unset
	GetString(key, def string) string
}

// DeviceDirLocator resolves the directory holding by-name block device links
type DeviceDirLocator interface {
	DeviceDir() (string, error)
}
