package features

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ParseBool interprets a property value the way the init property
// service does. ok is false for unrecognized values.
func ParseBool(value string) (v bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "y", "yes", "on", "true":
		return true, true
	case "0", "n", "no", "off", "false":
		return false, true
	default:
		return false, false
	}
}

// MapProperties is an in-memory property store.
type MapProperties map[string]string

// GetBool implements interfaces.PropertyStore.
func (p MapProperties) GetBool(key string, def bool) bool {
	if v, ok := ParseBool(p[key]); ok {
		return v
	}
	return def
}

// GetString implements interfaces.PropertyStore.
func (p MapProperties) GetString(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// FileProperties reads build.prop style key=value files.
type FileProperties struct {
	v *viper.Viper
}

// LoadPropertyFiles merges the given files in order; later files override
// earlier ones. Missing files are skipped.
func LoadPropertyFiles(paths ...string) (*FileProperties, error) {
	v := viper.New()
	v.SetConfigType("properties")
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read properties %s: %w", path, err)
		}
	}
	return &FileProperties{v: v}, nil
}

// GetBool implements interfaces.PropertyStore.
func (p *FileProperties) GetBool(key string, def bool) bool {
	if !p.v.IsSet(key) {
		return def
	}
	if v, ok := ParseBool(p.v.GetString(key)); ok {
		return v
	}
	return def
}

// GetString implements interfaces.PropertyStore.
func (p *FileProperties) GetString(key, def string) string {
	if !p.v.IsSet(key) {
		return def
	}
	return p.v.GetString(key)
}
