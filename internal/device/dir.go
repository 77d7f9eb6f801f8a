// Package device locates the block devices that hold partitions: the
// by-name directory, the super partition and plain static partitions.
package device

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

// DefaultMiscDevice is the bootloader message partition link.
const DefaultMiscDevice = "/dev/block/by-name/misc"

// MiscLocator derives the by-name directory from the misc partition link.
type MiscLocator struct {
	fs         afero.Fs
	miscDevice string
}

// NewMiscLocator creates a locator. fs must support Lstat.
func NewMiscLocator(fs afero.Fs, miscDevice string) *MiscLocator {
	if miscDevice == "" {
		miscDevice = DefaultMiscDevice
	}
	return &MiscLocator{fs: fs, miscDevice: miscDevice}
}

// DeviceDir returns the directory containing the misc link. The misc
// device must be a symlink, otherwise the by-name layout is not in use.
func (l *MiscLocator) DeviceDir() (string, error) {
	lstater, ok := l.fs.(afero.Lstater)
	if !ok {
		return "", fmt.Errorf("filesystem cannot inspect symlinks")
	}
	fi, _, err := lstater.LstatIfPossible(l.miscDevice)
	if err != nil {
		return "", fmt.Errorf("stat misc device: %w", err)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return "", fmt.Errorf("misc device %s is not a symlink", l.miscDevice)
	}
	return filepath.Dir(l.miscDevice), nil
}

// StaticDir is a fixed device directory.
type StaticDir string

// DeviceDir implements interfaces.DeviceDirLocator.
func (d StaticDir) DeviceDir() (string, error) {
	if d == "" {
		return "", fmt.Errorf("device directory not configured")
	}
	return string(d), nil
}

// Exists reports whether a device node or image exists at path.
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// SuperPartitionName returns the name of the super partition for slot.
// Retrofit devices keep one super per slot, named after the slot.
func SuperPartitionName(base string, slot types.Slot, retrofit bool) string {
	if base == "" {
		base = "super"
	}
	if !retrofit {
		return base
	}
	return base + slot.Suffix()
}
