package device

import (
	"fmt"
	"os"
)

// Size returns the size in bytes of an image file or block device.
func Size(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Mode().IsRegular() {
		return uint64(fi.Size()), nil
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return 0, fmt.Errorf("%s is neither a file nor a block device", path)
	}
	return blockDeviceSize(f)
}
