//go:build !linux

package device

import (
	"fmt"
	"os"
)

func blockDeviceSize(f *os.File) (uint64, error) {
	return 0, fmt.Errorf("block device size of %s: unsupported platform", f.Name())
}
