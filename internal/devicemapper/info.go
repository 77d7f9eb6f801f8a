package devicemapper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DeviceInfo holds parsed output from dmsetup info.
type DeviceInfo struct {
	Name      string
	State     string
	ReadOnly  bool
	OpenCount int
}

func isNotFound(out []byte) bool {
	s := string(out)
	return strings.Contains(s, "No such device or address") ||
		strings.Contains(s, "Device does not exist")
}

// Info retrieves information about a device-mapper device.
// Returns nil DeviceInfo and nil error if the device does not exist.
func (g *Gateway) Info(ctx context.Context, name string) (*DeviceInfo, error) {
	out, err := ExecCommandContext(ctx, g.dmsetup, "info", name).CombinedOutput()
	if err != nil {
		if isNotFound(out) {
			return nil, nil
		}
		return nil, withOutput(fmt.Errorf("dmsetup info %q: %w", name, err), out)
	}
	return parseInfo(string(out))
}

func parseInfo(output string) (*DeviceInfo, error) {
	info := &DeviceInfo{}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "Name":
			info.Name = value
		case "State":
			// e.g. "ACTIVE (READ-ONLY)"
			state, flags, _ := strings.Cut(value, " ")
			info.State = state
			info.ReadOnly = strings.Contains(flags, "READ-ONLY")
		case "Open count":
			count, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("parsing open count %q: %w", value, err)
			}
			info.OpenCount = count
		}
	}

	return info, nil
}
