package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Slot identifies an A/B boot slot. Slot 0 is "A", slot 1 is "B".
type Slot uint32

// InvalidSlot means "no target slot" and is used when metadata is only read.
const InvalidSlot Slot = ^Slot(0)

// slotSuffixes maps slot numbers to the suffix appended to partition names.
var slotSuffixes = []string{"_a", "_b"}

// Suffix returns the partition-name suffix for the slot ("_a", "_b").
// Slots beyond "b" continue the alphabet. InvalidSlot yields "".
func (s Slot) Suffix() string {
	if s == InvalidSlot {
		return ""
	}
	if int(s) < len(slotSuffixes) {
		return slotSuffixes[s]
	}
	return "_" + string(rune('a'+int(s)))
}

// String returns "A", "B", ... or "INVALID".
func (s Slot) String() string {
	if s == InvalidSlot {
		return "INVALID"
	}
	return strings.ToUpper(s.Suffix()[1:])
}

// Valid reports whether the slot is not the InvalidSlot sentinel.
func (s Slot) Valid() bool {
	return s != InvalidSlot
}

// ParseSlot accepts "a", "_a", "A", or a slot number.
func ParseSlot(value string) (Slot, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), "_")
	if v == "" {
		return InvalidSlot, fmt.Errorf("empty slot")
	}
	if n, err := strconv.ParseUint(v, 10, 32); err == nil {
		if n >= 26 {
			return InvalidSlot, fmt.Errorf("slot number %d out of range", n)
		}
		return Slot(n), nil
	}
	if len(v) == 1 && v[0] >= 'a' && v[0] <= 'z' {
		return Slot(v[0] - 'a'), nil
	}
	return InvalidSlot, fmt.Errorf("invalid slot %q", value)
}
