package inspect

// Request represents a metadata listing request
type Request struct {
	Device string
	Slot   string
}

// Response describes the table stored in one metadata slot
type Response struct {
	Device       string            `json:"device" yaml:"device"`
	Slot         string            `json:"slot" yaml:"slot"`
	Allocatable  uint64            `json:"allocatable" yaml:"allocatable"`
	Used         uint64            `json:"used" yaml:"used"`
	Free         uint64            `json:"free" yaml:"free"`
	BlockDevices []BlockDeviceInfo `json:"block_devices" yaml:"block_devices"`
	Groups       []GroupInfo       `json:"groups" yaml:"groups"`
}

// BlockDeviceInfo describes a physical device backing the table
type BlockDeviceInfo struct {
	Name               string `json:"name" yaml:"name"`
	Size               uint64 `json:"size" yaml:"size"`
	FirstLogicalSector uint64 `json:"first_logical_sector" yaml:"first_logical_sector"`
}

// GroupInfo describes a partition group and its members
type GroupInfo struct {
	Name       string          `json:"name" yaml:"name"`
	MaxSize    uint64          `json:"max_size" yaml:"max_size"`
	Partitions []PartitionInfo `json:"partitions" yaml:"partitions"`
}

// PartitionInfo describes a logical partition
type PartitionInfo struct {
	Name       string   `json:"name" yaml:"name"`
	Size       uint64   `json:"size" yaml:"size"`
	Extents    int      `json:"extents" yaml:"extents"`
	Attributes []string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// GroupSize sums the sizes of the group's partitions
func (g *GroupInfo) GroupSize() uint64 {
	var total uint64
	for _, p := range g.Partitions {
		total += p.Size
	}
	return total
}
