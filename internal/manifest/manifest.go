// Package manifest describes the update payload as seen by the partition
// controller: per-partition sizes, install operations and the dynamic
// partition layout requested for the target slot.
package manifest

import (
	"fmt"
	"io"
	"math/bits"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Size is a byte count that decodes from either an integer or a
// human-readable string such as "150MiB".
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var n uint64
	if err := node.Decode(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: size must be a number or string", node.Line)
	}
	n, err := humanize.ParseBytes(text)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", node.Line, text, err)
	}
	*s = Size(n)
	return nil
}

func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// OperationType is the kind of an install operation.
type OperationType string

const (
	OperationReplace      OperationType = "REPLACE"
	OperationReplaceBz    OperationType = "REPLACE_BZ"
	OperationReplaceXz    OperationType = "REPLACE_XZ"
	OperationZero         OperationType = "ZERO"
	OperationDiscard      OperationType = "DISCARD"
	OperationSourceCopy   OperationType = "SOURCE_COPY"
	OperationSourceBsdiff OperationType = "SOURCE_BSDIFF"
	OperationPuffdiff     OperationType = "PUFFDIFF"
	OperationBrotliBsdiff OperationType = "BROTLI_BSDIFF"
)

// Extent is a run of blocks in a partition.
type Extent struct {
	StartBlock uint64 `yaml:"start_block" json:"start_block"`
	NumBlocks  uint64 `yaml:"num_blocks" json:"num_blocks"`
}

// InstallOperation is one write step for a partition.
type InstallOperation struct {
	Type       OperationType `yaml:"type" json:"type"`
	SrcExtents []Extent      `yaml:"src_extents,omitempty" json:"src_extents,omitempty"`
	DstExtents []Extent      `yaml:"dst_extents,omitempty" json:"dst_extents,omitempty"`
}

// PartitionInfo carries the size of a partition image.
type PartitionInfo struct {
	Size Size   `yaml:"size" json:"size"`
	Hash string `yaml:"hash,omitempty" json:"hash,omitempty"`
}

// PartitionUpdate describes one partition in the payload.
type PartitionUpdate struct {
	PartitionName    string             `yaml:"partition_name" json:"partition_name"`
	OldPartitionInfo *PartitionInfo     `yaml:"old_partition_info,omitempty" json:"old_partition_info,omitempty"`
	NewPartitionInfo *PartitionInfo     `yaml:"new_partition_info,omitempty" json:"new_partition_info,omitempty"`
	Operations       []InstallOperation `yaml:"operations,omitempty" json:"operations,omitempty"`
}

// Group is a dynamic partition group requested for the target slot.
type Group struct {
	Name           string   `yaml:"name" json:"name"`
	Size           Size     `yaml:"size" json:"size"`
	PartitionNames []string `yaml:"partition_names" json:"partition_names"`
}

// DynamicPartitionMetadata is the dynamic layout section of the manifest.
type DynamicPartitionMetadata struct {
	Groups          []Group `yaml:"groups" json:"groups"`
	SnapshotEnabled bool    `yaml:"snapshot_enabled" json:"snapshot_enabled"`
}

// Manifest is the update description consumed by the controller.
type Manifest struct {
	Partitions               []PartitionUpdate        `yaml:"partitions" json:"partitions"`
	DynamicPartitionMetadata DynamicPartitionMetadata `yaml:"dynamic_partition_metadata" json:"dynamic_partition_metadata"`
}

// IsDynamic reports whether the manifest declares any partition group.
func (m *Manifest) IsDynamic() bool {
	return len(m.DynamicPartitionMetadata.Groups) > 0
}

// IsIncremental reports whether any partition is a delta against the source slot.
func (m *Manifest) IsIncremental() bool {
	for _, p := range m.Partitions {
		if p.OldPartitionInfo != nil {
			return true
		}
	}
	return false
}

// NewPartitionSizes maps partition names to their new sizes.
func (m *Manifest) NewPartitionSizes() map[string]uint64 {
	sizes := make(map[string]uint64, len(m.Partitions))
	for _, p := range m.Partitions {
		if p.NewPartitionInfo != nil {
			sizes[p.PartitionName] = uint64(p.NewPartitionInfo.Size)
		}
	}
	return sizes
}

// TotalGroupSize sums the declared group sizes. ok is false when the sum
// does not fit in 64 bits.
func (m *Manifest) TotalGroupSize() (total uint64, ok bool) {
	var carry uint64
	for _, g := range m.DynamicPartitionMetadata.Groups {
		total, carry = bits.Add64(total, uint64(g.Size), 0)
		if carry != 0 {
			return 0, false
		}
	}
	return total, true
}

// Decode reads a YAML manifest.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return &m, nil
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for i, p := range m.Partitions {
		if strings.TrimSpace(p.PartitionName) == "" {
			return nil, fmt.Errorf("partition %d has no name", i)
		}
	}
	return &m, nil
}

// Load reads a YAML manifest from a file.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
