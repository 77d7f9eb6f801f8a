package metadata

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-dynpart/internal/types"
)

var endian = binary.LittleEndian

var (
	ErrBadMagic  = errors.New("bad metadata magic")
	ErrChecksum  = errors.New("metadata checksum mismatch")
	ErrTooLarge  = errors.New("metadata exceeds maximum size")
	ErrTruncated = errors.New("metadata truncated")
)

// GeometryStructSize is the encoded size of the geometry record
// before padding to types.GeometrySize.
const GeometryStructSize = 52

// ParseGeometry decodes and verifies a geometry block.
func ParseGeometry(data []byte) (types.Geometry, error) {
	var g types.Geometry
	if len(data) < GeometryStructSize {
		return g, fmt.Errorf("geometry: %w: %d bytes", ErrTruncated, len(data))
	}

	magic := endian.Uint32(data[0:4])
	if magic != types.GeometryMagic {
		return g, fmt.Errorf("geometry: %w: got 0x%08X, want 0x%08X", ErrBadMagic, magic, types.GeometryMagic)
	}
	if size := endian.Uint32(data[4:8]); size != GeometryStructSize {
		return g, fmt.Errorf("geometry: unexpected struct size %d", size)
	}

	record := make([]byte, GeometryStructSize)
	copy(record, data[:GeometryStructSize])
	want := make([]byte, sha256.Size)
	copy(want, record[8:40])
	clear(record[8:40])
	if sum := sha256.Sum256(record); !bytes.Equal(sum[:], want) {
		return g, fmt.Errorf("geometry: %w", ErrChecksum)
	}

	g.MetadataMaxSize = endian.Uint32(data[40:44])
	g.MetadataSlotCount = endian.Uint32(data[44:48])
	g.LogicalBlockSize = endian.Uint32(data[48:52])

	if err := ValidateGeometry(g); err != nil {
		return g, err
	}
	return g, nil
}

// ValidateGeometry checks the invariants a usable geometry must satisfy.
func ValidateGeometry(g types.Geometry) error {
	if g.MetadataMaxSize == 0 || g.MetadataMaxSize%types.SectorSize != 0 {
		return fmt.Errorf("geometry: metadata max size %d is not a positive multiple of %d", g.MetadataMaxSize, types.SectorSize)
	}
	if g.MetadataSlotCount == 0 {
		return fmt.Errorf("geometry: metadata slot count is zero")
	}
	if g.LogicalBlockSize == 0 || g.LogicalBlockSize%types.SectorSize != 0 {
		return fmt.Errorf("geometry: logical block size %d is not a positive multiple of %d", g.LogicalBlockSize, types.SectorSize)
	}
	return nil
}

// EncodeGeometry returns a types.GeometrySize block holding the checksummed geometry.
func EncodeGeometry(g types.Geometry) []byte {
	block := make([]byte, types.GeometrySize)
	endian.PutUint32(block[0:4], types.GeometryMagic)
	endian.PutUint32(block[4:8], GeometryStructSize)
	endian.PutUint32(block[40:44], g.MetadataMaxSize)
	endian.PutUint32(block[44:48], g.MetadataSlotCount)
	endian.PutUint32(block[48:52], g.LogicalBlockSize)

	sum := sha256.Sum256(block[:GeometryStructSize])
	copy(block[8:40], sum[:])
	return block
}
