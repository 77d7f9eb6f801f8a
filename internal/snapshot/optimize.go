package snapshot

import (
	"math/bits"

	"github.com/deploymenttheory/go-dynpart/internal/manifest"
)

// OptimizeSourceCopyOperation drops the blocks of a SOURCE_COPY that
// would copy a block onto itself; with a snapshot of the source those
// blocks already hold the right data. It reports whether anything changed.
// Operations whose extent lists cover different block counts are left alone.
func OptimizeSourceCopyOperation(op manifest.InstallOperation) (manifest.InstallOperation, bool) {
	if op.Type != manifest.OperationSourceCopy {
		return op, false
	}
	srcTotal, ok := checkedNumBlocks(op.SrcExtents)
	if !ok {
		return op, false
	}
	if dstTotal, ok := checkedNumBlocks(op.DstExtents); !ok || dstTotal != srcTotal {
		return op, false
	}

	optimized := manifest.InstallOperation{Type: op.Type}
	changed := false

	// Walk both lists in runs that end at the nearer extent boundary. Inside
	// a run source and destination advance together, so a run either maps
	// every block onto itself or none.
	src := extentCursor{extents: op.SrcExtents}
	dst := extentCursor{extents: op.DstExtents}
	for {
		s, sn, sok := src.peek()
		d, dn, dok := dst.peek()
		if !sok || !dok {
			break
		}
		n := min(sn, dn)
		if s == d {
			changed = true
		} else {
			optimized.SrcExtents = appendRun(optimized.SrcExtents, s, n)
			optimized.DstExtents = appendRun(optimized.DstExtents, d, n)
		}
		src.advance(n)
		dst.advance(n)
	}
	if !changed {
		return op, false
	}
	return optimized, true
}

// NumBlocks totals the blocks in a list of extents.
func NumBlocks(extents []manifest.Extent) uint64 {
	var n uint64
	for _, e := range extents {
		n += e.NumBlocks
	}
	return n
}

func checkedNumBlocks(extents []manifest.Extent) (uint64, bool) {
	var n, carry uint64
	for _, e := range extents {
		n, carry = bits.Add64(n, e.NumBlocks, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return n, true
}

type extentCursor struct {
	extents []manifest.Extent
	index   int
	offset  uint64
}

// peek returns the next block and how many blocks remain in its extent.
func (c *extentCursor) peek() (block, remaining uint64, ok bool) {
	for c.index < len(c.extents) {
		e := c.extents[c.index]
		if c.offset < e.NumBlocks {
			return e.StartBlock + c.offset, e.NumBlocks - c.offset, true
		}
		c.index++
		c.offset = 0
	}
	return 0, 0, false
}

func (c *extentCursor) advance(n uint64) {
	c.offset += n
}

func appendRun(extents []manifest.Extent, start, n uint64) []manifest.Extent {
	if last := len(extents) - 1; last >= 0 && extents[last].StartBlock+extents[last].NumBlocks == start {
		extents[last].NumBlocks += n
		return extents
	}
	return append(extents, manifest.Extent{StartBlock: start, NumBlocks: n})
}
