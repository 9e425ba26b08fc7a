package journal

import (
	"fmt"
	"sort"
)

// Geometry describes where the ring lives on a device: DataSpace bytes of
// blocks interleaved with NumSuperblocks superblock blocks.
type Geometry struct {
	DataSpace      int64
	NumSuperblocks int
}

// Pointer is a ring position in both logical and physical form.
type Pointer struct {
	Logical int64
	Block   int64
	Offset  int
}

// Room returns the bytes left in the pointer's block.
func (p Pointer) Room() int { return BlockSize - p.Offset }

// PointerAt converts a logical ring offset into a physical position.
func (g Geometry) PointerAt(logical int64) Pointer {
	if logical < 0 || logical >= g.DataSpace {
		panic(fmt.Sprintf("journal: ring offset %d outside data space %d", logical, g.DataSpace))
	}
	l := logical / BlockSize
	// n is the last superblock placed before logical block l.
	n := sort.Search(g.NumSuperblocks, func(i int) bool {
		return SuperblockBlock(i)-int64(i) > l
	}) - 1
	return Pointer{
		Logical: logical,
		Block:   l + int64(n) + 1,
		Offset:  int(logical % BlockSize),
	}
}

// Advance moves p forward by n bytes, wrapping at the end of the ring.
func (g Geometry) Advance(p Pointer, n int64) Pointer {
	if n < 0 || n > g.DataSpace {
		panic(fmt.Sprintf("journal: advance by %d outside data space %d", n, g.DataSpace))
	}
	if n < int64(p.Room()) {
		p.Logical += n
		p.Offset += int(n)
		return p
	}
	pos := p.Logical + n
	if pos >= g.DataSpace {
		pos -= g.DataSpace
	}
	return g.PointerAt(pos)
}
