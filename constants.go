package memalloc

import "unsafe"

// Compile-time constants. These must agree across every component that
// inspects a pointer's sentinel (the run-vs-block dispatch in Free depends
// on RunSize being a power of two).
const (
	// SmallMax is the largest request size served by the small tier.
	SmallMax = 512

	// SizeClassCount is the number of small-object size classes.
	SizeClassCount = 64

	// RunSize is the size, in bytes, of one slab run. Must be a power of two.
	RunSize = 65536

	// ArenaRegionSize is the minimum size of one arena region.
	ArenaRegionSize = 64 * 1024 * 1024

	// TLSMaxLocal bounds how many blocks a goroutine's per-class cache may
	// hold before excess frees are returned directly to their run.
	TLSMaxLocal = 256

	// BlockMagic marks the header of a boundary-tagged arena block.
	BlockMagic uint64 = 0xDEADC0DEDEADC0DE

	// RunMagic marks the header of a slab run.
	RunMagic uint32 = 0xA110CA7E

	// cacheLine is used to keep the remote-free Treiber stack head off the
	// same cache line as the owner's hot fields.
	cacheLine = 64

	// flushBytesThreshold and flushOpsThreshold bound how much a
	// goroutine's batched stats delta may drift before it is folded into
	// the shared atomics.
	flushBytesThreshold = 64 * 1024
	flushOpsThreshold    = 4096
)

func init() {
	if RunSize&(RunSize-1) != 0 {
		panic("memalloc: RunSize must be a power of two")
	}
}

// blockHeaderSize, blockFooterSize, blockOverhead and minBlockSize describe
// the boundary-tag layout used by the arena (large) tier.
var (
	blockHeaderSize = unsafe.Sizeof(blockHeader{})
	blockFooterSize = unsafe.Sizeof(blockFooter{})
	blockOverhead   = blockHeaderSize + blockFooterSize
	minBlockSize    = blockOverhead + 8

	slabRunHeaderSize = alignUp(unsafe.Sizeof(slabRun{}), cacheLine)
)

// round8 rounds n up to the next multiple of 8.
func round8(n int64) int64 {
	return (n + 7) &^ 7
}

// alignUp rounds n up to the next multiple of align, where align is a
// power of two.
func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// sizeClass maps a size already rounded up to a multiple of 8 (1 <= s <=
// SmallMax) onto its size-class index in [0, SizeClassCount).
func sizeClass(s int64) int {
	return int(s/8 - 1)
}

// classToSize returns the payload size, in bytes, of size class c.
func classToSize(c int) int64 {
	return int64(c+1) * 8
}
