package memalloc

import (
	"unsafe"

	"github.com/tejchid/mem-alloc/internal/debug"
)

// mulOverflow returns a*b and false, or 0 and true when that multiplication
// overflows an int64. ClearAllocate uses it instead of a bare count*size, so a
// caller-supplied count/size pair that would wrap around fails loudly
// instead of quietly under-allocating.
func mulOverflow(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	r := a * b
	if r/b != a {
		return 0, true
	}
	return r, false
}

// Allocate serves size bytes from the small (goroutine-local slab) tier
// when size <= SmallMax, and from the large (boundary-tag arena) tier
// otherwise. A size of zero or less returns a nil pointer and a nil error,
// matching the public ABI's "failure is nil, not panic" contract.
func (al *Allocator) Allocate(size int64) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, nil
	}
	if err := al.ensureInit(); err != nil {
		return nil, err
	}

	al.stats.addRequested(size)

	if size <= SmallMax {
		ptr, err := tlsAlloc(al.tlsCache(), al.arena, al.stats, size)
		if err != nil {
			return nil, err
		}
		if ptr != nil {
			al.stats.addAllocated(classToSize(sizeClass(round8(size))))
		}
		return ptr, nil
	}

	ptr, err := al.arena.alloc(size)
	if err != nil {
		return nil, err
	}
	al.stats.addAllocated(round8(size))
	return ptr, nil
}

// Free dispatches on ptr's sentinel: mask it down to its RunSize-aligned
// base and check for RunMagic (small tier) before falling back to the
// BlockMagic check at its preceding boundary-tag header (large tier).
func (al *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	if run, ok := isSlabRun(ptr); ok {
		al.stats.subAllocated(classToSize(int(run.classID)))
		tlsFree(al.tlsCache(), al.stats, ptr, run)
		return
	}

	h := payloadToHeader(ptr)
	if h.magic != BlockMagic {
		debug.Assert(false, "%v: %p is neither a slab run nor a tagged arena block", ErrInvalidFree, ptr)
		return
	}

	var payload uintptr
	if h.size > blockOverhead {
		payload = h.size - blockOverhead
	}
	if payload > 0 {
		al.stats.subAllocated(int64(payload))
	}
	al.arena.free(ptr)
}

// ClearAllocate allocates count*size bytes, zeroed, failing with
// ErrOutOfMemory rather than wrapping if the product overflows.
func (al *Allocator) ClearAllocate(count, size int64) (unsafe.Pointer, error) {
	if count <= 0 || size <= 0 {
		return nil, nil
	}

	total, overflow := mulOverflow(count, size)
	if overflow {
		return nil, ErrOutOfMemory
	}

	ptr, err := al.Allocate(total)
	if err != nil || ptr == nil {
		return ptr, err
	}

	buf := unsafe.Slice((*byte)(ptr), total)
	for i := range buf {
		buf[i] = 0
	}
	return ptr, nil
}

// Reallocate resizes the allocation at ptr to newSize, preserving as many
// of the leading bytes as fit in whichever of old/new is smaller. A nil
// ptr behaves like Allocate; a newSize <= 0 behaves like Free.
//
// When ptr already belongs to a slab run whose class is exactly newSize's
// size class, the pointer is returned unchanged rather than paying for a fresh
// allocation and copy.
func (al *Allocator) Reallocate(ptr unsafe.Pointer, newSize int64) (unsafe.Pointer, error) {
	if ptr == nil {
		return al.Allocate(newSize)
	}
	if newSize <= 0 {
		al.Free(ptr)
		return nil, nil
	}

	var oldSize int64
	if run, ok := isSlabRun(ptr); ok {
		oldSize = classToSize(int(run.classID))
		if newSize <= SmallMax && sizeClass(round8(newSize)) == int(run.classID) {
			return ptr, nil
		}
	} else {
		h := payloadToHeader(ptr)
		oldSize = int64(h.size) - int64(blockOverhead)
	}

	newPtr, err := al.Allocate(newSize)
	if err != nil || newPtr == nil {
		return newPtr, err
	}

	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}
	if copySize > 0 {
		src := unsafe.Slice((*byte)(ptr), copySize)
		dst := unsafe.Slice((*byte)(newPtr), copySize)
		copy(dst, src)
	}

	al.Free(ptr)
	return newPtr, nil
}
