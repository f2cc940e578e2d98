package memalloc

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/timandy/routine"
	"golang.org/x/sys/unix"
)

// vmSpan describes one anonymous mapping obtained directly from the OS.
// raw is kept around purely so vmFree can hand the exact slice back to
// unix.Munmap (which requires it to match the one unix.Mmap returned);
// ptr/size describe the usable portion a caller actually asked for, which
// may start partway into raw when the span was obtained aligned.
type vmSpan struct {
	ptr  unsafe.Pointer
	size uintptr
	raw  []byte
}

// vmAlloc acquires size bytes of fresh, page-aligned, zero-initialised
// virtual memory. It never touches the Go heap and must never be reached
// through Allocate/Free (re-entrancy hazard).
func vmAlloc(size uintptr) (vmSpan, error) {
	raw, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return vmSpan{}, fmt.Errorf("%w: mmap %d bytes: %v", ErrOutOfMemory, size, err)
	}
	return vmSpan{ptr: unsafe.Pointer(&raw[0]), size: size, raw: raw}, nil
}

// vmAllocAligned acquires size bytes whose base is aligned to align, which
// must be a power of two. This over-maps by up to align bytes of address
// space; the slack is never touched and costs no resident memory, so it is
// simply carried along and released together with the usable span.
//
// Plain mmap only guarantees page alignment, not the RunSize alignment the
// small tier's free-path sentinel dispatch depends on (see RunSize in
// constants.go), so runs (and, for bookkeeping simplicity, arena regions) are
// obtained through this path instead of vmAlloc.
func vmAllocAligned(size, align uintptr) (vmSpan, error) {
	raw, err := unix.Mmap(-1, 0, int(size+align),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return vmSpan{}, fmt.Errorf("%w: mmap %d bytes: %v", ErrOutOfMemory, size+align, err)
	}
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := alignUp(base, align)
	return vmSpan{ptr: unsafe.Pointer(aligned), size: size, raw: raw}, nil
}

// vmFree releases a span acquired via vmAlloc or vmAllocAligned.
func vmFree(s vmSpan) {
	if s.raw == nil {
		return
	}
	_ = unix.Munmap(s.raw)
}

// tidCounter hands out dense, monotonically increasing goroutine ids.
var tidCounter atomic.Uint32

// tidLocal caches the calling goroutine's id. Stored as id+1 so the
// ThreadLocal's zero value unambiguously means "not yet assigned".
var tidLocal = routine.NewThreadLocal[uint32]()

// threadID returns a dense 32-bit id for the calling goroutine, stable for
// its lifetime and assigned on first demand.
func threadID() uint32 {
	if v := tidLocal.Get(); v != 0 {
		return v - 1
	}
	id := tidCounter.Add(1)
	tidLocal.Set(id)
	return id - 1
}
