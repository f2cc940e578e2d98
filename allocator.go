package memalloc

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/timandy/routine"
)

// Allocator is one independent, hermetic instance of the two-tier
// allocator: its own arena, its own per-goroutine slab caches, its own
// stats. Tests build these directly; the package-level functions wrap a
// single process-wide instance constructed on first use.
type Allocator struct {
	arena *arena
	stats *stats
	tls   routine.ThreadLocal[*tlsCache]

	initOnce sync.Once
	initErr  error
}

// Option configures an Allocator at construction time.
type Option func(*allocatorConfig)

type allocatorConfig struct {
	regionSize uintptr
}

// WithArenaRegionSize overrides the minimum size of each large-tier
// region the arena maps from the OS. Mainly useful in tests that want to
// exercise region growth or coalescing without mapping tens of megabytes.
func WithArenaRegionSize(bytes int64) Option {
	return func(c *allocatorConfig) {
		if bytes > 0 {
			c.regionSize = uintptr(bytes)
		}
	}
}

// NewAllocator builds an independent Allocator. The arena is not mapped
// until the first Allocate call; construction itself never touches the OS.
func NewAllocator(opts ...Option) *Allocator {
	cfg := allocatorConfig{regionSize: ArenaRegionSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Allocator{
		arena: newArena(cfg.regionSize),
		stats: newStats(),
		tls:   routine.NewThreadLocal[*tlsCache](),
	}
}

func (al *Allocator) ensureInit() error {
	al.initOnce.Do(func() {
		al.initErr = al.arena.init()
	})
	return al.initErr
}

func (al *Allocator) tlsCache() *tlsCache {
	if c := al.tls.Get(); c != nil {
		return c
	}
	c := newTLSCache()
	al.tls.Set(c)
	return c
}

// Dispose drains every known goroutine-local cache reachable from the
// calling goroutine and releases every region back to the OS. It is only
// safe once nothing this Allocator handed out is still reachable; it does
// not, and cannot, drain caches privately held by goroutines that never
// call back into this Allocator again.
func (al *Allocator) Dispose() {
	if c := al.tls.Get(); c != nil {
		c.drainAll(al.arena)
	}
	al.arena.dispose()
}

// Stats returns a point-in-time snapshot of this Allocator's counters.
func (al *Allocator) Stats() Snapshot {
	return al.stats.snapshot(al.arena)
}

// PrintStats writes a human-readable rendering of Stats to stdout.
func (al *Allocator) PrintStats() {
	fmt.Print(al.Stats().String())
}

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
)

func defaultAllocator() *Allocator {
	defaultOnce.Do(func() {
		defaultAlloc = NewAllocator()
	})
	return defaultAlloc
}

// Allocate serves size bytes from the process-wide default Allocator. It
// returns a nil pointer on failure; it never returns a non-nil error to
// the caller (errors are an internal concern of the *Allocator surface).
func Allocate(size int64) unsafe.Pointer {
	ptr, _ := defaultAllocator().Allocate(size)
	return ptr
}

// ClearAllocate serves count*size zeroed bytes from the process-wide
// default Allocator.
func ClearAllocate(count, size int64) unsafe.Pointer {
	ptr, _ := defaultAllocator().ClearAllocate(count, size)
	return ptr
}

// Reallocate resizes ptr (previously returned by Allocate, ClearAllocate
// or Reallocate on the default Allocator) to newSize.
func Reallocate(ptr unsafe.Pointer, newSize int64) unsafe.Pointer {
	newPtr, _ := defaultAllocator().Reallocate(ptr, newSize)
	return newPtr
}

// Free releases ptr back to the process-wide default Allocator.
func Free(ptr unsafe.Pointer) {
	defaultAllocator().Free(ptr)
}

// Stats snapshots the process-wide default Allocator's counters.
func Stats() Snapshot {
	return defaultAllocator().Stats()
}

// PrintStats writes the process-wide default Allocator's stats to stdout.
func PrintStats() {
	defaultAllocator().PrintStats()
}
