package memalloc

import (
	"unsafe"

	"github.com/tejchid/mem-alloc/internal/debug"
)

// perClassCache is one goroutine's private stash for a single size class:
// a short intrusive free list plus the run it is currently carving fresh
// blocks from.
type perClassCache struct {
	head        unsafe.Pointer
	count       uint32
	runCount    uint32
	currentRun  *slabRun
	currentSpan vmSpan
}

// tlsCache is one goroutine's entire small-tier cache, held behind a
// routine.ThreadLocal[*tlsCache] field on Allocator so distinct Allocator
// instances never see each other's state. nonEmptyClasses mirrors which
// classes[*].head is non-nil, letting drainAll skip empty classes without
// visiting all SizeClassCount entries.
type tlsCache struct {
	classes         [SizeClassCount]perClassCache
	nonEmptyClasses uint64
	tid             uint32
}

func newTLSCache() *tlsCache {
	return &tlsCache{tid: threadID()}
}

// tlsAlloc serves size (already known to be small-tier eligible) from the
// calling goroutine's cache, refilling from a run or the arena as needed.
func tlsAlloc(c *tlsCache, a *arena, st *stats, size int64) (unsafe.Pointer, error) {
	cls := sizeClass(round8(size))
	pc := &c.classes[cls]

	if pc.head != nil {
		block := pc.head
		pc.head = *(*unsafe.Pointer)(block)
		pc.count--
		if pc.head == nil {
			clearClassBit(cls, &c.nonEmptyClasses)
		}
		st.slabInUseInc()
		return block, nil
	}

	ptr, err := refillFromRun(c, a, st, cls)
	if err != nil {
		return nil, err
	}
	if ptr != nil {
		st.slabInUseInc()
	}
	return ptr, nil
}

// refillFromRun drains any remote frees on the class's current run first
// (they may have freed up local space without the owner noticing) and pops
// from its local free list if that is non-empty. Otherwise it retires the
// run if it is genuinely empty and carves a fresh run from the arena.
func refillFromRun(c *tlsCache, a *arena, st *stats, cls int) (unsafe.Pointer, error) {
	pc := &c.classes[cls]

	if pc.currentRun != nil {
		slabRunDrainRemote(pc.currentRun)
		if pc.currentRun.localFree != nil {
			return slabRunAlloc(pc.currentRun), nil
		}
		if slabRunEmpty(pc.currentRun) {
			a.freeRun(pc.currentSpan)
			pc.currentRun = nil
			pc.currentSpan = vmSpan{}
			pc.runCount--
		}
	}

	span, err := a.allocRun()
	if err != nil {
		return nil, err
	}

	run := slabRunInit(span.ptr, cls)
	pc.currentRun = run
	pc.currentSpan = span
	pc.runCount++

	st.addMetadata(int64(slabRunHeaderSize))
	st.slabCapacityAdd(int64(run.capacity))
	return slabRunAlloc(run), nil
}

// tlsFree returns ptr, whose run is run, to the calling goroutine's cache,
// spilling straight to the run's free list once the cache for that class
// is already at capacity. A block whose run is owned by another goroutine
// is never cached here; it goes onto that run's remote-free stack.
func tlsFree(c *tlsCache, st *stats, ptr unsafe.Pointer, run *slabRun) {
	cls := int(run.classID)
	pc := &c.classes[cls]

	st.slabInUseDec()

	if pc.count >= TLSMaxLocal || run.ownerTid != c.tid {
		slabRunFree(run, ptr)
		return
	}

	*(*unsafe.Pointer)(ptr) = pc.head
	pc.head = ptr
	pc.count++
	setClassBit(cls, &c.nonEmptyClasses)
}

// drainAll pushes every block still sitting in this cache back onto its
// run's free list and returns each class's current run to the arena if
// that leaves it wholly empty. Runs that are no longer a class's current
// run are not released. Used by Allocator.Dispose and by tests that need a clean arena
// free-list view.
func (c *tlsCache) drainAll(a *arena) {
	for cls := nextClassBit(c.nonEmptyClasses, 0); cls >= 0; cls = nextClassBit(c.nonEmptyClasses, int(cls)) {
		pc := &c.classes[cls]
		for pc.head != nil {
			block := pc.head
			pc.head = *(*unsafe.Pointer)(block)
			run, ok := isSlabRun(block)
			debug.Assert(ok, "tls-cached block %p carries no slab run", block)
			slabRunFree(run, block)
		}
		pc.count = 0
		clearClassBit(int(cls), &c.nonEmptyClasses)
	}

	for cls := 0; cls < SizeClassCount; cls++ {
		pc := &c.classes[cls]
		if pc.currentRun != nil && slabRunEmpty(pc.currentRun) {
			a.freeRun(pc.currentSpan)
			pc.currentRun = nil
			pc.currentSpan = vmSpan{}
			pc.runCount = 0
		}
	}
}
