package memalloc

import (
	"testing"
	"unsafe"
)

func TestTLSAllocFreeRoundTrip(t *testing.T) {
	a := newArena(testRegionSize)
	defer a.dispose()
	st := newStats()
	c := newTLSCache()

	ptr, err := tlsAlloc(c, a, st, 48)
	if err != nil {
		t.Fatalf("tlsAlloc: %v", err)
	}
	if ptr == nil {
		t.Fatal("tlsAlloc returned nil")
	}

	run, ok := isSlabRun(ptr)
	if !ok {
		t.Fatal("allocation did not land in a slab run")
	}

	writePattern(ptr, 48, 0x42)
	checkPattern(t, ptr, 48, 0x42)

	tlsFree(c, st, ptr, run)

	pc := &c.classes[run.classID]
	if pc.head != ptr {
		t.Fatalf("freed block not at head of local free list")
	}
	if !hasClassBit(int(run.classID), c.nonEmptyClasses) {
		t.Fatal("nonEmptyClasses bit not set after free")
	}
}

func TestTLSAllocReusesFreedBlock(t *testing.T) {
	a := newArena(testRegionSize)
	defer a.dispose()
	st := newStats()
	c := newTLSCache()

	p1, err := tlsAlloc(c, a, st, 32)
	if err != nil {
		t.Fatalf("tlsAlloc p1: %v", err)
	}
	run, _ := isSlabRun(p1)
	tlsFree(c, st, p1, run)

	p2, err := tlsAlloc(c, a, st, 32)
	if err != nil {
		t.Fatalf("tlsAlloc p2: %v", err)
	}
	if p2 != p1 {
		t.Fatalf("expected cache to reuse freed block %p, got %p", p1, p2)
	}
}

func TestTLSCacheSpillsToRunPastMaxLocal(t *testing.T) {
	a := newArena(testRegionSize)
	defer a.dispose()
	st := newStats()
	c := newTLSCache()

	var ptrs []unsafe.Pointer
	var run *slabRun
	for i := 0; i < TLSMaxLocal+8; i++ {
		ptr, err := tlsAlloc(c, a, st, 16)
		if err != nil {
			t.Fatalf("tlsAlloc %d: %v", i, err)
		}
		ptrs = append(ptrs, ptr)
		if run == nil {
			run, _ = isSlabRun(ptr)
		}
	}

	for _, ptr := range ptrs {
		r, ok := isSlabRun(ptr)
		if !ok {
			continue
		}
		tlsFree(c, st, ptr, r)
	}

	pc := &c.classes[sizeClass(round8(16))]
	if pc.count > TLSMaxLocal {
		t.Fatalf("cache grew past TLSMaxLocal: %d", pc.count)
	}
}

func TestTLSCacheAccountsSlabInUseAndCapacity(t *testing.T) {
	a := newArena(testRegionSize)
	defer a.dispose()
	st := newStats()
	c := newTLSCache()

	forceFlush := func() {
		b := st.local()
		b.ops = flushOpsThreshold
		st.flushIfNeeded(b)
	}

	const n = TLSMaxLocal + 8
	ptrs := make([]unsafe.Pointer, 0, n)
	for i := 0; i < n; i++ {
		ptr, err := tlsAlloc(c, a, st, 16)
		if err != nil {
			t.Fatalf("tlsAlloc %d: %v", i, err)
		}
		ptrs = append(ptrs, ptr)
	}

	forceFlush()
	if got := st.slabInUse.Load(); got != n {
		t.Fatalf("slabInUse after %d allocs (including the refill past TLSMaxLocal) = %d, want %d", n, got, n)
	}
	if got := st.slabCapacity.Load(); got <= 0 {
		t.Fatalf("slabCapacity after carving at least one run = %d, want > 0", got)
	}

	for _, ptr := range ptrs {
		run, ok := isSlabRun(ptr)
		if !ok {
			t.Fatal("allocation did not land in a slab run")
		}
		tlsFree(c, st, ptr, run)
	}

	forceFlush()
	if got := st.slabInUse.Load(); got != 0 {
		t.Fatalf("slabInUse after freeing every allocation (including the spill past TLSMaxLocal) = %d, want 0", got)
	}
}

func TestTLSCacheDrainAllReturnsRuns(t *testing.T) {
	a := newArena(testRegionSize)
	st := newStats()
	c := newTLSCache()

	ptr, err := tlsAlloc(c, a, st, 24)
	if err != nil {
		t.Fatalf("tlsAlloc: %v", err)
	}
	run, _ := isSlabRun(ptr)
	cls := int(run.classID)
	tlsFree(c, st, ptr, run)

	if c.nonEmptyClasses == 0 {
		t.Fatal("expected a non-empty class before drain")
	}

	c.drainAll(a)

	if c.nonEmptyClasses != 0 {
		t.Fatal("drainAll left classes marked non-empty")
	}
	for i := range c.classes {
		if c.classes[i].head != nil {
			t.Fatalf("class %d still has a cached block after drain", i)
		}
	}
	if c.classes[cls].currentRun != nil {
		t.Fatal("drainAll did not return the emptied current run")
	}
	a.dispose()
}
