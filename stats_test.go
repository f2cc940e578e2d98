package memalloc

import (
	"sync"
	"testing"
)

func TestStatsFlushesPastByteThreshold(t *testing.T) {
	st := newStats()

	st.addRequested(flushBytesThreshold + 1)

	if got := st.bytesRequested.Load(); got != flushBytesThreshold+1 {
		t.Fatalf("bytesRequested = %d, want %d", got, flushBytesThreshold+1)
	}
}

func TestStatsFlushesPastOpsThreshold(t *testing.T) {
	st := newStats()

	for i := 0; i < flushOpsThreshold; i++ {
		st.slabInUseInc()
	}

	if got := st.slabInUse.Load(); got != flushOpsThreshold {
		t.Fatalf("slabInUse = %d, want %d", got, flushOpsThreshold)
	}
}

func TestStatsSmallDeltasStayBatchedUntilFlushed(t *testing.T) {
	st := newStats()

	st.addRequested(8)
	if got := st.bytesRequested.Load(); got != 0 {
		t.Fatalf("expected a tiny delta to stay unflushed, got %d", got)
	}

	b := st.local()
	b.ops = flushOpsThreshold
	st.flushIfNeeded(b)
	if got := st.bytesRequested.Load(); got != 8 {
		t.Fatalf("bytesRequested after forced flush = %d, want 8", got)
	}
}

func TestStatsConcurrentGoroutinesEachGetOwnBatch(t *testing.T) {
	st := newStats()

	var wg sync.WaitGroup
	const goroutines = 16
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < flushOpsThreshold; j++ {
				st.slabInUseInc()
			}
		}()
	}
	wg.Wait()

	if got := st.slabInUse.Load(); got != int64(goroutines*flushOpsThreshold) {
		t.Fatalf("slabInUse = %d, want %d", got, goroutines*flushOpsThreshold)
	}
}

func TestSnapshotFragmentation(t *testing.T) {
	a := newArena(testRegionSize)
	defer a.dispose()
	st := newStats()

	ptr, err := a.alloc(256)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	st.addRequested(200)
	st.addAllocated(288)

	b := st.local()
	b.ops = flushOpsThreshold
	st.flushIfNeeded(b)

	snap := st.snapshot(a)
	if snap.InternalFragmentation() <= 0 {
		t.Fatalf("expected positive internal fragmentation, got %f", snap.InternalFragmentation())
	}
	if snap.ExternalFragmentation() != 0 {
		t.Fatalf("expected zero external fragmentation with a single free block, got %f", snap.ExternalFragmentation())
	}

	s := snap.String()
	if s == "" {
		t.Fatal("String() returned empty output")
	}

	a.free(ptr)
}
