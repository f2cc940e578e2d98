package memalloc

import (
	"fmt"
	"sync/atomic"

	"github.com/timandy/routine"
)

// stats holds one Allocator's global counters. They are still atomics, but
// the hot path hits them rarely: batchedStats absorbs deltas per goroutine
// and only flushes once they cross flushBytesThreshold or flushOpsThreshold,
// trading perfect accuracy for staying off the fast path.
type stats struct {
	bytesRequested atomic.Int64
	bytesAllocated atomic.Int64
	bytesMetadata  atomic.Int64
	slabInUse      atomic.Int64
	slabCapacity   atomic.Int64

	batch routine.ThreadLocal[*batchedStats]
}

type batchedStats struct {
	reqBytes      int64
	allocBytesAdd int64
	allocBytesSub int64
	metaBytes     int64
	slabInuseInc  int64
	slabInuseDec  int64
	slabCapAdd    int64
	ops           int64
}

func newStats() *stats {
	return &stats{batch: routine.NewThreadLocal[*batchedStats]()}
}

func (s *stats) local() *batchedStats {
	if b := s.batch.Get(); b != nil {
		return b
	}
	b := &batchedStats{}
	s.batch.Set(b)
	return b
}

func (s *stats) flushIfNeeded(b *batchedStats) {
	total := b.reqBytes + b.allocBytesAdd + b.allocBytesSub + b.metaBytes
	if b.ops < flushOpsThreshold && total < flushBytesThreshold {
		return
	}

	if b.reqBytes != 0 {
		s.bytesRequested.Add(b.reqBytes)
		b.reqBytes = 0
	}
	if b.allocBytesAdd != 0 {
		s.bytesAllocated.Add(b.allocBytesAdd)
		b.allocBytesAdd = 0
	}
	if b.allocBytesSub != 0 {
		s.bytesAllocated.Add(-b.allocBytesSub)
		b.allocBytesSub = 0
	}
	if b.metaBytes != 0 {
		s.bytesMetadata.Add(b.metaBytes)
		b.metaBytes = 0
	}
	if b.slabInuseInc != 0 {
		s.slabInUse.Add(b.slabInuseInc)
		b.slabInuseInc = 0
	}
	if b.slabInuseDec != 0 {
		s.slabInUse.Add(-b.slabInuseDec)
		b.slabInuseDec = 0
	}
	if b.slabCapAdd != 0 {
		s.slabCapacity.Add(b.slabCapAdd)
		b.slabCapAdd = 0
	}
	b.ops = 0
}

func (s *stats) addRequested(n int64) {
	b := s.local()
	b.reqBytes += n
	b.ops++
	s.flushIfNeeded(b)
}

func (s *stats) addAllocated(n int64) {
	b := s.local()
	b.allocBytesAdd += n
	b.ops++
	s.flushIfNeeded(b)
}

func (s *stats) subAllocated(n int64) {
	b := s.local()
	b.allocBytesSub += n
	b.ops++
	s.flushIfNeeded(b)
}

func (s *stats) addMetadata(n int64) {
	b := s.local()
	b.metaBytes += n
	b.ops++
	s.flushIfNeeded(b)
}

func (s *stats) slabInUseInc() {
	b := s.local()
	b.slabInuseInc++
	b.ops++
	s.flushIfNeeded(b)
}

func (s *stats) slabInUseDec() {
	b := s.local()
	b.slabInuseDec++
	b.ops++
	s.flushIfNeeded(b)
}

func (s *stats) slabCapacityAdd(n int64) {
	b := s.local()
	b.slabCapAdd += n
	b.ops++
	s.flushIfNeeded(b)
}

// Snapshot is a point-in-time, intentionally approximate view of an
// Allocator's bookkeeping counters: the batching in stats trades perfect
// accuracy for never forcing a cross-goroutine flush.
type Snapshot struct {
	BytesRequested int64
	BytesAllocated int64
	BytesMetadata  int64
	BytesFree      uintptr
	LargestFree    uintptr
	SlabInUse      int64
	SlabCapacity   int64
}

func (s *stats) snapshot(a *arena) Snapshot {
	free, largest := a.freeStats()
	return Snapshot{
		BytesRequested: s.bytesRequested.Load(),
		BytesAllocated: s.bytesAllocated.Load(),
		BytesMetadata:  s.bytesMetadata.Load(),
		BytesFree:      free,
		LargestFree:    largest,
		SlabInUse:      s.slabInUse.Load(),
		SlabCapacity:   s.slabCapacity.Load(),
	}
}

// InternalFragmentation is the fraction of allocated bytes never actually
// requested by a caller (rounding up to a size class, or up to the arena's
// minimum block size).
func (snap Snapshot) InternalFragmentation() float64 {
	if snap.BytesAllocated <= 0 {
		return 0
	}
	return 1 - float64(snap.BytesRequested)/float64(snap.BytesAllocated)
}

// ExternalFragmentation is the fraction of free arena bytes that sit
// outside the single largest free block, and so cannot be used to satisfy
// one allocation as large as the total currently free.
func (snap Snapshot) ExternalFragmentation() float64 {
	if snap.BytesFree == 0 {
		return 0
	}
	return 1 - float64(snap.LargestFree)/float64(snap.BytesFree)
}

// String renders snap the way PrintStats does.
func (snap Snapshot) String() string {
	return fmt.Sprintf(
		"=== mem-alloc stats ===\n"+
			"  requested:      %d B\n"+
			"  allocated:      %d B\n"+
			"  metadata:       %d B\n"+
			"  free (arena):   %d B\n"+
			"  largest free:   %d B\n"+
			"  slab in use:    %d\n"+
			"  slab capacity:  %d\n"+
			"  internal frag:  %.1f%%\n"+
			"  external frag:  %.1f%%\n",
		snap.BytesRequested, snap.BytesAllocated, snap.BytesMetadata,
		snap.BytesFree, snap.LargestFree, snap.SlabInUse, snap.SlabCapacity,
		snap.InternalFragmentation()*100, snap.ExternalFragmentation()*100,
	)
}
