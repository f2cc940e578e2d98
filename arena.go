/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

package memalloc

import (
	"sync"
	"unsafe"
)

// blockHeader is the boundary-tag header preceding every arena payload.
// Adjacent free blocks are never allowed to coexist (coalescing is eager),
// so walking size bytes forward from any header always lands on another
// header, in-use or not.
type blockHeader struct {
	size   uintptr
	inUse  bool
	isSlab bool
	magic  uint64
}

// blockFooter mirrors header.size at the end of the block, letting free
// locate and coalesce with the previous block in O(1).
type blockFooter struct {
	size uintptr
}

// freeNode overlays the payload of a free block. It stops being valid the
// instant alloc hands the block back out.
type freeNode struct {
	prev *freeNode
	next *freeNode
}

func payloadToHeader(payload unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Add(payload, -int(blockHeaderSize)))
}

func headerToPayload(h *blockHeader) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), blockHeaderSize)
}

func headerToFooter(h *blockHeader) *blockFooter {
	return (*blockFooter)(unsafe.Add(unsafe.Pointer(h), h.size-blockFooterSize))
}

func footerToHeader(f *blockFooter) *blockHeader {
	// blockFooterSize-f.size underflows as a uintptr, but the wraparound is
	// exactly mod-2^64 pointer arithmetic, so it still lands on the header.
	return (*blockHeader)(unsafe.Add(unsafe.Pointer(f), blockFooterSize-f.size))
}

// arenaRegion describes one mmap'd span backing the boundary-tag arena.
// Unlike the blocks inside it, the descriptor is ordinary Go-heap
// bookkeeping: it's only ever walked linearly under the arena lock, never
// found by pointer arithmetic, so nothing is gained by embedding its header
// in the raw span itself.
type arenaRegion struct {
	start uintptr
	end   uintptr
	span  vmSpan
	next  *arenaRegion
}

// arena is the large-tier, first-fit, eagerly-coalescing boundary-tag
// allocator. One lives inside every *Allocator; it is never a package
// global, so independent tests never cross-contaminate.
type arena struct {
	mu         sync.Mutex
	regions    *arenaRegion
	freeList   *freeNode
	regionSize uintptr
}

func newArena(regionSize uintptr) *arena {
	if regionSize == 0 {
		regionSize = ArenaRegionSize
	}
	return &arena{regionSize: regionSize}
}

// init is idempotent: it creates the first region if none exists yet.
func (a *arena) init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.regions != nil {
		return nil
	}
	_, err := a.growRegionLocked(a.regionSize)
	return err
}

// alloc serves any request, rounding size up to a multiple of 8 and
// needing a block of at least that size plus overhead (and never less than
// minBlockSize), via first-fit over the global free list. It grows the arena by a fresh region when nothing fits.
func (a *arena) alloc(size int64) (unsafe.Pointer, error) {
	size = round8(size)
	needed := uintptr(size) + blockOverhead
	if needed < minBlockSize {
		needed = minBlockSize
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		for node := a.freeList; node != nil; node = node.next {
			h := payloadToHeader(unsafe.Pointer(node))
			if h.size < needed {
				continue
			}

			a.freeListRemove(node)

			if h.size >= needed+minBlockSize {
				remSize := h.size - needed
				h.size = needed
				headerToFooter(h).size = needed

				rem := (*blockHeader)(unsafe.Add(unsafe.Pointer(h), needed))
				rem.size = remSize
				rem.inUse = false
				rem.isSlab = false
				rem.magic = BlockMagic
				headerToFooter(rem).size = remSize

				a.freeListInsert(rem)
			}

			h.inUse = true
			return headerToPayload(h), nil
		}

		if _, err := a.growRegionLocked(needed); err != nil {
			return nil, err
		}
	}
}

// free clears in_use and eagerly coalesces with either boundary-adjacent
// neighbour that is itself free, before linking the result at the free
// list head.
func (a *arena) free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	h := payloadToHeader(ptr)

	a.mu.Lock()
	defer a.mu.Unlock()

	h.inUse = false

	region := a.regionOf(unsafe.Pointer(h))
	if region == nil {
		return
	}

	if next := uintptr(unsafe.Add(unsafe.Pointer(h), h.size)); next < region.end {
		nh := (*blockHeader)(unsafe.Pointer(next))
		if !nh.inUse && nh.magic == BlockMagic {
			a.freeListRemove((*freeNode)(headerToPayload(nh)))
			h.size += nh.size
			headerToFooter(h).size = h.size
		}
	}

	if uintptr(unsafe.Pointer(h)) > region.start {
		prevFooter := (*blockFooter)(unsafe.Add(unsafe.Pointer(h), -int(blockFooterSize)))
		prev := footerToHeader(prevFooter)
		if !prev.inUse && prev.magic == BlockMagic {
			a.freeListRemove((*freeNode)(headerToPayload(prev)))
			prev.size += h.size
			headerToFooter(prev).size = prev.size
			h = prev
		}
	}

	a.freeListInsert(h)
}

// allocRun hands out one raw RunSize-aligned span straight from the
// platform shim. Runs are never tracked on the boundary-tag free list.
func (a *arena) allocRun() (vmSpan, error) {
	return vmAllocAligned(uintptr(RunSize), uintptr(RunSize))
}

// freeRun returns a span obtained from allocRun directly to the OS.
func (a *arena) freeRun(span vmSpan) {
	vmFree(span)
}

// freeStats reports the total free payload bytes and the single largest
// free block across every region.
func (a *arena) freeStats() (totalFree, largest uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for node := a.freeList; node != nil; node = node.next {
		h := payloadToHeader(unsafe.Pointer(node))
		payloadSz := h.size - blockOverhead
		totalFree += payloadSz
		if payloadSz > largest {
			largest = payloadSz
		}
	}
	return totalFree, largest
}

// dispose releases every region back to the OS. Only safe once nothing
// handed out by this arena is still in use.
func (a *arena) dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for r := a.regions; r != nil; {
		next := r.next
		vmFree(r.span)
		r = next
	}
	a.regions = nil
	a.freeList = nil
}

// growRegionLocked allocates a new region at least large enough for
// minSize, doubling regionSize as needed, and installs its single giant
// free block at the free-list head. Caller must hold a.mu.
func (a *arena) growRegionLocked(minSize uintptr) (*arenaRegion, error) {
	sz := a.regionSize
	for sz < minSize {
		sz *= 2
	}

	span, err := vmAllocAligned(sz, uintptr(RunSize))
	if err != nil {
		return nil, err
	}

	h := (*blockHeader)(span.ptr)
	h.size = sz
	h.inUse = false
	h.isSlab = false
	h.magic = BlockMagic
	headerToFooter(h).size = sz

	r := &arenaRegion{
		start: uintptr(span.ptr),
		end:   uintptr(span.ptr) + sz,
		span:  span,
		next:  a.regions,
	}
	a.regions = r

	a.freeListInsert(h)
	return r, nil
}

func (a *arena) regionOf(ptr unsafe.Pointer) *arenaRegion {
	p := uintptr(ptr)
	for r := a.regions; r != nil; r = r.next {
		if p >= r.start && p < r.end {
			return r
		}
	}
	return nil
}

func (a *arena) freeListInsert(h *blockHeader) {
	node := (*freeNode)(headerToPayload(h))
	node.prev = nil
	node.next = a.freeList
	if a.freeList != nil {
		a.freeList.prev = node
	}
	a.freeList = node
}

func (a *arena) freeListRemove(node *freeNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		a.freeList = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	}
}
