/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

// Package memalloc implements a process-wide, two-tier dynamic memory
// allocator: a goroutine-local cache of fixed-size slab blocks for small
// requests, backed by a global boundary-tag arena for everything else.
//
// Small requests (size <= SmallMax) are served from a per-goroutine cache
// fronted onto goroutine-owned slab runs; cross-goroutine frees land on a
// lock-free remote stack that the owning goroutine drains on its next
// refill. Large requests go straight to a single mutex-protected arena that
// coalesces adjacent free blocks eagerly.
//
// Backing memory for both tiers is obtained directly from the OS via
// anonymous mmap, never from the Go heap: the allocator manages its own
// address space and manipulates it through unsafe.Pointer, the same way a
// C allocator would walk raw memory.
//
// IMPORTANT: the package-level entry points (Allocate, Free, ClearAllocate,
// Reallocate, Stats, PrintStats) operate on a single process-wide
// *Allocator and are safe for concurrent use from any number of
// goroutines. A directly constructed *Allocator (NewAllocator) is equally
// safe; there is no unsynchronized shared mutable state exposed to callers.
package memalloc
