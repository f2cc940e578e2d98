package memalloc

import "errors"

// ErrOutOfMemory is returned by the *Allocator method surface when the
// platform shim refuses to hand back more virtual memory. The package-level
// Allocate/ClearAllocate/Reallocate entry points never return it directly;
// per the public ABI contract they report failure only as a nil pointer.
var ErrOutOfMemory = errors.New("memalloc: out of memory")

// ErrInvalidFree marks a pointer whose RunSize-aligned base carries neither
// RunMagic nor a preceding header carrying BlockMagic. The public Free stays
// silent on this (liveness over diagnostics, per design); it exists so
// internal/debug assertions have something concrete to report in debug
// builds.
var ErrInvalidFree = errors.New("memalloc: invalid free")
