/* This program is free software. It comes without any warranty, to
 * the extent permitted by applicable law. You can redistribute it
 * and/or modify it under the terms of the Do What The Fuck You Want
 * To Public License, Version 2, as published by Sam Hocevar. See
 * http://sam.zoy.org/wtfpl/COPYING for more details. */

package memalloc

// Bit-scan helper over a 64-bit bitmap, one bit per size class. Originally
// paired with an msb counterpart for a two-level segregated-fit matrix;
// here only the least-significant-bit scan survives, backing the TLS
// cache's nonEmptyClasses bitmap (tlscache.go), which lets drainAll visit
// only the classes a goroutine has something cached for instead of
// walking all 64 classes.

var table = [256]int64{
	-1, 0, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 3, 3, 3, 3, 4, 4, 4, 4, 4, 4, 4, 4, 4,
	4, 4, 4, 4, 4, 4, 4,
	5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5,
	5, 5, 5, 5, 5, 5, 5,
	6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6,
	6, 6, 6, 6, 6, 6, 6,
	6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6,
	6, 6, 6, 6, 6, 6, 6,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7,
}

// lsb returns the index of the least significant set bit among the low 32
// bits of n, or -1 if those 32 bits are all zero.
//
//go:inline
func lsb(n int64) int64 {
	x := uint32(n) & -uint32(n)

	var a uint32
	if x <= 0xffff {
		if x <= 0xff {
			a = 0
		} else {
			a = 8
		}
	} else {
		if x <= 0xffffff {
			a = 16
		} else {
			a = 24
		}
	}

	return table[x>>a] + int64(a)
}

// setClassBit marks size class cls as non-empty in bitmap.
//
//go:inline
func setClassBit(cls int, bitmap *uint64) {
	*bitmap |= 1 << uint(cls&0x3f)
}

// clearClassBit marks size class cls as empty in bitmap.
//
//go:inline
func clearClassBit(cls int, bitmap *uint64) {
	*bitmap &^= 1 << uint(cls&0x3f)
}

// hasClassBit reports whether size class cls is marked non-empty in bitmap.
//
//go:inline
func hasClassBit(cls int, bitmap uint64) bool {
	return bitmap&(1<<uint(cls&0x3f)) != 0
}

// nextClassBit returns the lowest set bit at or above from, or -1 if none.
func nextClassBit(bitmap uint64, from int) int64 {
	shifted := bitmap >> uint(from)
	if shifted == 0 {
		return -1
	}
	if lo32 := uint32(shifted); lo32 != 0 {
		return int64(from) + lsb(int64(lo32))
	}
	return int64(from) + 32 + lsb(int64(uint32(shifted>>32)))
}
