// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-two helpers used when sizing FFT
frames. The gofft backend only accepts power-of-two frame lengths, so
configuration validation and kernel construction both go through here.

Usage:

	// Reject a frame the radix-2 backend cannot handle
	if !bitint.IsPowerOfTwo(windowSize) { ... }

	// Suggest the nearest usable size in the error message
	hint := bitint.NextPowerOfTwo(1000) // 1024

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two map to themselves: Len(8-1) = 3 and 1<<3 = 8, whereas
Len(8) = 4 would double the input.
*/
package bitint

import "math/bits"

// Integer is the set of signed integer types the helpers accept.
type Integer interface {
	~int | ~int32 | ~int64
}

// NextPowerOfTwo returns the smallest power of two >= n. Values <= 0 yield 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo[T Integer](n T) T {
	if n <= 0 {
		return 1
	}
	return T(1) << bits.Len64(uint64(n-1))
}

// PrevPowerOfTwo returns the largest power of two <= n, or 0 when n <= 0.
func PrevPowerOfTwo[T Integer](n T) T {
	if n <= 0 {
		return 0
	}
	return T(1) << (bits.Len64(uint64(n)) - 1)
}

// IsPowerOfTwo reports whether n has exactly one bit set.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   not positive
func IsPowerOfTwo[T Integer](n T) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns floor(log2(n)) for n > 0 and -1 otherwise.
func Log2[T Integer](n T) int {
	if n <= 0 {
		return -1
	}
	return bits.Len64(uint64(n)) - 1
}
