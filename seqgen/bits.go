// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package seqgen

import "github.com/icsp-go/fpicprog/pinmap"

// Base is the pin-pattern bits asserted throughout a programming session:
// nMCLR and PGM, both held high (spec §4.2 "base = nMCLR|PGM").
const Base = pinmap.BitNMCLR | pinmap.BitPGM

// EncodeBits produces the pin-pattern byte sequence for bitCount bits of
// value, base-or'd onto every byte, clocked LSB-first or MSB-first. Every
// bit becomes two pin-pattern bytes: clock-high with the data bit driven,
// then clock-low with the data bit held (spec §4.2 "Bit encoding
// helpers"). PGD changes only while PGC is low, since the data bit is set
// identically on both the high and low half of a given bit's two bytes and
// only changes between bits, i.e. during the clock-low half of the
// previous bit.
func EncodeBits(value uint32, bitCount int, base byte, lsbFirst bool) []byte {
	out := make([]byte, 0, bitCount*2)
	for i := 0; i < bitCount; i++ {
		var shift int
		if lsbFirst {
			shift = i
		} else {
			shift = bitCount - 1 - i
		}
		bit := (value >> uint(shift)) & 1
		var pgd byte
		if bit != 0 {
			pgd = pinmap.BitPGD
		}
		out = append(out, base|pinmap.BitPGC|pgd, base|pgd)
	}
	return out
}

// EncodeBits16 is EncodeBits for a 16-bit word value.
func EncodeBits16(value uint16, bitCount int, base byte, lsbFirst bool) []byte {
	return EncodeBits(uint32(value), bitCount, base, lsbFirst)
}

// Idle returns a single pin-pattern byte with clock low and no data
// asserted, base bits held. Used to pad between commands and during
// timed-sequence holds.
func Idle(base byte) []byte {
	return []byte{base}
}
