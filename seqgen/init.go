// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package seqgen

import (
	"time"

	"github.com/icsp-go/fpicprog/pinmap"
)

// mchpMagic is the 32-bit "MCHP" key clocked MSB-first with nMCLR held low
// to enter LVP programming mode (spec §4.2).
const mchpMagic = 0x4D434850

// BuildInitSequence returns the programming-mode entry sequence for the
// given handshake style (spec §4.2 "Init sequence"). Every variant ends with
// nMCLR and PGM both high.
func BuildInitSequence(handshake pinmap.Handshake) TimedSequence {
	if handshake == pinmap.HandshakeLVP {
		return TimedSequence{
			{Pattern: []byte{0}, Sleep: 10 * time.Millisecond},
			{Pattern: EncodeBits(mchpMagic, 32, 0, false)},
			{Pattern: []byte{pinmap.BitPGM}, Sleep: 20 * time.Microsecond},
			{Pattern: []byte{pinmap.BitPGM | pinmap.BitNMCLR}, Sleep: 400 * time.Microsecond},
		}
	}

	first := byte(pinmap.BitNMCLR)
	second := byte(pinmap.BitPGM)
	if handshake == pinmap.HandshakePGMFirst {
		first, second = second, first
	}
	return TimedSequence{
		{Pattern: []byte{0}},
		{Pattern: []byte{first}, Sleep: 100 * time.Microsecond},
		{Pattern: []byte{first | second}, Sleep: 100 * time.Microsecond},
	}
}
