// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package seqgen

import "time"

// Pic24Generator implements the PIC24 family's two-command ICSP encoding
// (spec §4.3 "PIC24 command encoding"): SIX executes one arbitrary 24-bit
// instruction, REGOUT clocks out the VISI register.
type Pic24Generator struct{}

// WriteCommandSequence returns the pin-pattern bytes for a SIX instruction
// carrying the given 24-bit payload, LSB-first. first selects the 9
// leading clocks required for the very first SIX after entering
// programming mode; every subsequent SIX uses 4 leading clocks.
func (Pic24Generator) WriteCommandSequence(payload uint32, first bool) []byte {
	leading := 4
	if first {
		leading = 9
	}
	out := EncodeBits(0, leading, Base, true)
	out = append(out, EncodeBits(payload&0xffffff, 24, Base, true)...)
	return out
}

// ReadCommandSequence returns the pin-pattern bytes for a REGOUT
// instruction: 4 one bits then 24 zero bits, the latter being the window
// the transport samples the VISI register's 16 significant bits from.
func (Pic24Generator) ReadCommandSequence() []byte {
	out := EncodeBits(0xf, 4, Base, true)
	out = append(out, EncodeBits(0, 24, Base, true)...)
	return out
}

// SettleSequence returns a short hold after setting NVMCON.WR, giving the
// device time to latch the command before the controller starts polling
// NVMCON through VISI (spec §4.3 "PIC24 controller").
func (Pic24Generator) SettleSequence(pulse time.Duration) TimedSequence {
	return TimedSequence{
		{Pattern: Idle(Base), Sleep: pulse},
	}
}
