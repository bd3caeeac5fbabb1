// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package seqgen

import "time"

// Pic18Command enumerates the PIC18 ICSP 4-bit command field (spec §4.2).
type Pic18Command int

const (
	CoreInst Pic18Command = iota
	_
	ShiftOutTablat
	_
	_
	_
	_
	_
	TableRead
	TableReadPostInc
	TableReadPostDec
	TableReadPreInc
	TableWrite
	TableWritePostInc2
	TableWritePostInc2StartPgm
	TableWriteStartPgm
)

// Pic18Generator implements the PIC18 family's command encoding and timed
// sequences (spec §4.2).
type Pic18Generator struct{}

// EncodeCommand returns the pin-pattern byte string for one PIC18
// instruction: 4 command bits then 16 payload bits, both LSB-first.
func (Pic18Generator) EncodeCommand(cmd Pic18Command, payload uint16) []byte {
	out := EncodeBits(uint32(cmd), 4, Base, true)
	out = append(out, EncodeBits16(payload, 16, Base, true)...)
	return out
}

// WriteSequence returns the timed sequence run after the final
// TABLE_WRITE_post_inc2_start_pgm/TABLE_WRITE_start_pgm of a write: a short
// clock burst (to let the device latch the data) followed by the device's
// programming-pulse hold (spec §4.2, §4.3 "Write FLASH or USER_ID").
func (g Pic18Generator) WriteSequence(pulse time.Duration) TimedSequence {
	return TimedSequence{
		{Pattern: g.EncodeCommand(CoreInst, 0)},
		{Pattern: Idle(Base), Sleep: pulse},
	}
}

// BulkEraseSequence holds PGC low for the chip's bulk-erase timing after
// the erase command words have been clocked out (spec §4.3 "Chip/section
// erase").
func (Pic18Generator) BulkEraseSequence(pulse time.Duration) TimedSequence {
	return TimedSequence{
		{Pattern: Idle(Base), Sleep: pulse},
	}
}
