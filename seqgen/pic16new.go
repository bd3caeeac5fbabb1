// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package seqgen

import "time"

// Pic16NewCommand enumerates the enhanced midrange ("PIC16 new") 8-bit
// command field (spec §4.3 "PIC16 enhanced controller"). The spec text
// names the commands this family needs (LOAD_PC, READ_DATA_INC,
// LOAD_DATA_INC, BEGIN_PROGRAMMING_INT_TIMED) without giving numeric
// encodings; the values below are assigned consistent with the family's
// 8-bit command field and the surrounding families' low/high nibble
// conventions (see DESIGN.md).
type Pic16NewCommand uint8

const (
	Pic16NewLoadPC                    Pic16NewCommand = 0x80
	Pic16NewLoadDataInc               Pic16NewCommand = 0x82
	Pic16NewReadDataInc               Pic16NewCommand = 0x84
	Pic16NewBeginProgrammingIntTimed  Pic16NewCommand = 0x88
	Pic16NewBulkEraseProgram          Pic16NewCommand = 0x89
	Pic16NewBulkEraseData             Pic16NewCommand = 0x8B
)

// Pic16NewGenerator implements the enhanced midrange family's command
// encoding: 8 MSB-first command bits, 9 leading zero bits, 14 payload bits
// (LSB-first) and a stop bit.
type Pic16NewGenerator struct{}

// EncodeCommand returns the pin-pattern bytes for cmd carrying payload (the
// low 14 bits are significant; pass 0 for commands with no payload, e.g.
// BEGIN_PROGRAMMING_INT_TIMED).
func (Pic16NewGenerator) EncodeCommand(cmd Pic16NewCommand, payload uint16) []byte {
	out := EncodeBits(uint32(cmd), 8, Base, false)
	out = append(out, EncodeBits(0, 9, Base, true)...)
	out = append(out, EncodeBits(uint32(payload&0x3fff), 14, Base, true)...)
	out = append(out, EncodeBits(0, 1, Base, true)...)
	return out
}

// WriteSequence returns the timed hold run after a LOAD_DATA_INC block or a
// bulk-erase command: BEGIN_PROGRAMMING_INT_TIMED is self-timed internally,
// so the host only needs to hold the line for the device's programming
// pulse before continuing (spec §4.3 "PIC16 enhanced controller").
func (Pic16NewGenerator) WriteSequence(pulse time.Duration) TimedSequence {
	return TimedSequence{
		{Pattern: Idle(Base), Sleep: pulse},
	}
}

// ExpandSequence expands a device-database chip/section erase sequence into
// a TimedSequence, using the same 0xFF delay-marker convention as the
// midrange family's ExpandSequence (spec §4.2 "Device-specific sequences").
// Each other word is issued as a bare command (payload 0).
func (g Pic16NewGenerator) ExpandSequence(seq []uint16, delay time.Duration) TimedSequence {
	var out TimedSequence
	var cur []byte
	flush := func(sleep time.Duration) {
		if len(cur) == 0 && sleep == 0 {
			return
		}
		out = append(out, TimedStep{Pattern: cur, Sleep: sleep})
		cur = nil
	}
	for _, w := range seq {
		if w == seqDelayMarker {
			flush(delay)
			continue
		}
		cur = append(cur, g.EncodeCommand(Pic16NewCommand(w), 0)...)
	}
	flush(0)
	return out
}
