// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package seqgen

import (
	"time"

	"github.com/icsp-go/fpicprog/status"
)

// Pic16Command enumerates the PIC16 midrange/baseline ICSP 6-bit command
// field (util.h's Pic16Command enum).
type Pic16Command int

const (
	LoadConfiguration Pic16Command = 0
	LoadProgMemory    Pic16Command = 2
	LoadDataMemory    Pic16Command = 3
	ReadProgMemory    Pic16Command = 4
	ReadDataMemory    Pic16Command = 5
	IncrementAddress  Pic16Command = 6
	BeginProgrammingInt Pic16Command = 8
	BulkEraseProgram  Pic16Command = 9
	EndProgrammingNew Pic16Command = 10
	BulkEraseData     Pic16Command = 11
	EndProgrammingOld Pic16Command = 14
	RowEraseProgram   Pic16Command = 17
	BeginProgrammingExt Pic16Command = 24
)

// Sequence markers used by device-database-supplied word sequences (spec
// §4.2 "Device-specific sequences"): 0xFF inserts the family's programming
// delay; 0xFE inserts an increment-address, repeated by the value of the
// word immediately following the marker.
const (
	seqDelayMarker     = 0xFF
	seqIncrementMarker = 0xFE
)

// Pic16Generator implements the PIC16 midrange/baseline family's command
// encoding (spec §4.2 "PIC16 midrange command encoding").
type Pic16Generator struct{}

// EncodeCommand returns the pin-pattern bytes for a bare 6-bit command with
// no payload (e.g. INCREMENT_ADDRESS, BULK_ERASE_*).
func (Pic16Generator) EncodeCommand(cmd Pic16Command) []byte {
	return EncodeBits(uint32(cmd), 6, Base, true)
}

// EncodeCommandWithPayload returns the pin-pattern bytes for a load/read
// command: 6 command bits, then a start bit, 14 payload bits and a stop
// bit, all LSB-first, framed as a single 16-bit field with the start and
// stop bits fixed at zero.
func (Pic16Generator) EncodeCommandWithPayload(cmd Pic16Command, payload uint16) []byte {
	out := EncodeBits(uint32(cmd), 6, Base, true)
	frame := uint32(payload&0x3fff) << 1
	out = append(out, EncodeBits(frame, 16, Base, true)...)
	return out
}

// ValidateSequence checks that a device-database-supplied opcode sequence
// only uses 14-bit-or-narrower payload-bearing opcodes alongside the delay
// and increment markers, the check fpicprog.cc wires in as the DeviceDb's
// per-sequence validator.
func ValidateSequence(seq []uint16) error {
	for i := 0; i < len(seq); i++ {
		w := seq[i]
		if w == seqIncrementMarker {
			i++ // skip the repeat count
			continue
		}
		if w > 0x3fff && w != seqDelayMarker {
			return status.Errorf(status.ParseError, "sequence word %#04x exceeds 14-bit payload width", w)
		}
	}
	return nil
}

// WriteDataSequence returns the sequence run after the final
// LOAD_PROG_MEMORY/LOAD_DATA_MEMORY of a write: a BEGIN_PROGRAMMING_INT
// command followed by the timed hold that gives the device its
// programming pulse (spec §4.2 "the WRITE timed sequence interleave[s] a
// short clock burst with the device-mandated programming pulse"; spec
// §4.3 "PIC16 midrange controller"; sequence_generator.cc's
// WRITE_DATA_SEQUENCE embeds GetCommandSequence(BEGIN_PROGRAMMING_INT)).
func (g Pic16Generator) WriteDataSequence(pulse time.Duration) TimedSequence {
	return TimedSequence{
		{Pattern: g.EncodeCommand(BeginProgrammingInt)},
		{Pattern: Idle(Base), Sleep: pulse},
	}
}

// ExpandSequence expands a device-database opcode sequence into a
// TimedSequence: bit patterns accumulate into the current step until a
// delay marker is hit, which cuts a step with the given duration; an
// increment marker inserts IncrementAddress commands repeated by the
// following word's value (spec §4.2).
func ExpandSequence(seq []uint16, delay time.Duration) TimedSequence {
	var out TimedSequence
	var cur []byte
	flush := func(sleep time.Duration) {
		if len(cur) == 0 && sleep == 0 {
			return
		}
		out = append(out, TimedStep{Pattern: cur, Sleep: sleep})
		cur = nil
	}
	gen := Pic16Generator{}
	for i := 0; i < len(seq); i++ {
		w := seq[i]
		switch w {
		case seqDelayMarker:
			flush(delay)
		case seqIncrementMarker:
			i++
			count := 0
			if i < len(seq) {
				count = int(seq[i])
			}
			for j := 0; j < count; j++ {
				cur = append(cur, gen.EncodeCommand(IncrementAddress)...)
			}
		default:
			cur = append(cur, gen.EncodeCommand(Pic16Command(w))...)
		}
	}
	flush(0)
	return out
}
