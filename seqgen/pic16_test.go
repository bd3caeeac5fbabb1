// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package seqgen

import "testing"

func TestValidateSequenceAcceptsMarkersAndNarrowPayloads(t *testing.T) {
	seq := []uint16{uint16(BulkEraseProgram), seqDelayMarker, seqIncrementMarker, 5, 0x3fff}
	if err := ValidateSequence(seq); err != nil {
		t.Errorf("ValidateSequence(%v) = %v, want nil", seq, err)
	}
}

func TestValidateSequenceRejectsWidePayload(t *testing.T) {
	seq := []uint16{0x4000}
	if err := ValidateSequence(seq); err == nil {
		t.Error("ValidateSequence should reject a word wider than 14 bits")
	}
}

func TestExpandSequenceEmitsDelayStep(t *testing.T) {
	out := ExpandSequence([]uint16{uint16(BulkEraseProgram), seqDelayMarker}, 6_000_000)
	if len(out) != 1 {
		t.Fatalf("ExpandSequence = %v, want a single step", out)
	}
	if out[0].Sleep != 6_000_000 {
		t.Errorf("step sleep = %v, want 6_000_000ns", out[0].Sleep)
	}
	if len(out[0].Pattern) == 0 {
		t.Error("step pattern should carry the encoded BulkEraseProgram command")
	}
}

func TestExpandSequenceRepeatsIncrementMarker(t *testing.T) {
	out := ExpandSequence([]uint16{seqIncrementMarker, 3}, 0)
	if len(out) != 1 {
		t.Fatalf("ExpandSequence = %v, want a single step", out)
	}
	wantLen := len(Pic16Generator{}.EncodeCommand(IncrementAddress)) * 3
	if len(out[0].Pattern) != wantLen {
		t.Errorf("pattern length = %d, want %d (3 repeats)", len(out[0].Pattern), wantLen)
	}
}

func TestEncodeCommandWithPayloadFrameLength(t *testing.T) {
	gen := Pic16Generator{}
	out := gen.EncodeCommandWithPayload(LoadProgMemory, 0x1234)
	// 6 command bits + 16 framing bits, two pattern bytes per bit.
	if len(out) != (6+16)*2 {
		t.Errorf("len(out) = %d, want %d", len(out), (6+16)*2)
	}
}
