// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/icsp-go/fpicprog/pinmap"
	"github.com/icsp-go/fpicprog/status"
)

// fakeDevice is a RawDevice that echoes back pre-seeded bytes, standing in
// for a real FT232R the way ftdi/driver_test.go stands in for d2xx with
// d2xxtest.Fake: no hardware or driver required to exercise the buffering
// and SYNC_LOST logic above it.
type fakeDevice struct {
	echo       []byte // bytes handed back by the next RawReadAll calls, in order
	shortByOne bool   // if true, every RawReadAll returns one byte short of requested
	readErr    error  // if set, RawReadAll returns this error instead of reading
	written    []byte // every byte handed to RawWrite, in order
	halted     bool
}

func (f *fakeDevice) RawWrite(b []byte) (int, error) {
	f.written = append(f.written, b...)
	return len(b), nil
}

func (f *fakeDevice) RawReadAvailable(b []byte) (int, error) {
	// No stale data queued in these tests; FlushOutput/RawReadAll handles the
	// synchronous drain.
	return 0, nil
}

func (f *fakeDevice) RawReadAll(ctx context.Context, b []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(b, f.echo)
	f.echo = f.echo[n:]
	if f.shortByOne && n > 0 {
		n--
	}
	return n, nil
}

func (f *fakeDevice) Halt() error {
	f.halted = true
	return nil
}

func (f *fakeDevice) String() string { return "fake-ft232r" }

func newTestTransport(t *testing.T, dev RawDevice) *Transport {
	t.Helper()
	table, err := pinmap.Build(pinmap.DefaultConfig())
	if err != nil {
		t.Fatalf("pinmap.Build() = %v, want nil", err)
	}
	return NewForTesting(dev, table)
}

// PGD_in defaults to RxD, physical bit 1 (see pinmap.DefaultConfig / physicalBit).
const pgdInBit = 1

func TestReadWithSequenceAssemblesBitsLSBFirst(t *testing.T) {
	seq := []byte{0xAA, 0xAA, 0xAA, 0xAA} // length only matters, content doesn't
	// A 2-bit-wide datum starting at offset 0 reads back from byte indices 1
	// and 3 (clock-low halves).
	echo := make([]byte, len(seq))
	echo[1] = 1 << pgdInBit // bit 0 of the output is set
	echo[3] = 0             // bit 1 of the output is clear

	tr := newTestTransport(t, &fakeDevice{echo: echo})
	out, err := tr.ReadWithSequence(context.Background(), seq, []int{0}, 2, 1, true)
	if err != nil {
		t.Fatalf("ReadWithSequence() = %v, want nil", err)
	}
	if len(out) != 1 || out[0] != 1 {
		t.Errorf("ReadWithSequence() = %v, want [1]", out)
	}
}

func TestReadWithSequenceAssemblesBitsMSBFirst(t *testing.T) {
	seq := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	echo := make([]byte, len(seq))
	echo[1] = 1 << pgdInBit // bit 0 of the datum
	echo[3] = 0             // bit 1 of the datum

	tr := newTestTransport(t, &fakeDevice{echo: echo})
	out, err := tr.ReadWithSequence(context.Background(), seq, []int{0}, 2, 1, false)
	if err != nil {
		t.Fatalf("ReadWithSequence() = %v, want nil", err)
	}
	// MSB first: the bit at offset 0 lands in the high bit of the 2-bit value.
	if len(out) != 1 || out[0] != 0b10 {
		t.Errorf("ReadWithSequence() = %v, want [0b10]", out)
	}
}

func TestReadWithSequenceRepeatsAcrossRepetitions(t *testing.T) {
	seq := []byte{0x00, 0x00} // one logical bit, 2 physical bytes
	// Two repetitions: first repetition reads 1, second reads 0.
	echo := []byte{0x00, 1 << pgdInBit, 0x00, 0x00}

	tr := newTestTransport(t, &fakeDevice{echo: echo})
	out, err := tr.ReadWithSequence(context.Background(), seq, []int{0}, 1, 2, true)
	if err != nil {
		t.Fatalf("ReadWithSequence() = %v, want nil", err)
	}
	if len(out) != 2 || out[0] != 1 || out[1] != 0 {
		t.Errorf("ReadWithSequence() = %v, want [1 0]", out)
	}
}

// TestReadWithSequenceMultipleOffsetsPerRepetition checks that more than one
// bitOffsets entry yields more than one datum per repetition (spec §4.1:
// "repeat_count x len(bit_offsets)" results), the capability PIC24's
// TBLRDL/TBLRDH stitched read depends on.
func TestReadWithSequenceMultipleOffsetsPerRepetition(t *testing.T) {
	seq := []byte{0x00, 0x00, 0x00, 0x00} // two logical bits, 4 physical bytes
	echo := []byte{0x00, 1 << pgdInBit, 0x00, 0x00}

	tr := newTestTransport(t, &fakeDevice{echo: echo})
	out, err := tr.ReadWithSequence(context.Background(), seq, []int{0, 1}, 1, 1, true)
	if err != nil {
		t.Fatalf("ReadWithSequence() = %v, want nil", err)
	}
	if len(out) != 2 || out[0] != 1 || out[1] != 0 {
		t.Errorf("ReadWithSequence() = %v, want [1 0] (one datum per offset)", out)
	}
}

func TestReadWithSequenceSyncLostOnShortReadback(t *testing.T) {
	seq := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	echo := make([]byte, len(seq))

	tr := newTestTransport(t, &fakeDevice{echo: echo, shortByOne: true})
	_, err := tr.ReadWithSequence(context.Background(), seq, []int{0}, 2, 1, true)
	if err == nil {
		t.Fatal("ReadWithSequence() = nil, want a SYNC_LOST error on a short read-back")
	}
	if !status.Is(err, status.SyncLost) {
		t.Errorf("ReadWithSequence() = %v, want status.SyncLost", err)
	}
}

func TestReadWithSequenceSyncLostOnReadError(t *testing.T) {
	seq := []byte{0xAA, 0xAA}
	tr := newTestTransport(t, &fakeDevice{readErr: errors.New("usb: device disconnected")})
	_, err := tr.ReadWithSequence(context.Background(), seq, []int{0}, 1, 1, true)
	if err == nil {
		t.Fatal("ReadWithSequence() = nil, want an error when the device read fails")
	}
	if !status.Is(err, status.SyncLost) {
		t.Errorf("ReadWithSequence() = %v, want status.SyncLost (record mode maps read failures to SYNC_LOST)", err)
	}
}

func TestFlushOutputWithoutRecordingWrapsUSBWriteError(t *testing.T) {
	tr := newTestTransport(t, &fakeDevice{readErr: errors.New("usb: device disconnected")})
	if err := tr.write([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("write() = %v, want nil", err)
	}
	err := tr.FlushOutput(context.Background())
	if err == nil {
		t.Fatal("FlushOutput() = nil, want an error")
	}
	if !status.Is(err, status.USBWriteError) {
		t.Errorf("FlushOutput() = %v, want status.USBWriteError outside of record mode", err)
	}
}

func TestSetPinsTranslatesPatternThroughTable(t *testing.T) {
	dev := &fakeDevice{echo: []byte{0x00}}
	tr := newTestTransport(t, dev)
	if err := tr.SetPins(pinmap.BitPGC); err != nil {
		t.Fatalf("SetPins() = %v, want nil", err)
	}
	// BitPGC alone should translate to the lone physical bit wired to PGC
	// (TxD, physical bit 0 under DefaultConfig) and nothing else.
	want := tr.table.Translate(pinmap.BitPGC)
	if want != 1<<0 {
		t.Fatalf("table.Translate(BitPGC) = %#02x, want %#02x (TxD only)", want, 1<<0)
	}
	if len(dev.written) != 1 || dev.written[0] != want {
		t.Errorf("SetPins(BitPGC) wrote %v, want [%#02x]", dev.written, want)
	}
}

func TestCloseHaltsDevice(t *testing.T) {
	dev := &fakeDevice{}
	tr := newTestTransport(t, dev)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
	if !dev.halted {
		t.Error("Close() did not Halt() the underlying device")
	}
}
