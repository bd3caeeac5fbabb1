// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package transport drives an FTDI FT232R in synchronous bit-bang mode to
// clock ICSP pin-pattern sequences onto a target PIC and sample its PGD line
// back. It owns device discovery, the pin translation table and the
// chunked-write/lagged-read buffering discipline the protocol requires (spec
// §4.1 "Physical transport").
package transport

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/icsp-go/fpicprog/ftdi"
	"github.com/icsp-go/fpicprog/pinmap"
	"github.com/icsp-go/fpicprog/platforminit"
	"github.com/icsp-go/fpicprog/seqgen"
	"github.com/icsp-go/fpicprog/status"
)

// Sizing mirrors the FT232R's 128 byte output / 256 byte input FIFOs
// (ftdi/dev.go's FT232R doc comment): outChunk keeps each USB write within
// the output FIFO, and lag is how far behind the output stream the input
// drain is allowed to trail before FlushOutput forces it to catch up.
const (
	outChunk = 128
	lag      = 256
)

// RawDevice is the subset of *ftdi.FT232R that Transport drives. Narrowing
// it to an interface lets tests in this package and in callers such as
// controller exercise the buffering/SYNC_LOST logic above it with a fake,
// without needing a real FTDI device or d2xx driver present.
type RawDevice interface {
	RawWrite(b []byte) (int, error)
	RawReadAvailable(b []byte) (int, error)
	RawReadAll(ctx context.Context, b []byte) (int, error)
	Halt() error
	String() string
}

// Transport is an open connection to one programmer.
type Transport struct {
	dev   RawDevice
	table *pinmap.Table

	// pending holds write chunk sizes not yet matched by a drain of the
	// input FIFO, used to bound how far writes may run ahead of reads.
	pending  []int
	inFlight int

	// record, when true, makes FlushOutput accumulate drained bytes into
	// recBuf instead of discarding them, for ReadWithSequence.
	record bool
	recBuf []byte
}

// Info describes one attached FTDI device as reported by List.
type Info struct {
	Description string
	Serial      string
	VendorID    uint16
	ProductID   uint16
	Opened      bool
}

// List enumerates attached FTDI devices without opening any of them for
// programming. It backs the list-programmers CLI action.
func List() ([]Info, error) {
	if _, err := platforminit.Init(); err != nil {
		return nil, status.Wrap(status.InitFailed, err, "initializing host drivers")
	}
	var out []Info
	for _, d := range ftdi.All() {
		var fi ftdi.Info
		d.Info(&fi)
		info := Info{VendorID: fi.VenID, ProductID: fi.DevID, Opened: fi.Opened}
		var ee ftdi.EEPROM
		if err := d.EEPROM(&ee); err == nil {
			info.Description = ee.Desc
			info.Serial = ee.Serial
		}
		if info.Description == "" {
			info.Description = d.String()
		}
		out = append(out, info)
	}
	return out, nil
}

// Open finds the FTDI FT232R matching cfg, switches it into synchronous
// bit-bang mode and returns a ready-to-use Transport (spec §4.1 "Open").
func Open(ctx context.Context, cfg pinmap.Config) (*Transport, error) {
	table, err := pinmap.Build(cfg)
	if err != nil {
		return nil, status.Wrap(status.InvalidArgument, err, "building pin table")
	}
	if _, err := platforminit.Init(); err != nil {
		return nil, status.Wrap(status.InitFailed, err, "initializing host drivers")
	}
	var found *ftdi.FT232R
	for _, d := range ftdi.All() {
		f, ok := d.(*ftdi.FT232R)
		if !ok {
			continue
		}
		var fi ftdi.Info
		f.Info(&fi)
		if !fi.Opened {
			continue
		}
		if cfg.VendorID != 0 && fi.VenID != cfg.VendorID {
			continue
		}
		if cfg.ProductID != 0 && fi.DevID != cfg.ProductID {
			continue
		}
		if cfg.Description != "" || cfg.Serial != "" {
			var ee ftdi.EEPROM
			if err := f.EEPROM(&ee); err != nil {
				continue
			}
			if cfg.Description != "" && ee.Desc != cfg.Description {
				continue
			}
			if cfg.Serial != "" && ee.Serial != cfg.Serial {
				continue
			}
		}
		found = f
		break
	}
	if found == nil {
		return nil, status.Errorf(status.DeviceNotFound, "no matching FTDI FT232R programmer found")
	}

	baud := cfg.BaudRate
	if baud == 0 {
		baud = 100000
	}
	if err := found.SetSpeed(physic.Frequency(baud) * physic.Hertz); err != nil {
		return nil, status.Wrap(status.InitFailed, err, "setting baud rate")
	}
	if err := found.EnterSyncBitbang(table.DirectionMask()); err != nil {
		return nil, status.Wrap(status.InitFailed, err, "entering synchronous bit-bang mode")
	}

	t := &Transport{dev: found, table: table}
	if err := t.drainStale(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// NewForTesting builds a Transport around dev and table without probing for
// or opening a real FTDI device, for use by this package's and callers'
// (e.g. controller's) tests.
func NewForTesting(dev RawDevice, table *pinmap.Table) *Transport {
	return &Transport{dev: dev, table: table}
}

// drainStale empties whatever is already queued in the input FIFO from a
// previous session before the protocol starts, so the first real read isn't
// offset by leftover bytes.
func (t *Transport) drainStale(ctx context.Context) error {
	var scratch [lag]byte
	for {
		n, err := t.dev.RawReadAvailable(scratch[:])
		if err != nil {
			return status.Wrap(status.USBWriteError, err, "draining stale input")
		}
		if n == 0 {
			return nil
		}
	}
}

// Close releases the underlying device.
func (t *Transport) Close() error {
	if t.dev == nil {
		return nil
	}
	return t.dev.Halt()
}

// SetPins drives the four logical ICSP lines according to pattern, a
// bitmask of pinmap.BitNMCLR/BitPGM/BitPGC/BitPGD. The byte is written to
// the device at once; its echo is drained by the next FlushOutput.
func (t *Transport) SetPins(pattern byte) error {
	return t.write([]byte{t.table.Translate(pattern)})
}

// write queues b for output, chunked to outChunk, draining the input FIFO
// as needed to keep the transport from running more than lag bytes ahead.
func (t *Transport) write(b []byte) error {
	for len(b) > 0 {
		c := len(b)
		if c > outChunk {
			c = outChunk
		}
		if _, err := t.dev.RawWrite(b[:c]); err != nil {
			return status.Wrap(status.USBWriteError, err, "writing to programmer")
		}
		t.pending = append(t.pending, c)
		t.inFlight += c
		b = b[c:]
		if err := t.drainIfNeeded(); err != nil {
			return err
		}
	}
	return nil
}

// drainIfNeeded reads back enough bytes to keep the outstanding write queue
// within lag bytes of the read cursor, so the input FIFO never overflows.
func (t *Transport) drainIfNeeded() error {
	for t.inFlight > lag && len(t.pending) > 0 {
		c := t.pending[0]
		buf := make([]byte, c)
		n, err := t.dev.RawReadAvailable(buf)
		if err != nil {
			return status.Wrap(status.USBWriteError, err, "reading from programmer")
		}
		if n == 0 {
			break
		}
		if t.record {
			t.recBuf = append(t.recBuf, buf[:n]...)
		}
		if n < c {
			t.pending[0] = c - n
			t.inFlight -= n
			break
		}
		t.pending = t.pending[1:]
		t.inFlight -= c
	}
	return nil
}

// FlushOutput blocks until every byte written so far has been echoed back
// through the input FIFO, so subsequent reads are not racing the USB
// pipeline. In record mode, a short drain is a protocol desync, reported as
// status.SyncLost; otherwise it just means this device has no read-back
// wired, which is fine for write-only sequences.
func (t *Transport) FlushOutput(ctx context.Context) error {
	for len(t.pending) > 0 {
		c := t.pending[0]
		buf := make([]byte, c)
		n, err := t.dev.RawReadAll(ctx, buf)
		if err != nil {
			if t.record {
				return status.Wrap(status.SyncLost, err, "draining programmer output")
			}
			return status.Wrap(status.USBWriteError, err, "draining programmer output")
		}
		if n < c {
			return status.Errorf(status.SyncLost, "short read draining programmer: got %d of %d bytes", n, c)
		}
		if t.record {
			t.recBuf = append(t.recBuf, buf...)
		}
		t.pending = t.pending[1:]
		t.inFlight -= c
	}
	return nil
}

// WriteDatastring clocks a raw pin-pattern byte string, such as produced by
// seqgen's EncodeCommand family, with no timed delays in between.
func (t *Transport) WriteDatastring(ctx context.Context, seq []byte) error {
	if err := t.write(seq); err != nil {
		return err
	}
	return t.FlushOutput(ctx)
}

// WriteTimedSequence runs a seqgen.TimedSequence: each step's pattern bytes
// are clocked out, flushed, then followed by a sleep of at least the
// requested duration (spec §5 "Timing"). Go's scheduler only guarantees
// "at least", which matches the spec's requirement exactly.
func (t *Transport) WriteTimedSequence(ctx context.Context, seq seqgen.TimedSequence) error {
	for _, step := range seq {
		if len(step.Pattern) > 0 {
			if err := t.write(step.Pattern); err != nil {
				return err
			}
		}
		if err := t.FlushOutput(ctx); err != nil {
			return err
		}
		if step.Sleep > 0 {
			sleep(step.Sleep)
		}
	}
	return nil
}

// sleep is a var so tests can shrink it.
var sleep = time.Sleep

// ReadWithSequence clocks seq (as produced by a seqgen command encoder),
// repeated repeatCount times, and extracts one bitCount-wide datum per entry
// of bitOffsets per repetition (spec §4.1: "read_with_sequence(sequence,
// bit_offsets, bit_count, repeat_count, lsb_first)"). Each bitOffsets[j] is
// the start of its own bitCount-bit-wide field, so a single repetition can
// yield several data (e.g. PIC24's two VISI read slots per SIX/REGOUT
// iteration). The result holds repeatCount*len(bitOffsets) values, ordered
// by repetition then by bitOffsets index.
//
// Each logical bit of seq occupies two physical bytes (clock-high,
// clock-low); the pin value is latched on the clock-low half, so bit k of
// the datum starting at bitOffsets[j] in repetition r is read back at byte
// index r*len(seq) + 2*(bitOffsets[j]+k) + 1.
func (t *Transport) ReadWithSequence(ctx context.Context, seq []byte, bitOffsets []int, bitCount, repeatCount int, lsbFirst bool) ([]uint16, error) {
	t.record = true
	t.recBuf = t.recBuf[:0]
	defer func() { t.record = false }()

	for i := 0; i < repeatCount; i++ {
		if err := t.write(seq); err != nil {
			return nil, err
		}
	}
	if err := t.FlushOutput(ctx); err != nil {
		return nil, err
	}

	need := repeatCount * len(seq)
	if len(t.recBuf) < need {
		return nil, status.Errorf(status.SyncLost, "short read-back: got %d of %d bytes", len(t.recBuf), need)
	}

	out := make([]uint16, 0, repeatCount*len(bitOffsets))
	pgdBit, ok := t.table.PhysicalBit(pinmap.PGDIn)
	if !ok {
		return nil, status.Errorf(status.InvalidArgument, "PGDIn line not mapped")
	}
	for r := 0; r < repeatCount; r++ {
		for _, off := range bitOffsets {
			var v uint16
			for k := 0; k < bitCount; k++ {
				idx := r*len(seq) + 2*(off+k) + 1
				if idx >= len(t.recBuf) {
					return nil, status.Errorf(status.SyncLost, "read-back index %d out of range (%d bytes captured)", idx, len(t.recBuf))
				}
				bit := uint16(0)
				if t.recBuf[idx]&(1<<uint(pgdBit)) != 0 {
					bit = 1
				}
				if lsbFirst {
					v |= bit << uint(k)
				} else {
					v |= bit << uint(bitCount-1-k)
				}
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// String implements fmt.Stringer for diagnostics.
func (t *Transport) String() string {
	return fmt.Sprintf("transport(%s)", t.dev)
}
