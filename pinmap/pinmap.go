// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pinmap builds the pin-pattern translation table that is the one
// and only place physical FTDI pin assignment lives. The transport package
// uses it to translate logical pin patterns to DBus bytes and to expose
// each logical ICSP line as a periph gpio.PinIO, the way ftdi/gpio.go
// exposes FT232R bitbang lines.
package pinmap

import (
	"github.com/icsp-go/fpicprog/status"
)

// Logical is one of the four ICSP control lines. PGD is split into in/out
// because the FTDI synchronous bitbang framing samples and drives it on
// different half-cycles; nMCLR and PGM share a single physical line in most
// wiring but are modeled independently since the spec treats them as
// distinct bits of the pin pattern.
type Logical int

const (
	NMCLR Logical = iota
	PGM
	PGC
	PGDOut
	PGDIn
	numLogical
)

func (l Logical) String() string {
	switch l {
	case NMCLR:
		return "nMCLR"
	case PGM:
		return "PGM"
	case PGC:
		return "PGC"
	case PGDOut:
		return "PGD_out"
	case PGDIn:
		return "PGD_in"
	default:
		return "?"
	}
}

// Bit values within a pin-pattern byte as defined by the target-facing
// contract (spec §3, Pins enum in util.h): nMCLR=1, PGM=2, PGC=4, PGD=8.
// PGD_out shares the PGD bit; PGD_in is read-only and contributes no output
// bit of its own.
const (
	BitNMCLR = 1 << 0
	BitPGM   = 1 << 1
	BitPGC   = 1 << 2
	BitPGD   = 1 << 3
)

// PhysicalName is one of the eight FTDI synchronous-bitbang-capable DBus
// lines (shared with RS232 modem-control naming), or NC (not connected).
type PhysicalName string

const (
	TxD PhysicalName = "TxD"
	RxD PhysicalName = "RxD"
	RTS PhysicalName = "RTS"
	CTS PhysicalName = "CTS"
	DTR PhysicalName = "DTR"
	DSR PhysicalName = "DSR"
	DCD PhysicalName = "DCD"
	RI  PhysicalName = "RI"
	NC  PhysicalName = "NC"
)

var physicalBit = map[PhysicalName]int{
	TxD: 0, RxD: 1, RTS: 2, CTS: 3, DTR: 4, DSR: 5, DCD: 6, RI: 7,
}

// Handshake selects how the init sequence raises the programming-mode
// lines (spec §4.2 init sequence).
type Handshake int

const (
	HandshakeLVP Handshake = iota
	HandshakeNMCLRFirst
	HandshakePGMFirst
)

// Config is the explicit, process-wide-mutable-state-free configuration
// passed into transport and sequence-generator constructors (spec §9,
// "Global configuration").
type Config struct {
	VendorID, ProductID uint16
	Description, Serial string

	NMCLR, PGM, PGC, PGDIn, PGDOut PhysicalName
	Handshake                      Handshake

	// BaudRate overrides the 100_000 Bd default; exposed per spec §9's
	// "bit-bang clock rate" design note rather than hard-coded.
	BaudRate uint32
}

// DefaultConfig returns the spec §6-mandated defaults: FTDI VID/PID
// 0x0403/0x6001, 100_000 Bd, and the canonical four-wire wiring used by the
// reference hardware: TxD drives PGC, RTS drives PGM, DTR drives nMCLR, and
// PGD is driven on CTS and read back on RxD.
func DefaultConfig() Config {
	return Config{
		VendorID:  0x0403,
		ProductID: 0x6001,
		NMCLR:     DTR,
		PGM:       RTS,
		PGC:       TxD,
		PGDOut:    CTS,
		PGDIn:     RxD,
		Handshake: HandshakeLVP,
		BaudRate:  100000,
	}
}

// Table is the 16-entry translation table mapping a logical pin-pattern
// byte (bits BitNMCLR|BitPGM|BitPGC|BitPGD) to the physical byte written to
// the FTDI DBus.
type Table struct {
	entries [16]byte
	dirMask byte
	cfg     Config
}

// Build constructs the translation table from cfg. It is the only place
// physical pin mapping is resolved (spec §3).
func Build(cfg Config) (*Table, error) {
	names := map[Logical]PhysicalName{
		NMCLR:  cfg.NMCLR,
		PGM:    cfg.PGM,
		PGC:    cfg.PGC,
		PGDOut: cfg.PGDOut,
		PGDIn:  cfg.PGDIn,
	}
	bits := make(map[Logical]int, numLogical)
	var dir byte
	for l, n := range names {
		if n == NC {
			continue
		}
		b, ok := physicalBit[n]
		if !ok {
			return nil, status.Errorf(status.InvalidArgument, "pinmap: unknown physical pin name %q for %s", n, l)
		}
		bits[l] = b
		if l != PGDIn {
			dir |= 1 << uint(b)
		}
	}

	t := &Table{cfg: cfg, dirMask: dir}
	for pattern := 0; pattern < 16; pattern++ {
		var phys byte
		if pattern&BitNMCLR != 0 {
			if b, ok := bits[NMCLR]; ok {
				phys |= 1 << uint(b)
			}
		}
		if pattern&BitPGM != 0 {
			if b, ok := bits[PGM]; ok {
				phys |= 1 << uint(b)
			}
		}
		if pattern&BitPGC != 0 {
			if b, ok := bits[PGC]; ok {
				phys |= 1 << uint(b)
			}
		}
		if pattern&BitPGD != 0 {
			if b, ok := bits[PGDOut]; ok {
				phys |= 1 << uint(b)
			}
		}
		t.entries[pattern] = phys
	}
	return t, nil
}

// Translate converts a logical pin-pattern nibble into the physical DBus
// byte to push onto the wire.
func (t *Table) Translate(pattern byte) byte {
	return t.entries[pattern&0x0f]
}

// DirectionMask is the FTDI DBus direction byte (1 = output) derived from
// cfg: outputs on nMCLR, PGC, PGD_out, PGM; input on PGD_in (spec §4.1 Open).
func (t *Table) DirectionMask() byte {
	return t.dirMask
}

// PGDInBit returns the physical bit index PGD_in is wired to, used by the
// transport to extract the sampled bit from a drained byte.
func (t *Table) PGDInBit() int {
	return physicalBit[t.cfg.PGDIn]
}

// PhysicalBit returns the DBus bit index a given logical line resolves to,
// and whether it is mapped at all (NC resolves to ok=false). The transport
// package uses this to expose each logical line as a periph gpio.PinIO.
func (t *Table) PhysicalBit(l Logical) (bit int, ok bool) {
	switch l {
	case NMCLR:
		bit, ok = physicalBit[t.cfg.NMCLR]
	case PGM:
		bit, ok = physicalBit[t.cfg.PGM]
	case PGC:
		bit, ok = physicalBit[t.cfg.PGC]
	case PGDOut:
		bit, ok = physicalBit[t.cfg.PGDOut]
	case PGDIn:
		bit, ok = physicalBit[t.cfg.PGDIn]
	}
	return bit, ok
}
