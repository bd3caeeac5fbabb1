// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package controller implements the per-family ICSP state machines that
// translate the high-level read/write/erase/identify contract into
// sequences of commands issued through a transport.Transport (spec §4.3).
// One Controller implementation exists per family: PIC18, PIC16 midrange,
// PIC16 baseline, PIC16 enhanced ("new"), and PIC24.
package controller

import (
	"context"

	"github.com/icsp-go/fpicprog/devicedb"
	"github.com/icsp-go/fpicprog/pinmap"
	"github.com/icsp-go/fpicprog/status"
	"github.com/icsp-go/fpicprog/transport"
)

// Controller is the common contract every family implements (spec §4.3
// "Common contract"). All operations return an error built with the
// status package; SYNC_LOST may surface from the transport for the
// orchestrator to handle.
type Controller interface {
	Open(ctx context.Context) error
	Close() error
	ReadDeviceID(ctx context.Context) (deviceID uint16, revision uint16, err error)
	Read(ctx context.Context, section devicedb.Region, start, end uint32, di *devicedb.DeviceInfo) ([]byte, error)
	Write(ctx context.Context, section devicedb.Region, address uint32, data []byte, di *devicedb.DeviceInfo) error
	ChipErase(ctx context.Context, di *devicedb.DeviceInfo) error
	SectionErase(ctx context.Context, section devicedb.Region, di *devicedb.DeviceInfo) error
}

// common holds the pieces every family controller shares: the
// configuration used to (re)open the transport, and the open transport
// itself. Every public method's scope-guarded Close (spec §9 "Scoped
// device close") is implemented by each family's Close, which tears this
// down unconditionally.
type common struct {
	cfg pinmap.Config
	t   *transport.Transport
}

func (c *common) openTransport(ctx context.Context, cfg pinmap.Config) error {
	t, err := transport.Open(ctx, cfg)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.t = t
	return nil
}

// Close releases the transport if open. Safe to call multiple times.
func (c *common) Close() error {
	if c.t == nil {
		return nil
	}
	err := c.t.Close()
	c.t = nil
	return err
}

// readBits issues seq and extracts repeatCount data words, each bitCount
// bits wide, sampled starting at startBitOffset within each repetition
// (spec §4.1 "Read path"). This is the single-field specialisation of
// read_with_sequence that every family's per-word reads use; families that
// need more than one datum per repetition (PIC24's TBLRDL/TBLRDH stitched
// read) call t.ReadWithSequence directly with more than one bit offset.
func readBits(ctx context.Context, t *transport.Transport, seq []byte, startBitOffset, bitCount, repeatCount int, lsbFirst bool) ([]uint16, error) {
	return t.ReadWithSequence(ctx, seq, []int{startBitOffset}, bitCount, repeatCount, lsbFirst)
}

// requireOpen guards every operation that needs a live transport.
func (c *common) requireOpen() error {
	if c.t == nil {
		return status.Errorf(status.InvalidArgument, "controller: device not open")
	}
	return nil
}
