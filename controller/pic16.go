// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controller

import (
	"context"

	"github.com/icsp-go/fpicprog/devicedb"
	"github.com/icsp-go/fpicprog/seqgen"
	"github.com/icsp-go/fpicprog/status"
)

// pic16AddressModel captures the one place the midrange and baseline
// families diverge: how the word-addressed program counter is advanced and
// reset (spec §4.3 "PIC16 midrange controller" / "PIC16 baseline
// controller"). Everything else — command encoding, read/write/erase
// shape — is shared and lives on pic16Base, grounded on the pre-split
// Pic16Controller in controller.cc.
type pic16AddressModel interface {
	loadAddress(ctx context.Context, section devicedb.Region, address uint32, di *devicedb.DeviceInfo) error
	resetDevice(ctx context.Context) error
	incrementPc(ctx context.Context, di *devicedb.DeviceInfo) error
	// invalidateAddress marks the tracked program-counter position as
	// unknown, forcing the next loadAddress to reset the device before
	// seeking (controller.cc's ReadDeviceId sets last_address_ = INT32_MAX
	// for exactly this reason).
	invalidateAddress()
}

// pic16Base implements the shared parts of the PIC16 midrange/baseline
// controllers. model supplies the family-specific address handling; the
// concrete *Pic16Midrange/*Pic16Baseline set model to themselves once
// constructed.
type pic16Base struct {
	common
	gen   seqgen.Pic16Generator
	model pic16AddressModel
}

func (c *pic16Base) openWithInit(ctx context.Context) error {
	if err := c.openTransport(ctx, c.cfg); err != nil {
		return err
	}
	return c.reissueInit(ctx)
}

// reissueInit re-runs the init pin sequence on an already-open transport,
// the ResetDevice half of controller.cc's Pic16Controller::ResetDevice
// (which does not reopen the underlying connection, only restores the
// entry pin pattern before the program counter is walked from 0 again).
func (c *pic16Base) reissueInit(ctx context.Context) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	return c.t.WriteTimedSequence(ctx, seqgen.BuildInitSequence(c.cfg.Handshake))
}

func (c *pic16Base) writeCommand(ctx context.Context, cmd seqgen.Pic16Command, payload uint16) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	return c.t.WriteDatastring(ctx, c.gen.EncodeCommandWithPayload(cmd, payload))
}

func (c *pic16Base) writeBareCommand(ctx context.Context, cmd seqgen.Pic16Command) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	return c.t.WriteDatastring(ctx, c.gen.EncodeCommand(cmd))
}

// readWithCommand issues cmd once and returns the 14-bit payload sampled
// starting at bit offset 7 (driver_->ReadWithSequence(..., 7, 14, 1, ...) in
// controller.cc).
func (c *pic16Base) readWithCommand(ctx context.Context, cmd seqgen.Pic16Command) (uint16, error) {
	if err := c.requireOpen(); err != nil {
		return 0, err
	}
	words, err := readBits(ctx, c.t, c.gen.EncodeCommandWithPayload(cmd, 0), 7, 14, 1, true)
	if err != nil {
		return 0, err
	}
	return words[0], nil
}

func (c *pic16Base) ReadDeviceID(ctx context.Context) (uint16, uint16, error) {
	if err := c.writeCommand(ctx, seqgen.LoadConfiguration, 0); err != nil {
		return 0, 0, err
	}
	for i := 0; i < 5; i++ {
		if err := c.writeBareCommand(ctx, seqgen.IncrementAddress); err != nil {
			return 0, 0, err
		}
	}
	loc5, err := c.readWithCommand(ctx, seqgen.ReadProgMemory)
	if err != nil {
		return 0, 0, err
	}
	if err := c.writeBareCommand(ctx, seqgen.IncrementAddress); err != nil {
		return 0, 0, err
	}
	loc6, err := c.readWithCommand(ctx, seqgen.ReadProgMemory)
	if err != nil {
		return 0, 0, err
	}

	var deviceID, revision uint16
	if loc5&0x3000 == 0x3000 {
		deviceID = loc6 >> 5
		revision = loc6 & 0x1f
	} else {
		deviceID = loc6
		revision = loc5
	}
	c.model.invalidateAddress()
	return deviceID, revision, nil
}

func (c *pic16Base) Read(ctx context.Context, section devicedb.Region, start, end uint32, di *devicedb.DeviceInfo) ([]byte, error) {
	if err := c.model.loadAddress(ctx, section, start, di); err != nil {
		return nil, err
	}
	readCmd := seqgen.ReadProgMemory
	if section == devicedb.EEPROM {
		readCmd = seqgen.ReadDataMemory
	}
	out := make([]byte, 0, end-start)
	for remaining := int(end - start); remaining > 0; remaining -= 2 {
		var data uint16
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			data, err = c.readWithCommand(ctx, readCmd)
			if err == nil {
				break
			}
			if code, ok := status.CodeOf(err); !ok || code != status.SyncLost {
				break
			}
		}
		if err != nil {
			return nil, err
		}
		if err := c.model.incrementPc(ctx, di); err != nil {
			return nil, err
		}
		out = append(out, byte(data), byte(data>>8)&0x3f)
	}
	return out, nil
}

func (c *pic16Base) Write(ctx context.Context, section devicedb.Region, address uint32, data []byte, di *devicedb.DeviceInfo) error {
	if err := c.model.loadAddress(ctx, section, address, di); err != nil {
		return err
	}

	if section == devicedb.Flash {
		blockSize := di.WriteBlockSize
		if blockSize == 0 {
			return status.Errorf(status.InvalidArgument, "pic16: write_block_size must be > 0")
		}
		if address%blockSize != 0 {
			return status.Errorf(status.InvalidArgument, "pic16: address %#x is not a multiple of the write block size", address)
		}
		if uint32(len(data))%blockSize != 0 {
			return status.Errorf(status.InvalidArgument, "pic16: data size %d is not a multiple of the write block size", len(data))
		}
		for base := uint32(0); base < uint32(len(data)); base += blockSize {
			for i := uint32(0); i < blockSize; i += 2 {
				word := uint16(data[base+i]) | uint16(data[base+i+1])<<8
				if err := c.writeCommand(ctx, seqgen.LoadProgMemory, word); err != nil {
					return err
				}
				if i != blockSize-2 {
					if err := c.model.incrementPc(ctx, di); err != nil {
						return err
					}
				}
			}
			if err := c.t.WriteTimedSequence(ctx, c.gen.WriteDataSequence(di.BlockWriteTiming)); err != nil {
				return err
			}
			if err := c.model.incrementPc(ctx, di); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i < len(data); i += 2 {
		word := uint16(data[i]) | uint16(data[i+1])<<8
		if err := c.writeCommand(ctx, seqgen.LoadProgMemory, word); err != nil {
			return err
		}
		if err := c.t.WriteTimedSequence(ctx, c.gen.WriteDataSequence(di.BlockWriteTiming)); err != nil {
			return err
		}
		if err := c.model.incrementPc(ctx, di); err != nil {
			return err
		}
	}
	return nil
}

func (c *pic16Base) ChipErase(ctx context.Context, di *devicedb.DeviceInfo) error {
	return c.t.WriteTimedSequence(ctx, seqgen.ExpandSequence(di.ChipErase, di.BulkEraseTiming))
}

// SectionErase mirrors the original Pic16Controller, which leaves section
// erase a no-op for this family: flash sections are only ever erased as a
// whole through ChipErase or row erase during Write (spec §4.3 "PIC16
// midrange controller"). When the device database supplies a region-specific
// erase sequence it is honored instead of silently doing nothing.
func (c *pic16Base) SectionErase(ctx context.Context, section devicedb.Region, di *devicedb.DeviceInfo) error {
	var seq []uint16
	switch section {
	case devicedb.Flash:
		seq = di.FlashErase
	case devicedb.UserID:
		seq = di.UserIDErase
	case devicedb.Configuration:
		seq = di.ConfigErase
	case devicedb.EEPROM:
		seq = di.EEPROMErase
	}
	if len(seq) == 0 {
		return nil
	}
	return c.t.WriteTimedSequence(ctx, seqgen.ExpandSequence(seq, di.BulkEraseTiming))
}
