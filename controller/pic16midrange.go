// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controller

import (
	"context"
	"math"

	"github.com/icsp-go/fpicprog/devicedb"
	"github.com/icsp-go/fpicprog/pinmap"
	"github.com/icsp-go/fpicprog/seqgen"
)

// Pic16Midrange implements the PIC16 midrange family (spec §4.3 "PIC16
// midrange controller"), grounded on the pre-split Pic16Controller in
// controller.cc and the class split declared by pic16controller.h.
type Pic16Midrange struct {
	pic16Base
	lastAddress uint32
}

// NewPic16Midrange returns a Pic16Midrange controller that opens its
// transport with cfg.
func NewPic16Midrange(cfg pinmap.Config) *Pic16Midrange {
	c := &Pic16Midrange{}
	c.cfg = cfg
	c.model = c
	return c
}

func (c *Pic16Midrange) Open(ctx context.Context) error {
	if err := c.openWithInit(ctx); err != nil {
		return err
	}
	c.lastAddress = 0
	return nil
}

// ChipErase preserves the calibration word across a chip erase when the
// device declares one, since a bulk erase would otherwise destroy the
// factory-trimmed internal oscillator setting (spec §4.3 "PIC16 midrange
// controller"; §8 boundary behaviour).
func (c *Pic16Midrange) ChipErase(ctx context.Context, di *devicedb.DeviceInfo) error {
	addr := di.CalibrationWordAddress
	if addr == 0 {
		return c.pic16Base.ChipErase(ctx, di)
	}
	cal, err := c.Read(ctx, devicedb.Flash, addr, addr+2, di)
	if err != nil {
		return err
	}
	if err := c.resetDevice(ctx); err != nil {
		return err
	}
	if err := c.pic16Base.ChipErase(ctx, di); err != nil {
		return err
	}
	if err := c.resetDevice(ctx); err != nil {
		return err
	}
	if err := c.loadAddress(ctx, devicedb.Flash, addr, di); err != nil {
		return err
	}
	word := uint16(cal[0]) | uint16(cal[1])<<8
	if err := c.writeCommand(ctx, seqgen.LoadProgMemory, word); err != nil {
		return err
	}
	return c.t.WriteTimedSequence(ctx, c.gen.WriteDataSequence(di.BlockWriteTiming))
}

// loadAddress reproduces controller.cc's Pic16Controller::LoadAddress: the
// configuration region re-issues LOAD_CONFIGURATION whenever the tracked
// position isn't already inside it or has moved past the target; flash and
// EEPROM both force a full ResetDevice when the target lies behind the
// current position, since the program counter can only move forward.
func (c *Pic16Midrange) loadAddress(ctx context.Context, section devicedb.Region, address uint32, di *devicedb.DeviceInfo) error {
	configOffset := di.Regions[devicedb.Configuration].Base
	switch section {
	case devicedb.Configuration:
		if address < c.lastAddress || c.lastAddress < configOffset {
			if err := c.writeCommand(ctx, seqgen.LoadConfiguration, 0); err != nil {
				return err
			}
			c.lastAddress = configOffset
		}
	case devicedb.Flash:
		if address < c.lastAddress {
			if err := c.resetDevice(ctx); err != nil {
				return err
			}
		}
	case devicedb.EEPROM:
		address -= di.Regions[devicedb.EEPROM].Base
		if address < c.lastAddress {
			if err := c.resetDevice(ctx); err != nil {
				return err
			}
		}
	}
	for c.lastAddress < address {
		if err := c.incrementPc(ctx, di); err != nil {
			return err
		}
	}
	return nil
}

func (c *Pic16Midrange) resetDevice(ctx context.Context) error {
	if err := c.reissueInit(ctx); err != nil {
		return err
	}
	c.lastAddress = 0
	return nil
}

func (c *Pic16Midrange) incrementPc(ctx context.Context, di *devicedb.DeviceInfo) error {
	if err := c.writeBareCommand(ctx, seqgen.IncrementAddress); err != nil {
		return err
	}
	configOffset := di.Regions[devicedb.Configuration].Base
	wasConfig := c.lastAddress >= configOffset
	c.lastAddress += 2
	if c.lastAddress >= configOffset && !wasConfig {
		c.lastAddress = math.MaxUint32
	}
	return nil
}

func (c *Pic16Midrange) invalidateAddress() {
	c.lastAddress = math.MaxUint32
}
