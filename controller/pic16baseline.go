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

// baselineConfigAddress is the sentinel pic16controller.h calls
// kConfigurationAddress: "one below zero". The baseline family has no
// LOAD_CONFIGURATION command, so the configuration word is reached only by
// a full device reset, which places the program counter at this address —
// the first INCREMENT_ADDRESS then rolls it over to 0 (DESIGN.md records
// this as a documented assumption: the original only declares, never
// defines, Pic16BaselineController's address-handling bodies).
const baselineConfigAddress = math.MaxUint32 - 1

// Pic16Baseline implements the PIC16 baseline family (spec §4.3 "PIC16
// baseline controller"), grounded on pic16controller.h's
// Pic16BaselineController declaration and controller.cc's pre-split
// Pic16Controller.
type Pic16Baseline struct {
	pic16Base
	lastAddress uint32
}

// NewPic16Baseline returns a Pic16Baseline controller that opens its
// transport with cfg.
func NewPic16Baseline(cfg pinmap.Config) *Pic16Baseline {
	c := &Pic16Baseline{lastAddress: baselineConfigAddress}
	c.cfg = cfg
	c.model = c
	return c
}

func (c *Pic16Baseline) Open(ctx context.Context) error {
	if err := c.openWithInit(ctx); err != nil {
		return err
	}
	c.lastAddress = baselineConfigAddress
	return nil
}

// loadAddress has no LOAD_CONFIGURATION to jump directly into the
// configuration region with, so any seek into it — or any backward seek in
// flash/EEPROM — goes through a full ResetDevice and then walks forward
// with incrementPc.
func (c *Pic16Baseline) loadAddress(ctx context.Context, section devicedb.Region, address uint32, di *devicedb.DeviceInfo) error {
	switch section {
	case devicedb.Configuration:
		if c.lastAddress != baselineConfigAddress {
			if err := c.resetDevice(ctx); err != nil {
				return err
			}
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
	// A reset (or a fresh Open) leaves last_address_ at the sentinel, which
	// represents "one below zero": walk it onto 0 before the ordinary
	// forward-seek loop below, which compares against real addresses.
	if c.lastAddress == baselineConfigAddress {
		if err := c.incrementPc(ctx, di); err != nil {
			return err
		}
	}
	for c.lastAddress < address {
		if err := c.incrementPc(ctx, di); err != nil {
			return err
		}
	}
	return nil
}

func (c *Pic16Baseline) resetDevice(ctx context.Context) error {
	if err := c.reissueInit(ctx); err != nil {
		return err
	}
	c.lastAddress = baselineConfigAddress
	return nil
}

func (c *Pic16Baseline) incrementPc(ctx context.Context, di *devicedb.DeviceInfo) error {
	if err := c.writeBareCommand(ctx, seqgen.IncrementAddress); err != nil {
		return err
	}
	if c.lastAddress == baselineConfigAddress {
		c.lastAddress = 0
		return nil
	}
	c.lastAddress += 2
	return nil
}

func (c *Pic16Baseline) invalidateAddress() {
	c.lastAddress = baselineConfigAddress
}
