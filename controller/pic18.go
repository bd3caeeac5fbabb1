// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controller

import (
	"context"
	"time"

	"github.com/icsp-go/fpicprog/devicedb"
	"github.com/icsp-go/fpicprog/pinmap"
	"github.com/icsp-go/fpicprog/seqgen"
	"github.com/icsp-go/fpicprog/status"
)

// Pic18 implements the ICSP state machine for the PIC18 family (spec §4.3
// "PIC18 controller"), grounded on pic18controller.cc.
type Pic18 struct {
	common
	gen seqgen.Pic18Generator
}

// NewPic18 returns a Pic18 controller that opens its transport with cfg.
func NewPic18(cfg pinmap.Config) *Pic18 {
	return &Pic18{common: common{cfg: cfg}}
}

func (c *Pic18) Open(ctx context.Context) error {
	if err := c.openTransport(ctx, c.cfg); err != nil {
		return err
	}
	return c.t.WriteTimedSequence(ctx, seqgen.BuildInitSequence(c.cfg.Handshake))
}

func (c *Pic18) writeCommand(ctx context.Context, cmd seqgen.Pic18Command, payload uint16) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	return c.t.WriteDatastring(ctx, c.gen.EncodeCommand(cmd, payload))
}

// readBytes issues cmd count times and returns the assembled byte string;
// each repetition's payload bits land at offset 12 (after the 4 command
// bits and the first 8 of the 16 payload-width clocks the read command
// itself drives, per ReadWithCommand's driver_->ReadWithSequence(..., 12,
// 8, count, ...) call), 8 bits wide.
func (c *Pic18) readBytes(ctx context.Context, cmd seqgen.Pic18Command, count int) ([]byte, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	words, err := readBits(ctx, c.t, c.gen.EncodeCommand(cmd, 0), 12, 8, count, true)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(words))
	for i, w := range words {
		out[i] = byte(w)
	}
	return out, nil
}

func (c *Pic18) ReadDeviceID(ctx context.Context) (uint16, uint16, error) {
	if err := c.loadAddress(ctx, 0x3ffffe); err != nil {
		return 0, 0, err
	}
	bytes, err := c.readBytes(ctx, seqgen.TableReadPostInc, 2)
	if err != nil {
		return 0, 0, err
	}
	word := uint16(bytes[0]) | uint16(bytes[1])<<8
	revision := word & 0x1f
	deviceID := word &^ 0x1f
	return deviceID, revision, nil
}

func (c *Pic18) Read(ctx context.Context, section devicedb.Region, start, end uint32, di *devicedb.DeviceInfo) ([]byte, error) {
	if section != devicedb.EEPROM {
		if err := c.loadAddress(ctx, start); err != nil {
			return nil, err
		}
		return c.readBytes(ctx, seqgen.TableReadPostInc, int(end-start))
	}

	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x9EA6); err != nil { // BCF EECON1, EEPGD
		return nil, err
	}
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x9CA6); err != nil { // BCF EECON1, CFGS
		return nil, err
	}
	out := make([]byte, 0, end-start)
	for addr := start; addr < end; addr++ {
		if err := c.loadEepromAddress(ctx, addr); err != nil {
			return nil, err
		}
		if err := c.writeCommand(ctx, seqgen.CoreInst, 0x80A6); err != nil { // BSF EECON1, RD
			return nil, err
		}
		if err := c.writeCommand(ctx, seqgen.CoreInst, 0x50A8); err != nil { // MOVF EEDATA, W
			return nil, err
		}
		if err := c.writeCommand(ctx, seqgen.CoreInst, 0x6EF5); err != nil { // MOVWF TABLAT
			return nil, err
		}
		if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0000); err != nil { // NOP
			return nil, err
		}
		b, err := c.readBytes(ctx, seqgen.ShiftOutTablat, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func (c *Pic18) Write(ctx context.Context, section devicedb.Region, address uint32, data []byte, di *devicedb.DeviceInfo) error {
	switch section {
	case devicedb.Flash, devicedb.UserID:
		blockSize := di.WriteBlockSize
		if section == devicedb.UserID {
			blockSize = di.Regions[devicedb.UserID].Size
		}
		if blockSize == 0 || blockSize%2 != 0 || blockSize < 2 {
			return status.Errorf(status.InvalidArgument, "pic18: block size must be an even number >= 2, got %d", blockSize)
		}
		if address%blockSize != 0 {
			return status.Errorf(status.InvalidArgument, "pic18: address %#x is not a multiple of block size %d", address, blockSize)
		}
		if uint32(len(data))%blockSize != 0 {
			return status.Errorf(status.InvalidArgument, "pic18: data length %d is not a multiple of block size %d", len(data), blockSize)
		}
		for i := uint32(0); i < uint32(len(data)); i += blockSize {
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x8EA6); err != nil { // BSF EECON1, EEPGD
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x9CA6); err != nil { // BCF EECON1, CFGS
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x84A6); err != nil { // BSF EECON1, WREN
				return err
			}
			if err := c.loadAddress(ctx, address+i); err != nil {
				return err
			}
			for j := uint32(0); j < blockSize-2; j += 2 {
				pair := uint16(data[i+j]) | uint16(data[i+j+1])<<8
				if err := c.writeCommand(ctx, seqgen.TableWritePostInc2, pair); err != nil {
					return err
				}
			}
			last := uint16(data[i+blockSize-2]) | uint16(data[i+blockSize-1])<<8
			if err := c.writeCommand(ctx, seqgen.TableWritePostInc2StartPgm, last); err != nil {
				return err
			}
			if err := c.t.WriteTimedSequence(ctx, c.gen.WriteSequence(di.BlockWriteTiming)); err != nil {
				return err
			}
		}
	case devicedb.Configuration:
		for i, b := range data {
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x8EA6); err != nil { // BSF EECON1, EEPGD
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x8CA6); err != nil { // BSF EECON1, CFGS
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x84A6); err != nil { // BSF EECON1, WREN
				return err
			}
			if err := c.loadAddress(ctx, address+uint32(i)); err != nil {
				return err
			}
			// Only one of the two copies of b is latched, depending on
			// whether the address is odd or even; the other is ignored.
			pair := uint16(b) | uint16(b)<<8
			if err := c.writeCommand(ctx, seqgen.TableWritePostInc2StartPgm, pair); err != nil {
				return err
			}
			if err := c.t.WriteTimedSequence(ctx, c.gen.WriteSequence(di.ConfigWriteTiming)); err != nil {
				return err
			}
		}
	case devicedb.EEPROM:
		for i, b := range data {
			addr := address + uint32(i)
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x9EA6); err != nil { // BCF EECON1, EEPGD
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x9CA6); err != nil { // BCF EECON1, CFGS
				return err
			}
			if err := c.loadEepromAddress(ctx, addr); err != nil {
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0E00|uint16(b)); err != nil { // MOVLW <data>
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x84A6); err != nil { // BSF EECON1, WREN
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x82A6); err != nil { // BSF EECON1, WR
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0000); err != nil { // NOP
				return err
			}
			if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0000); err != nil { // NOP
				return err
			}
			for {
				if err := c.writeCommand(ctx, seqgen.CoreInst, 0x50A6); err != nil { // MOVF EECON1, W
					return err
				}
				if err := c.writeCommand(ctx, seqgen.CoreInst, 0x6EF5); err != nil { // MOVWF TABLAT
					return err
				}
				if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0000); err != nil { // NOP
					return err
				}
				v, err := c.readBytes(ctx, seqgen.ShiftOutTablat, 1)
				if err != nil {
					return err
				}
				if v[0]&2 == 0 {
					break
				}
			}
			// Settle for 200 µs after WR clears.
			if err := c.t.WriteTimedSequence(ctx, seqgen.TimedSequence{{Pattern: seqgen.Idle(seqgen.Base), Sleep: 200 * time.Microsecond}}); err != nil {
				return err
			}
		}
		if err := c.writeCommand(ctx, seqgen.CoreInst, 0x94A6); err != nil { // BCF EECON1, WREN
			return err
		}
	default:
		return status.Errorf(status.Unimplemented, "pic18: write not implemented for section %s", section)
	}
	return nil
}

func (c *Pic18) ChipErase(ctx context.Context, di *devicedb.DeviceInfo) error {
	return c.executeBulkErase(ctx, di.ChipErase, di)
}

func (c *Pic18) SectionErase(ctx context.Context, section devicedb.Region, di *devicedb.DeviceInfo) error {
	switch section {
	case devicedb.Flash:
		return c.executeBulkErase(ctx, di.FlashErase, di)
	case devicedb.UserID:
		return c.executeBulkErase(ctx, di.UserIDErase, di)
	case devicedb.Configuration:
		return c.executeBulkErase(ctx, di.ConfigErase, di)
	case devicedb.EEPROM:
		return c.executeBulkErase(ctx, di.EEPROMErase, di)
	default:
		return status.Errorf(status.Unimplemented, "pic18: section erase not implemented for %s", section)
	}
}

func (c *Pic18) executeBulkErase(ctx context.Context, sequence []uint16, di *devicedb.DeviceInfo) error {
	timed := c.gen.BulkEraseSequence(di.BulkEraseTiming)
	for _, value := range sequence {
		if err := c.loadAddress(ctx, 0x3C0005); err != nil {
			return err
		}
		upper := value & 0xff00
		upper |= upper >> 8
		if err := c.writeCommand(ctx, seqgen.TableWrite, upper); err != nil {
			return err
		}
		if err := c.loadAddress(ctx, 0x3C0004); err != nil {
			return err
		}
		lower := value & 0xff
		lower |= lower << 8
		if err := c.writeCommand(ctx, seqgen.TableWrite, lower); err != nil {
			return err
		}
		if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0000); err != nil { // NOP
			return err
		}
		if err := c.t.WriteTimedSequence(ctx, timed); err != nil {
			return err
		}
	}
	return nil
}

// loadAddress loads TBLPTRU/H/L with the three bytes of address (spec
// §4.3 "Read FLASH/USER_ID/CONFIGURATION").
func (c *Pic18) loadAddress(ctx context.Context, address uint32) error {
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0E00|uint16(address>>16&0xff)); err != nil {
		return err
	}
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x6EF8); err != nil { // MOVWF TBLPTRU
		return err
	}
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0E00|uint16(address>>8&0xff)); err != nil {
		return err
	}
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x6EF7); err != nil { // MOVWF TBLPTRH
		return err
	}
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0E00|uint16(address&0xff)); err != nil {
		return err
	}
	return c.writeCommand(ctx, seqgen.CoreInst, 0x6EF6) // MOVWF TBLPTRL
}

func (c *Pic18) loadEepromAddress(ctx context.Context, address uint32) error {
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0E00|uint16(address&0xff)); err != nil {
		return err
	}
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x6EA9); err != nil { // MOVWF EEARD (low)
		return err
	}
	if err := c.writeCommand(ctx, seqgen.CoreInst, 0x0E00|uint16(address>>8&0xff)); err != nil {
		return err
	}
	return c.writeCommand(ctx, seqgen.CoreInst, 0x6EAA) // MOVWF EEARD (high)
}
