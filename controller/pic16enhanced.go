// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controller

import (
	"context"

	"github.com/icsp-go/fpicprog/devicedb"
	"github.com/icsp-go/fpicprog/pinmap"
	"github.com/icsp-go/fpicprog/seqgen"
	"github.com/icsp-go/fpicprog/status"
)

// Pic16Enhanced implements the enhanced midrange ("PIC16 new") family (spec
// §4.3 "PIC16 enhanced controller"), grounded on
// pic16enhancedcontroller.cc. Unlike the plain midrange family it addresses
// memory directly through LOAD_PC rather than tracking a walked program
// counter, so it carries no address-model state of its own.
type Pic16Enhanced struct {
	common
	gen seqgen.Pic16NewGenerator
}

// NewPic16Enhanced returns a Pic16Enhanced controller that opens its
// transport with cfg.
func NewPic16Enhanced(cfg pinmap.Config) *Pic16Enhanced {
	return &Pic16Enhanced{common: common{cfg: cfg}}
}

func (c *Pic16Enhanced) Open(ctx context.Context) error {
	if err := c.openTransport(ctx, c.cfg); err != nil {
		return err
	}
	return c.t.WriteTimedSequence(ctx, seqgen.BuildInitSequence(c.cfg.Handshake))
}

func (c *Pic16Enhanced) writeCommand(ctx context.Context, cmd seqgen.Pic16NewCommand, payload uint16) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	return c.t.WriteDatastring(ctx, c.gen.EncodeCommand(cmd, payload))
}

// readWords issues cmd count times and returns the assembled 14-bit payload
// words, sampled MSB-first starting right after the 8 command bits and 9
// zero bits (spec §4.2 "Enhanced (PIC16 new) uses 8 MSB-first command bits,
// 9 leading zero bits, 14 payload bits and a stop bit"; the trailing stop
// bit is not part of the sampled datum).
func (c *Pic16Enhanced) readWords(ctx context.Context, cmd seqgen.Pic16NewCommand, count int) ([]uint16, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	return readBits(ctx, c.t, c.gen.EncodeCommand(cmd, 0), 17, 14, count, false)
}

func (c *Pic16Enhanced) ReadDeviceID(ctx context.Context) (uint16, uint16, error) {
	if err := c.writeCommand(ctx, seqgen.Pic16NewLoadPC, 0x8005); err != nil {
		return 0, 0, err
	}
	words, err := c.readWords(ctx, seqgen.Pic16NewReadDataInc, 2)
	if err != nil {
		return 0, 0, err
	}
	deviceID := words[1]
	revision := words[0] & 0xfff
	return deviceID, revision, nil
}

func (c *Pic16Enhanced) Read(ctx context.Context, section devicedb.Region, start, end uint32, di *devicedb.DeviceInfo) ([]byte, error) {
	if err := c.writeCommand(ctx, seqgen.Pic16NewLoadPC, uint16(start/2)); err != nil {
		return nil, err
	}
	words, err := c.readWords(ctx, seqgen.Pic16NewReadDataInc, int((end-start)/2))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(words)*2)
	for _, w := range words {
		out = append(out, byte(w), byte(w>>8)&0x3f)
	}
	return out, nil
}

func (c *Pic16Enhanced) Write(ctx context.Context, section devicedb.Region, address uint32, data []byte, di *devicedb.DeviceInfo) error {
	blockSize := uint32(2)
	if section == devicedb.Flash {
		blockSize = di.WriteBlockSize
	}
	if blockSize == 0 {
		return status.Errorf(status.InvalidArgument, "pic16enhanced: write_block_size must be > 0")
	}
	if address%blockSize != 0 {
		return status.Errorf(status.InvalidArgument, "pic16enhanced: address %#x is not a multiple of the write block size", address)
	}
	if uint32(len(data))%blockSize != 0 {
		return status.Errorf(status.InvalidArgument, "pic16enhanced: data size %d is not a multiple of the write block size", len(data))
	}
	if err := c.writeCommand(ctx, seqgen.Pic16NewLoadPC, uint16(address/2)); err != nil {
		return err
	}
	for i := uint32(0); i < uint32(len(data)); i += blockSize {
		for step := uint32(0); step < blockSize; step += 2 {
			word := uint16(data[i+step]) | uint16(data[i+step+1])<<8
			if err := c.writeCommand(ctx, seqgen.Pic16NewLoadDataInc, word); err != nil {
				return err
			}
		}
		// Commit the loaded block (spec §4.3 "PIC16 enhanced controller":
		// "writes with LOAD_DATA_INC then BEGIN_PROGRAMMING_INT_TIMED as the
		// write pulse"), the same BEGIN_PROGRAMMING_INT_TIMED + WriteSequence
		// pairing ChipErase uses below.
		if err := c.writeCommand(ctx, seqgen.Pic16NewBeginProgrammingIntTimed, 0); err != nil {
			return err
		}
		if err := c.t.WriteTimedSequence(ctx, c.gen.WriteSequence(di.BlockWriteTiming)); err != nil {
			return err
		}
	}
	return nil
}

// chipEraseAddresses are the two PC values a full chip erase must be
// issued at to cover both program and data memory (spec §4.3 "PIC16
// enhanced controller": "two erases at 0x8000 and 0xF000").
var chipEraseAddresses = [2]uint16{0x8000, 0xF000}

func (c *Pic16Enhanced) ChipErase(ctx context.Context, di *devicedb.DeviceInfo) error {
	for _, pc := range chipEraseAddresses {
		if err := c.writeCommand(ctx, seqgen.Pic16NewLoadPC, pc); err != nil {
			return err
		}
		if err := c.writeCommand(ctx, seqgen.Pic16NewBeginProgrammingIntTimed, 0); err != nil {
			return err
		}
		if err := c.t.WriteTimedSequence(ctx, c.gen.WriteSequence(di.BulkEraseTiming)); err != nil {
			return err
		}
	}
	return nil
}

// SectionErase is not implemented for this family: the original only ever
// erases it as a whole (spec §4.3 "PIC16 enhanced controller"; the
// reference implementation returns UNIMPLEMENTED here too).
func (c *Pic16Enhanced) SectionErase(ctx context.Context, section devicedb.Region, di *devicedb.DeviceInfo) error {
	return status.Errorf(status.Unimplemented, "pic16enhanced: section erase not implemented")
}
