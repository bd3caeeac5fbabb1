// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package highlevel implements the single-entry-point orchestrator (spec
// §4.6): it opens a device, matches its ID against the device database,
// plans image alignment against device geometry, schedules erases, and
// drives write-then-verify, retrying around SYNC_LOST the way
// fpicprog.cc's Pic16Controller-agnostic top level does.
package highlevel

import (
	"bytes"
	"context"

	"github.com/icsp-go/fpicprog/controller"
	"github.com/icsp-go/fpicprog/devicedb"
	"github.com/icsp-go/fpicprog/program"
	"github.com/icsp-go/fpicprog/status"
)

// EraseMode selects how the write path reconciles a sparse program image
// against block/row granularity before writing (spec §4.6 "Write path").
type EraseMode int

const (
	// EraseNone writes only what the caller supplied, with no alignment
	// padding beyond what ReadProgram-then-splice naturally provides.
	EraseNone EraseMode = iota
	// EraseChip erases the whole device before writing; missing portions of
	// a partially-covered write block are filled with the device's erased
	// value rather than read back, since the erase already put them there.
	EraseChip
	// EraseSection erases only the regions the program touches; missing
	// portions are filled the same way as EraseChip.
	EraseSection
	// EraseRow relies on each block write implicitly erasing its own row;
	// missing portions of a partially-covered block are read back from the
	// device and spliced in so only whole erase blocks are ever written.
	EraseRow
)

func (m EraseMode) String() string {
	switch m {
	case EraseNone:
		return "none"
	case EraseChip:
		return "chip"
	case EraseSection:
		return "section"
	case EraseRow:
		return "row"
	default:
		return "?"
	}
}

// AllSections is every region in the order the CLI's --sections=all expands
// to.
var AllSections = []devicedb.Region{devicedb.Flash, devicedb.UserID, devicedb.Configuration, devicedb.EEPROM}

// readChunk bounds how many bytes the orchestrator asks a single
// controller.Read call for (spec §4.6 "Read path": "loop reading up to 128
// bytes per controller call").
const readChunk = 128

// maxIdentifyRetries bounds both the initial device-open retry loop and the
// SYNC_LOST re-identification loop (spec §4.6 "Device open", "Read path").
const maxIdentifyRetries = 10

// Orchestrator drives one family's controller against a device database to
// implement the read/write/erase/identify contract (spec §4.6). It owns
// neither the controller nor the database across calls: each public method
// opens a fresh controller, does its work, and closes it unconditionally on
// every exit path (spec §9 "Scoped device close").
type Orchestrator struct {
	newController func() controller.Controller
	db            *devicedb.Db
	forcedDevice  string

	// di is the DeviceInfo resolved by the most recent openDevice call,
	// valid only for the duration of the public method that called it.
	di *devicedb.DeviceInfo
}

// New returns an Orchestrator that constructs a fresh controller with
// newController for every operation, resolving device identity against db.
// forcedDevice, if non-empty, names a device the caller has pinned via
// --device; the opened device's ID is then required to match it (unless the
// catalogue entry carries device_id 0, meaning it is looked up by name
// only).
func New(newController func() controller.Controller, db *devicedb.Db, forcedDevice string) *Orchestrator {
	return &Orchestrator{newController: newController, db: db, forcedDevice: forcedDevice}
}

// openDevice implements spec §4.6 "Device open": up to 10 retries, each
// opening a new controller and reading back its device ID; an ID of 0 or an
// error causes the controller to be closed and the attempt retried. On
// success the ID is resolved to a DeviceInfo (or checked against the forced
// device name) and stored on o for the operation's duration.
func (o *Orchestrator) openDevice(ctx context.Context) (controller.Controller, error) {
	var lastErr error
	for attempt := 0; attempt < maxIdentifyRetries; attempt++ {
		ctrl := o.newController()
		if err := ctrl.Open(ctx); err != nil {
			lastErr = err
			continue
		}
		id, _, err := ctrl.ReadDeviceID(ctx)
		if err != nil {
			ctrl.Close()
			lastErr = err
			continue
		}
		if id == 0 {
			ctrl.Close()
			lastErr = status.Errorf(status.DeviceNotFound, "device reported ID 0")
			continue
		}
		di, err := o.resolveDeviceInfo(id)
		if err != nil {
			ctrl.Close()
			return nil, err
		}
		o.di = di
		return ctrl, nil
	}
	return nil, status.Wrap(status.DeviceNotFound, lastErr, "could not identify device after %d attempts", maxIdentifyRetries)
}

func (o *Orchestrator) resolveDeviceInfo(id uint16) (*devicedb.DeviceInfo, error) {
	if o.forcedDevice != "" {
		di, err := o.db.ByName(o.forcedDevice)
		if err != nil {
			return nil, err
		}
		if di.DeviceID != 0 && di.DeviceID != id {
			return nil, status.Errorf(status.DeviceNotFound,
				"attached device reports ID %#04x, which does not match forced device %q (expects %#04x)",
				id, o.forcedDevice, di.DeviceID)
		}
		return di, nil
	}
	return o.db.ByID(id)
}

// Identify opens a device, resolves it against the database and returns its
// DeviceInfo plus the silicon revision read back alongside the ID.
func (o *Orchestrator) Identify(ctx context.Context) (*devicedb.DeviceInfo, uint16, error) {
	ctrl, err := o.openDevice(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer ctrl.Close()
	_, revision, err := ctrl.ReadDeviceID(ctx)
	if err != nil {
		return nil, 0, err
	}
	return o.di, revision, nil
}

// recoverFromSyncLoss implements the SYNC_LOST recovery policy shared by
// Read and the write-path verification read: re-identify the device up to
// 10 times; if the ID still matches the device this operation opened,
// recovery succeeds and the caller may retry from its current position;
// otherwise it returns a SYNC_LOST error (spec §7 "Policy").
func (o *Orchestrator) recoverFromSyncLoss(ctx context.Context, ctrl controller.Controller) error {
	for attempt := 0; attempt < maxIdentifyRetries; attempt++ {
		id, _, err := ctrl.ReadDeviceID(ctx)
		if err == nil && id == o.di.DeviceID {
			return nil
		}
	}
	return status.Errorf(status.SyncLost, "lost synchronization and could not re-identify device %s", o.di.Name)
}

// readRegion reads [start, end) of section in readChunk-sized calls,
// recovering from each SYNC_LOST by re-identifying the device and retrying
// the same chunk (spec §4.6 "Read path").
func (o *Orchestrator) readRegion(ctx context.Context, ctrl controller.Controller, section devicedb.Region, start, end uint32, di *devicedb.DeviceInfo) ([]byte, error) {
	out := make([]byte, 0, end-start)
	for addr := start; addr < end; {
		n := uint32(readChunk)
		if remain := end - addr; n > remain {
			n = remain
		}
		data, err := ctrl.Read(ctx, section, addr, addr+n, di)
		if err != nil {
			if status.Is(err, status.SyncLost) {
				if rerr := o.recoverFromSyncLoss(ctx, ctrl); rerr != nil {
					return nil, rerr
				}
				continue
			}
			return nil, err
		}
		out = append(out, data...)
		addr += n
	}
	return out, nil
}

// ReadProgram reads every requested section present on the device into a
// single Program (spec §4.6 "Read path").
func (o *Orchestrator) ReadProgram(ctx context.Context, sections []devicedb.Region) (*program.Program, error) {
	ctrl, err := o.openDevice(ctx)
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()
	di := o.di

	out := program.New()
	for _, section := range sections {
		ext := di.Regions[section]
		if ext.Size == 0 {
			continue
		}
		data, err := o.readRegion(ctx, ctrl, section, ext.Base, ext.Base+ext.Size, di)
		if err != nil {
			return nil, err
		}
		if err := out.AddBlock(ext.Base, data); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ChipErase opens a device and erases it in its entirety.
func (o *Orchestrator) ChipErase(ctx context.Context) error {
	ctrl, err := o.openDevice(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	return ctrl.ChipErase(ctx, o.di)
}

// SectionErase opens a device and erases each requested section that is
// present on it.
func (o *Orchestrator) SectionErase(ctx context.Context, sections []devicedb.Region) error {
	ctrl, err := o.openDevice(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	di := o.di
	for _, section := range sections {
		if di.Regions[section].Size == 0 {
			continue
		}
		if err := ctrl.SectionErase(ctx, section, di); err != nil {
			return err
		}
	}
	return nil
}

// regionOf returns the region address falls within and whether one was
// found.
func regionOf(di *devicedb.DeviceInfo, address uint32) (devicedb.Region, bool) {
	for r := devicedb.Region(0); r < 4; r++ {
		ext := di.Regions[r]
		if ext.Size == 0 {
			continue
		}
		if address >= ext.Base && address < ext.Base+ext.Size {
			return r, true
		}
	}
	return 0, false
}

// regionBoundaries returns the set of addresses MergeProgramBlocks must
// never merge across: the start of every present region (spec §4.5
// "MergeProgramBlocks").
func regionBoundaries(di *devicedb.DeviceInfo) program.RegionBoundary {
	b := program.RegionBoundary{}
	for r := devicedb.Region(0); r < 4; r++ {
		if di.Regions[r].Size > 0 {
			b[di.Regions[r].Base] = true
		}
	}
	return b
}

func containsRegion(sections []devicedb.Region, want devicedb.Region) bool {
	for _, s := range sections {
		if s == want {
			return true
		}
	}
	return false
}

// alignProgram implements phase 1 of the write path (spec §4.6 "Write
// path"): for every FLASH write_block_size-sized block the program
// partially covers, it fills in the missing bytes so the image can be
// written in whole blocks. Under EraseChip/EraseSection the fill value is
// the device's erased pattern (BlockFiller), since the scheduled erase will
// already have put those bytes there. Under EraseRow or EraseNone, the
// missing bytes are read back from the device and spliced in, so only
// addresses the caller actually supplied are ever overwritten blind.
// Non-FLASH blocks pass through unchanged: their regions are always written
// byte range-at-a-time (spec §4.3's per-family Write contracts apply their
// own block-size requirements for those sections).
func (o *Orchestrator) alignProgram(ctx context.Context, ctrl controller.Controller, prog *program.Program, di *devicedb.DeviceInfo, mode EraseMode) (*program.Program, error) {
	out := program.New()
	flash := di.Regions[devicedb.Flash]
	blockSize := di.WriteBlockSize

	touched := map[uint32]bool{}
	var order []uint32
	for _, b := range prog.Blocks() {
		end := b.Address + uint32(len(b.Data))
		if blockSize == 0 || b.Address < flash.Base || end > flash.Base+flash.Size {
			if err := out.AddBlock(b.Address, b.Data); err != nil {
				return nil, err
			}
			continue
		}
		first := flash.Base + (b.Address-flash.Base)/blockSize*blockSize
		last := flash.Base + (end-1-flash.Base)/blockSize*blockSize
		for base := first; base <= last; base += blockSize {
			if !touched[base] {
				touched[base] = true
				order = append(order, base)
			}
		}
	}

	for _, base := range order {
		window := make([]byte, blockSize)
		for i := uint32(0); i < blockSize; i++ {
			addr := base + i
			if v, ok := prog.ByteAt(addr); ok {
				window[i] = v
				continue
			}
			switch mode {
			case EraseChip, EraseSection:
				window[i] = o.db.BlockFiller[int(i)%len(o.db.BlockFiller)]
			default:
				b, err := o.readRegion(ctx, ctrl, devicedb.Flash, addr, addr+1, di)
				if err != nil {
					return nil, err
				}
				window[i] = b[0]
			}
		}
		if err := out.AddBlock(base, window); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteProgram implements the full write path (spec §4.6 "Write path"):
// align the sparse image to device block geometry, merge adjacent blocks
// without crossing region boundaries, strip any addresses the device
// declares unimplemented, schedule the requested erase, then write and
// verify every resulting block.
func (o *Orchestrator) WriteProgram(ctx context.Context, sections []devicedb.Region, prog *program.Program, mode EraseMode) error {
	ctrl, err := o.openDevice(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	di := o.di

	aligned, err := o.alignProgram(ctx, ctrl, prog, di, mode)
	if err != nil {
		return err
	}

	merged, err := program.MergeProgramBlocks(aligned, regionBoundaries(di))
	if err != nil {
		return err
	}
	merged = program.RemoveMissingConfigBytes(merged, di.MissingLocations)

	present := map[devicedb.Region]bool{}
	for _, b := range merged.Blocks() {
		if r, ok := regionOf(di, b.Address); ok && containsRegion(sections, r) {
			present[r] = true
		}
	}

	switch mode {
	case EraseChip:
		if len(present) > 0 {
			if err := ctrl.ChipErase(ctx, di); err != nil {
				return err
			}
		}
	case EraseSection:
		for _, r := range AllSections {
			if present[r] {
				if err := ctrl.SectionErase(ctx, r, di); err != nil {
					return err
				}
			}
		}
	case EraseRow, EraseNone:
		// No explicit erase call: EraseRow relies on each block write
		// implicitly erasing its own row, and EraseNone performs none.
	}

	for _, b := range merged.Blocks() {
		region, ok := regionOf(di, b.Address)
		if !ok || !containsRegion(sections, region) {
			continue
		}
		if err := ctrl.Write(ctx, region, b.Address, b.Data, di); err != nil {
			return err
		}
		readBack, err := o.readRegion(ctx, ctrl, region, b.Address, b.Address+uint32(len(b.Data)), di)
		if err != nil {
			return err
		}
		if !bytes.Equal(readBack, b.Data) {
			return status.Errorf(status.VerificationError,
				"verification failed for %s at %#06x: wrote %d bytes, read back differs", region, b.Address, len(b.Data))
		}
	}
	return nil
}
