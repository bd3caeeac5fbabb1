// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package highlevel

import (
	"context"
	"strings"
	"testing"

	"github.com/icsp-go/fpicprog/controller"
	"github.com/icsp-go/fpicprog/devicedb"
	"github.com/icsp-go/fpicprog/program"
	"github.com/icsp-go/fpicprog/status"
)

const testCatalogue = `
[TEST16]
device_id = 1050h
program_memory_size = 64
write_block_size = 16
erase_block_size = 16
chip_erase = 1
bulk_erase_timing = 1ms
block_write_timing = 1ms
`

func testDb(t *testing.T) *devicedb.Db {
	t.Helper()
	db := devicedb.New(1, []byte{0xff}, nil)
	if err := db.Load(strings.NewReader(testCatalogue)); err != nil {
		t.Fatalf("db.Load() = %v, want nil", err)
	}
	return db
}

// fakeController is a controller.Controller test double that records calls
// and serves reads from an in-memory flash image, letting orchestrator
// tests exercise the open/retry, alignment, and verify logic without any
// real transport.
type fakeController struct {
	deviceID      uint16
	openErr       error
	readIDErr     error
	flash         []byte
	syncLostOnce  bool
	chipErased    bool
	sectionErased []devicedb.Region
	writes        []writeCall

	// noopWrite, when true, makes Write record the call without updating
	// flash, so a subsequent read-back can never match.
	noopWrite bool
}

type writeCall struct {
	section devicedb.Region
	address uint32
	data    []byte
}

var _ controller.Controller = (*fakeController)(nil)

func (f *fakeController) Open(ctx context.Context) error { return f.openErr }
func (f *fakeController) Close() error                   { return nil }

func (f *fakeController) ReadDeviceID(ctx context.Context) (uint16, uint16, error) {
	if f.readIDErr != nil {
		return 0, 0, f.readIDErr
	}
	return f.deviceID, 1, nil
}

func (f *fakeController) Read(ctx context.Context, section devicedb.Region, start, end uint32, di *devicedb.DeviceInfo) ([]byte, error) {
	if f.syncLostOnce {
		f.syncLostOnce = false
		return nil, status.Errorf(status.SyncLost, "fake sync loss")
	}
	if section != devicedb.Flash {
		return make([]byte, end-start), nil
	}
	if int(end) > len(f.flash) {
		grown := make([]byte, end)
		copy(grown, f.flash)
		f.flash = grown
	}
	out := make([]byte, end-start)
	copy(out, f.flash[start:end])
	return out, nil
}

func (f *fakeController) Write(ctx context.Context, section devicedb.Region, address uint32, data []byte, di *devicedb.DeviceInfo) error {
	f.writes = append(f.writes, writeCall{section, address, append([]byte(nil), data...)})
	if f.noopWrite || section != devicedb.Flash {
		return nil
	}
	end := address + uint32(len(data))
	if int(end) > len(f.flash) {
		grown := make([]byte, end)
		copy(grown, f.flash)
		f.flash = grown
	}
	copy(f.flash[address:end], data)
	return nil
}

func (f *fakeController) ChipErase(ctx context.Context, di *devicedb.DeviceInfo) error {
	f.chipErased = true
	for i := range f.flash {
		f.flash[i] = 0xff
	}
	return nil
}

func (f *fakeController) SectionErase(ctx context.Context, section devicedb.Region, di *devicedb.DeviceInfo) error {
	f.sectionErased = append(f.sectionErased, section)
	return nil
}

func newOrchestrator(t *testing.T, ctrl *fakeController) *Orchestrator {
	t.Helper()
	return New(func() controller.Controller { return ctrl }, testDb(t), "")
}

func TestIdentifyResolvesDeviceInfo(t *testing.T) {
	ctrl := &fakeController{deviceID: 0x1050}
	o := newOrchestrator(t, ctrl)
	di, rev, err := o.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify() = %v, want nil", err)
	}
	if di.Name != "TEST16" {
		t.Errorf("Identify() device = %q, want TEST16", di.Name)
	}
	if rev != 1 {
		t.Errorf("Identify() revision = %d, want 1", rev)
	}
}

// TestOpenDeviceRetriesOnZeroID is spec §4.6 "Device open": an ID of 0
// causes a retry rather than an immediate failure.
func TestOpenDeviceRetriesOnZeroID(t *testing.T) {
	ctrl := &fakeController{deviceID: 0x1050}
	calls := 0
	o := New(func() controller.Controller {
		calls++
		if calls < 3 {
			return &fakeController{deviceID: 0}
		}
		return ctrl
	}, testDb(t), "")

	_, _, err := o.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify() = %v, want nil after retries", err)
	}
	if calls != 3 {
		t.Errorf("controller constructed %d times, want 3 (2 zero-ID failures + 1 success)", calls)
	}
}

func TestIdentifyFailsAfterMaxRetries(t *testing.T) {
	o := newOrchestrator(t, &fakeController{deviceID: 0})
	_, _, err := o.Identify(context.Background())
	if err == nil {
		t.Fatal("Identify() = nil, want DEVICE_NOT_FOUND after exhausting retries")
	}
	if !status.Is(err, status.DeviceNotFound) {
		t.Errorf("Identify() error = %v, want DEVICE_NOT_FOUND", err)
	}
}

func TestReadProgramReadsEntireFlash(t *testing.T) {
	flash := make([]byte, 64)
	for i := range flash {
		flash[i] = byte(i)
	}
	ctrl := &fakeController{deviceID: 0x1050, flash: flash}
	o := newOrchestrator(t, ctrl)

	prog, err := o.ReadProgram(context.Background(), []devicedb.Region{devicedb.Flash})
	if err != nil {
		t.Fatalf("ReadProgram() = %v, want nil", err)
	}
	blocks := prog.Blocks()
	if len(blocks) != 1 || blocks[0].Address != 0 || len(blocks[0].Data) != 64 {
		t.Fatalf("ReadProgram() blocks = %+v, want one 64-byte block at 0", blocks)
	}
}

// TestReadProgramRecoversFromSyncLoss is scenario #8 from spec §8 combined
// with the §7 recovery policy: a single SYNC_LOST is absorbed by
// re-identifying the device and retrying the same chunk.
func TestReadProgramRecoversFromSyncLoss(t *testing.T) {
	ctrl := &fakeController{deviceID: 0x1050, flash: make([]byte, 64), syncLostOnce: true}
	o := newOrchestrator(t, ctrl)

	_, err := o.ReadProgram(context.Background(), []devicedb.Region{devicedb.Flash})
	if err != nil {
		t.Fatalf("ReadProgram() = %v, want nil (recovered from one SYNC_LOST)", err)
	}
}

// TestWriteProgramChipEraseAlignsAndFillsBlock is scenario #5 from spec §8:
// a program covering only part of a write block gets the remainder filled
// with the device's block_filler under CHIP_ERASE.
func TestWriteProgramChipEraseAlignsAndFillsBlock(t *testing.T) {
	ctrl := &fakeController{deviceID: 0x1050, flash: make([]byte, 64)}
	o := newOrchestrator(t, ctrl)

	prog := program.New()
	data := make([]byte, 8)
	for i := range data {
		data[i] = 0xaa
	}
	if err := prog.AddBlock(0, data); err != nil {
		t.Fatalf("AddBlock() = %v, want nil", err)
	}

	if err := o.WriteProgram(context.Background(), []devicedb.Region{devicedb.Flash}, prog, EraseChip); err != nil {
		t.Fatalf("WriteProgram() = %v, want nil", err)
	}
	if !ctrl.chipErased {
		t.Error("WriteProgram(EraseChip) did not call ChipErase")
	}
	if len(ctrl.writes) != 1 {
		t.Fatalf("writes = %d, want 1 (one write_block_size block)", len(ctrl.writes))
	}
	w := ctrl.writes[0]
	if len(w.data) != 16 {
		t.Fatalf("write block length = %d, want 16 (write_block_size)", len(w.data))
	}
	for i := 0; i < 8; i++ {
		if w.data[i] != 0xaa {
			t.Errorf("write[%d] = %#x, want 0xaa (caller-supplied byte)", i, w.data[i])
		}
	}
	for i := 8; i < 16; i++ {
		if w.data[i] != 0xff {
			t.Errorf("write[%d] = %#x, want 0xff (block_filler)", i, w.data[i])
		}
	}
}

// TestWriteProgramVerifiesAndFailsOnMismatch checks spec §4.6 phase 4: a
// read-back mismatch after writing surfaces VERIFICATION_ERROR.
func TestWriteProgramVerifiesAndFailsOnMismatch(t *testing.T) {
	ctrl := &fakeController{deviceID: 0x1050, flash: make([]byte, 64), noopWrite: true}
	o := newOrchestrator(t, ctrl)

	prog := program.New()
	data := make([]byte, 16)
	data[0] = 0x55
	if err := prog.AddBlock(0, data); err != nil {
		t.Fatalf("AddBlock() = %v, want nil", err)
	}

	err := o.WriteProgram(context.Background(), []devicedb.Region{devicedb.Flash}, prog, EraseNone)
	if !status.Is(err, status.VerificationError) {
		t.Errorf("WriteProgram() error = %v, want VERIFICATION_ERROR", err)
	}
}
