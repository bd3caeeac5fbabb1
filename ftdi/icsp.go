// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
)

// EnterSyncBitbang switches the device's D-bus into synchronous bit-bang
// mode: one output byte is clocked per baud tick and mirrored into the
// input FIFO at the same rate, the symmetric read-back in-circuit
// programming depends on.
//
// dirMask sets which D-bus pins are outputs (bit set) vs inputs (bit
// clear). Must be called before RawWrite/RawRead.
func (f *FT232R) EnterSyncBitbang(dirMask byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.h.SetBitMode(dirMask, bitModeSyncBitbang); err != nil {
		return err
	}
	f.dmask = dirMask
	return nil
}

// RawWrite pushes b onto the D-bus output queue. It does not wait for or
// perform a matching drain of the input FIFO; the transport package above
// it owns that chunk/lag/drain discipline.
func (f *FT232R) RawWrite(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h.Write(b)
}

// RawReadAvailable drains whatever is already queued in the input FIFO,
// without blocking for more than is currently available.
func (f *FT232R) RawReadAvailable(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h.Read(b)
}

// RawReadAll blocks until len(b) bytes have been drained from the input
// FIFO or ctx is canceled.
func (f *FT232R) RawReadAll(ctx context.Context, b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h.ReadAll(ctx, b)
}
