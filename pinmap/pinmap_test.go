// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pinmap

import "testing"

func TestBuildDefaultConfigDirectionMask(t *testing.T) {
	table, err := Build(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	// Outputs: nMCLR(DTR=4), PGM(RTS=2), PGC(TxD=0), PGD_out(CTS=3). Input: PGD_in(RxD=1).
	want := byte(1<<4 | 1<<2 | 1<<0 | 1<<3)
	if got := table.DirectionMask(); got != want {
		t.Errorf("DirectionMask() = %#02x, want %#02x", got, want)
	}
}

func TestTranslateAllBitsSet(t *testing.T) {
	table, err := Build(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	phys := table.Translate(BitNMCLR | BitPGM | BitPGC | BitPGD)
	want := byte(1<<4 | 1<<2 | 1<<0 | 1<<3)
	if phys != want {
		t.Errorf("Translate(all bits) = %#02x, want %#02x", phys, want)
	}
}

func TestTranslateNoBitsSet(t *testing.T) {
	table, err := Build(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if phys := table.Translate(0); phys != 0 {
		t.Errorf("Translate(0) = %#02x, want 0", phys)
	}
}

func TestBuildRejectsUnknownPhysicalName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NMCLR = PhysicalName("bogus")
	if _, err := Build(cfg); err == nil {
		t.Fatal("Build should reject an unrecognized physical pin name")
	}
}

func TestBuildHonorsNC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PGM = NC
	table, err := Build(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := table.PhysicalBit(PGM); ok {
		t.Error("PhysicalBit(PGM) should report not-mapped when PGM is NC")
	}
	if phys := table.Translate(BitPGM); phys != 0 {
		t.Errorf("Translate(BitPGM) = %#02x, want 0 when PGM is unmapped", phys)
	}
}

func TestPGDInBitMatchesConfig(t *testing.T) {
	table, err := Build(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if got := table.PGDInBit(); got != 1 { // RxD = 1
		t.Errorf("PGDInBit() = %d, want 1 (RxD)", got)
	}
}
