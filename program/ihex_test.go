// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package program

import (
	"bytes"
	"strings"
	"testing"

	"github.com/icsp-go/fpicprog/status"
)

func TestReadIhexBasicRecord(t *testing.T) {
	// :10 0000 00 0102030405060708090A0B0C0D0E0F10 68
	src := ":100000000102030405060708090A0B0C0D0E0F1068\n:00000001FF\n"
	p, err := ReadIhex(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	blocks := p.Blocks()
	if len(blocks) != 1 || blocks[0].Address != 0 {
		t.Fatalf("Blocks() = %v, want one block at address 0", blocks)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0xa, 0xb, 0xc, 0xd, 0xe, 0xf, 0x10}
	if !bytes.Equal(blocks[0].Data, want) {
		t.Errorf("data = % x, want % x", blocks[0].Data, want)
	}
}

func TestReadIhexRejectsBadChecksum(t *testing.T) {
	src := ":100000000102030405060708090A0B0C0D0E0F10FF\n:00000001FF\n"
	if _, err := ReadIhex(strings.NewReader(src)); err == nil {
		t.Fatal("expected a checksum error")
	} else if !status.Is(err, status.ParseError) {
		t.Errorf("error code = %v, want ParseError", err)
	}
}

func TestReadIhexRejectsMissingColon(t *testing.T) {
	src := "100000000102030405060708090A0B0C0D0E0F1068\n:00000001FF\n"
	if _, err := ReadIhex(strings.NewReader(src)); err == nil {
		t.Fatal("expected a parse error for a line not starting with ':'")
	}
}

func TestReadIhexRejectsMissingEOF(t *testing.T) {
	src := ":100000000102030405060708090A0B0C0D0E0F1068\n"
	if _, err := ReadIhex(strings.NewReader(src)); err == nil {
		t.Fatal("expected a parse error for a missing end-of-file record")
	}
}

func TestWriteIhexThenReadIhexRoundTrips(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0x0000, []byte{1, 2, 3, 4}))
	must(t, p.AddBlock(0x10000, []byte{5, 6, 7, 8})) // crosses a 64 KiB boundary
	merged, err := MergeProgramBlocks(p, nil)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteIhex(&buf, merged, WriteIhexOptions{}); err != nil {
		t.Fatal(err)
	}

	got, err := ReadIhex(&buf)
	if err != nil {
		t.Fatalf("ReadIhex of our own output failed: %v", err)
	}
	gotBlocks := got.Blocks()
	wantBlocks := merged.Blocks()
	if len(gotBlocks) != len(wantBlocks) {
		t.Fatalf("got %d blocks, want %d", len(gotBlocks), len(wantBlocks))
	}
	for i := range wantBlocks {
		if gotBlocks[i].Address != wantBlocks[i].Address || !bytes.Equal(gotBlocks[i].Data, wantBlocks[i].Data) {
			t.Errorf("block %d = %+v, want %+v", i, gotBlocks[i], wantBlocks[i])
		}
	}
}

func TestWriteIhexSplitsLongBlocksAtBytesPerLine(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0, make([]byte, 32)))
	var buf bytes.Buffer
	if err := WriteIhex(&buf, p, WriteIhexOptions{BytesPerLine: 16}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// The initial 04 record, two 16-byte data records and the EOF record.
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4: %q", len(lines), buf.String())
	}
}
