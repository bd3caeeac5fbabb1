// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package program

import (
	"reflect"
	"testing"

	"github.com/icsp-go/fpicprog/status"
)

func TestAddBlockRejectsEmpty(t *testing.T) {
	p := New()
	if err := p.AddBlock(0, nil); err == nil {
		t.Fatal("AddBlock with empty data should fail")
	} else if !status.Is(err, status.InvalidProgram) {
		t.Errorf("AddBlock error code = %v, want InvalidProgram", err)
	}
}

func TestAddBlockKeepsAscendingOrder(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0x10, []byte{1, 2}))
	must(t, p.AddBlock(0x00, []byte{3, 4}))
	blocks := p.Blocks()
	if blocks[0].Address != 0x00 || blocks[1].Address != 0x10 {
		t.Fatalf("Blocks() not sorted: %v", blocks)
	}
}

func TestByteAt(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0x10, []byte{0xaa, 0xbb, 0xcc}))
	if b, ok := p.ByteAt(0x11); !ok || b != 0xbb {
		t.Errorf("ByteAt(0x11) = %v, %v, want 0xbb, true", b, ok)
	}
	if _, ok := p.ByteAt(0x20); ok {
		t.Error("ByteAt(0x20) should not be present")
	}
}

func TestMergeProgramBlocksJoinsAdjacent(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0, []byte{1, 2}))
	must(t, p.AddBlock(2, []byte{3, 4}))
	merged, err := MergeProgramBlocks(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	blocks := merged.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("Blocks() = %v, want a single merged block", blocks)
	}
	if !reflect.DeepEqual(blocks[0].Data, []byte{1, 2, 3, 4}) {
		t.Errorf("merged data = %v, want [1 2 3 4]", blocks[0].Data)
	}
}

func TestMergeProgramBlocksRespectsBoundary(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0, []byte{1, 2}))
	must(t, p.AddBlock(2, []byte{3, 4}))
	merged, err := MergeProgramBlocks(p, RegionBoundary{2: true})
	if err != nil {
		t.Fatal(err)
	}
	blocks := merged.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("Blocks() = %v, want two blocks separated at the boundary", blocks)
	}
}

func TestMergeProgramBlocksRejectsOverlap(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0, []byte{1, 2, 3}))
	must(t, p.AddBlock(2, []byte{4, 5}))
	if _, err := MergeProgramBlocks(p, nil); err == nil {
		t.Fatal("overlapping blocks should be rejected")
	} else if !status.Is(err, status.InvalidProgram) {
		t.Errorf("error code = %v, want InvalidProgram", err)
	}
}

func TestRemoveMissingConfigBytesSplitsAroundAddress(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0x10, []byte{1, 2, 3, 4, 5}))
	out := RemoveMissingConfigBytes(p, []uint32{0x12})
	blocks := out.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("Blocks() = %v, want two blocks around the removed byte", blocks)
	}
	if blocks[0].Address != 0x10 || !reflect.DeepEqual(blocks[0].Data, []byte{1, 2}) {
		t.Errorf("first block = %+v, want address 0x10, data [1 2]", blocks[0])
	}
	if blocks[1].Address != 0x13 || !reflect.DeepEqual(blocks[1].Data, []byte{4, 5}) {
		t.Errorf("second block = %+v, want address 0x13, data [4 5]", blocks[1])
	}
	if _, ok := out.ByteAt(0x12); ok {
		t.Error("removed address should no longer be present")
	}
}

func TestRemoveMissingConfigBytesAtBlockEdge(t *testing.T) {
	p := New()
	must(t, p.AddBlock(0x10, []byte{1, 2, 3}))
	out := RemoveMissingConfigBytes(p, []uint32{0x10})
	blocks := out.Blocks()
	if len(blocks) != 1 || blocks[0].Address != 0x11 {
		t.Fatalf("Blocks() = %v, want single block starting at 0x11", blocks)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
