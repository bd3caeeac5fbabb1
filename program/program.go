// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package program models a sparse memory image (an ordered, non-overlapping
// map from address to byte block) and implements the Intel-HEX codec and
// the block-merge/validation passes the orchestrator relies on (spec §4.5).
package program

import (
	"sort"

	"github.com/icsp-go/fpicprog/status"
)

// Block is one contiguous run of bytes starting at Address. Empty blocks
// are forbidden by the Program invariant.
type Block struct {
	Address uint32
	Data    []byte
}

func (b Block) end() uint32 { return b.Address + uint32(len(b.Data)) }

// Program is an ordered, non-overlapping sparse image: a mapping from a
// 32-bit byte address to a byte string, preserving ascending-address order
// (spec §3).
type Program struct {
	blocks []Block
}

// New returns an empty Program.
func New() *Program { return &Program{} }

// Blocks returns the program's blocks in ascending address order. The
// returned slice is owned by the caller; mutate through AddBlock instead of
// this slice's contents when possible.
func (p *Program) Blocks() []Block {
	out := make([]Block, len(p.blocks))
	copy(out, p.blocks)
	return out
}

// AddBlock inserts a new block, keeping blocks sorted by address. It does
// not merge or validate overlap; callers run MergeProgramBlocks afterwards
// to enforce the non-overlap invariant. Empty blocks are rejected.
func (p *Program) AddBlock(address uint32, data []byte) error {
	if len(data) == 0 {
		return status.Errorf(status.InvalidProgram, "program: empty block at address 0x%x", address)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	p.blocks = append(p.blocks, Block{Address: address, Data: cp})
	sort.Slice(p.blocks, func(i, j int) bool { return p.blocks[i].Address < p.blocks[j].Address })
	return nil
}

// ByteAt returns the byte at address and whether it is present in the
// image.
func (p *Program) ByteAt(address uint32) (byte, bool) {
	for _, b := range p.blocks {
		if address >= b.Address && address < b.end() {
			return b.Data[address-b.Address], true
		}
	}
	return 0, false
}

// RegionBoundary is a set of addresses at which adjacent blocks must never
// be merged, because they mark the start of a new device region (user-id /
// config / eeprom offsets, spec §4.5 MergeProgramBlocks).
type RegionBoundary map[uint32]bool

// MergeProgramBlocks merges adjacent blocks unless the junction coincides
// with a boundary in boundaries. Overlapping blocks are rejected with
// InvalidProgram.
func MergeProgramBlocks(p *Program, boundaries RegionBoundary) (*Program, error) {
	out := New()
	if len(p.blocks) == 0 {
		return out, nil
	}
	cur := p.blocks[0]
	for _, next := range p.blocks[1:] {
		if next.Address < cur.end() {
			return nil, status.Errorf(status.InvalidProgram,
				"program: overlapping blocks at 0x%x and 0x%x", cur.Address, next.Address)
		}
		if next.Address == cur.end() && !boundaries[next.Address] {
			cur.Data = append(cur.Data, next.Data...)
			continue
		}
		out.blocks = append(out.blocks, cur)
		cur = next
	}
	out.blocks = append(out.blocks, cur)
	return out, nil
}

// RemoveMissingConfigBytes splits the block covering each address in
// missing so that address is absent from the resulting image, leaving at
// most two blocks around it (spec §4.5).
func RemoveMissingConfigBytes(p *Program, missing []uint32) *Program {
	out := New()
	out.blocks = append(out.blocks, p.blocks...)
	for _, addr := range missing {
		out.splitOut(addr)
	}
	return out
}

func (p *Program) splitOut(addr uint32) {
	for i, b := range p.blocks {
		if addr < b.Address || addr >= b.end() {
			continue
		}
		offset := addr - b.Address
		var replacement []Block
		if offset > 0 {
			replacement = append(replacement, Block{Address: b.Address, Data: append([]byte(nil), b.Data[:offset]...)})
		}
		if offset+1 < uint32(len(b.Data)) {
			replacement = append(replacement, Block{
				Address: addr + 1,
				Data:    append([]byte(nil), b.Data[offset+1:]...),
			})
		}
		p.blocks = append(p.blocks[:i], append(replacement, p.blocks[i+1:]...)...)
		return
	}
}
