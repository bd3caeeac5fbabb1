// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package program

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/icsp-go/fpicprog/status"
)

const (
	recData               = 0x00
	recEndOfFile          = 0x01
	recExtendedLinearAddr = 0x04
)

// ReadIhex parses an Intel-HEX stream into a Program (spec §4.5, §6).
// Record types 00 (data), 01 (end-of-file) and 04 (extended linear
// address) are accepted; any other type is a parse error. Checksum
// violations, malformed hex digits and I/O errors all become PARSE_ERROR
// carrying the offending line number.
func ReadIhex(r io.Reader) (*Program, error) {
	p := New()
	scanner := bufio.NewScanner(r)
	var highAddress uint32
	lineNo := 0
	seenEOF := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if line[0] != ':' {
			return nil, status.Errorf(status.ParseError, "ihex:%d: line does not start with ':'", lineNo)
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, status.Wrap(status.ParseError, err, "ihex:%d: invalid hex digits", lineNo)
		}
		if len(raw) < 5 {
			return nil, status.Errorf(status.ParseError, "ihex:%d: record too short", lineNo)
		}
		length := raw[0]
		if len(raw) != int(length)+5 {
			return nil, status.Errorf(status.ParseError, "ihex:%d: length field %d does not match record size", lineNo, length)
		}
		var sum byte
		for _, b := range raw {
			sum += b
		}
		if sum != 0 {
			return nil, status.Errorf(status.ParseError, "ihex:%d: checksum mismatch", lineNo)
		}
		address := uint16(raw[1])<<8 | uint16(raw[2])
		recType := raw[3]
		data := raw[4 : 4+length]

		switch recType {
		case recData:
			if err := p.AddBlock(highAddress+uint32(address), data); err != nil {
				return nil, status.Wrap(status.ParseError, err, "ihex:%d", lineNo)
			}
		case recExtendedLinearAddr:
			if length != 2 {
				return nil, status.Errorf(status.ParseError, "ihex:%d: extended linear address record must carry 2 bytes", lineNo)
			}
			highAddress = uint32(data[0])<<24 | uint32(data[1])<<16
		case recEndOfFile:
			seenEOF = true
		default:
			return nil, status.Errorf(status.ParseError, "ihex:%d: unsupported record type %#02x", lineNo, recType)
		}
		if seenEOF {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, status.Wrap(status.ParseError, err, "ihex: read error")
	}
	if !seenEOF {
		return nil, status.Errorf(status.ParseError, "ihex:%d: missing end-of-file record", lineNo+1)
	}
	merged, err := MergeProgramBlocks(p, nil)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// WriteIhexOptions configures WriteIhex. A zero value selects the spec's
// defaults.
type WriteIhexOptions struct {
	// BytesPerLine bounds each data record's length; 0 selects the default
	// of 16.
	BytesPerLine int
}

// WriteIhex emits p as Intel-HEX records. It emits a 04 record whenever the
// 16-bit high address changes, never lets a data record cross a 64 KiB
// boundary, and terminates with ":00000001FF" (spec §4.5).
func WriteIhex(w io.Writer, p *Program, opts WriteIhexOptions) error {
	bytesPerLine := opts.BytesPerLine
	if bytesPerLine <= 0 {
		bytesPerLine = 16
	}
	bw := bufio.NewWriter(w)
	var curHigh uint32 = 0xffffffff // force an initial 04 record
	for _, b := range p.blocks {
		addr := b.Address
		data := b.Data
		for len(data) > 0 {
			high := addr & 0xffff0000
			if high != curHigh {
				if err := writeRecord(bw, recExtendedLinearAddr, 0, []byte{byte(high >> 24), byte(high >> 16)}); err != nil {
					return err
				}
				curHigh = high
			}
			low := addr & 0xffff
			n := bytesPerLine
			if remain := 0x10000 - int(low); n > remain {
				n = remain
			}
			if n > len(data) {
				n = len(data)
			}
			if err := writeRecord(bw, recData, uint16(low), data[:n]); err != nil {
				return err
			}
			addr += uint32(n)
			data = data[n:]
		}
	}
	if _, err := bw.WriteString(":00000001FF\n"); err != nil {
		return status.Wrap(status.ParseError, err, "ihex: write error")
	}
	if err := bw.Flush(); err != nil {
		return status.Wrap(status.ParseError, err, "ihex: flush error")
	}
	return nil
}

func writeRecord(w *bufio.Writer, recType byte, address uint16, data []byte) error {
	buf := make([]byte, 0, 5+len(data))
	buf = append(buf, byte(len(data)), byte(address>>8), byte(address), recType)
	buf = append(buf, data...)
	var sum byte
	for _, b := range buf {
		sum += b
	}
	buf = append(buf, byte(-sum))
	if _, err := fmt.Fprintf(w, ":%s\n", strings.ToUpper(hex.EncodeToString(buf))); err != nil {
		return status.Wrap(status.ParseError, err, "ihex: write error")
	}
	return nil
}
