// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devicedb parses the INI-like device catalogue and validates and
// looks up DeviceInfo records (spec §4.4).
package devicedb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/icsp-go/fpicprog/intervalset"
	"github.com/icsp-go/fpicprog/status"
)

// Region identifies one of the four memory regions a DeviceInfo describes.
type Region int

const (
	Flash Region = iota
	UserID
	Configuration
	EEPROM
)

func (r Region) String() string {
	switch r {
	case Flash:
		return "flash"
	case UserID:
		return "user-id"
	case Configuration:
		return "config"
	case EEPROM:
		return "eeprom"
	default:
		return "?"
	}
}

// RegionExtent is a region's base address and size, in 8-bit units after
// unit-factor scaling. Size 0 means the region is absent on this device.
type RegionExtent struct {
	Base, Size uint32
}

// DeviceInfo is the immutable, per-chip record built once at database load
// (spec §3).
type DeviceInfo struct {
	Name     string
	DeviceID uint16

	Regions [4]RegionExtent // indexed by Region

	WriteBlockSize uint32
	EraseBlockSize uint32

	ChipErase  []uint16
	FlashErase []uint16
	UserIDErase []uint16
	ConfigErase []uint16
	EEPROMErase []uint16

	BulkEraseTiming  time.Duration
	BlockWriteTiming time.Duration
	ConfigWriteTiming time.Duration

	MissingLocations     []uint32
	CalibrationWordAddress uint32 // 0 means "none"

	// NVMCONWriteCommand and NVMCONEraseCommand are the PIC24 family's
	// NVMCON command-register values for a row write and a page/chip erase
	// respectively (spec §4.3 "PIC24 controller": "load NVMCON with the
	// write command (from DeviceInfo)"). Unused by 8-bit families.
	NVMCONWriteCommand uint16
	NVMCONEraseCommand uint16
}

// Validate checks the §3 DeviceInfo invariants: device_id nonzero unless
// the device is looked up by name only; program_memory_size > 0; the four
// region intervals pairwise non-overlapping.
func (d *DeviceInfo) Validate() error {
	if d.Regions[Flash].Size == 0 {
		return status.Errorf(status.ParseError, "device %q: program_memory_size must be > 0", d.Name)
	}
	var set intervalset.Set[uint64]
	for r := Region(0); r < 4; r++ {
		ext := d.Regions[r]
		if ext.Size == 0 {
			continue
		}
		iv := intervalset.New(uint64(ext.Base), uint64(ext.Base)+uint64(ext.Size))
		if set.Overlaps(iv) {
			return status.Errorf(status.ParseError, "device %q: region %s overlaps another region", d.Name, r)
		}
		set.Add(iv)
	}
	return nil
}

// Db is a loaded, queryable device catalogue.
type Db struct {
	UnitFactor  uint32
	BlockFiller []byte

	validateSequence func([]uint16) error

	byID   map[uint16]*DeviceInfo
	byName map[string]*DeviceInfo
	order  []*DeviceInfo
}

// New returns an empty Db. unitFactor scales all byte-unit fields read from
// the file (families storing 16-bit words pass 2); blockFiller is the
// device's erased-byte pattern; validateSequence optionally checks
// device-specific opcode sequences at load time (e.g.
// seqgen.ValidateSequence); pass nil to skip validation.
func New(unitFactor uint32, blockFiller []byte, validateSequence func([]uint16) error) *Db {
	if validateSequence == nil {
		validateSequence = func([]uint16) error { return nil }
	}
	return &Db{
		UnitFactor:       unitFactor,
		BlockFiller:      blockFiller,
		validateSequence: validateSequence,
		byID:             map[uint16]*DeviceInfo{},
		byName:           map[string]*DeviceInfo{},
	}
}

// LoadFile opens path and calls Load on its contents.
func (db *Db) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return status.Wrap(status.FileNotFound, err, "devicedb: %s", path)
		}
		return status.Wrap(status.ParseError, err, "devicedb: %s", path)
	}
	defer f.Close()
	return db.Load(f)
}

// Load parses an INI-style device catalogue: `# comment` lines, blank
// lines, `[DeviceName]` section headers, and `key = value` lines (spec
// §4.4). After each section is parsed the resulting DeviceInfo is
// validated and rejected with PARSE_ERROR on duplicate IDs or overlapping
// regions.
func (db *Db) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	var cur *DeviceInfo
	lineNo := 0
	flush := func() error {
		if cur == nil {
			return nil
		}
		if err := cur.Validate(); err != nil {
			return err
		}
		if err := db.validateSequence(cur.ChipErase); err != nil {
			return status.Wrap(status.ParseError, err, "device %q: chip_erase", cur.Name)
		}
		if _, dup := db.byID[cur.DeviceID]; dup && cur.DeviceID != 0 {
			return status.Errorf(status.ParseError, "Duplicate device ID %04X", cur.DeviceID)
		}
		if cur.DeviceID != 0 {
			db.byID[cur.DeviceID] = cur
		}
		db.byName[cur.Name] = cur
		db.order = append(db.order, cur)
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if err := flush(); err != nil {
				return err
			}
			cur = &DeviceInfo{Name: strings.TrimSpace(line[1 : len(line)-1])}
			continue
		}
		if cur == nil {
			return status.Errorf(status.ParseError, "devicedb:%d: key outside of a [Device] section", lineNo)
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return status.Errorf(status.ParseError, "devicedb:%d: expected 'key = value'", lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := db.applyKey(cur, key, value); err != nil {
			return status.Wrap(status.ParseError, err, "devicedb:%d", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return status.Wrap(status.ParseError, err, "devicedb: read error")
	}
	return flush()
}

func (db *Db) applyKey(d *DeviceInfo, key, value string) error {
	switch key {
	case "device_id":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.DeviceID = uint16(n)
	case "flash_base", "program_base":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.Regions[Flash].Base = n * db.UnitFactor
	case "flash_size", "program_size", "program_memory_size":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.Regions[Flash].Size = n * db.UnitFactor
	case "user_id_base":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.Regions[UserID].Base = n * db.UnitFactor
	case "user_id_size":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.Regions[UserID].Size = n * db.UnitFactor
	case "config_base":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.Regions[Configuration].Base = n * db.UnitFactor
	case "config_size":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.Regions[Configuration].Size = n * db.UnitFactor
	case "eeprom_base":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.Regions[EEPROM].Base = n * db.UnitFactor
	case "eeprom_size":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.Regions[EEPROM].Size = n * db.UnitFactor
	case "write_block_size":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.WriteBlockSize = n * db.UnitFactor
	case "erase_block_size":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.EraseBlockSize = n * db.UnitFactor
	case "chip_erase":
		seq, err := parseSequence(value)
		if err != nil {
			return err
		}
		d.ChipErase = seq
	case "flash_erase":
		seq, err := parseSequence(value)
		if err != nil {
			return err
		}
		d.FlashErase = seq
	case "user_id_erase":
		seq, err := parseSequence(value)
		if err != nil {
			return err
		}
		d.UserIDErase = seq
	case "config_erase":
		seq, err := parseSequence(value)
		if err != nil {
			return err
		}
		d.ConfigErase = seq
	case "eeprom_erase":
		seq, err := parseSequence(value)
		if err != nil {
			return err
		}
		d.EEPROMErase = seq
	case "bulk_erase_timing":
		dur, err := parseDuration(value)
		if err != nil {
			return err
		}
		d.BulkEraseTiming = dur
	case "block_write_timing":
		dur, err := parseDuration(value)
		if err != nil {
			return err
		}
		d.BlockWriteTiming = dur
	case "config_write_timing":
		dur, err := parseDuration(value)
		if err != nil {
			return err
		}
		d.ConfigWriteTiming = dur
	case "missing_locations":
		for _, f := range strings.Fields(value) {
			n, err := parseNumeric(f)
			if err != nil {
				return err
			}
			d.MissingLocations = append(d.MissingLocations, n*db.UnitFactor)
		}
	case "calibration_word_address":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.CalibrationWordAddress = n * db.UnitFactor
	case "nvmcon_write_command":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.NVMCONWriteCommand = uint16(n)
	case "nvmcon_erase_command":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		d.NVMCONEraseCommand = uint16(n)
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

// parseNumeric accepts decimal or hex with a trailing 'h' (spec §4.4).
func parseNumeric(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(strings.ToLower(s), "h") {
		n, err := strconv.ParseUint(s[:len(s)-1], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid hex numeric %q: %w", s, err)
		}
		return uint32(n), nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric %q: %w", s, err)
	}
	return uint32(n), nil
}

// parseDuration accepts "Nms" or "Nus" (spec §4.4).
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "ms"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "ms"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(n) * time.Millisecond, nil
	case strings.HasSuffix(s, "us"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "us"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(n) * time.Microsecond, nil
	default:
		return 0, fmt.Errorf("duration %q must end in 'ms' or 'us'", s)
	}
}

// parseSequence parses a whitespace-separated list of numerics (spec
// §4.4); entries may use the same decimal-or-hex syntax as scalar fields.
func parseSequence(s string) ([]uint16, error) {
	fields := strings.Fields(s)
	out := make([]uint16, 0, len(fields))
	for _, f := range fields {
		n, err := parseNumeric(f)
		if err != nil {
			return nil, err
		}
		out = append(out, uint16(n))
	}
	return out, nil
}

// ByID looks up a device by its 16-bit identifier.
func (db *Db) ByID(id uint16) (*DeviceInfo, error) {
	d, ok := db.byID[id]
	if !ok {
		return nil, status.Errorf(status.DeviceNotFound, "no device with ID %04X", id)
	}
	return d, nil
}

// ByName looks up a device by its exact catalogue name.
func (db *Db) ByName(name string) (*DeviceInfo, error) {
	d, ok := db.byName[name]
	if !ok {
		return nil, status.Errorf(status.DeviceNotFound, "no device named %q", name)
	}
	return d, nil
}
