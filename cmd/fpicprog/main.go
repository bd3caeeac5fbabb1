// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command fpicprog drives a USB-attached FTDI bridge to program Microchip
// 8- and 16-bit flash parts over ICSP (spec §6 "CLI surface").
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/icsp-go/fpicprog/controller"
	"github.com/icsp-go/fpicprog/devicedb"
	"github.com/icsp-go/fpicprog/highlevel"
	"github.com/icsp-go/fpicprog/pinmap"
	"github.com/icsp-go/fpicprog/program"
	"github.com/icsp-go/fpicprog/status"
	"github.com/icsp-go/fpicprog/transport"
)

// config holds every --flag value for one invocation, built once in main
// and passed down explicitly rather than read back out of the flag package
// (spec §9 "Global configuration").
type config struct {
	action    string
	family    string
	device    string
	sections  string
	eraseMode string
	input     string
	output    string
	deviceDB  string
	handshake string
	verbosity int

	ftdiVendorID, ftdiProductID uint
	ftdiDescription, ftdiSerial string
	pinNMCLR, pinPGC, pinPGDIn  string
	pinPGDOut, pinPGM           string
}

var verbosity int

// logf prints a diagnostic line to stderr when level is at or below the
// configured --verbosity, following ftdi/debug.go's build-tag-free leveled
// logging pattern rather than pulling in a logging framework.
func logf(level int, format string, args ...any) {
	if level > verbosity {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func parsePinName(flagName, value string) (pinmap.PhysicalName, error) {
	switch pinmap.PhysicalName(value) {
	case pinmap.TxD, pinmap.RxD, pinmap.RTS, pinmap.CTS, pinmap.DTR, pinmap.DSR, pinmap.DCD, pinmap.RI, pinmap.NC:
		return pinmap.PhysicalName(value), nil
	default:
		return "", fmt.Errorf("--%s: %q is not one of TxD, RxD, RTS, CTS, DTR, DSR, DCD, RI, NC", flagName, value)
	}
}

func parseHandshake(value string) (pinmap.Handshake, error) {
	switch value {
	case "lvp":
		return pinmap.HandshakeLVP, nil
	case "nmclr-first":
		return pinmap.HandshakeNMCLRFirst, nil
	case "pgm-first":
		return pinmap.HandshakePGMFirst, nil
	default:
		return 0, fmt.Errorf("--handshake: %q must be one of lvp, nmclr-first, pgm-first", value)
	}
}

func parseSections(value string) ([]devicedb.Region, error) {
	if value == "" || value == "all" {
		return highlevel.AllSections, nil
	}
	var out []devicedb.Region
	for _, f := range strings.Split(value, ",") {
		switch strings.TrimSpace(f) {
		case "flash":
			out = append(out, devicedb.Flash)
		case "user-id":
			out = append(out, devicedb.UserID)
		case "config":
			out = append(out, devicedb.Configuration)
		case "eeprom":
			out = append(out, devicedb.EEPROM)
		default:
			return nil, fmt.Errorf("--sections: unknown section %q", f)
		}
	}
	return out, nil
}

func parseEraseMode(value string) (highlevel.EraseMode, error) {
	switch value {
	case "chip":
		return highlevel.EraseChip, nil
	case "section":
		return highlevel.EraseSection, nil
	case "row":
		return highlevel.EraseRow, nil
	case "none", "":
		return highlevel.EraseNone, nil
	default:
		return 0, fmt.Errorf("--erase_mode: %q must be one of chip, section, row, none", value)
	}
}

// defaultDeviceDBPath resolves SPEC_FULL.md's "--device_db default path"
// supplement: <binary-dir>/device_db/<family>.lst, falling back to
// ./device_db/<family>.lst when the executable's own path can't be
// resolved.
func defaultDeviceDBPath(family string) string {
	name := family + ".lst"
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "device_db", name)
	}
	return filepath.Join("device_db", name)
}

func buildPinmapConfig(c *config) (pinmap.Config, error) {
	cfg := pinmap.DefaultConfig()
	cfg.VendorID = uint16(c.ftdiVendorID)
	cfg.ProductID = uint16(c.ftdiProductID)
	cfg.Description = c.ftdiDescription
	cfg.Serial = c.ftdiSerial

	type namedPin struct {
		flag string
		val  string
		dst  *pinmap.PhysicalName
	}
	for _, p := range []namedPin{
		{"ftdi_nMCLR", c.pinNMCLR, &cfg.NMCLR},
		{"ftdi_PGC", c.pinPGC, &cfg.PGC},
		{"ftdi_PGD_in", c.pinPGDIn, &cfg.PGDIn},
		{"ftdi_PGD_out", c.pinPGDOut, &cfg.PGDOut},
		{"ftdi_PGM", c.pinPGM, &cfg.PGM},
	} {
		if p.val == "" {
			continue
		}
		name, err := parsePinName(p.flag, p.val)
		if err != nil {
			return pinmap.Config{}, err
		}
		*p.dst = name
	}

	handshake, err := parseHandshake(c.handshake)
	if err != nil {
		return pinmap.Config{}, err
	}
	cfg.Handshake = handshake
	return cfg, nil
}

func loadDeviceDB(c *config, spec familySpec) (*devicedb.Db, error) {
	path := c.deviceDB
	if path == "" {
		path = defaultDeviceDBPath(c.family)
	}
	db := devicedb.New(spec.unitFactor, spec.blockFiller, spec.validateSeq)
	if err := db.LoadFile(path); err != nil {
		return nil, err
	}
	return db, nil
}

func runList() error {
	infos, err := transport.List()
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("Device:\n  Description: %s\n  Serial: %s\n  VendorID: %#04x\n  ProductID: %#04x\n  Opened: %v\n",
			info.Description, info.Serial, info.VendorID, info.ProductID, info.Opened)
	}
	return nil
}

func run(ctx context.Context, c *config) error {
	verbosity = c.verbosity

	if c.action == "list-programmers" {
		return runList()
	}

	spec, err := resolveFamily(c.family)
	if err != nil {
		return err
	}
	db, err := loadDeviceDB(c, spec)
	if err != nil {
		return err
	}
	pcfg, err := buildPinmapConfig(c)
	if err != nil {
		return err
	}
	orch := highlevel.New(func() controller.Controller { return spec.newController(pcfg) }, db, c.device)
	logf(1, "family %s, action %s", c.family, c.action)

	switch c.action {
	case "identify":
		di, revision, err := orch.Identify(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Device: %s (ID %#04x, revision %d)\n", di.Name, di.DeviceID, revision)
		return nil

	case "dump-program":
		sections, err := parseSections(c.sections)
		if err != nil {
			return err
		}
		logf(1, "reading %d section(s)", len(sections))
		prog, err := orch.ReadProgram(ctx, sections)
		if err != nil {
			return err
		}
		out := os.Stdout
		if c.output != "" {
			f, err := os.Create(c.output)
			if err != nil {
				return status.Wrap(status.FileNotFound, err, "opening --output")
			}
			defer f.Close()
			return program.WriteIhex(f, prog, program.WriteIhexOptions{})
		}
		return program.WriteIhex(out, prog, program.WriteIhexOptions{})

	case "write-program":
		sections, err := parseSections(c.sections)
		if err != nil {
			return err
		}
		eraseMode, err := parseEraseMode(c.eraseMode)
		if err != nil {
			return err
		}
		if c.input == "" {
			return errors.New("--input is required for write-program")
		}
		f, err := os.Open(c.input)
		if err != nil {
			return status.Wrap(status.FileNotFound, err, "opening --input")
		}
		defer f.Close()
		prog, err := program.ReadIhex(f)
		if err != nil {
			return err
		}
		return orch.WriteProgram(ctx, sections, prog, eraseMode)

	case "erase":
		sections, err := parseSections(c.sections)
		if err != nil {
			return err
		}
		eraseMode, err := parseEraseMode(c.eraseMode)
		if err != nil {
			return err
		}
		switch eraseMode {
		case highlevel.EraseChip:
			return orch.ChipErase(ctx)
		case highlevel.EraseSection:
			return orch.SectionErase(ctx, sections)
		default:
			return fmt.Errorf("--action=erase requires --erase_mode of chip or section")
		}

	default:
		return fmt.Errorf("unknown --action %q", c.action)
	}
}

func main() {
	c := &config{}
	flag.StringVar(&c.action, "action", "", "identify | dump-program | write-program | erase | list-programmers")
	flag.StringVar(&c.family, "family", "", "pic10[-small|-baseline] | pic12[-small] | pic16[-small|-new|-enhanced] | pic18 | pic24")
	flag.StringVar(&c.device, "device", "", "device name, required unless the family has no ID")
	flag.StringVar(&c.sections, "sections", "all", "comma list from flash,user-id,config,eeprom, or all")
	flag.StringVar(&c.eraseMode, "erase_mode", "none", "chip | section | row | none")
	flag.StringVar(&c.input, "input", "", "input file path")
	flag.StringVar(&c.output, "output", "", "output file path (stdout if empty)")
	flag.StringVar(&c.deviceDB, "device_db", "", "override device database path")
	flag.StringVar(&c.handshake, "handshake", "lvp", "lvp | nmclr-first | pgm-first")
	flag.IntVar(&c.verbosity, "verbosity", 0, "diagnostic verbosity level")

	flag.UintVar(&c.ftdiVendorID, "ftdi_vendor_id", 0x0403, "FTDI USB vendor ID")
	flag.UintVar(&c.ftdiProductID, "ftdi_product_id", 0x6001, "FTDI USB product ID")
	flag.StringVar(&c.ftdiDescription, "ftdi_description", "", "FTDI device description to match")
	flag.StringVar(&c.ftdiSerial, "ftdi_serial", "", "FTDI device serial number to match")

	flag.StringVar(&c.pinNMCLR, "ftdi_nMCLR", "", "physical pin for nMCLR")
	flag.StringVar(&c.pinPGC, "ftdi_PGC", "", "physical pin for PGC")
	flag.StringVar(&c.pinPGDIn, "ftdi_PGD_in", "", "physical pin for PGD (input)")
	flag.StringVar(&c.pinPGDOut, "ftdi_PGD_out", "", "physical pin for PGD (output)")
	flag.StringVar(&c.pinPGM, "ftdi_PGM", "", "physical pin for PGM")

	flag.Parse()

	if err := run(context.Background(), c); err != nil {
		fmt.Fprintf(os.Stderr, "fpicprog: %s\n", err)
		os.Exit(1)
	}
}
