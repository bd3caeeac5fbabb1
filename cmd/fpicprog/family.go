// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/icsp-go/fpicprog/controller"
	"github.com/icsp-go/fpicprog/pinmap"
	"github.com/icsp-go/fpicprog/seqgen"
)

// familySpec is the per-family controller/unit-factor/block-filler triple
// fpicprog.cc's --family dispatch table supplies (spec §6, SPEC_FULL.md
// "Per-family CLI family-to-generator/controller/DeviceDb wiring table").
type familySpec struct {
	newController func(pinmap.Config) controller.Controller
	unitFactor    uint32
	blockFiller   []byte
	validateSeq   func([]uint16) error
}

// resolveFamily maps a --family flag value to its familySpec, supplemented
// verbatim from fpicprog.cc's dispatch table (SPEC_FULL.md):
//
//	pic18                           -> Pic18,          unit 1, filler {0xFF}
//	pic10, pic12, pic16             -> Pic16Midrange,   unit 2, filler {0xFF,0x3F}
//	pic10-small, pic12-small,
//	pic10-baseline, pic16-small      -> Pic16Baseline,   unit 2, filler {0xFF,0x0F}
//	pic16-new, pic16-enhanced        -> Pic16Enhanced,   unit 2, filler {0xFF,0x3F}
//	pic24                           -> Pic24,           unit 3, filler {0xFF,0xFF,0xFF}
func resolveFamily(name string) (familySpec, error) {
	base, suffix, hasSuffix := strings.Cut(name, "-")
	switch base {
	case "pic18":
		if hasSuffix {
			return familySpec{}, fmt.Errorf("family %q: pic18 has no variants", name)
		}
		return familySpec{
			newController: func(cfg pinmap.Config) controller.Controller { return controller.NewPic18(cfg) },
			unitFactor:    1,
			blockFiller:   []byte{0xFF},
		}, nil
	case "pic24":
		if hasSuffix {
			return familySpec{}, fmt.Errorf("family %q: pic24 has no variants", name)
		}
		return familySpec{
			newController: func(cfg pinmap.Config) controller.Controller { return controller.NewPic24(cfg) },
			unitFactor:    3,
			blockFiller:   []byte{0xFF, 0xFF, 0xFF},
		}, nil
	case "pic10", "pic12", "pic16":
		switch {
		case !hasSuffix:
			return familySpec{
				newController: func(cfg pinmap.Config) controller.Controller { return controller.NewPic16Midrange(cfg) },
				unitFactor:    2,
				blockFiller:   []byte{0xFF, 0x3F},
				validateSeq:   seqgen.ValidateSequence,
			}, nil
		case suffix == "small" || (base == "pic10" && suffix == "baseline"):
			return familySpec{
				newController: func(cfg pinmap.Config) controller.Controller { return controller.NewPic16Baseline(cfg) },
				unitFactor:    2,
				blockFiller:   []byte{0xFF, 0x0F},
				validateSeq:   seqgen.ValidateSequence,
			}, nil
		case base == "pic16" && (suffix == "new" || suffix == "enhanced"):
			return familySpec{
				newController: func(cfg pinmap.Config) controller.Controller { return controller.NewPic16Enhanced(cfg) },
				unitFactor:    2,
				blockFiller:   []byte{0xFF, 0x3F},
			}, nil
		default:
			return familySpec{}, fmt.Errorf("unknown family variant %q", name)
		}
	default:
		return familySpec{}, fmt.Errorf("unknown family %q", name)
	}
}
