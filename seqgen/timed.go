// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package seqgen translates high-level ICSP commands into pin-pattern byte
// strings and timed multi-step sequences, one implementation per device
// family (spec §4.2). Each generator is purely functional: given a command
// and payload it returns a byte string or a TimedSequence, consulting a
// devicedb.DeviceInfo only for device-specific timings and erase word
// sequences.
package seqgen

import "time"

// TimedStep is a pin-pattern sequence paired with the delay the transport
// must observe after flushing and draining it, before the next step is
// issued. A zero Sleep means "no additional delay beyond the flush itself"
// (spec §3).
type TimedStep struct {
	Pattern []byte
	Sleep   time.Duration
}

// TimedSequence is an ordered list of TimedStep.
type TimedSequence []TimedStep
