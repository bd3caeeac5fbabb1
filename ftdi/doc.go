// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi implements the low-level FT232R transport used by the ICSP
// programmer: device discovery, synchronous bit-bang mode, chunked
// read/write, GPIO pin exposure and the on-chip EEPROM codec.
//
// Use build tag periph_host_ftdi_debug to enable verbose debugging.
//
// # More details
//
// See https://periph.io/device/ftdi/ for more details on the underlying
// D2XX driver and how to configure the host to be able to use it.
//
// # Datasheet
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232R.pdf
package ftdi
