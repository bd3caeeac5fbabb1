// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package platforminit loads the periph host drivers this module depends
// on before any device discovery happens.
package platforminit

import (
	"periph.io/x/conn/v3/driver/driverreg"

	_ "github.com/icsp-go/fpicprog/ftdi"
)

// Init calls driverreg.Init() and returns it as-is.
//
// The only difference is that by calling platforminit.Init(), you are
// guaranteed to have the ftdi driver registered and its device enumeration
// run, so ftdi.All() returns every attached device.
func Init() (*driverreg.State, error) {
	return driverreg.Init()
}
