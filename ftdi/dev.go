// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"strconv"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Info is the information gathered about the connected FTDI device.
//
// The data is gathered from the USB descriptor.
type Info struct {
	// Opened is true if the device was successfully opened.
	Opened bool
	// Type is the FTDI device type.
	//
	// The value can be "FT232H", "FT232R", etc.
	//
	// An empty string means the type is unknown.
	Type string
	// VenID is the vendor ID from the USB descriptor information. It is expected
	// to be 0x0403 (FTDI).
	VenID uint16
	// DevID is the product ID from the USB descriptor information. It is
	// expected to be one of 0x6001, 0x6006, 0x6010, 0x6014.
	DevID uint16
}

// Dev represents one FTDI device.
//
// There can be multiple FTDI devices connected to a host.
type Dev interface {
	// conn.Resource
	String() string
	Halt() error

	// Info returns information about an opened device.
	Info(i *Info)

	// Header returns the GPIO pins exposed on the chip.
	Header() []gpio.PinIO

	// SetSpeed sets the base clock for all I/O transactions.
	//
	// The device defaults to its fastest speed.
	SetSpeed(f physic.Frequency) error

	// EEPROM returns the EEPROM content.
	EEPROM(ee *EEPROM) error
	// WriteEEPROM updates the EEPROM. Must be used carefully.
	WriteEEPROM(ee *EEPROM) error
	// EraseEEPROM erases the EEPROM. Must be used carefully.
	EraseEEPROM() error
	// UserArea reads and return the EEPROM part that can be used to stored user
	// defined values.
	UserArea() ([]byte, error)
	// WriteUserArea updates the user area in the EEPROM.
	//
	// If the length of ua is less than the available space, is it zero extended.
	WriteUserArea(ua []byte) error
}

// broken represents a device that couldn't be opened correctly.
//
// It returns an error message to help the user diagnose issues.
type broken struct {
	index int
	err   error
	name  string
}

func (b *broken) String() string {
	return b.name
}

func (b *broken) Halt() error {
	return nil
}

func (b *broken) Info(i *Info) {
	i.Opened = false
}

func (b *broken) Header() []gpio.PinIO {
	return nil
}

func (b *broken) SetSpeed(f physic.Frequency) error {
	return b.err
}

func (b *broken) EEPROM(ee *EEPROM) error {
	return b.err
}

func (b *broken) WriteEEPROM(ee *EEPROM) error {
	return b.err
}

func (b *broken) EraseEEPROM() error {
	return b.err
}

func (b *broken) UserArea() ([]byte, error) {
	return nil, b.err
}

func (b *broken) WriteUserArea(ua []byte) error {
	return b.err
}

// generic represents a generic FTDI device.
//
// It is used for the models that this package doesn't fully support yet.
type generic struct {
	// Immutable after initialization.
	index int
	h     *handle
	name  string
}

func (f *generic) String() string {
	return f.name
}

// Halt implements conn.Resource.
//
// This halts all operations going through this device.
func (f *generic) Halt() error {
	return f.h.Reset()
}

// Info returns information about an opened device.
func (f *generic) Info(i *Info) {
	i.Opened = true
	i.Type = f.h.t.String()
	i.VenID = f.h.venID
	i.DevID = f.h.devID
}

// Header returns the GPIO pins exposed on the chip.
func (f *generic) Header() []gpio.PinIO {
	return nil
}

func (f *generic) SetSpeed(freq physic.Frequency) error {
	// TODO(maruel): Doc says the actual speed is 16x, confirm.
	return f.h.SetBaudRate(freq)
}

func (f *generic) EEPROM(ee *EEPROM) error {
	return f.h.ReadEEPROM(ee)
	/*
		if f.ee.Raw == nil {
			if err := f.h.readEEPROM(&f.ee); err != nil {
				return nil
			}
			if f.ee.Raw == nil {
				// It's a fresh new device. Devices bought via Adafruit already have
				// their EEPROM programmed with Adafruit branding but devices sold by
				// CJMCU are not. Since d2xxGetDeviceInfo() above succeeded, we know the
				// device type via the USB descriptor, which is sufficient to load the
				// driver, which permits to program the EEPROM to "bootstrap" it.
				f.ee.Raw = []byte{}
			}
		}
		*ee = f.ee
		return nil
	*/
}

func (f *generic) WriteEEPROM(ee *EEPROM) error {
	// TODO(maruel): Compare with the cached EEPROM, and only update the
	// different values if needed so reduce the EEPROM wear.
	// f.h.h.d2xxWriteEE()
	return f.h.WriteEEPROM(ee)
}

func (f *generic) EraseEEPROM() error {
	return f.h.EraseEEPROM()
}

func (f *generic) UserArea() ([]byte, error) {
	return f.h.ReadUA()
}

func (f *generic) WriteUserArea(ua []byte) error {
	return f.h.WriteUA(ua)
}

//

func newFT232R(g generic) (*FT232R, error) {
	f := &FT232R{
		generic: g,
		dbus:    [...]dbusPinSync{{num: 0}, {num: 1}, {num: 2}, {num: 3}, {num: 4}, {num: 5}, {num: 6}, {num: 7}},
		cbus:    [...]cbusPin{{num: 8, p: gpio.PullUp}, {num: 9, p: gpio.PullUp}, {num: 10, p: gpio.PullUp}, {num: 11, p: gpio.Float}},
	}
	// Use the UART names, as this is how all FT232R boards are marked.
	dnames := [...]string{"TX", "RX", "RTS", "CTS", "DTR", "DSR", "DCD", "RI"}
	for i := range f.dbus {
		f.dbus[i].n = f.name + "." + dnames[i]
		f.dbus[i].bus = f
		f.hdr[i] = &f.dbus[i]
	}
	for i := range f.cbus {
		f.cbus[i].n = f.name + ".C" + strconv.Itoa(i)
		f.cbus[i].bus = f
		f.hdr[i+8] = &f.cbus[i]
	}
	f.D0 = f.hdr[0]
	f.D1 = f.hdr[1]
	f.D2 = f.hdr[2]
	f.D3 = f.hdr[3]
	f.D4 = f.hdr[4]
	f.D5 = f.hdr[5]
	f.D6 = f.hdr[6]
	f.D7 = f.hdr[7]
	f.TX = f.hdr[0]
	f.RX = f.hdr[1]
	f.RTS = f.hdr[2]
	f.CTS = f.hdr[3]
	f.DTR = f.hdr[4]
	f.DSR = f.hdr[5]
	f.DCD = f.hdr[6]
	f.RI = f.hdr[7]
	f.C0 = f.hdr[8]
	f.C1 = f.hdr[9]
	f.C2 = f.hdr[10]
	f.C3 = f.hdr[11]

	if err := f.h.InitNonMPSSE(); err != nil {
		return nil, err
	}

	// Default to 3MHz.
	if err := f.h.SetBaudRate(3 * physic.MegaHertz); err != nil {
		return nil, err
	}

	// Set all CBus pins as input.
	if err := f.h.SetBitMode(0, bitModeCbusBitbang); err != nil {
		return nil, err
	}
	// And read their value.
	// TODO(maruel): Sadly this is impossible to know which pin is input or
	// output, but we could try to guess, as the call above may generate noise on
	// the line which could interfere with the device connected.
	var err error
	if f.cbusnibble, err = f.h.GetBitMode(); err != nil {
		return nil, err
	}
	// Set all DBus as asynchronous bitbang, everything as input.
	if err := f.h.SetBitMode(0, bitModeAsyncBitbang); err != nil {
		return nil, err
	}
	// And read their value.
	var b [1]byte
	if _, err := f.h.ReadAll(context.Background(), b[:]); err != nil {
		return nil, err
	}
	f.dvalue = b[0]
	return f, nil
}

// FT232R represents a FT232RL/FT232RQ device.
//
// It implements Dev.
//
// Not all pins may be physically connected on the header!
//
// Adafruit's version only has the following pins connected: RX, TX, RTS and
// CTS.
//
// SparkFun's version exports all pins *except* (inexplicably) the CBus ones.
//
// The FT232R has 128 bytes output buffer and 256 bytes input buffer.
//
// Pin C4 can only be used in 'slow' mode via EEPROM and is currently not
// implemented.
//
// # Datasheet
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232R.pdf
type FT232R struct {
	generic

	// Pin and their alias to the Dn pins for user convenience. Each pair points
	// to the exact same pin.
	D0, TX  gpio.PinIO // Transmit; SPI_MOSI
	D1, RX  gpio.PinIO // Receive; SPI_MISO
	D2, RTS gpio.PinIO // Request To Send Control Output / Handshake signal; SPI_CLK
	D3, CTS gpio.PinIO // Clear to Send Control input / Handshake signal; SPI_CS
	D4, DTR gpio.PinIO // Data Terminal Ready Control Output / Handshake signal
	D5, DSR gpio.PinIO // Data Set Ready Control Input / Handshake signal
	D6, DCD gpio.PinIO // Data Carrier Detect Control input
	D7, RI  gpio.PinIO // Ring Indicator Control Input. When remote wake up is enabled in the internal EEPROM taking RI# low can be used to resume the PC USB host controller from suspend.

	// The CBus pins are slower to use, but can drive an high load, like a LED.
	C0 gpio.PinIO
	C1 gpio.PinIO
	C2 gpio.PinIO
	C3 gpio.PinIO

	dbus [8]dbusPinSync
	cbus [4]cbusPin
	hdr  [12]gpio.PinIO

	// Mutable.
	mu         sync.Mutex
	dmask      uint8 // 0 input, 1 output
	dvalue     uint8
	cbusnibble uint8 // upper nibble is I/O control, lower nibble is values.
}

// Header returns the GPIO pins exposed on the chip.
func (f *FT232R) Header() []gpio.PinIO {
	out := make([]gpio.PinIO, len(f.hdr))
	copy(out, f.hdr[:])
	return out
}

// dbusSyncGPIOFunc implements dbusSync. It returns the function of a GPIO
// pin.
func (f *FT232R) dbusSyncGPIOFunc(n int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	mask := uint8(1 << uint(n))
	if f.dmask&mask != 0 {
		return "Out/" + gpio.Level(f.dvalue&mask != 0).String()
	}
	return "In/" + f.dbusSyncReadLocked(n).String()
}

// dbusSyncGPIOIn implements dbusSync.
func (f *FT232R) dbusSyncGPIOIn(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mask := uint8(1 << uint(n))
	if f.dmask&mask == 0 {
		// Already input.
		return nil
	}
	v := f.dmask &^ mask
	if err := f.h.SetBitMode(v, bitModeAsyncBitbang); err != nil {
		return err
	}
	f.dmask = v
	return nil
}

// dbusSyncGPIORead implements dbusSync.
func (f *FT232R) dbusSyncGPIORead(n int) gpio.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dbusSyncReadLocked(n)
}

func (f *FT232R) dbusSyncReadLocked(n int) gpio.Level {
	// In synchronous mode, to read we must write first to for a sample.
	b := [1]byte{f.dvalue}
	if _, err := f.h.Write(b[:]); err != nil {
		return gpio.Low
	}
	mask := uint8(1 << uint(n))
	if _, err := f.h.ReadAll(context.Background(), b[:]); err != nil {
		return gpio.Low
	}
	f.dvalue = b[0]
	return f.dvalue&mask != 0
}

// dbusSyncGPIOOut implements dbusSync.
func (f *FT232R) dbusSyncGPIOOut(n int, l gpio.Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mask := uint8(1 << uint(n))
	if f.dmask&mask != 1 {
		// Was input.
		v := f.dmask | mask
		if err := f.h.SetBitMode(v, bitModeAsyncBitbang); err != nil {
			return err
		}
		f.dmask = v
	}
	return f.dbusSyncGPIOOutLocked(n, l)
}

func (f *FT232R) dbusSyncGPIOOutLocked(n int, l gpio.Level) error {
	b := [1]byte{f.dvalue}
	if _, err := f.h.Write(b[:]); err != nil {
		return err
	}
	f.dvalue = b[0]
	// In synchronous mode, we must read after writing to flush the buffer.
	if _, err := f.h.ReadAll(context.Background(), b[:]); err != nil {
		return err
	}
	return nil
}

// cBusGPIOFunc implements cBusGPIO.
func (f *FT232R) cBusGPIOFunc(n int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmask := uint8(0x10 << uint(n))
	vmask := uint8(1 << uint(n))
	if f.cbusnibble&fmask != 0 {
		return "Out/" + gpio.Level(f.cbusnibble&vmask != 0).String()
	}
	return "In/" + f.cBusReadLocked(n).String()
}

// cBusGPIOIn implements cBusGPIO.
func (f *FT232R) cBusGPIOIn(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmask := uint8(0x10 << uint(n))
	if f.cbusnibble&fmask == 0 {
		// Already input.
		return nil
	}
	v := f.cbusnibble &^ fmask
	if err := f.h.SetBitMode(v, bitModeCbusBitbang); err != nil {
		return err
	}
	f.cbusnibble = v
	return nil
}

// cBusGPIORead implements cBusGPIO.
func (f *FT232R) cBusGPIORead(n int) gpio.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cBusReadLocked(n)
}

func (f *FT232R) cBusReadLocked(n int) gpio.Level {
	v, err := f.h.GetBitMode()
	if err != nil {
		return gpio.Low
	}
	f.cbusnibble = v
	vmask := uint8(1 << uint(n))
	return f.cbusnibble&vmask != 0
}

// cBusGPIOOut implements cBusGPIO.
func (f *FT232R) cBusGPIOOut(n int, l gpio.Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmask := uint8(0x10 << uint(n))
	vmask := uint8(1 << uint(n))
	v := f.cbusnibble | fmask
	if l {
		v |= vmask
	} else {
		v &^= vmask
	}
	if f.cbusnibble == v {
		// Was already in the right mode.
		return nil
	}
	if err := f.h.SetBitMode(v, bitModeCbusBitbang); err != nil {
		return err
	}
	f.cbusnibble = v
	return nil
}

//

var _ conn.Resource = Dev(nil)
