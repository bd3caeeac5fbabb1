// Copyright 2024 The icsp-go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package status defines the error taxonomy shared by every package in this
// module: a small set of semantic codes plus a wrapping error type, in place
// of the reference implementation's Status class and RETURN_IF_ERROR macros.
package status

import (
	"errors"
	"fmt"
)

// Code is a semantic error classification. It is not a type hierarchy: a
// single Code is attached to an *Error value and inspected with Is/As.
type Code int

const (
	// OK is never carried by an *Error; it exists only so zero-value Code
	// comparisons read naturally.
	OK Code = iota
	InitFailed
	SyncLost
	DeviceNotFound
	USBWriteError
	InvalidProgram
	Unimplemented
	InvalidArgument
	ParseError
	VerificationError
	FileNotFound
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case InitFailed:
		return "INIT_FAILED"
	case SyncLost:
		return "SYNC_LOST"
	case DeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case USBWriteError:
		return "USB_WRITE_ERROR"
	case InvalidProgram:
		return "INVALID_PROGRAM"
	case Unimplemented:
		return "UNIMPLEMENTED"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case ParseError:
		return "PARSE_ERROR"
	case VerificationError:
		return "VERIFICATION_ERROR"
	case FileNotFound:
		return "FILE_NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// Error is a coded, wrappable error. It is the sole error type this module's
// packages construct directly; errors from the standard library or from
// periph/d2xx are wrapped into one at the point they cross a package
// boundary that the error taxonomy covers.
type Error struct {
	Code Code
	Msg  string
	Err  error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a new *Error with the given code, formatting Msg like
// fmt.Sprintf. Use Wrap instead when an underlying error should be chained.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and a message to an existing error, preserving it as
// the chain's cause. Returns nil if err is nil, so Wrap can guard a function
// result unconditionally (the RETURN_IF_ERROR_WITH_APPEND analogue).
func Wrap(code Code, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err carries the given Code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code of err, or OK if err is nil, or Unimplemented's
// sibling zero-value... callers that need a default should check err != nil
// first. Returns false as the second value when err carries no *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return OK, false
}
