package adb

import "errors"

// Sentinel errors for adb operations.
var (
	// ErrADBNotFound is returned when the adb binary cannot be executed.
	ErrADBNotFound = errors.New("adb: binary not found")

	// ErrDeviceNotFound is returned when the target device is not attached.
	ErrDeviceNotFound = errors.New("adb: device not found")

	// ErrCommand is returned when adb exits non-zero or prints garbage.
	ErrCommand = errors.New("adb: command failed")
)
