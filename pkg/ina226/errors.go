package ina226

import (
	"errors"
	"fmt"
)

var (
	// ErrUnitOutOfRange is returned for unit ids outside [0, MaxUnits).
	ErrUnitOutOfRange = errors.New("ina226: unit out of range")
	// ErrNotInitialized is returned when a unit is used before Begin succeeded.
	ErrNotInitialized = errors.New("ina226: unit not initialized")
	// ErrDeviceNotPresent means nothing acknowledged the probe at the address.
	ErrDeviceNotPresent = errors.New("ina226: device not present")
	// ErrUnexpectedConfig means the configuration register did not read back
	// the post-reset default, so the device is probably not an INA226.
	ErrUnexpectedConfig = errors.New("ina226: unexpected configuration after reset")

	ErrInvalidMode        = errors.New("ina226: invalid operating mode")
	ErrInvalidCalibration = errors.New("ina226: invalid calibration parameters")
	ErrInvalidAddress     = errors.New("ina226: invalid bus address")
	ErrConversionTimeout  = errors.New("ina226: timed out waiting for conversion")
)

// BusError wraps a failed bus transaction.
type BusError struct {
	Addr     uint8
	Register Register
	Op       string
	Err      error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("ina226: %s %s at 0x%02x: %v", e.Op, e.Register, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }
