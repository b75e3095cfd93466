package ina226

import "fmt"

// MaxUnits is the number of device slots held by a Registry.
const MaxUnits = 3

// Device is the state kept for one monitored unit. A zero Device is an
// unpopulated slot.
type Device struct {
	address     uint8
	calibration Calibration
	mode        Mode
	initialized bool
}

func (d *Device) Address() uint8 { return d.address }

func (d *Device) Calibration() uint16 { return d.calibration.Coefficient }

func (d *Device) CurrentLSB() uint32 { return d.calibration.CurrentLSB }

func (d *Device) PowerLSB() uint32 { return d.calibration.PowerLSB }

// Mode mirrors bits [2:0] of the last configuration word written through
// the driver. Writes by other bus masters are not observed.
func (d *Device) Mode() Mode { return d.mode }

// Initialized reports whether Begin has completed for this slot.
func (d *Device) Initialized() bool { return d.initialized }

// Registry is a fixed set of device slots addressed by unit id.
type Registry struct {
	units [MaxUnits]Device
}

// Unit returns the slot for id.
func (r *Registry) Unit(id int) (*Device, error) {
	if id < 0 || id >= len(r.units) {
		return nil, fmt.Errorf("%w: %d (have %d slots)", ErrUnitOutOfRange, id, len(r.units))
	}
	return &r.units[id], nil
}

// ready returns the slot for id, failing if it was never set up.
func (r *Registry) ready(id int) (*Device, error) {
	d, err := r.Unit(id)
	if err != nil {
		return nil, err
	}
	if !d.initialized {
		return nil, fmt.Errorf("%w: unit %d", ErrNotInitialized, id)
	}
	return d, nil
}

// populate replaces the slot content atomically with respect to the
// calibration invariant: address, calibration and mode are set together.
func (d *Device) populate(addr uint8, cal Calibration) {
	*d = Device{address: addr, calibration: cal, mode: ModeContinuousBoth, initialized: true}
}
