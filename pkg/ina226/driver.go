// Package ina226 drives TI INA226 bidirectional current/power monitors over
// I²C and converts their registers to engineering units.
//
// A Driver owns a fixed number of device slots. Each slot is set up once with
// Begin, which derives and writes the calibration register; afterwards the
// getters scale raw register values with that slot's calibration.
//
// The Driver is not safe for concurrent use. Callers that share it between
// goroutines must serialize all operations.
//
// Datasheet: https://www.ti.com/lit/ds/symlink/ina226.pdf
package ina226

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

// ResetDelay is how long Begin and Reset wait after setting the reset bit.
const ResetDelay = 28 * time.Microsecond

// Driver talks to up to MaxUnits INA226 devices sharing one bus.
type Driver struct {
	bus          drivers.I2C
	units        Registry
	sleep        func(time.Duration)
	pollInterval time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithSleep replaces the delay primitive, time.Sleep by default.
func WithSleep(fn func(time.Duration)) Option {
	return func(d *Driver) { d.sleep = fn }
}

// WithPollInterval makes WaitForConversion pause between status reads.
// The default of zero polls back to back.
func WithPollInterval(iv time.Duration) Option {
	return func(d *Driver) { d.pollInterval = iv }
}

// New returns a Driver using bus. Any periph.io i2c.Bus satisfies
// drivers.I2C.
func New(bus drivers.I2C, opts ...Option) *Driver {
	d := &Driver{bus: bus, sleep: time.Sleep}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Unit returns the device slot for id.
func (d *Driver) Unit(id int) (*Device, error) { return d.units.Unit(id) }

// Begin probes addr, resets the device, checks it came back with the
// post-reset configuration and writes the calibration derived from
// maxMilliamps and shuntMicroOhms. The slot is only populated when every
// step succeeds; re-running Begin on a populated slot replaces it.
func (d *Driver) Begin(maxMilliamps, shuntMicroOhms uint32, unit int, addr uint8) error {
	dev, err := d.units.Unit(unit)
	if err != nil {
		return err
	}
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("%w: 0x%02x", ErrInvalidAddress, addr)
	}
	cal, err := DeriveCalibration(maxMilliamps, shuntMicroOhms)
	if err != nil {
		return err
	}
	if err := d.bus.Tx(uint16(addr), []byte{byte(RegConfig)}, nil); err != nil {
		return fmt.Errorf("%w at 0x%02x: %w", ErrDeviceNotPresent, addr, err)
	}
	if err := d.writeRegister(addr, RegConfig, configReset); err != nil {
		return err
	}
	d.sleep(ResetDelay)
	cfg, err := d.readRegister(addr, RegConfig)
	if err != nil {
		return err
	}
	if cfg != configDefault {
		return fmt.Errorf("%w: read 0x%04x at 0x%02x, want 0x%04x", ErrUnexpectedConfig, cfg, addr, configDefault)
	}
	if err := d.writeRegister(addr, RegCalibration, cal.Coefficient); err != nil {
		return err
	}
	dev.populate(addr, cal)
	return nil
}

// GetBusMillivolts returns the bus voltage. With wait set it first blocks in
// WaitForConversion.
func (d *Driver) GetBusMillivolts(ctx context.Context, wait bool, unit int) (uint32, error) {
	raw, err := d.readVoltage(ctx, wait, unit, RegBusVoltage)
	if err != nil {
		return 0, err
	}
	return BusMillivolts(raw), nil
}

// GetShuntMicrovolts returns the voltage across the shunt.
func (d *Driver) GetShuntMicrovolts(ctx context.Context, wait bool, unit int) (int32, error) {
	raw, err := d.readVoltage(ctx, wait, unit, RegShuntVoltage)
	if err != nil {
		return 0, err
	}
	return ShuntMicrovolts(int16(raw)), nil
}

// GetBusMicroamps returns the current computed by the device, scaled with the
// unit's calibration.
func (d *Driver) GetBusMicroamps(unit int) (int32, error) {
	dev, err := d.units.ready(unit)
	if err != nil {
		return 0, err
	}
	raw, err := d.readRegister(dev.address, RegCurrent)
	if err != nil {
		return 0, err
	}
	return dev.calibration.Microamps(int16(raw)), nil
}

// GetBusMicrowatts returns the power computed by the device.
func (d *Driver) GetBusMicrowatts(unit int) (int32, error) {
	dev, err := d.units.ready(unit)
	if err != nil {
		return 0, err
	}
	raw, err := d.readRegister(dev.address, RegPower)
	if err != nil {
		return 0, err
	}
	return dev.calibration.Microwatts(raw), nil
}

// Measurement is one full set of readings from a unit.
type Measurement struct {
	BusVoltage   physic.ElectricPotential
	ShuntVoltage physic.ElectricPotential
	Current      physic.ElectricCurrent
	Power        physic.Power
}

func (m Measurement) String() string {
	return fmt.Sprintf("%s %s %s (shunt %s)", m.BusVoltage, m.Current, m.Power, m.ShuntVoltage)
}

// Sense reads all four measurement registers of unit. In triggered modes the
// next conversion is started once, after the last register is read.
func (d *Driver) Sense(ctx context.Context, wait bool, unit int) (Measurement, error) {
	var m Measurement
	dev, err := d.units.ready(unit)
	if err != nil {
		return m, err
	}
	if wait {
		if err := d.waitForConversion(ctx, unit, dev); err != nil {
			return m, err
		}
	}
	var raw [4]uint16
	for i, reg := range []Register{RegBusVoltage, RegShuntVoltage, RegCurrent, RegPower} {
		if raw[i], err = d.readRegister(dev.address, reg); err != nil {
			return m, err
		}
	}
	m.BusVoltage = physic.ElectricPotential(BusMillivolts(raw[0])) * physic.MilliVolt
	m.ShuntVoltage = physic.ElectricPotential(ShuntMicrovolts(int16(raw[1]))) * physic.MicroVolt
	m.Current = physic.ElectricCurrent(dev.calibration.Microamps(int16(raw[2]))) * physic.MicroAmpere
	m.Power = physic.Power(dev.calibration.Microwatts(raw[3])) * physic.MicroWatt
	if dev.mode.Triggered() {
		if err := d.retrigger(dev); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Reset sets the reset bit and waits ResetDelay. The device loses its
// calibration register; call Begin again to keep measuring current and power.
func (d *Driver) Reset(unit int) error {
	dev, err := d.units.ready(unit)
	if err != nil {
		return err
	}
	if err := d.writeRegister(dev.address, RegConfig, configReset); err != nil {
		return err
	}
	d.sleep(ResetDelay)
	dev.mode = ModeContinuousBoth
	return nil
}

// SetMode changes the operating mode. Only the low four bits of mode are
// considered and the result must be one of the seven defined modes.
func (d *Driver) SetMode(mode Mode, unit int) error {
	dev, err := d.units.ready(unit)
	if err != nil {
		return err
	}
	m := mode & 0x0F
	if !m.Valid() {
		return fmt.Errorf("%w: %#x", ErrInvalidMode, uint8(mode))
	}
	if err := d.updateConfig(dev, configModeMask, uint16(m)); err != nil {
		return err
	}
	dev.mode = m
	return nil
}

// SetAveraging selects the largest averaging tier not above samples.
func (d *Driver) SetAveraging(samples uint16, unit int) error {
	dev, err := d.units.ready(unit)
	if err != nil {
		return err
	}
	return d.updateConfig(dev, configAvgMask, uint16(AveragingFor(samples))<<configAvgShift)
}

// SetBusConversionTime sets the bus voltage conversion time. Codes above
// MaxConversionTime are clamped.
func (d *Driver) SetBusConversionTime(code ConversionTime, unit int) error {
	dev, err := d.units.ready(unit)
	if err != nil {
		return err
	}
	return d.updateConfig(dev, configBusCTMask, uint16(code.clamp())<<configBusShift)
}

// SetShuntConversionTime sets the shunt voltage conversion time. Codes above
// MaxConversionTime are clamped.
func (d *Driver) SetShuntConversionTime(code ConversionTime, unit int) error {
	dev, err := d.units.ready(unit)
	if err != nil {
		return err
	}
	return d.updateConfig(dev, configShCTMask, uint16(code.clamp())<<configShShift)
}

// ReadConfiguration reads and decodes the configuration register.
func (d *Driver) ReadConfiguration(unit int) (Configuration, error) {
	dev, err := d.units.ready(unit)
	if err != nil {
		return Configuration{}, err
	}
	w, err := d.readRegister(dev.address, RegConfig)
	if err != nil {
		return Configuration{}, err
	}
	return DecodeConfiguration(w), nil
}

// WaitForConversion polls the conversion ready flag until it is set or ctx
// is done. With a context that is never cancelled it waits indefinitely.
func (d *Driver) WaitForConversion(ctx context.Context, unit int) error {
	dev, err := d.units.ready(unit)
	if err != nil {
		return err
	}
	return d.waitForConversion(ctx, unit, dev)
}

// SetAlertPinOnConversion enables or disables asserting the alert pin when a
// conversion completes.
func (d *Driver) SetAlertPinOnConversion(enabled bool, unit int) error {
	dev, err := d.units.ready(unit)
	if err != nil {
		return err
	}
	w, err := d.readRegister(dev.address, RegMaskEnable)
	if err != nil {
		return err
	}
	if enabled {
		w |= maskAlertOnReady
	} else {
		w &^= maskAlertOnReady
	}
	return d.writeRegister(dev.address, RegMaskEnable, w)
}

// Address returns the bus address stored for unit, 0 if it was never set up.
func (d *Driver) Address(unit int) (uint8, error) {
	dev, err := d.units.Unit(unit)
	if err != nil {
		return 0, err
	}
	return dev.Address(), nil
}

// Calibration returns the calibration register value stored for unit.
func (d *Driver) Calibration(unit int) (uint16, error) {
	dev, err := d.units.Unit(unit)
	if err != nil {
		return 0, err
	}
	return dev.Calibration(), nil
}

// CurrentLSB returns the current resolution of unit in nA per count.
func (d *Driver) CurrentLSB(unit int) (uint32, error) {
	dev, err := d.units.Unit(unit)
	if err != nil {
		return 0, err
	}
	return dev.CurrentLSB(), nil
}

// PowerLSB returns the power resolution of unit in nW per count.
func (d *Driver) PowerLSB(unit int) (uint32, error) {
	dev, err := d.units.Unit(unit)
	if err != nil {
		return 0, err
	}
	return dev.PowerLSB(), nil
}

// OperatingMode returns the cached operating mode of unit.
func (d *Driver) OperatingMode(unit int) (Mode, error) {
	dev, err := d.units.Unit(unit)
	if err != nil {
		return 0, err
	}
	return dev.Mode(), nil
}

func (d *Driver) readVoltage(ctx context.Context, wait bool, unit int, reg Register) (uint16, error) {
	dev, err := d.units.ready(unit)
	if err != nil {
		return 0, err
	}
	if wait {
		if err := d.waitForConversion(ctx, unit, dev); err != nil {
			return 0, err
		}
	}
	raw, err := d.readRegister(dev.address, reg)
	if err != nil {
		return 0, err
	}
	if dev.mode.Triggered() {
		if err := d.retrigger(dev); err != nil {
			return 0, err
		}
	}
	return raw, nil
}

func (d *Driver) waitForConversion(ctx context.Context, unit int, dev *Device) error {
	for {
		w, err := d.readRegister(dev.address, RegMaskEnable)
		if err != nil {
			return err
		}
		if w&maskConversionReady != 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: unit %d: %w", ErrConversionTimeout, unit, ctx.Err())
		default:
		}
		if d.pollInterval > 0 {
			d.sleep(d.pollInterval)
		}
	}
}

// retrigger rewrites the configuration register unchanged, which starts the
// next single-shot conversion.
func (d *Driver) retrigger(dev *Device) error {
	w, err := d.readRegister(dev.address, RegConfig)
	if err != nil {
		return err
	}
	return d.writeRegister(dev.address, RegConfig, w)
}

func (d *Driver) updateConfig(dev *Device, mask, bits uint16) error {
	w, err := d.readRegister(dev.address, RegConfig)
	if err != nil {
		return err
	}
	return d.writeRegister(dev.address, RegConfig, w&^mask|bits&mask)
}

func (d *Driver) readRegister(addr uint8, reg Register) (uint16, error) {
	buf := make([]byte, 2)
	if err := d.bus.Tx(uint16(addr), []byte{byte(reg)}, buf); err != nil {
		return 0, &BusError{Addr: addr, Register: reg, Op: "read", Err: err}
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (d *Driver) writeRegister(addr uint8, reg Register, v uint16) error {
	if err := d.bus.Tx(uint16(addr), []byte{byte(reg), byte(v >> 8), byte(v)}, nil); err != nil {
		return &BusError{Addr: addr, Register: reg, Op: "write", Err: err}
	}
	return nil
}
