package ina226

import "fmt"

const (
	currentSpan      = 32767      // positive range of the signed current register
	calibrationScale = 51_200_000 // 0.00512 rescaled for nA and µΩ inputs
	shuntScale       = 100_000
	powerLSBRatio    = 25
	busVoltageLSB    = 125 // 1.25 mV, x100
	shuntVoltageLSB  = 25  // 2.5 µV, x10
)

// Calibration holds the scale factors derived from the expected maximum
// current and the shunt resistance. CurrentLSB and Coefficient are derived
// together and must only be used together.
type Calibration struct {
	CurrentLSB  uint32 // nA per count
	Coefficient uint16 // written to the calibration register
	PowerLSB    uint32 // nW per count
}

// DeriveCalibration computes the calibration for a shunt of shuntMicroOhms
// carrying at most maxMilliamps. Every division truncates. The coefficient is
// not range checked and is truncated to the 16-bit register width.
func DeriveCalibration(maxMilliamps, shuntMicroOhms uint32) (Calibration, error) {
	if maxMilliamps == 0 || shuntMicroOhms == 0 {
		return Calibration{}, fmt.Errorf("%w: max current %d mA, shunt %d µΩ", ErrInvalidCalibration, maxMilliamps, shuntMicroOhms)
	}
	currentLSB := uint64(maxMilliamps) * 1_000_000 / currentSpan
	denom := currentLSB * uint64(shuntMicroOhms) / shuntScale
	if denom == 0 {
		return Calibration{}, fmt.Errorf("%w: current LSB %d nA too small for shunt %d µΩ", ErrInvalidCalibration, currentLSB, shuntMicroOhms)
	}
	return Calibration{
		CurrentLSB:  uint32(currentLSB),
		Coefficient: uint16(calibrationScale / denom),
		PowerLSB:    uint32(currentLSB * powerLSBRatio),
	}, nil
}

// Microamps converts a raw current register value.
func (c Calibration) Microamps(raw int16) int32 {
	return int32(int64(raw) * int64(c.CurrentLSB) / 1000)
}

// Microwatts converts a raw power register value.
func (c Calibration) Microwatts(raw uint16) int32 {
	return int32(int64(raw) * int64(c.PowerLSB) / 1000)
}

// BusMillivolts converts a raw bus voltage register value. The bus voltage
// resolution is fixed by the chip and independent of calibration.
func BusMillivolts(raw uint16) uint32 {
	return uint32(uint64(raw) * busVoltageLSB / 100)
}

// ShuntMicrovolts converts a raw shunt voltage register value.
func ShuntMicrovolts(raw int16) int32 {
	return int32(int64(raw) * shuntVoltageLSB / 10)
}
