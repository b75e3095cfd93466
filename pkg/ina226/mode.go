package ina226

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the operating mode held in bits [2:0] of the configuration
// register. The all-zero encoding is reserved.
type Mode uint8

const (
	ModeTriggeredShunt  Mode = 0b001
	ModeTriggeredBus    Mode = 0b010
	ModeTriggeredBoth   Mode = 0b011
	ModePowerDown       Mode = 0b100
	ModeContinuousShunt Mode = 0b101
	ModeContinuousBus   Mode = 0b110
	ModeContinuousBoth  Mode = 0b111
)

var modeNames = map[Mode]string{
	ModeTriggeredShunt:  "triggered-shunt",
	ModeTriggeredBus:    "triggered-bus",
	ModeTriggeredBoth:   "triggered-both",
	ModePowerDown:       "power-down",
	ModeContinuousShunt: "continuous-shunt",
	ModeContinuousBus:   "continuous-bus",
	ModeContinuousBoth:  "continuous-both",
}

// Valid reports whether m is one of the seven defined modes.
func (m Mode) Valid() bool { return m >= ModeTriggeredShunt && m <= ModeContinuousBoth }

// Triggered reports whether m performs a single conversion per
// configuration register write.
func (m Mode) Triggered() bool { return m.Valid() && m&0b100 == 0 }

func (m Mode) measuresShunt() bool { return m&0b001 != 0 }
func (m Mode) measuresBus() bool   { return m&0b010 != 0 }

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%#x)", uint8(m))
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Averaging is the 3-bit index of a hardware averaging tier.
type Averaging uint8

var averagingSamples = [8]uint16{1, 4, 16, 64, 128, 256, 512, 1024}

// AveragingFor selects the largest tier that does not exceed count.
func AveragingFor(count uint16) Averaging {
	for i := len(averagingSamples) - 1; i > 0; i-- {
		if count >= averagingSamples[i] {
			return Averaging(i)
		}
	}
	return 0
}

// Samples returns the number of samples averaged per conversion.
func (a Averaging) Samples() uint16 { return averagingSamples[a&0x7] }

// ConversionTime is the 3-bit conversion time select code.
type ConversionTime uint8

// MaxConversionTime is the slowest conversion time code.
const MaxConversionTime ConversionTime = 7

var conversionDurations = [8]time.Duration{
	140 * time.Microsecond,
	204 * time.Microsecond,
	332 * time.Microsecond,
	588 * time.Microsecond,
	1100 * time.Microsecond,
	2116 * time.Microsecond,
	4156 * time.Microsecond,
	8244 * time.Microsecond,
}

// clamp limits c to the valid code range.
func (c ConversionTime) clamp() ConversionTime {
	if c > MaxConversionTime {
		return MaxConversionTime
	}
	return c
}

// Duration returns the conversion time of a single sample.
func (c ConversionTime) Duration() time.Duration { return conversionDurations[c.clamp()] }

// Configuration is the decoded content of the configuration register.
type Configuration struct {
	Mode                Mode
	Averaging           Averaging
	BusConversionTime   ConversionTime
	ShuntConversionTime ConversionTime
}

// DecodeConfiguration splits a configuration register word into its fields.
func DecodeConfiguration(w uint16) Configuration {
	return Configuration{
		Mode:                Mode(w & configModeMask),
		Averaging:           Averaging((w & configAvgMask) >> configAvgShift),
		BusConversionTime:   ConversionTime((w & configBusCTMask) >> configBusShift),
		ShuntConversionTime: ConversionTime((w & configShCTMask) >> configShShift),
	}
}

// Word encodes c as a configuration register value.
func (c Configuration) Word() uint16 {
	return configDefault&0x7000 |
		uint16(c.Averaging&0x7)<<configAvgShift |
		uint16(c.BusConversionTime.clamp())<<configBusShift |
		uint16(c.ShuntConversionTime.clamp())<<configShShift |
		uint16(c.Mode)&configModeMask
}

// CycleTime estimates how long one complete conversion takes with c.
func (c Configuration) CycleTime() time.Duration {
	var per time.Duration
	if c.Mode.measuresBus() {
		per += c.BusConversionTime.Duration()
	}
	if c.Mode.measuresShunt() {
		per += c.ShuntConversionTime.Duration()
	}
	return per * time.Duration(c.Averaging.Samples())
}
