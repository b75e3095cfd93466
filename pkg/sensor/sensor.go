package sensor

import (
	"context"
	"time"
)

type Reading struct {
	Unit             int       `json:"unit"`
	Name             string    `json:"name"`
	Address          uint8     `json:"address"`
	BusMillivolts    uint32    `json:"bus_mv"`
	ShuntMicrovolts  int32     `json:"shunt_uv"`
	CurrentMicroamps int32     `json:"current_ua"`
	PowerMicrowatts  int32     `json:"power_uw"`
	Timestamp        time.Time `json:"timestamp"`
}

// Volts returns the bus voltage in volts.
func (r Reading) Volts() float64 { return float64(r.BusMillivolts) / 1e3 }

// Amps returns the current in amperes.
func (r Reading) Amps() float64 { return float64(r.CurrentMicroamps) / 1e6 }

// Watts returns the power in watts.
func (r Reading) Watts() float64 { return float64(r.PowerMicrowatts) / 1e6 }

type Sensor interface {
	Read(ctx context.Context) ([]Reading, error)
	Close() error
}
