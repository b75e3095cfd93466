package sensor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/ericogr/ina226-to-mqtt/pkg/config"
	"github.com/ericogr/ina226-to-mqtt/pkg/ina226"
)

type unitState struct {
	cfg  config.UnitConfig
	mode ina226.Mode
}

// INA226Sensor reads every enabled unit through one ina226.Driver.
type INA226Sensor struct {
	mu      sync.Mutex
	bus     i2c.BusCloser
	drv     *ina226.Driver
	units   []unitState
	timeout time.Duration
}

func NewINA226Sensor(cfg config.Config) (Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	s, err := newINA226Sensor(bus, cfg)
	if err != nil {
		return nil, multierr.Append(err, bus.Close())
	}
	return s, nil
}

// newINA226Sensor sets up every enabled unit on bus. Units that fail setup
// are logged and skipped; it is an error only if none succeeds.
func newINA226Sensor(bus i2c.BusCloser, cfg config.Config, opts ...ina226.Option) (*INA226Sensor, error) {
	s := &INA226Sensor{
		bus:     bus,
		drv:     ina226.New(bus, opts...),
		timeout: time.Duration(cfg.ConversionTimeoutMs) * time.Millisecond,
	}
	var errs error
	for _, u := range cfg.EnabledUnits() {
		mode, err := setupUnit(s.drv, u)
		if err != nil {
			log.Printf("unit %d (%s) at 0x%02x: setup failed: %v", u.Unit, u.Name, u.Address, err)
			errs = multierr.Append(errs, fmt.Errorf("unit %d: %w", u.Unit, err))
			continue
		}
		s.units = append(s.units, unitState{cfg: u, mode: mode})
	}
	if len(s.units) == 0 {
		if errs == nil {
			errs = errors.New("no units enabled")
		}
		return nil, fmt.Errorf("no INA226 unit available: %w", errs)
	}
	return s, nil
}

func (s *INA226Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus != nil {
		err := s.bus.Close()
		s.bus = nil
		return err
	}
	return nil
}

// Read samples every unit. Units in a triggered mode wait for their
// conversion, bounded by the configured conversion timeout. A failing unit
// does not prevent the others from being read.
func (s *INA226Sensor) Read(ctx context.Context) ([]Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus == nil {
		return nil, errors.New("sensor closed")
	}
	out := make([]Reading, 0, len(s.units))
	var errs error
	for _, u := range s.units {
		r, err := s.readUnit(ctx, u)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unit %d: %w", u.cfg.Unit, err))
			continue
		}
		out = append(out, r)
	}
	return out, errs
}

func (s *INA226Sensor) readUnit(ctx context.Context, u unitState) (Reading, error) {
	wait := u.mode.Triggered()
	if wait && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	m, err := s.drv.Sense(ctx, wait, u.cfg.Unit)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Unit:             u.cfg.Unit,
		Name:             u.cfg.Name,
		Address:          uint8(u.cfg.Address),
		BusMillivolts:    uint32(m.BusVoltage / physic.MilliVolt),
		ShuntMicrovolts:  int32(m.ShuntVoltage / physic.MicroVolt),
		CurrentMicroamps: int32(m.Current / physic.MicroAmpere),
		PowerMicrowatts:  int32(m.Power / physic.MicroWatt),
		Timestamp:        time.Now(),
	}, nil
}
