package sensor

import (
	"context"
	"math/rand"
	"time"

	"github.com/ericogr/ina226-to-mqtt/pkg/config"
	"github.com/ericogr/ina226-to-mqtt/pkg/ina226"
	"github.com/ericogr/ina226-to-mqtt/pkg/ina226/inasim"
)

// FakeSensor runs the real driver against simulated chips whose inputs
// wander around a 12 V rail drawing about half the configured current.
type FakeSensor struct {
	*INA226Sensor
	sim *inasim.Bus
	rnd *rand.Rand
}

func NewFakeSensor(cfg config.Config) (Sensor, error) {
	sim := inasim.NewBus()
	for _, u := range cfg.EnabledUnits() {
		sim.Add(uint16(u.Address))
	}
	s, err := newINA226Sensor(sim, cfg, ina226.WithSleep(func(time.Duration) {}))
	if err != nil {
		return nil, err
	}
	return &FakeSensor{INA226Sensor: s, sim: sim, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
}

func (f *FakeSensor) Read(ctx context.Context) ([]Reading, error) {
	for _, u := range f.units {
		busMv := int32(12000 + f.rnd.Intn(500) - 250)
		// shunt µV = mA * µΩ / 1000
		ma := int64(u.cfg.MaxMilliamps) * int64(40+f.rnd.Intn(20)) / 100
		shuntUv := int32(ma * int64(u.cfg.ShuntMicroOhms) / 1000)
		if err := f.sim.SetInputs(uint16(u.cfg.Address), busMv, shuntUv); err != nil {
			return nil, err
		}
	}
	return f.INA226Sensor.Read(ctx)
}
