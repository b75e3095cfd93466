package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/ericogr/ina226-to-mqtt/pkg/config"
	"github.com/ericogr/ina226-to-mqtt/pkg/output"
	"github.com/ericogr/ina226-to-mqtt/pkg/output/console"
	"github.com/ericogr/ina226-to-mqtt/pkg/output/mqtt"
	"github.com/ericogr/ina226-to-mqtt/pkg/sensor"
)

type outputEntry struct {
	Name       string
	Out        output.Output
	IntervalMs int
}

// latest holds the most recent set of readings shared with the publishers.
type latest struct {
	mu       sync.Mutex
	readings []sensor.Reading
}

func (l *latest) set(r []sensor.Reading) {
	l.mu.Lock()
	l.readings = r
	l.mu.Unlock()
}

func (l *latest) get() []sensor.Reading {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readings
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
	log.Printf("stopped")
}

func newSensor(cfg config.Config) (sensor.Sensor, error) {
	switch cfg.SensorType {
	case config.SensorSimulation:
		return sensor.NewFakeSensor(cfg)
	default:
		return sensor.NewINA226Sensor(cfg)
	}
}

func run(ctx context.Context, cfg config.Config) (err error) {
	s, err := newSensor(cfg)
	if err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	interval := computeSensorInterval(cfg)
	outs, err := initOutputs(&cfg, interval)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeOutputs(outs)) }()

	log.Printf("sensor=%s units=%d interval=%dms outputs=%d", cfg.SensorType, len(cfg.EnabledUnits()), interval, len(outs))

	var (
		last latest
		wg   sync.WaitGroup
	)
	for _, o := range outs {
		wg.Add(1)
		go func(o outputEntry) {
			defer wg.Done()
			publishLoop(ctx, o, &last)
		}(o)
	}
	defer wg.Wait()

	ticker := time.NewTicker(time.Duration(interval) * time.Millisecond)
	defer ticker.Stop()
	for {
		readings, rerr := s.Read(ctx)
		if rerr != nil {
			log.Printf("sensor read: %v", rerr)
		}
		if len(readings) > 0 {
			last.set(readings)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func publishLoop(ctx context.Context, o outputEntry, last *latest) {
	ticker := time.NewTicker(time.Duration(o.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			readings := last.get()
			if len(readings) == 0 {
				continue
			}
			if err := o.Out.Publish(readings); err != nil {
				log.Printf("%s publish: %v", o.Name, err)
			}
		}
	}
}

// computeSensorInterval returns the poll interval in milliseconds. Without
// an explicit interval it follows the slowest enabled unit's conversion
// cycle.
func computeSensorInterval(cfg config.Config) int {
	if cfg.IntervalMs > 0 {
		return cfg.IntervalMs
	}
	var slowest time.Duration
	for _, u := range cfg.EnabledUnits() {
		c, err := u.Configuration()
		if err != nil {
			continue
		}
		if d := c.CycleTime(); d > slowest {
			slowest = d
		}
	}
	ms := int((slowest + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return ms
}

func initOutputs(cfg *config.Config, defaultInterval int) ([]outputEntry, error) {
	entries := make([]outputEntry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs <= 0 {
			oc.IntervalMs = defaultInterval
		}
		var (
			out output.Output
			err error
		)
		switch strings.ToLower(oc.Type) {
		case "console":
			out = console.NewConsole()
		case "mqtt":
			mc := config.MQTTConfig{}
			if oc.MQTT != nil {
				mc = *oc.MQTT
			}
			out, err = mqtt.NewMQTT(mc, cfg.Units)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("output %s: %w", oc.Type, err), closeOutputs(entries))
		}
		entries = append(entries, outputEntry{Name: oc.Type, Out: out, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}

func closeOutputs(entries []outputEntry) error {
	var err error
	for _, e := range entries {
		err = multierr.Append(err, e.Out.Close())
	}
	return err
}
