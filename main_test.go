package main

import (
	"testing"

	"github.com/ericogr/ina226-to-mqtt/pkg/config"
)

func TestComputeSensorInterval(t *testing.T) {
	// explicit interval wins
	cfg := config.Config{IntervalMs: 250, Units: []config.UnitConfig{config.DefaultUnit(0)}}
	if got := computeSensorInterval(cfg); got != 250 {
		t.Fatalf("explicit interval: got %d want 250", got)
	}

	// no enabled units -> minimum
	cfg = config.Config{}
	if got := computeSensorInterval(cfg); got != 1 {
		t.Fatalf("empty interval: got %d want 1", got)
	}

	// default unit: bus+shunt at 1.1ms, no averaging -> 2.2ms rounded up
	cfg.Units = []config.UnitConfig{config.DefaultUnit(0)}
	if got := computeSensorInterval(cfg); got != 3 {
		t.Fatalf("default unit interval: got %d want 3", got)
	}

	// slowest unit wins: 16 samples of 2.2ms -> 35.2ms
	slow := config.DefaultUnit(1)
	slow.Mode = "triggered-both"
	slow.Averaging = 16
	cfg.Units = append(cfg.Units, slow)
	if got := computeSensorInterval(cfg); got != 36 {
		t.Fatalf("slowest unit interval: got %d want 36", got)
	}

	// disabled units are ignored
	cfg.Units[1].Enabled = false
	if got := computeSensorInterval(cfg); got != 3 {
		t.Fatalf("disabled unit interval: got %d want 3", got)
	}

	// shunt only: one 1.1ms conversion, 4 samples -> 4.4ms
	shunt := config.DefaultUnit(0)
	shunt.Mode = "continuous-shunt"
	shunt.Averaging = 4
	cfg.Units = []config.UnitConfig{shunt}
	if got := computeSensorInterval(cfg); got != 5 {
		t.Fatalf("shunt only interval: got %d want 5", got)
	}
}

func TestInitOutputsSetsInterval(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "console", IntervalMs: 50}}}
	entries, err := initOutputs(&cfg, 123)
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries len: %d", len(entries))
	}
	if cfg.Outputs[0].IntervalMs != 123 {
		t.Fatalf("cfg output interval not set, got %d", cfg.Outputs[0].IntervalMs)
	}
	if entries[0].IntervalMs != 123 {
		t.Fatalf("entry interval not set, got %d", entries[0].IntervalMs)
	}
	if entries[1].IntervalMs != 50 {
		t.Fatalf("explicit entry interval overwritten, got %d", entries[1].IntervalMs)
	}
}

func TestInitOutputsUnknownType(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "carrier-pigeon"}}}
	if _, err := initOutputs(&cfg, 10); err == nil {
		t.Fatalf("expected error for unknown output type")
	}
}
