package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ericogr/ina226-to-mqtt/pkg/ina226"
)

const (
	SensorReal       = "real"
	SensorSimulation = "simulation"

	FormatJSON = "json"
	FormatCBOR = "cbor"
)

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic" yaml:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name" yaml:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id" yaml:"discovery_unique_id"`
	Format            string `json:"format" yaml:"format"`
}

type OutputConfig struct {
	Type       string      `json:"type" yaml:"type"`
	IntervalMs int         `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

type I2CConfig struct {
	Bus string `json:"bus" yaml:"bus"`
}

// UnitConfig describes one monitored INA226. Nil conversion times keep the
// device defaults.
type UnitConfig struct {
	Unit              int    `json:"unit" yaml:"unit"`
	Name              string `json:"name" yaml:"name"`
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	Address           int    `json:"address" yaml:"address"`
	MaxMilliamps      uint32 `json:"max_milliamps" yaml:"max_milliamps"`
	ShuntMicroOhms    uint32 `json:"shunt_micro_ohms" yaml:"shunt_micro_ohms"`
	Mode              string `json:"mode" yaml:"mode"`
	Averaging         uint16 `json:"averaging" yaml:"averaging"`
	BusConversion     *uint8 `json:"bus_conversion,omitempty" yaml:"bus_conversion,omitempty"`
	ShuntConversion   *uint8 `json:"shunt_conversion,omitempty" yaml:"shunt_conversion,omitempty"`
	AlertOnConversion bool   `json:"alert_on_conversion" yaml:"alert_on_conversion"`
}

type Config struct {
	I2C                 I2CConfig      `json:"i2c" yaml:"i2c"`
	SensorType          string         `json:"sensor_type" yaml:"sensor_type"`
	IntervalMs          int            `json:"interval_ms" yaml:"interval_ms"`
	ConversionTimeoutMs int            `json:"conversion_timeout_ms" yaml:"conversion_timeout_ms"`
	Units               []UnitConfig   `json:"units" yaml:"units"`
	Outputs             []OutputConfig `json:"outputs" yaml:"outputs"`
}

func DefaultUnit(id int) UnitConfig {
	return UnitConfig{
		Unit:           id,
		Name:           fmt.Sprintf("ina226-%d", id),
		Enabled:        true,
		Address:        0x40 + id,
		MaxMilliamps:   819,
		ShuntMicroOhms: 100000,
		Mode:           ina226.ModeContinuousBoth.String(),
	}
}

func DefaultConfig() Config {
	return Config{
		I2C:                 I2CConfig{Bus: "1"},
		SensorType:          SensorReal,
		IntervalMs:          1000,
		ConversionTimeoutMs: 100,
		Units:               []UnitConfig{DefaultUnit(0)},
		Outputs:             []OutputConfig{{Type: "console", IntervalMs: 1000}},
	}
}

// OperatingMode returns the configured mode, continuous-both when unset.
func (u UnitConfig) OperatingMode() (ina226.Mode, error) {
	if u.Mode == "" {
		return ina226.ModeContinuousBoth, nil
	}
	return ina226.ParseMode(u.Mode)
}

// Configuration returns the configuration register content u asks for.
func (u UnitConfig) Configuration() (ina226.Configuration, error) {
	m, err := u.OperatingMode()
	if err != nil {
		return ina226.Configuration{}, err
	}
	c := ina226.Configuration{
		Mode:                m,
		Averaging:           ina226.AveragingFor(u.Averaging),
		BusConversionTime:   4,
		ShuntConversionTime: 4,
	}
	if u.BusConversion != nil {
		c.BusConversionTime = ina226.ConversionTime(*u.BusConversion)
	}
	if u.ShuntConversion != nil {
		c.ShuntConversionTime = ina226.ConversionTime(*u.ShuntConversion)
	}
	return c, nil
}

// EnabledUnits returns the units that should be polled.
func (c Config) EnabledUnits() []UnitConfig {
	out := make([]UnitConfig, 0, len(c.Units))
	for _, u := range c.Units {
		if u.Enabled {
			out = append(out, u)
		}
	}
	return out
}

// Validate checks settings that would otherwise only fail at runtime.
func (c Config) Validate() error {
	switch c.SensorType {
	case SensorReal, SensorSimulation:
	default:
		return fmt.Errorf("unknown sensor type %q", c.SensorType)
	}
	if c.IntervalMs < 0 {
		return errors.New("interval-ms must be >= 0")
	}
	if c.ConversionTimeoutMs < 0 {
		return errors.New("conversion-timeout-ms must be >= 0")
	}
	units := map[int]bool{}
	addrs := map[int]int{}
	for _, u := range c.Units {
		if u.Unit < 0 || u.Unit >= ina226.MaxUnits {
			return fmt.Errorf("unit %d: out of range [0,%d)", u.Unit, ina226.MaxUnits)
		}
		if units[u.Unit] {
			return fmt.Errorf("unit %d: configured twice", u.Unit)
		}
		units[u.Unit] = true
		if !u.Enabled {
			continue
		}
		if u.Address <= 0 || u.Address > 0x7F {
			return fmt.Errorf("unit %d: invalid address 0x%x", u.Unit, u.Address)
		}
		if other, ok := addrs[u.Address]; ok {
			return fmt.Errorf("unit %d: address 0x%02x already used by unit %d", u.Unit, u.Address, other)
		}
		addrs[u.Address] = u.Unit
		if _, err := ina226.DeriveCalibration(u.MaxMilliamps, u.ShuntMicroOhms); err != nil {
			return fmt.Errorf("unit %d: %w", u.Unit, err)
		}
		if _, err := u.OperatingMode(); err != nil {
			return fmt.Errorf("unit %d: %w", u.Unit, err)
		}
	}
	for _, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case "console":
		case "mqtt":
			if o.MQTT != nil {
				switch strings.ToLower(o.MQTT.Format) {
				case "", FormatJSON, FormatCBOR:
				default:
					return fmt.Errorf("mqtt: unknown payload format %q", o.MQTT.Format)
				}
			}
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

// ReadFile merges a JSON or YAML file into cfg. YAML is chosen by the
// .yaml/.yml extension.
func ReadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadFromFlags loads configuration from the process arguments.
func LoadFromFlags() (Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load loads configuration from a JSON/YAML file (optional) and flags.
// Flags override values present in the file.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagInterval := fs.Int("interval-ms", -1, "Poll interval in ms (0 derives it from conversion times)")
	flagTimeout := fs.Int("conversion-timeout-ms", -1, "Max wait for a triggered conversion in ms")
	flagUnits := fs.String("units", "", "Comma-separated enabled units e.g. 0,1")
	flagAddresses := fs.String("addresses", "", "Unit addresses e.g. 0=0x40,1=0x41")
	flagMaxMilliamps := fs.String("max-milliamps", "", "Expected max current per unit e.g. 0=819")
	flagShunt := fs.String("shunt-micro-ohms", "", "Shunt resistance per unit e.g. 0=100000")
	flagModes := fs.String("modes", "", "Operating mode per unit e.g. 0=triggered-both")
	flagAveraging := fs.String("averaging", "", "Samples averaged per unit e.g. 0=16")
	flagAlert := fs.String("alert-on-conversion", "", "Alert pin on conversion per unit e.g. 0=true")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic, may contain %d for the unit")
	flagFormat := fs.String("mqtt-format", "", "MQTT payload format: json|cbor")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		// a file replaces the default unit and output lists
		cfg.Units = nil
		cfg.Outputs = nil
		if err := ReadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagI2CBus != "" {
		cfg.I2C.Bus = *flagI2CBus
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagTimeout != -1 {
		cfg.ConversionTimeoutMs = *flagTimeout
	}
	if *flagUnits != "" {
		ids, err := parseUnits(*flagUnits)
		if err != nil {
			return cfg, err
		}
		enabled := map[int]bool{}
		for _, id := range ids {
			enabled[id] = true
			cfg.unit(id)
		}
		for i := range cfg.Units {
			cfg.Units[i].Enabled = enabled[cfg.Units[i].Unit]
		}
	}
	if err := applyUnitInts(&cfg, *flagAddresses, "addresses", func(u *UnitConfig, v int) { u.Address = v }); err != nil {
		return cfg, err
	}
	if err := applyUnitInts(&cfg, *flagMaxMilliamps, "max-milliamps", func(u *UnitConfig, v int) { u.MaxMilliamps = uint32(v) }); err != nil {
		return cfg, err
	}
	if err := applyUnitInts(&cfg, *flagShunt, "shunt-micro-ohms", func(u *UnitConfig, v int) { u.ShuntMicroOhms = uint32(v) }); err != nil {
		return cfg, err
	}
	if err := applyUnitInts(&cfg, *flagAveraging, "averaging", func(u *UnitConfig, v int) { u.Averaging = uint16(v) }); err != nil {
		return cfg, err
	}
	if *flagModes != "" {
		modes, err := parseKeyStringMap(*flagModes)
		if err != nil {
			return cfg, fmt.Errorf("modes: %w", err)
		}
		for id, m := range modes {
			cfg.unit(id).Mode = m
		}
	}
	if *flagAlert != "" {
		alerts, err := parseKeyBoolMap(*flagAlert)
		if err != nil {
			return cfg, fmt.Errorf("alert-on-conversion: %w", err)
		}
		for id, on := range alerts {
			cfg.unit(id).AlertOnConversion = on
		}
	}
	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p, IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		outIntervals := map[string]int{}
		for _, p := range parseCSV(*flagOutputIntervals) {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			if v, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil {
				outIntervals[strings.TrimSpace(kv[0])] = v
			}
		}
		for i := range cfg.Outputs {
			if v, ok := outIntervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	mqttFlags := MQTTConfig{
		Server:     *flagMQTTServer,
		Username:   *flagMQTTUser,
		Password:   *flagMQTTPass,
		ClientID:   *flagClientID,
		StateTopic: *flagTopic,
		Format:     *flagFormat,
	}
	if mqttFlags != (MQTTConfig{}) {
		// Apply MQTT flags to all mqtt outputs; if none exist, create one.
		applied := false
		for i := range cfg.Outputs {
			if strings.ToLower(cfg.Outputs[i].Type) == "mqtt" {
				if cfg.Outputs[i].MQTT == nil {
					cfg.Outputs[i].MQTT = &MQTTConfig{}
				}
				mergeMQTT(cfg.Outputs[i].MQTT, mqttFlags)
				applied = true
			}
		}
		if !applied {
			m := &MQTTConfig{}
			mergeMQTT(m, mqttFlags)
			cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: "mqtt", IntervalMs: cfg.IntervalMs, MQTT: m})
		}
	}
	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	return cfg, cfg.Validate()
}

// unit returns the config of unit id, adding a default entry when missing.
func (c *Config) unit(id int) *UnitConfig {
	for i := range c.Units {
		if c.Units[i].Unit == id {
			return &c.Units[i]
		}
	}
	c.Units = append(c.Units, DefaultUnit(id))
	return &c.Units[len(c.Units)-1]
}

func applyUnitInts(cfg *Config, s, name string, set func(*UnitConfig, int)) error {
	if s == "" {
		return nil
	}
	m, err := parseKeyIntMap(s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for id, v := range m {
		set(cfg.unit(id), v)
	}
	return nil
}

func mergeMQTT(dst *MQTTConfig, src MQTTConfig) {
	if src.Server != "" {
		dst.Server = src.Server
	}
	if src.Username != "" {
		dst.Username = src.Username
	}
	if src.Password != "" {
		dst.Password = src.Password
	}
	if src.ClientID != "" {
		dst.ClientID = src.ClientID
	}
	if src.StateTopic != "" {
		dst.StateTopic = src.StateTopic
	}
	if src.Format != "" {
		dst.Format = src.Format
	}
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseUnits(s string) ([]int, error) {
	parts := parseCSV(s)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid unit '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseKeyStringMap parses "0=a,1=b" into a map keyed by unit.
func parseKeyStringMap(s string) (map[int]string, error) {
	out := map[int]string{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry '%s', want unit=value", p)
		}
		k, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid unit '%s': %w", kv[0], err)
		}
		out[k] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

func parseKeyIntMap(s string) (map[int]int, error) {
	raw, err := parseKeyStringMap(s)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(raw))
	for k, v := range raw {
		n, err := parseIntOrHex(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for unit %d: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func parseKeyBoolMap(s string) (map[int]bool, error) {
	raw, err := parseKeyStringMap(s)
	if err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(raw))
	for k, v := range raw {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for unit %d: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}
