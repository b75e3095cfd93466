package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/ericogr/ina226-to-mqtt/pkg/config"
	"github.com/ericogr/ina226-to-mqtt/pkg/output"
	"github.com/ericogr/ina226-to-mqtt/pkg/sensor"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "ina226-client"
	perUnitTopicFmt   = "ina226/unit/%d"
	discoveryTopicFmt = "%s/sensor/%s/config"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
)

// quantity is one Home Assistant sensor exposed per unit.
type quantity struct {
	key         string
	unit        string
	deviceClass string
}

var quantities = []quantity{
	{key: "voltage", unit: "V", deviceClass: "voltage"},
	{key: "current", unit: "A", deviceClass: "current"},
	{key: "power", unit: "W", deviceClass: "power"},
}

// payload is what gets published per reading: the integer engineering
// values plus SI floats for dashboards.
type payload struct {
	sensor.Reading
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	Power   float64 `json:"power"`
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	encode     func(any) ([]byte, error)
}

func NewMQTT(cfg config.MQTTConfig, units []config.UnitConfig) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("%s-%s", DefaultClientID, uuid.NewString()[:8])
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newWithClient(client, cfg, units)
}

// newWithClient publishes discovery (if configured) over an already
// connected client.
func newWithClient(client mqtt.Client, cfg config.MQTTConfig, units []config.UnitConfig) (*MQTTOutput, error) {
	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}
	switch strings.ToLower(cfg.Format) {
	case "", config.FormatJSON:
		m.encode = json.Marshal
	case config.FormatCBOR:
		m.encode = cbor.Marshal
	default:
		return nil, fmt.Errorf("mqtt: unknown payload format %q", cfg.Format)
	}

	// Publish Home Assistant discovery payloads if requested
	if cfg.DiscoveryTopic != "" {
		for i := range units {
			u := &units[i]
			if !u.Enabled {
				continue
			}
			stateTopic := formatStateTopic(cfg.StateTopic, u.Unit)
			for _, q := range quantities {
				uniqueID := discoveryUniqueID(cfg, u, q)
				dTopic := fmt.Sprintf(discoveryTopicFmt, strings.TrimSuffix(cfg.DiscoveryTopic, "/"), uniqueID)
				p := discoveryPayload(discoveryName(cfg, u, q), stateTopic, uniqueID, q)
				if err := publishJSON(client, dTopic, true, p); err != nil {
					log.Printf("mqtt discovery publish error: %v", err)
				}
			}
		}
	}
	return m, nil
}

func (m *MQTTOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		b, err := m.encode(payload{Reading: r, Voltage: r.Volts(), Current: r.Amps(), Power: r.Watts()})
		if err != nil {
			return err
		}
		token := m.client.Publish(formatStateTopic(m.stateTopic, r.Unit), 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

// helper: format a state topic for a unit using an optional formatter
func formatStateTopic(base string, unit int) string {
	if base != "" {
		if strings.Contains(base, "%d") {
			return fmt.Sprintf(base, unit)
		}
		return base
	}
	return fmt.Sprintf(perUnitTopicFmt, unit)
}

// helper: build a human-friendly discovery name
func discoveryName(cfg config.MQTTConfig, u *config.UnitConfig, q quantity) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = "INA226"
	}
	if u.Name != "" {
		name = fmt.Sprintf("%s %s", name, u.Name)
	} else {
		name = fmt.Sprintf("%s unit%d", name, u.Unit)
	}
	return fmt.Sprintf("%s %s", name, q.key)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, u *config.UnitConfig, q quantity) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		uid = DefaultClientID
	}
	return fmt.Sprintf("%s_%d_%s", uid, u.Unit, q.key)
}

// helper: discovery payload for one quantity of one unit
func discoveryPayload(name, stateTopic, uniqueID string, q quantity) map[string]interface{} {
	return map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   q.unit,
		keyDeviceClass:         q.deviceClass,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", q.key),
		keyJSONAttributesTopic: stateTopic,
		keyUniqueID:            uniqueID,
	}
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
