package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/ina226-to-mqtt/pkg/config"
	"github.com/ericogr/ina226-to-mqtt/pkg/sensor"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes; other Client methods are not used.
type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	msgs         []published
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return fakeToken{err: c.err}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func testReading(unit int) sensor.Reading {
	return sensor.Reading{
		Unit:             unit,
		Name:             "battery",
		Address:          0x40,
		BusMillivolts:    12000,
		ShuntMicrovolts:  2500,
		CurrentMicroamps: 24994,
		PowerMicrowatts:  299928,
	}
}

func TestFormatStateTopic(t *testing.T) {
	assert.Equal(t, "ina226/unit/2", formatStateTopic("", 2))
	assert.Equal(t, "home/power/1", formatStateTopic("home/power/%d", 1))
	assert.Equal(t, "fixed/topic", formatStateTopic("fixed/topic", 1))
}

func TestDiscoveryNamesAndIDs(t *testing.T) {
	u := config.DefaultUnit(1)
	u.Name = ""
	cfg := config.MQTTConfig{ClientID: "cid"}
	assert.Equal(t, "INA226 unit1 current", discoveryName(cfg, &u, quantities[1]))
	assert.Equal(t, "cid_1_current", discoveryUniqueID(cfg, &u, quantities[1]))

	u.Name = "solar"
	cfg.DiscoveryName = "Shed"
	cfg.DiscoveryUniqueID = "shed"
	assert.Equal(t, "Shed solar power", discoveryName(cfg, &u, quantities[2]))
	assert.Equal(t, "shed_1_power", discoveryUniqueID(cfg, &u, quantities[2]))

	assert.Equal(t, "ina226-client_1_voltage", discoveryUniqueID(config.MQTTConfig{}, &u, quantities[0]))
}

func TestDiscoveryPublished(t *testing.T) {
	c := &fakeClient{}
	disabled := config.DefaultUnit(1)
	disabled.Enabled = false
	units := []config.UnitConfig{config.DefaultUnit(0), disabled}
	_, err := newWithClient(c, config.MQTTConfig{ClientID: "cid", DiscoveryTopic: "homeassistant/"}, units)
	require.NoError(t, err)

	require.Len(t, c.msgs, len(quantities))
	for i, q := range quantities {
		m := c.msgs[i]
		assert.Equal(t, "homeassistant/sensor/cid_0_"+q.key+"/config", m.topic)
		assert.True(t, m.retained)

		var p map[string]interface{}
		require.NoError(t, json.Unmarshal(m.payload, &p))
		assert.Equal(t, "ina226/unit/0", p[keyStateTopic])
		assert.Equal(t, q.unit, p[keyUnitOfMeasurement])
		assert.Equal(t, q.deviceClass, p[keyDeviceClass])
		assert.Equal(t, "{{ value_json."+q.key+" }}", p[keyValueTemplate])
	}
}

func TestPublishJSON(t *testing.T) {
	c := &fakeClient{}
	m, err := newWithClient(c, config.MQTTConfig{}, nil)
	require.NoError(t, err)
	require.Empty(t, c.msgs)

	require.NoError(t, m.Publish([]sensor.Reading{testReading(0), testReading(2)}))
	require.Len(t, c.msgs, 2)
	assert.Equal(t, "ina226/unit/0", c.msgs[0].topic)
	assert.Equal(t, "ina226/unit/2", c.msgs[1].topic)
	assert.False(t, c.msgs[0].retained)

	var p map[string]interface{}
	require.NoError(t, json.Unmarshal(c.msgs[1].payload, &p))
	assert.EqualValues(t, 2, p["unit"])
	assert.EqualValues(t, 12000, p["bus_mv"])
	assert.EqualValues(t, 24994, p["current_ua"])
	assert.InDelta(t, 12.0, p["voltage"], 1e-9)
	assert.InDelta(t, 0.024994, p["current"], 1e-9)
	assert.InDelta(t, 0.299928, p["power"], 1e-9)
}

func TestPublishCBOR(t *testing.T) {
	c := &fakeClient{}
	m, err := newWithClient(c, config.MQTTConfig{Format: "CBOR", StateTopic: "lab/%d"}, nil)
	require.NoError(t, err)

	require.NoError(t, m.Publish([]sensor.Reading{testReading(1)}))
	require.Len(t, c.msgs, 1)
	assert.Equal(t, "lab/1", c.msgs[0].topic)

	var p payload
	require.NoError(t, cbor.Unmarshal(c.msgs[0].payload, &p))
	assert.Equal(t, 1, p.Unit)
	assert.Equal(t, uint32(12000), p.BusMillivolts)
	assert.Equal(t, int32(299928), p.PowerMicrowatts)
	assert.InDelta(t, 12.0, p.Voltage, 1e-9)
}

func TestPublishError(t *testing.T) {
	boom := errors.New("broker gone")
	c := &fakeClient{err: boom}
	m, err := newWithClient(c, config.MQTTConfig{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Publish([]sensor.Reading{testReading(0)}), boom)
}

func TestUnknownFormat(t *testing.T) {
	_, err := newWithClient(&fakeClient{}, config.MQTTConfig{Format: "xml"}, nil)
	assert.Error(t, err)
}

func TestPublishRawAndClose(t *testing.T) {
	c := &fakeClient{}
	m, err := newWithClient(c, config.MQTTConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, m.PublishRaw("raw/topic", []byte("x"), true))
	require.Len(t, c.msgs, 1)
	assert.True(t, c.msgs[0].retained)

	require.NoError(t, m.Close())
	assert.True(t, c.disconnected)
}
