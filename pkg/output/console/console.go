package console

import (
	"fmt"
	"time"

	"github.com/ericogr/ina226-to-mqtt/pkg/output"
	"github.com/ericogr/ina226-to-mqtt/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		fmt.Printf("%s unit=%d name=%s addr=0x%02x bus_mv=%d shunt_uv=%d current_ua=%d power_uw=%d\n",
			r.Timestamp.Format(time.RFC3339), r.Unit, r.Name, r.Address,
			r.BusMillivolts, r.ShuntMicrovolts, r.CurrentMicroamps, r.PowerMicrowatts)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
