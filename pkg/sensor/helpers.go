package sensor

import (
	"github.com/ericogr/ina226-to-mqtt/pkg/config"
	"github.com/ericogr/ina226-to-mqtt/pkg/ina226"
)

// setupUnit calibrates a unit and applies its configured averaging, timing
// and mode. The mode is written last because in triggered modes every
// configuration write starts a conversion.
func setupUnit(drv *ina226.Driver, u config.UnitConfig) (ina226.Mode, error) {
	c, err := u.Configuration()
	if err != nil {
		return 0, err
	}
	if err := drv.Begin(u.MaxMilliamps, u.ShuntMicroOhms, u.Unit, uint8(u.Address)); err != nil {
		return 0, err
	}
	if err := drv.SetAveraging(u.Averaging, u.Unit); err != nil {
		return 0, err
	}
	if err := drv.SetBusConversionTime(c.BusConversionTime, u.Unit); err != nil {
		return 0, err
	}
	if err := drv.SetShuntConversionTime(c.ShuntConversionTime, u.Unit); err != nil {
		return 0, err
	}
	if err := drv.SetAlertPinOnConversion(u.AlertOnConversion, u.Unit); err != nil {
		return 0, err
	}
	if err := drv.SetMode(c.Mode, u.Unit); err != nil {
		return 0, err
	}
	return drv.OperatingMode(u.Unit)
}
