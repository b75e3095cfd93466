package ina226

// Register identifies one of the 16-bit INA226 registers. All registers are
// transferred big-endian.
type Register uint8

const (
	RegConfig       Register = 0x00
	RegShuntVoltage Register = 0x01
	RegBusVoltage   Register = 0x02
	RegPower        Register = 0x03
	RegCurrent      Register = 0x04
	RegCalibration  Register = 0x05
	RegMaskEnable   Register = 0x06
)

var registerNames = map[Register]string{
	RegConfig:       "config",
	RegShuntVoltage: "shunt_voltage",
	RegBusVoltage:   "bus_voltage",
	RegPower:        "power",
	RegCurrent:      "current",
	RegCalibration:  "calibration",
	RegMaskEnable:   "mask_enable",
}

func (r Register) String() string {
	if n, ok := registerNames[r]; ok {
		return n
	}
	return "unknown"
}

// Configuration register layout
//
//	 15   14  13  12   11    10    9      8       7       6      5      4      3      2     1     0
//	| RST | - | - | - | AVG2 | AVG1 | AVG0 |VBUSCT2|VBUSCT1|VBUSCT0|VSHCT2|VSHCT1|VSHCT0|MODE3|MODE2|MODE1|
const (
	configReset     uint16 = 0x8000
	configDefault   uint16 = 0x4127 // value after power-on or reset
	configAvgMask   uint16 = 0x0E00
	configAvgShift         = 9
	configBusCTMask uint16 = 0x01C0
	configBusShift         = 6
	configShCTMask  uint16 = 0x0038
	configShShift          = 3
	configModeMask  uint16 = 0x0007
)

// Mask/Enable register bits.
const (
	maskConversionReady uint16 = 0x0008 // CVRF
	maskAlertOnReady    uint16 = 0x0400 // CNVR
)
