package power

import "fmt"

// Register is an INA226 register pointer.
// See: https://www.ti.com/lit/ds/symlink/ina226.pdf
type Register byte

const (
	RegConfig         Register = 0x00
	RegShuntVoltage   Register = 0x01
	RegBusVoltage     Register = 0x02
	RegPower          Register = 0x03
	RegCurrent        Register = 0x04
	RegCalibration    Register = 0x05
	RegMaskEnable     Register = 0x06
	RegAlertLimit     Register = 0x07
	RegManufacturerID Register = 0xFE
	RegDieID          Register = 0xFF
)

// Registers lists every readable register in address order.
var Registers = []Register{
	RegConfig,
	RegShuntVoltage,
	RegBusVoltage,
	RegPower,
	RegCurrent,
	RegCalibration,
	RegMaskEnable,
	RegAlertLimit,
	RegManufacturerID,
	RegDieID,
}

func (r Register) String() string {
	switch r {
	case RegConfig:
		return "config"
	case RegShuntVoltage:
		return "shunt_voltage"
	case RegBusVoltage:
		return "bus_voltage"
	case RegPower:
		return "power"
	case RegCurrent:
		return "current"
	case RegCalibration:
		return "calibration"
	case RegMaskEnable:
		return "mask_enable"
	case RegAlertLimit:
		return "alert_limit"
	case RegManufacturerID:
		return "manufacturer_id"
	case RegDieID:
		return "die_id"
	default:
		return fmt.Sprintf("reg_%02x", byte(r))
	}
}

// Configuration register layout:
//
//	15  | 14-12 | 11-9 |  8-6   |  5-3  | 2-0
//	RST |   -   | AVG  | VBUSCT | VSHCT | MODE
//
// Bit 14 reads back as 1 and is kept set when composing a word.
const (
	ConfigReset    uint16 = 1 << 15
	configReserved uint16 = 1 << 14
)

// Averages is the number of samples averaged per conversion result.
type Averages uint16

const (
	Averages1 Averages = iota << 9
	Averages4
	Averages16
	Averages64
	Averages128
	Averages256
	Averages512
	Averages1024
)

// ConversionTime is an ADC conversion time, shared by the bus and shunt
// fields. ConfigWord shifts it into place.
type ConversionTime uint16

const (
	ConversionTime140us ConversionTime = iota
	ConversionTime204us
	ConversionTime332us
	ConversionTime588us
	ConversionTime1100us
	ConversionTime2116us
	ConversionTime4156us
	ConversionTime8244us
)

// OperatingMode selects what is converted and whether conversions run
// continuously or on trigger.
type OperatingMode uint16

const (
	ModePowerDown OperatingMode = iota
	ModeShuntTriggered
	ModeBusTriggered
	ModeShuntBusTriggered
	ModeADCOff
	ModeShuntContinuous
	ModeBusContinuous
	ModeShuntBusContinuous
)

// DefaultConfig is the operating mode written on initialization: no
// averaging, 1.1 ms conversions, shunt and bus measured continuously.
var DefaultConfig = ConfigWord(Averages1, ConversionTime1100us, ConversionTime1100us, ModeShuntBusContinuous)

// ConfigWord composes a configuration register value.
func ConfigWord(avg Averages, busCT, shuntCT ConversionTime, mode OperatingMode) uint16 {
	return configReserved |
		uint16(avg)&(0x7<<9) |
		(uint16(busCT)&0x7)<<6 |
		(uint16(shuntCT)&0x7)<<3 |
		uint16(mode)&0x7
}
