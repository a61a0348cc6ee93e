package power

import (
	"errors"
	"fmt"
	"math"
)

// Register scales for the calibration below (current LSB fixed at 0.1 mA).
const (
	CurrentLSB     = 0.0001 // A
	ShuntLSB       = 2.5    // µV
	BusLSB         = 1.25   // mV
	PowerLSBFactor = 25     // power LSB = 25 x current LSB

	calibrationScale = 0.00512
	maxCalibration   = 0x7FFF
	noLoadCurrent    = 0.1 // mA
)

var (
	ErrInvalidShunt   = errors.New("ina226: invalid shunt resistance")
	ErrInvalidAddress = errors.New("ina226: invalid device address")
)

// CalibrationValue returns the calibration register value making the current
// register count in 0.1 mA steps for a shunt of r ohms:
// round(0.00512 / (0.0001 * r)).
//
// The formula is defined for every r > 0, but the register holds 15 bits
// (bit 15 is reserved). Results outside 1..0x7FFF, i.e. shunts below about
// 1.56 mOhm or above about 102 Ohm, return ErrInvalidShunt instead of being
// truncated into the register.
func CalibrationValue(r float64) (uint16, error) {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("%w: %v ohm", ErrInvalidShunt, r)
	}
	cal := math.Round(calibrationScale / (CurrentLSB * r))
	if cal < 1 || cal > maxCalibration {
		return 0, fmt.Errorf("%w: %v ohm gives calibration %.0f", ErrInvalidShunt, r, cal)
	}
	return uint16(cal), nil
}

// DecodeSigned interprets a register word as two's complement.
func DecodeSigned(raw uint16) int16 {
	return int16(raw)
}

// EncodeSigned is the inverse of DecodeSigned.
func EncodeSigned(v int16) uint16 {
	return uint16(v)
}

// ConvertBusVoltage returns volts.
func ConvertBusVoltage(raw uint16) float64 {
	return round(float64(raw)*BusLSB/1000, 2)
}

// ConvertShuntVoltage returns millivolts.
func ConvertShuntVoltage(raw uint16) float64 {
	return round(float64(DecodeSigned(raw))*ShuntLSB/1000, 2)
}

// ConvertCurrent returns milliamps.
func ConvertCurrent(raw uint16) float64 {
	return round(float64(DecodeSigned(raw))*CurrentLSB*1000, 2)
}

// ConvertPower returns milliwatts.
func ConvertPower(raw uint16) float64 {
	return round(float64(raw)*PowerLSBFactor*CurrentLSB*1000, 2)
}

// ResistanceFrom derives the load resistance in ohms from a bus voltage (V)
// and a current (mA). Currents below one LSB count as no load and give 0.
func ResistanceFrom(volts, milliamps float64) float64 {
	if math.Abs(milliamps) < noLoadCurrent {
		return 0
	}
	return round(volts/(milliamps/1000), 1)
}

// round rounds half away from zero and never returns negative zero.
func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	r := math.Round(v*p) / p
	if r == 0 {
		return 0
	}
	return r
}
