package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/gpio"
)

// GPPinCount is the number of general purpose pins (GP0..GP3).
const GPPinCount = 4

type GPIOMode byte

const (
	GPIOModeOut         GPIOMode = 0b00000000
	GPIOModeIn          GPIOMode = 0b00001000
	GPIOModeNoOperation GPIOMode = 0xEF
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

// GPIODesignation is the function a pin is assigned to at power-up. Only
// GPIOOperation pins can carry a software-driven bus.
type GPIODesignation byte

const (
	GPIOOperation GPIODesignation = 0b00000000
	// This is alternate function of GPIO0
	GPIO0LedUartRx GPIODesignation = 0b00000001
	// This is the dedicated function operation of GPIO0
	GPIO0SSPND GPIODesignation = 0b00000010
	// This is the dedicated function of GPIO1
	GPIO1ClockOutput GPIODesignation = 0b00000001
	// This is the alternate function 0 of GPIO1
	GPIO1ADC1 GPIODesignation = 0b00000010
	// This is the dedicated function of GPIO3
	GPIO3LEDI2C GPIODesignation = 0b00000001
)

const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

// GPIO direction values used by the set/get commands.
const (
	dirOutput byte = 0x00
	dirInput  byte = 0x01
)

type MCP2221GPIOValues struct {
	GPIO0Mode  GPIOMode `yaml:"GP0_mode"`
	GPIO0Value byte     `yaml:"GPIO0"`
	GPIO1Mode  GPIOMode `yaml:"GP1_mode"`
	GPIO1Value byte     `yaml:"GPIO1"`
	GPIO2Mode  GPIOMode `yaml:"GP2_mode"`
	GPIO2Value byte     `yaml:"GPIO2"`
	GPIO3Mode  GPIOMode `yaml:"GP3_mode"`
	GPIO3Value byte     `yaml:"GPIO3"`
}

type MCP2221GPIOParameters struct {
	GPIO0Mode        GPIOMode        `yaml:"GP0_mode"`
	GPIO0Designation GPIODesignation `yaml:"GP0_designation"`
	GPIO1Mode        GPIOMode        `yaml:"GP1_mode"`
	GPIO1Designation GPIODesignation `yaml:"GP1_designation"`
	GPIO2Mode        GPIOMode        `yaml:"GP2_mode"`
	GPIO2Designation GPIODesignation `yaml:"GP2_designation"`
	GPIO3Mode        GPIOMode        `yaml:"GP3_mode"`
	GPIO3Designation GPIODesignation `yaml:"GP3_designation"`
}

// SetGPIOParameters writes the power-up pin designations to flash.
func (d *MCP2221) SetGPIOParameters(ctx context.Context, params MCP2221GPIOParameters) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdFlashWrite
	d.request[1] = flashGPSettings
	d.request[2] = byte(params.GPIO0Designation) | byte(params.GPIO0Mode)
	d.request[3] = byte(params.GPIO1Designation) | byte(params.GPIO1Mode)
	d.request[4] = byte(params.GPIO2Designation) | byte(params.GPIO2Mode)
	d.request[5] = byte(params.GPIO3Designation) | byte(params.GPIO3Mode)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) GetGPIOParameters(ctx context.Context) (MCP2221GPIOParameters, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdFlashRead
	d.request[1] = flashGPSettings
	if err := d.send(ctx); err != nil {
		return MCP2221GPIOParameters{}, fmt.Errorf("get GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return MCP2221GPIOParameters{}, ErrCommandUnsupported
	}
	return MCP2221GPIOParameters{
		GPIO0Mode:        GPIOMode(d.response[4] & gpioModeMask),
		GPIO0Designation: GPIODesignation(d.response[4] & gpioOperationMask),
		GPIO1Mode:        GPIOMode(d.response[5] & gpioModeMask),
		GPIO1Designation: GPIODesignation(d.response[5] & gpioOperationMask),
		GPIO2Mode:        GPIOMode(d.response[6] & gpioModeMask),
		GPIO2Designation: GPIODesignation(d.response[6] & gpioOperationMask),
		GPIO3Mode:        GPIOMode(d.response[7] & gpioModeMask),
		GPIO3Designation: GPIODesignation(d.response[7] & gpioOperationMask),
	}, nil
}

func (d *MCP2221) ReadGPIO(ctx context.Context) (MCP2221GPIOValues, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var res MCP2221GPIOValues
	if err := d.readGPIO(ctx); err != nil {
		return res, err
	}
	mode := func(i int) GPIOMode {
		if d.response[3+2*i] == byte(GPIOModeNoOperation) {
			return GPIOModeNoOperation
		}
		return GPIOMode(d.response[3+2*i] << 3)
	}
	res.GPIO0Mode, res.GPIO0Value = mode(0), d.response[2]
	res.GPIO1Mode, res.GPIO1Value = mode(1), d.response[4]
	res.GPIO2Mode, res.GPIO2Value = mode(2), d.response[6]
	res.GPIO3Mode, res.GPIO3Value = mode(3), d.response[8]
	return res, nil
}

func (d *MCP2221) readGPIO(ctx context.Context) error {
	d.resetBuffers()
	d.request[0] = cmdGPIOGet
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("read GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

// WritePin drives an output pin or, with output false, turns the pin into an
// input.
func (d *MCP2221) WritePin(ctx context.Context, pin int, output bool, level gpio.Level) error {
	if pin < 0 || pin >= GPPinCount {
		return fmt.Errorf("invalid GPIO pin: %d", pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGPIOSet
	i := 2 + 4*pin
	if output {
		d.request[i] = 0x01 // alter output value
		if level {
			d.request[i+1] = 0x01
		}
		d.request[i+2] = 0x01 // alter direction
		d.request[i+3] = dirOutput
	} else {
		d.request[i+2] = 0x01
		d.request[i+3] = dirInput
	}
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set GPIO command write failed: %w", err)
	}
	if d.response[1] != 0x00 || d.response[i+1] == byte(GPIOModeNoOperation) {
		return fmt.Errorf("GP%d: %w (pin not in GPIO mode)", pin, ErrCommandFailed)
	}
	return nil
}

func (d *MCP2221) ReadPin(ctx context.Context, pin int) (gpio.Level, error) {
	if pin < 0 || pin >= GPPinCount {
		return gpio.Low, fmt.Errorf("invalid GPIO pin: %d", pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.readGPIO(ctx); err != nil {
		return gpio.Low, err
	}
	v := d.response[2+2*pin]
	if v == byte(GPIOModeNoOperation) {
		return gpio.Low, fmt.Errorf("GP%d: %w (pin not in GPIO mode)", pin, ErrCommandFailed)
	}
	return gpio.Level(v != 0), nil
}

// ParsePin accepts GP0..GP3 (case insensitive) or a bare pin number.
func ParsePin(name string) (int, error) {
	s := strings.TrimPrefix(strings.ToUpper(name), "GP")
	pin, err := strconv.Atoi(s)
	if err != nil || pin < 0 || pin >= GPPinCount {
		return 0, fmt.Errorf("invalid MCP2221 pin %q", name)
	}
	return pin, nil
}

// Line is a general purpose pin of the adapter usable as one line of a
// software-driven bus. Each level change costs a USB round trip, so the
// resulting bus runs at a few hundred bits per second.
type Line struct {
	dev *MCP2221
	pin int
	ctx context.Context
}

// Line returns GP<pin> as a bus line. ctx is used for every USB command the
// line issues.
func (d *MCP2221) Line(ctx context.Context, pin int) (*Line, error) {
	if pin < 0 || pin >= GPPinCount {
		return nil, fmt.Errorf("invalid GPIO pin: %d", pin)
	}
	return &Line{dev: d, pin: pin, ctx: ctx}, nil
}

func (l *Line) String() string {
	return fmt.Sprintf("MCP2221/GP%d", l.pin)
}

func (l *Line) Out(level gpio.Level) error {
	return l.dev.WritePin(l.ctx, l.pin, true, level)
}

// In turns the pin into an input. The adapter has no internal pulls, the bus
// relies on external pull-up resistors.
func (l *Line) In(pull gpio.Pull, edge gpio.Edge) error {
	if edge != gpio.NoEdge {
		return fmt.Errorf("%s: edge detection not supported", l)
	}
	return l.dev.WritePin(l.ctx, l.pin, false, gpio.High)
}

// Read returns the pin level. A failed read reports High, the level of a
// released bus line.
func (l *Line) Read() gpio.Level {
	level, err := l.dev.ReadPin(l.ctx, l.pin)
	if err != nil {
		slog.Debug("could not read pin", "pin", l.String(), "error", err)
		return gpio.High
	}
	return level
}
