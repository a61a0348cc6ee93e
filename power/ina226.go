package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/powermon"
)

const (
	DefaultAddress    byte    = 0x40
	DefaultShunt      float64 = 0.1
	DefaultResetDelay         = 10 * time.Millisecond
)

type INA226Opts struct {
	Address    byte
	Shunt      float64
	Config     uint16
	ResetDelay time.Duration
}

type INA226Opt func(*INA226Opts)

func WithAddress(address byte) INA226Opt {
	return func(o *INA226Opts) {
		o.Address = address
	}
}

// WithShunt sets the shunt resistance in ohms.
func WithShunt(ohms float64) INA226Opt {
	return func(o *INA226Opts) {
		o.Shunt = ohms
	}
}

// WithConfig replaces the configuration word written on initialization.
// See ConfigWord.
func WithConfig(config uint16) INA226Opt {
	return func(o *INA226Opts) {
		o.Config = config
	}
}

// WithResetDelay sets how long Reset waits for the power-on sequence.
// Values below 10ms are raised to it.
func WithResetDelay(d time.Duration) INA226Opt {
	return func(o *INA226Opts) {
		o.ResetDelay = d
	}
}

// Measurement is a snapshot of every quantity the monitor reports.
type Measurement struct {
	BusVoltage   float64   `yaml:"bus_voltage_v"`
	ShuntVoltage float64   `yaml:"shunt_voltage_mv"`
	Current      float64   `yaml:"current_ma"`
	Power        float64   `yaml:"power_mw"`
	Resistance   float64   `yaml:"resistance_ohm"`
	Time         time.Time `yaml:"time"`
}

// INA226 represents a Texas Instruments INA226 current/power monitor.
//
// Usage:
//
//	s := NewINA226(bus, WithShunt(0.1))
//	v, err := s.BusVoltage(ctx)
//
// The device starts uninitialized. The first measurement writes the
// configuration and calibration registers, so an explicit Init is optional.
// Reset puts it back into the uninitialized state.
type INA226 struct {
	mx          sync.Mutex
	bus         powermon.RegisterBus
	config      INA226Opts
	calibration uint16
	initialized bool
}

func NewINA226(bus powermon.RegisterBus, opts ...INA226Opt) *INA226 {
	config := INA226Opts{
		Address:    DefaultAddress,
		Shunt:      DefaultShunt,
		Config:     DefaultConfig,
		ResetDelay: DefaultResetDelay,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.ResetDelay < DefaultResetDelay {
		config.ResetDelay = DefaultResetDelay
	}
	return &INA226{bus: bus, config: config}
}

func (s *INA226) Address() byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.config.Address
}

// Shunt returns the shunt resistance in ohms.
func (s *INA226) Shunt() float64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.config.Shunt
}

// Calibration returns the last calibration value written to the device,
// 0 before the first initialization.
func (s *INA226) Calibration() uint16 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.calibration
}

func (s *INA226) Initialized() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.initialized
}

// Init configures the device with the stored shunt and address.
func (s *INA226) Init(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.configure(ctx, s.config.Shunt, s.config.Address)
}

// Configure writes the operating mode and the calibration for the given
// shunt, then stores shunt and address for later operations.
func (s *INA226) Configure(ctx context.Context, shunt float64, address byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.configure(ctx, shunt, address)
}

func (s *INA226) configure(ctx context.Context, shunt float64, address byte) error {
	if address > 0x7F {
		return fmt.Errorf("%w: %#x", ErrInvalidAddress, address)
	}
	cal, err := CalibrationValue(shunt)
	if err != nil {
		return err
	}
	if err := s.bus.WriteRegister(ctx, address, byte(RegConfig), s.config.Config); err != nil {
		return fmt.Errorf("ina226: could not write configuration: %w", err)
	}
	if err := s.bus.WriteRegister(ctx, address, byte(RegCalibration), cal); err != nil {
		return fmt.Errorf("ina226: could not write calibration: %w", err)
	}
	s.config.Shunt = shunt
	s.config.Address = address
	s.calibration = cal
	s.initialized = true
	slog.Debug("ina226 configured", "address", fmt.Sprintf("%#02x", address), "shunt", shunt, "calibration", cal)
	return nil
}

// Reset triggers a soft reset and waits for the device to come back. Address
// and shunt are kept; the next measurement initializes the device again.
func (s *INA226) Reset(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.initialized = false
	if err := s.bus.WriteRegister(ctx, s.config.Address, byte(RegConfig), ConfigReset); err != nil {
		return fmt.Errorf("ina226: could not reset: %w", err)
	}
	timer := time.NewTimer(s.config.ResetDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	slog.Debug("ina226 reset", "address", fmt.Sprintf("%#02x", s.config.Address))
	return nil
}

// BusVoltage returns the bus voltage in volts.
func (s *INA226) BusVoltage(ctx context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.busVoltage(ctx)
}

// ShuntVoltage returns the voltage across the shunt in millivolts.
func (s *INA226) ShuntVoltage(ctx context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	raw, err := s.read(ctx, RegShuntVoltage)
	if err != nil {
		return 0, err
	}
	return ConvertShuntVoltage(raw), nil
}

// Current returns the load current in milliamps.
func (s *INA226) Current(ctx context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.current(ctx)
}

// Power returns the load power in milliwatts.
func (s *INA226) Power(ctx context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	raw, err := s.read(ctx, RegPower)
	if err != nil {
		return 0, err
	}
	return ConvertPower(raw), nil
}

// Resistance returns the load resistance in ohms derived from fresh bus
// voltage and current readings.
func (s *INA226) Resistance(ctx context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	v, err := s.busVoltage(ctx)
	if err != nil {
		return 0, err
	}
	i, err := s.current(ctx)
	if err != nil {
		return 0, err
	}
	return ResistanceFrom(v, i), nil
}

// Measure reads every quantity in one go. Resistance is derived from the
// voltage and current of the same snapshot.
func (s *INA226) Measure(ctx context.Context) (Measurement, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	m := Measurement{Time: time.Now()}
	regs := []struct {
		reg     Register
		convert func(uint16) float64
		dst     *float64
	}{
		{RegBusVoltage, ConvertBusVoltage, &m.BusVoltage},
		{RegShuntVoltage, ConvertShuntVoltage, &m.ShuntVoltage},
		{RegCurrent, ConvertCurrent, &m.Current},
		{RegPower, ConvertPower, &m.Power},
	}
	for _, r := range regs {
		raw, err := s.read(ctx, r.reg)
		if err != nil {
			return m, err
		}
		*r.dst = r.convert(raw)
	}
	m.Resistance = ResistanceFrom(m.BusVoltage, m.Current)
	return m, nil
}

// IsConnected reads the configuration register without initializing the
// device. An all-zero or all-one word means nothing answered on the bus.
func (s *INA226) IsConnected(ctx context.Context) (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	raw, err := s.bus.ReadRegister(ctx, s.config.Address, byte(RegConfig))
	if errors.Is(err, powermon.ErrNoAck) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ina226: could not read configuration: %w", err)
	}
	return raw != 0x0000 && raw != 0xFFFF, nil
}

// ReadRegister returns the raw word of any register. It never initializes the
// device.
func (s *INA226) ReadRegister(ctx context.Context, reg Register) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	raw, err := s.bus.ReadRegister(ctx, s.config.Address, byte(reg))
	if err != nil {
		return 0, fmt.Errorf("ina226: could not read %s register: %w", reg, err)
	}
	return raw, nil
}

// ManufacturerID returns the manufacturer register, 0x5449 ("TI") on genuine parts.
func (s *INA226) ManufacturerID(ctx context.Context) (uint16, error) {
	return s.ReadRegister(ctx, RegManufacturerID)
}

// DieID returns the die identification register (0x2260 for INA226 revision 0).
func (s *INA226) DieID(ctx context.Context) (uint16, error) {
	return s.ReadRegister(ctx, RegDieID)
}

func (s *INA226) busVoltage(ctx context.Context) (float64, error) {
	raw, err := s.read(ctx, RegBusVoltage)
	if err != nil {
		return 0, err
	}
	return ConvertBusVoltage(raw), nil
}

func (s *INA226) current(ctx context.Context) (float64, error) {
	raw, err := s.read(ctx, RegCurrent)
	if err != nil {
		return 0, err
	}
	return ConvertCurrent(raw), nil
}

// read initializes the device if needed and reads one register.
func (s *INA226) read(ctx context.Context, reg Register) (uint16, error) {
	if !s.initialized {
		if err := s.configure(ctx, s.config.Shunt, s.config.Address); err != nil {
			return 0, err
		}
	}
	raw, err := s.bus.ReadRegister(ctx, s.config.Address, byte(reg))
	if err != nil {
		return 0, fmt.Errorf("ina226: could not read %s register: %w", reg, err)
	}
	return raw, nil
}
