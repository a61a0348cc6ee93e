package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/powermon"
)

// Mode tells which transport carries register operations.
type Mode int

const (
	HardwareAssisted Mode = iota
	SoftwareDriven
)

func (m Mode) String() string {
	switch m {
	case SoftwareDriven:
		return "software"
	default:
		return "hardware"
	}
}

var _ powermon.RegisterBus = &Selector{}

// Selector holds the active bus configuration. Register operations and mode
// switches are serialized, so an operation never spans a mode change.
type Selector struct {
	mx       sync.Mutex
	mode     Mode
	hardware powermon.RegisterBus
	software *Software
}

// NewSelector starts in HardwareAssisted mode on the given transport.
// A nil hardware transport is allowed when only SetPins is going to be used.
func NewSelector(hardware powermon.RegisterBus) *Selector {
	return &Selector{hardware: hardware, mode: HardwareAssisted}
}

// SetPins switches to the software-driven transport on the given lines.
// Both lines are driven high as the idle precondition, once any register
// operation in progress has finished.
func (s *Selector) SetPins(sda, scl Line, opts ...SoftwareOpt) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	soft, err := NewSoftware(sda, scl, opts...)
	if err != nil {
		return fmt.Errorf("could not set up software bus: %w", err)
	}
	s.software = soft
	s.mode = SoftwareDriven
	slog.Debug("bus mode switched", "mode", s.mode)
	return nil
}

// UseDefault switches back to the hardware-assisted transport.
func (s *Selector) UseDefault() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.mode = HardwareAssisted
	slog.Debug("bus mode switched", "mode", s.mode)
}

func (s *Selector) Mode() Mode {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.mode
}

func (s *Selector) WriteRegister(ctx context.Context, address byte, reg byte, value uint16) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	bus, err := s.active()
	if err != nil {
		return err
	}
	return bus.WriteRegister(ctx, address, reg, value)
}

func (s *Selector) ReadRegister(ctx context.Context, address byte, reg byte) (uint16, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	bus, err := s.active()
	if err != nil {
		return 0, err
	}
	return bus.ReadRegister(ctx, address, reg)
}

func (s *Selector) active() (powermon.RegisterBus, error) {
	if s.mode == SoftwareDriven && s.software != nil {
		return s.software, nil
	}
	if s.hardware == nil {
		return nil, fmt.Errorf("no %s transport configured", s.mode)
	}
	return s.hardware, nil
}
