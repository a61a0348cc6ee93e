package i2c

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/powermon"
)

var _ powermon.RegisterBus = &Hardware{}

// Hardware is the hardware-assisted register transport. Framing, start/stop
// conditions and acknowledge handling are left to the bus peripheral.
type Hardware struct {
	bus powermon.I2CBus
}

func NewHardware(bus powermon.I2CBus) *Hardware {
	return &Hardware{bus: bus}
}

// WriteRegister sends a single [reg, high, low] frame.
func (h *Hardware) WriteRegister(ctx context.Context, address byte, reg byte, value uint16) error {
	frame := []byte{reg, 0, 0}
	binary.BigEndian.PutUint16(frame[1:], value)
	if err := h.bus.WriteToAddr(ctx, address, frame); err != nil {
		return fmt.Errorf("could not write register %#02x: %w", reg, err)
	}
	return nil
}

// ReadRegister sets the register pointer and reads back two bytes, high byte first.
func (h *Hardware) ReadRegister(ctx context.Context, address byte, reg byte) (uint16, error) {
	if err := h.bus.WriteToAddr(ctx, address, []byte{reg}); err != nil {
		return 0, fmt.Errorf("could not set register pointer %#02x: %w", reg, err)
	}
	buf := make([]byte, 2)
	if err := h.bus.ReadFromAddr(ctx, address, buf); err != nil {
		return 0, fmt.Errorf("could not read register %#02x: %w", reg, err)
	}
	return binary.BigEndian.Uint16(buf), nil
}

// Release hands the underlying bus back (relevant for bridge adapters).
func (h *Hardware) Release(ctx context.Context) error {
	return h.bus.Release(ctx)
}
