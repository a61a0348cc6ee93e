package i2c

import (
	"context"
	"fmt"

	"tinygo.org/x/drivers"

	"github.com/mklimuk/powermon"
)

var _ powermon.I2CBus = TxBus{}

// TxBus adapts any bus with a combined Tx operation (tinygo machine.I2C,
// periph.io i2c.Bus, the software bus) to powermon.I2CBus.
type TxBus struct {
	bus drivers.I2C
}

func NewTxBus(bus drivers.I2C) TxBus {
	return TxBus{bus: bus}
}

func (b TxBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.bus.Tx(uint16(address), nil, buffer); err != nil {
		return fmt.Errorf("tx read from %x failed: %w", address, err)
	}
	return nil
}

func (b TxBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.bus.Tx(uint16(address), buffer, nil); err != nil {
		return fmt.Errorf("tx write to %x failed: %w", address, err)
	}
	return nil
}

func (b TxBus) Release(ctx context.Context) error {
	return nil
}
