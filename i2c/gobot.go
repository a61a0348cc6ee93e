package i2c

import (
	"context"
	"fmt"
	"sync"

	gobotio "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/powermon"
)

var _ powermon.I2CBus = &GobotBus{}

// GobotBus exposes a gobot I2C adaptor (e.g. nanopi.NewNeoAdaptor()) as a
// powermon.I2CBus. A generic gobot driver is started lazily per device address.
type GobotBus struct {
	mx        sync.Mutex
	connector gobotio.Connector
	bus       int
	devices   map[byte]*gobotio.GenericDriver
}

func NewGobotBus(connector gobotio.Connector, bus int) *GobotBus {
	return &GobotBus{
		connector: connector,
		bus:       bus,
		devices:   make(map[byte]*gobotio.GenericDriver),
	}
}

func (b *GobotBus) device(address byte) (*gobotio.GenericDriver, error) {
	if d, ok := b.devices[address]; ok {
		return d, nil
	}
	d := gobotio.NewGenericDriver(b.connector, fmt.Sprintf("powermon-%02x", address), int(address), func(c gobotio.Config) {
		c.SetBus(b.bus)
	})
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("could not start driver for %#02x: %w", address, err)
	}
	b.devices[address] = d
	return d, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	d, err := b.device(address)
	if err != nil {
		return err
	}
	if err := d.Read(buffer); err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	d, err := b.device(address)
	if err != nil {
		return err
	}
	if err := d.Write(buffer); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close halts every driver started on the bus.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var firstErr error
	for addr, d := range b.devices {
		if err := d.Halt(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("could not halt driver for %#02x: %w", addr, err)
		}
		delete(b.devices, addr)
	}
	return firstErr
}
