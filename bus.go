package powermon

import (
	"context"
	"errors"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrNoAck is returned when an addressed device does not pull the data line
// low during the acknowledge clock.
var ErrNoAck = errors.New("no acknowledge from device")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a buffered bus peripheral addressed by a 7-bit device address.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// RegisterBus transfers 16-bit big-endian register words to and from a device
// using an 8-bit register pointer.
type RegisterBus interface {
	WriteRegister(ctx context.Context, address byte, reg byte, value uint16) error
	ReadRegister(ctx context.Context, address byte, reg byte) (uint16, error)
}
