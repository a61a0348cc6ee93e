package i2c

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

// outLog records every Out call on the wrapped lines. When held, the next
// Out blocks until release is closed.
type outLog struct {
	mu      sync.Mutex
	events  []string
	hold    bool
	entered chan struct{}
	release chan struct{}
}

func (o *outLog) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

type loggedLine struct {
	Line
	name string
	log  *outLog
}

func (l *loggedLine) Out(level gpio.Level) error {
	l.log.mu.Lock()
	l.log.events = append(l.log.events, l.name+"="+level.String())
	hold := l.log.hold
	l.log.hold = false
	l.log.mu.Unlock()
	if hold {
		close(l.log.entered)
		<-l.log.release
	}
	return l.Line.Out(level)
}

func TestSelector_DefaultsToHardware(t *testing.T) {
	bus := new(MockI2CBus)
	sel := NewSelector(NewHardware(bus))
	assert.Equal(t, HardwareAssisted, sel.Mode())

	bus.On("WriteToAddr", mock.Anything, byte(0x40), []byte{0x00, 0x80, 0x00}).Return(nil).Once()
	require.NoError(t, sel.WriteRegister(context.Background(), 0x40, 0x00, 0x8000))
	bus.AssertExpectations(t)
}

func TestSelector_SwitchModes(t *testing.T) {
	bus := new(MockI2CBus)
	sel := NewSelector(NewHardware(bus))
	dev := newSimTarget(0x40, map[byte]uint16{0x02: 0x0320})
	sim := newSimBus(dev)

	require.NoError(t, sel.SetPins(sim.sda, sim.scl, WithDelay(noDelay)))
	assert.Equal(t, SoftwareDriven, sel.Mode())
	assert.Equal(t, "software", sel.Mode().String())
	// lines idle high as soon as the pins are assigned
	assert.True(t, bool(sim.sda.Read()))
	assert.True(t, bool(sim.scl.Read()))

	raw, err := sel.ReadRegister(context.Background(), 0x40, 0x02)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0320), raw)
	bus.AssertNotCalled(t, "WriteToAddr", mock.Anything, mock.Anything, mock.Anything)

	sel.UseDefault()
	assert.Equal(t, HardwareAssisted, sel.Mode())
	bus.On("WriteToAddr", mock.Anything, byte(0x40), []byte{0x02}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(0x40), mock.Anything).Return([]byte{0x01, 0x00}, nil).Once()
	raw, err = sel.ReadRegister(context.Background(), 0x40, 0x02)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0100), raw)
	bus.AssertExpectations(t)
}

func TestSelector_NoTransport(t *testing.T) {
	sel := NewSelector(nil)
	_, err := sel.ReadRegister(context.Background(), 0x40, 0x00)
	assert.ErrorContains(t, err, "no hardware transport configured")
}

// Both transports must leave a device in the same state and read back the
// same words for the same sequence of register operations.
func TestSelector_TransportsEquivalent(t *testing.T) {
	type op struct {
		write bool
		reg   byte
		value uint16
	}
	ops := []op{
		{write: true, reg: 0x00, value: 0x8000},
		{write: true, reg: 0x00, value: 0x4127},
		{write: true, reg: 0x05, value: 0x0200},
		{reg: 0x00},
		{reg: 0x05},
		{reg: 0x04},
	}
	run := func(t *testing.T, useSoftware bool) ([]uint16, map[byte]uint16) {
		dev := newSimTarget(0x40, map[byte]uint16{0x04: 0x03E8})
		hwSim := newSimBus(dev)
		hwSoft, err := NewSoftware(hwSim.sda, hwSim.scl, WithDelay(noDelay))
		require.NoError(t, err)
		sel := NewSelector(NewHardware(NewTxBus(hwSoft)))
		if useSoftware {
			sim := newSimBus(dev)
			require.NoError(t, sel.SetPins(sim.sda, sim.scl, WithDelay(noDelay)))
		}
		var reads []uint16
		for _, o := range ops {
			if o.write {
				require.NoError(t, sel.WriteRegister(context.Background(), 0x40, o.reg, o.value))
				continue
			}
			v, err := sel.ReadRegister(context.Background(), 0x40, o.reg)
			require.NoError(t, err)
			reads = append(reads, v)
		}
		return reads, dev.regs
	}

	hwReads, hwRegs := run(t, false)
	swReads, swRegs := run(t, true)
	assert.Equal(t, hwReads, swReads)
	assert.Equal(t, hwRegs, swRegs)
	assert.Equal(t, []uint16{0x4127, 0x0200, 0x03E8}, swReads)
}

func TestSelector_SetPinsWaitsForTransfer(t *testing.T) {
	dev := newSimTarget(0x40, map[byte]uint16{0x02: 0x0320})
	sim := newSimBus(dev)
	log := &outLog{entered: make(chan struct{}), release: make(chan struct{})}
	sda := &loggedLine{Line: sim.sda, name: "SDA", log: log}
	scl := &loggedLine{Line: sim.scl, name: "SCL", log: log}

	sel := NewSelector(nil)
	require.NoError(t, sel.SetPins(sda, scl, WithDelay(noDelay)))

	log.mu.Lock()
	log.hold = true
	log.mu.Unlock()
	read := make(chan error, 1)
	var raw uint16
	go func() {
		var err error
		raw, err = sel.ReadRegister(context.Background(), 0x40, 0x02)
		read <- err
	}()
	<-log.entered
	during := log.count()

	switched := make(chan error, 1)
	go func() {
		switched <- sel.SetPins(sda, scl, WithDelay(noDelay))
	}()
	select {
	case <-switched:
		t.Fatal("mode switch completed while a transfer was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, during, log.count(), "lines driven while a transfer was in progress")

	close(log.release)
	require.NoError(t, <-read)
	require.NoError(t, <-switched)
	assert.Equal(t, uint16(0x0320), raw)
	assert.Equal(t, SoftwareDriven, sel.Mode())
	assert.True(t, bool(sim.sda.Read()))
	assert.True(t, bool(sim.scl.Read()))
}
