package i2c

import (
	"fmt"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// simBus is a wired-AND two-line bus with one register-based target attached.
// The master drives the two simLine values; the target reacts to clock edges
// and start/stop conditions the way a real device would.
type simBus struct {
	mu  sync.Mutex
	sda *simLine
	scl *simLine
	dev *simTarget

	prevSDA bool
	prevSCL bool
	trace   []string
}

type simLine struct {
	bus     *simBus
	output  bool
	level   gpio.Level
	pull    gpio.Pull
	failOut error
	ins     int
}

func newSimBus(dev *simTarget) *simBus {
	b := &simBus{dev: dev, prevSDA: true, prevSCL: true}
	b.sda = &simLine{bus: b, pull: gpio.PullUp}
	b.scl = &simLine{bus: b, pull: gpio.PullUp}
	return b
}

func (l *simLine) Out(level gpio.Level) error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	if l.failOut != nil {
		return l.failOut
	}
	l.output = true
	l.level = level
	l.bus.settle()
	return nil
}

func (l *simLine) In(pull gpio.Pull, edge gpio.Edge) error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	l.ins++
	l.output = false
	l.pull = pull
	l.bus.settle()
	return nil
}

func (l *simLine) Read() gpio.Level {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	return l.bus.level(l)
}

func (b *simBus) level(l *simLine) gpio.Level {
	// released lines float high on the external pull-up
	lvl := gpio.Level(!l.output) || l.level
	if l == b.sda && b.dev != nil && (b.dev.driveLow || b.dev.stuckLow) {
		return gpio.Low
	}
	return lvl
}

// settle runs the target state machine on the transition the master just made.
func (b *simBus) settle() {
	sda, scl := bool(b.level(b.sda)), bool(b.level(b.scl))
	if b.dev != nil {
		switch {
		case scl && b.prevSCL && sda != b.prevSDA:
			if !sda {
				b.trace = append(b.trace, "S")
				b.dev.onStart()
			} else {
				b.trace = append(b.trace, "P")
				b.dev.onStop()
			}
		case scl && !b.prevSCL:
			b.dev.onRise(gpio.Level(sda))
		case !scl && b.prevSCL:
			if s := b.dev.onFall(); s != "" {
				b.trace = append(b.trace, s)
			}
		}
	}
	b.prevSDA, b.prevSCL = bool(b.level(b.sda)), bool(b.level(b.scl))
}

// Trace returns the observed frames: S and P for conditions, hex bytes as
// received by the target, <hex for bytes it sent and a trailing - on NACK.
func (b *simBus) Trace() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.trace, " ")
}

func (b *simBus) resetTrace() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trace = nil
}

type simState int

const (
	simIdle simState = iota
	simRx
	simTx
)

// simTarget is a 16-bit register device behind an 8-bit pointer register.
type simTarget struct {
	addr     byte
	absent   bool
	nackData bool
	stuckLow bool
	regs     map[byte]uint16
	pointer  byte
	writes   int

	state     simState
	bit       int
	shift     byte
	first     bool
	rxCount   int
	high      byte
	readMode  bool
	ackSlot   bool
	driveLow  bool
	tx        [2]byte
	txIdx     int
	masterAck bool
}

func newSimTarget(addr byte, regs map[byte]uint16) *simTarget {
	if regs == nil {
		regs = make(map[byte]uint16)
	}
	return &simTarget{addr: addr, regs: regs}
}

func (t *simTarget) onStart() {
	t.state = simRx
	t.bit = 0
	t.shift = 0
	t.first = true
	t.rxCount = 0
	t.ackSlot = false
	t.driveLow = false
}

func (t *simTarget) onStop() {
	t.state = simIdle
	t.ackSlot = false
	t.driveLow = false
}

func (t *simTarget) onRise(sda gpio.Level) {
	switch t.state {
	case simRx:
		if t.bit < 8 && !t.ackSlot {
			t.shift <<= 1
			if sda {
				t.shift |= 1
			}
			t.bit++
		}
	case simTx:
		if t.bit < 8 {
			t.bit++
		} else if t.bit == 8 {
			t.masterAck = bool(!sda)
			t.bit = 9
		}
	}
}

// onFall returns a trace token when a byte boundary is crossed.
func (t *simTarget) onFall() string {
	switch t.state {
	case simRx:
		return t.fallRx()
	case simTx:
		return t.fallTx()
	}
	return ""
}

func (t *simTarget) fallRx() string {
	if t.ackSlot {
		t.ackSlot = false
		t.driveLow = false
		t.bit = 0
		t.shift = 0
		if t.readMode {
			v := t.regs[t.pointer]
			t.tx = [2]byte{byte(v >> 8), byte(v)}
			t.txIdx = 0
			t.state = simTx
			t.drive()
		}
		return ""
	}
	if t.bit < 8 {
		return ""
	}
	b := t.shift
	token := fmt.Sprintf("%02x", b)
	if t.first {
		t.first = false
		if t.absent || b>>1 != t.addr {
			t.state = simIdle
			return token + "-"
		}
		t.readMode = b&1 == 1
		t.ack(true)
		return token
	}
	t.rxCount++
	switch t.rxCount {
	case 1:
		t.pointer = b
	case 2:
		t.high = b
	case 3:
		t.regs[t.pointer] = uint16(t.high)<<8 | uint16(b)
		t.writes++
	}
	t.ack(!t.nackData)
	if t.nackData {
		return token + "-"
	}
	return token
}

func (t *simTarget) fallTx() string {
	switch {
	case t.bit < 8:
		t.drive()
	case t.bit == 8:
		t.driveLow = false
	case t.bit == 9:
		token := fmt.Sprintf("<%02x", t.tx[t.txIdx])
		if !t.masterAck {
			t.state = simIdle
			return token + "-"
		}
		t.txIdx = (t.txIdx + 1) % len(t.tx)
		t.bit = 0
		t.drive()
		return token
	}
	return ""
}

// ack reserves the ninth clock, pulling SDA low only when acknowledging.
func (t *simTarget) ack(pull bool) {
	t.ackSlot = true
	t.driveLow = pull
}

func (t *simTarget) drive() {
	t.driveLow = t.tx[t.txIdx]&(0x80>>t.bit) == 0
}
