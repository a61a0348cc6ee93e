package i2c

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	"github.com/mklimuk/powermon"
	"github.com/mklimuk/powermon/snsctx"
)

// MinHalfPeriod is the delay inserted around every clock and data transition.
// It bounds the bus speed (~100 kHz) and may only be made longer.
const MinHalfPeriod = 5 * time.Microsecond

var (
	_ powermon.RegisterBus = &Software{}
	_ powermon.I2CBus      = &Software{}
	_ i2c.Bus              = &Software{}
	_ drivers.I2C          = &Software{}
)

// Line is a single digital line of the bus. Any periph.io gpio.PinIO
// satisfies it.
type Line interface {
	Out(l gpio.Level) error
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
}

// AckPolicy decides what happens when a byte is not acknowledged.
type AckPolicy int

const (
	// AckReport sends every byte of the transaction and returns ErrNoAck for
	// the first byte that was not acknowledged once the stop condition is out.
	AckReport AckPolicy = iota
	// AckStrict aborts the transaction at the first missing acknowledge.
	AckStrict
	// AckIgnore never reports missing acknowledges.
	AckIgnore
)

func (p AckPolicy) String() string {
	switch p {
	case AckStrict:
		return "strict"
	case AckIgnore:
		return "ignore"
	default:
		return "report"
	}
}

type SoftwareOpts struct {
	HalfPeriod time.Duration
	Delay      func(time.Duration)
	AckPolicy  AckPolicy
	OpenDrain  bool
}

type SoftwareOpt func(*SoftwareOpts)

// WithHalfPeriod sets the transition delay. Values below MinHalfPeriod are raised to it.
func WithHalfPeriod(d time.Duration) SoftwareOpt {
	return func(o *SoftwareOpts) {
		o.HalfPeriod = d
	}
}

// WithDelay replaces the busy-wait used for timing (tests pass a no-op).
func WithDelay(fn func(time.Duration)) SoftwareOpt {
	return func(o *SoftwareOpts) {
		o.Delay = fn
	}
}

func WithAckPolicy(p AckPolicy) SoftwareOpt {
	return func(o *SoftwareOpts) {
		o.AckPolicy = p
	}
}

// WithStrictAck is a shorthand for WithAckPolicy(AckStrict).
func WithStrictAck() SoftwareOpt {
	return WithAckPolicy(AckStrict)
}

// WithOpenDrain makes a logical high release the line to its pull-up instead
// of driving it.
func WithOpenDrain() SoftwareOpt {
	return func(o *SoftwareOpts) {
		o.OpenDrain = true
	}
}

// Software is a bit-banged I2C master driving two digital lines.
//
// Usage:
//
//	bus, err := NewSoftware(sda, scl)
//	raw, err := bus.ReadRegister(ctx, 0x40, 0x02)
//
// There is no clock stretching and no timeout: the master samples SDA on
// its own schedule, so a wedged target shows up as garbage data or NoAck.
type Software struct {
	mx     sync.Mutex
	sda    Line
	scl    Line
	config SoftwareOpts
	err    error // first line error of the current transaction
}

// NewSoftware sets up the master and drives both lines to the idle (high) state.
func NewSoftware(sda, scl Line, opts ...SoftwareOpt) (*Software, error) {
	config := SoftwareOpts{
		HalfPeriod: MinHalfPeriod,
		Delay:      busyWait,
		AckPolicy:  AckReport,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.HalfPeriod < MinHalfPeriod {
		config.HalfPeriod = MinHalfPeriod
	}
	if config.Delay == nil {
		config.Delay = busyWait
	}
	s := &Software{sda: sda, scl: scl, config: config}
	s.set(s.sda, "SDA", gpio.High)
	s.set(s.scl, "SCL", gpio.High)
	if s.err != nil {
		return nil, fmt.Errorf("could not idle bus lines: %w", s.err)
	}
	return s, nil
}

func (s *Software) String() string {
	return fmt.Sprintf("soft-i2c(%s)", s.config.AckPolicy)
}

// HalfPeriod returns the effective transition delay.
func (s *Software) HalfPeriod() time.Duration {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.config.HalfPeriod
}

// SetSpeed derives the transition delay from a clock frequency. Frequencies
// above what MinHalfPeriod allows are capped.
func (s *Software) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("invalid bus speed %s", f)
	}
	half := f.Period() / 2
	if half < MinHalfPeriod {
		half = MinHalfPeriod
	}
	s.mx.Lock()
	s.config.HalfPeriod = half
	s.mx.Unlock()
	return nil
}

func (s *Software) WriteRegister(ctx context.Context, address byte, reg byte, value uint16) error {
	frame := []byte{reg, 0, 0}
	binary.BigEndian.PutUint16(frame[1:], value)
	if err := s.transfer(ctx, address, frame, nil); err != nil {
		return fmt.Errorf("could not write register %#02x: %w", reg, err)
	}
	return nil
}

// ReadRegister writes the register pointer, issues a repeated start and reads
// the high byte (ACK) followed by the low byte (NACK).
func (s *Software) ReadRegister(ctx context.Context, address byte, reg byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := s.transfer(ctx, address, []byte{reg}, buf); err != nil {
		return binary.BigEndian.Uint16(buf), fmt.Errorf("could not read register %#02x: %w", reg, err)
	}
	return binary.BigEndian.Uint16(buf), nil
}

// Tx performs a combined write-then-read transaction with a repeated start
// between both halves.
func (s *Software) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("invalid 7-bit address %#x", addr)
	}
	return s.transfer(context.Background(), byte(addr), w, r)
}

func (s *Software) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return s.transfer(ctx, address, buffer, nil)
}

func (s *Software) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return s.transfer(ctx, address, nil, buffer)
}

// Release drives both lines back to idle.
func (s *Software) Release(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.err = nil
	s.set(s.sda, "SDA", gpio.High)
	s.set(s.scl, "SCL", gpio.High)
	return s.err
}

func (s *Software) transfer(ctx context.Context, address byte, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.err = nil
	if snsctx.IsVerbose(ctx) {
		slog.Debug("soft-i2c transfer", "addr", fmt.Sprintf("%#02x", address), "write", hex.EncodeToString(w), "read", len(r))
	}

	trace := snsctx.IsTrace(ctx)
	var nack error
	send := func(b byte, what string) bool {
		ack := s.writeByte(b)
		if trace {
			slog.Debug("soft-i2c byte", "what", what, "byte", fmt.Sprintf("%#02x", b), "ack", ack)
		}
		if ack {
			return true
		}
		if nack == nil {
			nack = fmt.Errorf("%w: %s (%#02x) at %#02x", powermon.ErrNoAck, what, b, address)
		}
		return s.config.AckPolicy != AckStrict
	}

	s.start()
	wrote := len(w) > 0 || len(r) == 0
	if wrote {
		if !send(address<<1, "address write") {
			return s.abort(nack)
		}
		for i, b := range w {
			if !send(b, fmt.Sprintf("data byte %d", i)) {
				return s.abort(nack)
			}
		}
	}
	if len(r) > 0 {
		if wrote {
			s.start()
		}
		if !send(address<<1|1, "address read") {
			return s.abort(nack)
		}
		for i := range r {
			r[i] = s.readByte(i < len(r)-1)
			if trace {
				slog.Debug("soft-i2c byte", "what", fmt.Sprintf("read byte %d", i), "byte", fmt.Sprintf("%#02x", r[i]), "ack", i < len(r)-1)
			}
		}
	}
	s.stop()

	if s.err != nil {
		return s.err
	}
	if nack != nil && s.config.AckPolicy != AckIgnore {
		return nack
	}
	return nil
}

func (s *Software) abort(nack error) error {
	s.stop()
	if s.err != nil {
		return errors.Join(nack, s.err)
	}
	return nack
}

// start: SDA falls while SCL is high, then SCL is pulled low.
// Issued with SCL low it doubles as a repeated start.
func (s *Software) start() {
	s.set(s.sda, "SDA", gpio.High)
	s.set(s.scl, "SCL", gpio.High)
	s.delay()
	s.set(s.sda, "SDA", gpio.Low)
	s.delay()
	s.set(s.scl, "SCL", gpio.Low)
}

// stop: SDA rises while SCL is high.
func (s *Software) stop() {
	s.set(s.sda, "SDA", gpio.Low)
	s.set(s.scl, "SCL", gpio.High)
	s.delay()
	s.set(s.sda, "SDA", gpio.High)
}

// writeByte clocks b out MSB first and samples the acknowledge bit with SDA
// released. It reports whether the target pulled SDA low.
func (s *Software) writeByte(b byte) bool {
	for i := 0; i < 8; i++ {
		s.set(s.sda, "SDA", gpio.Level(b&0x80 != 0))
		b <<= 1
		s.delay()
		s.set(s.scl, "SCL", gpio.High)
		s.delay()
		s.set(s.scl, "SCL", gpio.Low)
	}
	s.release(s.sda, "SDA")
	s.set(s.scl, "SCL", gpio.High)
	s.delay()
	ack := s.sda.Read() == gpio.Low
	s.set(s.scl, "SCL", gpio.Low)
	return ack
}

// readByte clocks a byte in MSB first, then answers with ACK (more bytes
// wanted) or NACK (last byte).
func (s *Software) readByte(sendAck bool) byte {
	var b byte
	s.release(s.sda, "SDA")
	for i := 0; i < 8; i++ {
		b <<= 1
		s.set(s.scl, "SCL", gpio.High)
		s.delay()
		if s.sda.Read() == gpio.High {
			b |= 1
		}
		s.set(s.scl, "SCL", gpio.Low)
		s.delay()
	}
	s.set(s.sda, "SDA", gpio.Level(!sendAck))
	s.set(s.scl, "SCL", gpio.High)
	s.delay()
	s.set(s.scl, "SCL", gpio.Low)
	return b
}

func (s *Software) set(line Line, name string, level gpio.Level) {
	if s.err != nil {
		return
	}
	if level == gpio.High && s.config.OpenDrain {
		s.release(line, name)
		return
	}
	if err := line.Out(level); err != nil {
		s.err = fmt.Errorf("could not drive %s %s: %w", name, level, err)
	}
}

func (s *Software) release(line Line, name string) {
	if s.err != nil {
		return
	}
	if err := line.In(gpio.PullUp, gpio.NoEdge); err != nil {
		s.err = fmt.Errorf("could not release %s: %w", name, err)
	}
}

func (s *Software) delay() {
	s.config.Delay(s.config.HalfPeriod)
}

func busyWait(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
