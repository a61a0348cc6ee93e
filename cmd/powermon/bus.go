package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/powermon/adapter"
	"github.com/mklimuk/powermon/cmd/powermon/console"
	"github.com/mklimuk/powermon/i2c"
	"github.com/mklimuk/powermon/pkg/config"
	"github.com/mklimuk/powermon/power"
	"github.com/mklimuk/powermon/snsctx"
)

var busFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Usage:   "bus adapter: generic, mcp2221, nanopi or soft",
	},
	&cli.StringFlag{
		Name:  "device",
		Usage: "i2c bus name for the generic adapter (e.g. /dev/i2c-1)",
	},
	&cli.IntFlag{
		Name:  "bus",
		Usage: "i2c bus number for the nanopi adapter",
	},
	&cli.IntFlag{
		Name:  "index",
		Usage: "MCP2221 index when more than one is plugged in",
	},
	&cli.StringFlag{
		Name:  "sda",
		Usage: "data line for a software-driven bus (gpio name or GP0..GP3)",
	},
	&cli.StringFlag{
		Name:  "scl",
		Usage: "clock line for a software-driven bus (gpio name or GP0..GP3)",
	},
	&cli.StringFlag{
		Name:  "speed",
		Usage: "bus clock, e.g. 100kHz",
	},
	&cli.BoolFlag{
		Name:  "strict",
		Usage: "abort software-driven transfers at the first missing acknowledge",
	},
	&cli.BoolFlag{
		Name:  "open-drain",
		Usage: "release lines instead of driving them high",
	},
	&cli.StringFlag{
		Name:  "addr",
		Usage: "sensor 7-bit address, e.g. 0x40",
	},
	&cli.Float64Flag{
		Name:  "shunt",
		Usage: "shunt resistance in ohms",
	},
}

// loadConfig reads the configuration file and applies the command line
// overrides on top of it.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("adapter") {
		cfg.Bus.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Bus.Device = c.String("device")
	}
	if c.IsSet("bus") {
		cfg.Bus.Number = c.Int("bus")
	}
	if c.IsSet("index") {
		cfg.Bus.Index = c.Int("index")
	}
	if c.IsSet("sda") {
		cfg.Bus.SDA = c.String("sda")
	}
	if c.IsSet("scl") {
		cfg.Bus.SCL = c.String("scl")
	}
	if c.IsSet("speed") {
		cfg.Bus.Speed = c.String("speed")
	}
	if c.IsSet("strict") {
		cfg.Bus.Strict = c.Bool("strict")
	}
	if c.IsSet("open-drain") {
		cfg.Bus.OpenDrain = c.Bool("open-drain")
	}
	if c.IsSet("addr") {
		addr, err := strconv.ParseUint(c.String("addr"), 0, 8)
		if err != nil {
			return cfg, fmt.Errorf("%w: address %q", config.ErrInvalid, c.String("addr"))
		}
		cfg.Sensor.Address = uint8(addr)
	}
	if c.IsSet("shunt") {
		cfg.Sensor.Shunt = c.Float64("shunt")
	}
	return cfg, cfg.Validate()
}

// session is an opened bus with the sensor attached to it.
type session struct {
	ctx      context.Context
	sensor   *power.INA226
	selector *i2c.Selector
	closers  []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			console.Warnf("could not close bus: %v", err)
		}
	}
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	ctx = snsctx.SetTrace(ctx, c.Bool("trace"))
	s := &session{ctx: ctx}
	if err := s.openBus(cfg); err != nil {
		s.Close()
		return nil, err
	}
	opts := []power.INA226Opt{
		power.WithAddress(cfg.Sensor.Address),
		power.WithShunt(cfg.Sensor.Shunt),
	}
	if cfg.Sensor.Config != 0 {
		opts = append(opts, power.WithConfig(cfg.Sensor.Config))
	}
	s.sensor = power.NewINA226(s.selector, opts...)
	console.Debugf("%s bus in %s mode, sensor %s with %s Ω shunt", console.Cyan(cfg.Bus.Adapter), console.Cyan(s.selector.Mode()),
		console.Cyan(fmt.Sprintf("%#02x", cfg.Sensor.Address)), console.Cyan(cfg.Sensor.Shunt))
	return s, nil
}

func (s *session) openBus(cfg config.Config) error {
	freq, err := cfg.Bus.Frequency()
	if err != nil {
		return err
	}
	var soft []i2c.SoftwareOpt
	if cfg.Bus.Strict {
		soft = append(soft, i2c.WithStrictAck())
	}
	if cfg.Bus.OpenDrain {
		soft = append(soft, i2c.WithOpenDrain())
	}
	if freq > 0 {
		soft = append(soft, i2c.WithHalfPeriod(freq.Period()/2))
	}

	switch cfg.Bus.Adapter {
	case config.AdapterGeneric:
		bus, err := i2c.NewGenericBus(cfg.Bus.Device)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, bus.Close)
		if freq > 0 {
			if err := bus.SetSpeed(freq); err != nil {
				return err
			}
		}
		s.selector = i2c.NewSelector(i2c.NewHardware(bus))
	case config.AdapterNanoPi:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return fmt.Errorf("adaptor connect error: %w", err)
		}
		s.closers = append(s.closers, npi.I2cBusAdaptor.Finalize)
		bus := i2c.NewGobotBus(npi, cfg.Bus.Number)
		s.closers = append(s.closers, bus.Close)
		s.selector = i2c.NewSelector(i2c.NewHardware(bus))
	case config.AdapterMCP2221:
		mcp := adapter.NewMCP2221(adapter.WithIndex(cfg.Bus.Index))
		if err := mcp.Init(s.ctx); err != nil {
			return fmt.Errorf("adapter initialization error: %w", err)
		}
		s.selector = i2c.NewSelector(i2c.NewHardware(mcp))
		if !cfg.Bus.SoftwareDriven() {
			if freq > 0 {
				return mcp.SetSpeed(s.ctx, freq)
			}
			return nil
		}
		sda, err := mcpLine(s.ctx, mcp, cfg.Bus.SDA)
		if err != nil {
			return err
		}
		scl, err := mcpLine(s.ctx, mcp, cfg.Bus.SCL)
		if err != nil {
			return err
		}
		return s.selector.SetPins(sda, scl, soft...)
	case config.AdapterSoft:
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("could not init host: %w", err)
		}
		sda := gpioreg.ByName(cfg.Bus.SDA)
		if sda == nil {
			return fmt.Errorf("unknown gpio %q", cfg.Bus.SDA)
		}
		scl := gpioreg.ByName(cfg.Bus.SCL)
		if scl == nil {
			return fmt.Errorf("unknown gpio %q", cfg.Bus.SCL)
		}
		s.selector = i2c.NewSelector(nil)
		return s.selector.SetPins(sda, scl, soft...)
	default:
		return fmt.Errorf("%w: unknown adapter %q", config.ErrInvalid, cfg.Bus.Adapter)
	}
	return nil
}

// openError maps configuration mistakes to the usage exit code.
func openError(err error) error {
	if errors.Is(err, config.ErrInvalid) {
		return console.Exit(console.ExitUsage, "%s", console.Red(err))
	}
	return console.Exit(console.ExitError, "could not open bus: %s", console.Red(err))
}

func mcpLine(ctx context.Context, mcp *adapter.MCP2221, name string) (*adapter.Line, error) {
	pin, err := adapter.ParsePin(name)
	if err != nil {
		return nil, err
	}
	return mcp.Line(ctx, pin)
}
