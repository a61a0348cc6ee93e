package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/powermon/cmd/powermon/console"
	"github.com/mklimuk/powermon/power"
)

var readCmd = cli.Command{
	Name:  "read",
	Usage: "take a single measurement",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yaml", Usage: "print the measurement as yaml"},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return openError(err)
		}
		defer s.Close()
		m, err := s.sensor.Measure(s.ctx)
		if err != nil {
			return console.Exit(console.ExitError, "measurement error: %s", console.Red(err))
		}
		if c.Bool("yaml") {
			return yaml.NewEncoder(console.Writer()).Encode(m)
		}
		printMeasurement(console.Writer(), m)
		return nil
	},
}

var watchCmd = cli.Command{
	Name:  "watch",
	Usage: "measure periodically until interrupted",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "interval", Aliases: []string{"i"}, Value: time.Second},
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "stop after n measurements, 0 runs forever"},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return openError(err)
		}
		defer s.Close()
		ctx, cancel := signal.NotifyContext(s.ctx, os.Interrupt)
		defer cancel()
		w := tabwriter.NewWriter(console.Writer(), 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "TIME\tBUS [V]\tSHUNT [mV]\tCURRENT [mA]\tPOWER [mW]\tR [Ω]\n")
		err = watch(ctx, s.sensor, c.Duration("interval"), c.Int("count"), func(m power.Measurement) {
			_, _ = fmt.Fprintf(w, "%s\t%.3f\t%.4f\t%.1f\t%.1f\t%.1f\n",
				m.Time.Format(time.TimeOnly), m.BusVoltage, m.ShuntVoltage, m.Current, m.Power, m.Resistance)
			_ = w.Flush()
		})
		if err != nil && ctx.Err() == nil {
			return console.Exit(console.ExitError, "measurement error: %s", console.Red(err))
		}
		return nil
	},
}

// watch measures every interval until ctx is done or count measurements were
// taken. A zero count never stops on its own.
func watch(ctx context.Context, m power.Monitor, interval time.Duration, count int, fn func(power.Measurement)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; count == 0 || n < count; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		meas, err := m.Measure(ctx)
		if err != nil {
			return err
		}
		fn(meas)
	}
	return nil
}

func printMeasurement(w io.Writer, m power.Measurement) {
	_, _ = fmt.Fprintf(w, "%s bus voltage:   %s V\n", console.PictoVoltage, console.White(fmt.Sprintf("%.3f", m.BusVoltage)))
	_, _ = fmt.Fprintf(w, "%s shunt voltage: %s mV\n", console.PictoShunt, console.White(fmt.Sprintf("%.4f", m.ShuntVoltage)))
	_, _ = fmt.Fprintf(w, "%s current:       %s mA\n", console.PictoCurrent, console.White(fmt.Sprintf("%.1f", m.Current)))
	_, _ = fmt.Fprintf(w, "%s power:         %s mW\n", console.PictoPower, console.White(fmt.Sprintf("%.1f", m.Power)))
	_, _ = fmt.Fprintf(w, "%s resistance:    %s Ω\n", console.PictoResistance, console.White(fmt.Sprintf("%.1f", m.Resistance)))
}

var initCmd = cli.Command{
	Name:  "init",
	Usage: "write the configuration and calibration registers",
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return openError(err)
		}
		defer s.Close()
		if err := s.sensor.Init(s.ctx); err != nil {
			return console.Exit(console.ExitError, "initialization error: %s", console.Red(err))
		}
		console.PInfof(console.PictoOK, "sensor %s initialized (shunt %s Ω, calibration %s)",
			console.White(fmt.Sprintf("%#02x", s.sensor.Address())),
			console.White(s.sensor.Shunt()),
			console.White(s.sensor.Calibration()))
		return nil
	},
}

var resetCmd = cli.Command{
	Name:  "reset",
	Usage: "soft-reset the sensor to its power-on state",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			ok, err := console.Confirm("reset the sensor?")
			if err != nil {
				return console.Exit(console.ExitUsage, "prompt error: %s", console.Red(err))
			}
			if !ok {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		s, err := openSession(c)
		if err != nil {
			return openError(err)
		}
		defer s.Close()
		if err := s.sensor.Reset(s.ctx); err != nil {
			return console.Exit(console.ExitError, "reset error: %s", console.Red(err))
		}
		console.PInfof(console.PictoReset, "sensor reset")
		return nil
	},
}

var connectedCmd = cli.Command{
	Name:  "connected",
	Usage: "check the sensor answers on the bus",
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return openError(err)
		}
		defer s.Close()
		ok, err := s.sensor.IsConnected(s.ctx)
		if err != nil {
			return console.Exit(console.ExitError, "bus error: %s", console.Red(err))
		}
		if !ok {
			return console.Exit(console.ExitNotConnected, "sensor %s not connected", console.Red(fmt.Sprintf("%#02x", s.sensor.Address())))
		}
		manufacturer, err := s.sensor.ManufacturerID(s.ctx)
		if err != nil {
			return console.Exit(console.ExitError, "identification error: %s", console.Red(err))
		}
		die, err := s.sensor.DieID(s.ctx)
		if err != nil {
			return console.Exit(console.ExitError, "identification error: %s", console.Red(err))
		}
		console.PInfof(console.PictoOK, "sensor %s connected (manufacturer %s, die %s)",
			console.Green(fmt.Sprintf("%#02x", s.sensor.Address())),
			console.White(fmt.Sprintf("%#04x", manufacturer)),
			console.White(fmt.Sprintf("%#04x", die)))
		return nil
	},
}

type registerDump struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Value   string `yaml:"value"`
}

var regsCmd = cli.Command{
	Name:  "regs",
	Usage: "dump every sensor register as yaml",
	Action: func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return openError(err)
		}
		defer s.Close()
		dump, err := dumpRegisters(s.ctx, s.sensor.ReadRegister)
		if err != nil {
			return console.Exit(console.ExitError, "register read error: %s", console.Red(err))
		}
		return yaml.NewEncoder(console.Writer()).Encode(dump)
	},
}

func dumpRegisters(ctx context.Context, read func(context.Context, power.Register) (uint16, error)) ([]registerDump, error) {
	dump := make([]registerDump, 0, len(power.Registers))
	for _, reg := range power.Registers {
		v, err := read(ctx, reg)
		if err != nil {
			return nil, err
		}
		dump = append(dump, registerDump{
			Name:    reg.String(),
			Address: fmt.Sprintf("%#02x", byte(reg)),
			Value:   fmt.Sprintf("%#04x", v),
		})
	}
	return dump, nil
}

var configCmd = cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(console.ExitUsage, "%s", console.Red(err))
		}
		return cfg.Encode(console.Writer())
	},
}
