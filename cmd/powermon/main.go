package main

import (
	"errors"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/powermon/cmd/powermon/console"
	"github.com/mklimuk/powermon/pkg/config"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	err := newApp().Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			if msg := err.Error(); msg != "" {
				console.Error(msg)
			}
			return exerr.ExitCode()
		}
		console.Errorf("%v", err)
		return console.ExitError
	}
	return 0
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "powermon"
	app.EnableBashCompletion = true
	app.Version = config.BuildInfo()
	app.Usage = "INA226 current/voltage/power monitor cli"
	app.Writer = console.Writer()
	// exit codes are resolved in run
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Flags = append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "log every byte of software-driven transfers",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "yaml configuration file",
			EnvVars: []string{"POWERMON_CONFIG"},
		},
	}, busFlags...)
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") || ctx.Bool("trace") {
			charm.SetLevel(chlog.DebugLevel)
			console.Trace = true
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&readCmd,
		&watchCmd,
		&initCmd,
		&resetCmd,
		&connectedCmd,
		&regsCmd,
		&configCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	return app
}
