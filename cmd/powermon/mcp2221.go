package main

import (
	"context"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/gpio"

	"github.com/mklimuk/powermon/adapter"
	"github.com/mklimuk/powermon/cmd/powermon/console"
	"github.com/mklimuk/powermon/snsctx"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 adapter maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
	},
}

func mcp2221Context(c *cli.Context) (context.Context, *adapter.MCP2221) {
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	return ctx, adapter.NewMCP2221(adapter.WithIndex(c.Int("index")))
}

func printYAML(v interface{}) error {
	err := yaml.NewEncoder(console.Writer()).Encode(v)
	if err != nil {
		return console.Exit(console.ExitError, "encoding error: %s", console.Red(err))
	}
	return nil
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the adapter I2C engine status",
	Action: func(c *cli.Context) error {
		ctx, a := mcp2221Context(c)
		status, err := a.Status(ctx)
		if err != nil {
			return console.Exit(console.ExitError, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current I2C transfer and free the bus",
	Action: func(c *cli.Context) error {
		ctx, a := mcp2221Context(c)
		status, err := a.ReleaseBus(ctx)
		if err != nil {
			return console.Exit(console.ExitError, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "general purpose pins",
	Subcommands: cli.Commands{
		&mcp2221GPIOReadCmd,
		&mcp2221GPIOParamsCmd,
		&mcp2221GPIOSetupCmd,
		&mcp2221GPIOSetCmd,
	},
}

var mcp2221GPIOReadCmd = cli.Command{
	Name:  "read",
	Usage: "print pin directions and levels",
	Action: func(c *cli.Context) error {
		ctx, a := mcp2221Context(c)
		values, err := a.ReadGPIO(ctx)
		if err != nil {
			return console.Exit(console.ExitError, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(values)
	},
}

var mcp2221GPIOParamsCmd = cli.Command{
	Name:  "params",
	Usage: "print the power-up pin designations",
	Action: func(c *cli.Context) error {
		ctx, a := mcp2221Context(c)
		params, err := a.GetGPIOParameters(ctx)
		if err != nil {
			return console.Exit(console.ExitError, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(params)
	},
}

var mcp2221GPIOSetupCmd = cli.Command{
	Name:  "setup",
	Usage: "designate every pin as a GPIO input at power-up (required by a software-driven bus)",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			ok, err := console.Confirm("overwrite the adapter flash settings?")
			if err != nil {
				return console.Exit(console.ExitUsage, "prompt error: %s", console.Red(err))
			}
			if !ok {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		ctx, a := mcp2221Context(c)
		params := adapter.MCP2221GPIOParameters{
			GPIO0Mode: adapter.GPIOModeIn, GPIO0Designation: adapter.GPIOOperation,
			GPIO1Mode: adapter.GPIOModeIn, GPIO1Designation: adapter.GPIOOperation,
			GPIO2Mode: adapter.GPIOModeIn, GPIO2Designation: adapter.GPIOOperation,
			GPIO3Mode: adapter.GPIOModeIn, GPIO3Designation: adapter.GPIOOperation,
		}
		if err := a.SetGPIOParameters(ctx, params); err != nil {
			return console.Exit(console.ExitError, "adapter communication error: %s", console.Red(err))
		}
		console.PInfof(console.PictoOK, "pin designations written, replug the adapter to apply them")
		return nil
	},
}

var mcp2221GPIOSetCmd = cli.Command{
	Name:      "set",
	Usage:     "drive a pin: set GP<n> high|low|in",
	ArgsUsage: "<pin> <high|low|in>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(console.ExitUsage, "expected 2 arguments, got %d", c.NArg())
		}
		pin, err := adapter.ParsePin(c.Args().Get(0))
		if err != nil {
			return console.Exit(console.ExitUsage, "%s", console.Red(err))
		}
		ctx, a := mcp2221Context(c)
		switch c.Args().Get(1) {
		case "high":
			err = a.WritePin(ctx, pin, true, gpio.High)
		case "low":
			err = a.WritePin(ctx, pin, true, gpio.Low)
		case "in":
			err = a.WritePin(ctx, pin, false, gpio.High)
		default:
			return console.Exit(console.ExitUsage, "unknown state %q", c.Args().Get(1))
		}
		if err != nil {
			return console.Exit(console.ExitError, "adapter communication error: %s", console.Red(err))
		}
		level, err := a.ReadPin(ctx, pin)
		if err != nil {
			return console.Exit(console.ExitError, "adapter communication error: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "GP%d reads %s", pin, console.White(level))
		return nil
	},
}
