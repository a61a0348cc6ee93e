package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/powermon/adapter"
	"github.com/mklimuk/powermon/cmd/powermon/console"
)

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "inspect USB HID devices",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list every HID device",
	Action: func(c *cli.Context) error {
		listDevices(console.Writer(), hid.Enumerate(0, 0))
		return nil
	},
}

var usbDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "list the supported bus adapters",
	Action: func(c *cli.Context) error {
		found := detectAdapters(console.Writer(), hid.Enumerate(0, 0))
		if found == 0 {
			return console.Exit(console.ExitNotConnected, "no supported adapter found")
		}
		return nil
	},
}

func listDevices(out io.Writer, devices []hid.DeviceInfo) {
	w := tabwriter.NewWriter(out, 24, 0, 1, ' ', 0)
	_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")
	for _, dev := range devices {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
			dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
	}
	_ = w.Flush()
}

var supportedAdapters = map[string][2]uint16{
	"MCP2221": {adapter.VendorID, adapter.ProductID},
}

func detectAdapters(out io.Writer, devices []hid.DeviceInfo) int {
	w := tabwriter.NewWriter(out, 24, 0, 1, ' ', 0)
	_, _ = fmt.Fprintf(w, "VENDOR\tPRODUCT\tDEVICE\n")
	found := 0
	for _, dev := range devices {
		for name, codes := range supportedAdapters {
			if codes[0] == dev.VendorID && codes[1] == dev.ProductID {
				_, _ = fmt.Fprintf(w, "%#x\t%#x\t%s\n", dev.VendorID, dev.ProductID, name)
				found++
			}
		}
	}
	_ = w.Flush()
	return found
}
