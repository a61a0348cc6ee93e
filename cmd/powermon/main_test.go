package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/karalabe/hid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/powermon/adapter"
	"github.com/mklimuk/powermon/cmd/powermon/console"
	"github.com/mklimuk/powermon/power"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	console.NoColor()
	buf := &bytes.Buffer{}
	console.SetOutput(buf, buf)
	t.Cleanup(func() { console.SetOutput(os.Stdout, os.Stderr) })
	return buf
}

func TestHelpAndVersion(t *testing.T) {
	out := captureOutput(t)
	require.Equal(t, 0, run([]string{"powermon", "--help"}))
	for _, name := range []string{"read", "watch", "init", "reset", "connected", "regs", "config", "usb", "mcp2221", "--verbose", "--trace"} {
		assert.Contains(t, out.String(), name)
	}

	out.Reset()
	require.Equal(t, 0, run([]string{"powermon", "--version"}))
	assert.Contains(t, out.String(), "powermon version")
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	out := captureOutput(t)
	code := run([]string{"powermon",
		"--adapter", "soft", "--sda", "GPIO17", "--scl", "GPIO27",
		"--speed", "50kHz", "--strict", "--addr", "0x41", "--shunt", "0.01",
		"config"})
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "adapter: soft")
	assert.Contains(t, out.String(), "sda: GPIO17")
	assert.Contains(t, out.String(), "speed: 50kHz")
	assert.Contains(t, out.String(), "strict: true")
	assert.Contains(t, out.String(), "address: 65")
	assert.Contains(t, out.String(), "shunt: 0.01")
}

func TestConfigCommandReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "powermon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus:\n  adapter: nanopi\n  number: 2\nsensor:\n  address: 0x45\n  shunt: 0.002\n"), 0o600))
	out := captureOutput(t)
	code := run([]string{"powermon", "--config", path, "--shunt", "0.5", "config"})
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "adapter: nanopi")
	assert.Contains(t, out.String(), "number: 2")
	assert.Contains(t, out.String(), "address: 69")
	assert.Contains(t, out.String(), "shunt: 0.5")
}

func TestConfigCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad address", []string{"--addr", "0x80"}},
		{"not a number", []string{"--addr", "forty"}},
		{"soft without pins", []string{"--adapter", "soft"}},
		{"negative shunt", []string{"--shunt", "-1"}},
		{"unknown adapter", []string{"--adapter", "ft232h"}},
		{"bad speed", []string{"--speed", "fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureOutput(t)
			args := append([]string{"powermon"}, tt.args...)
			code := run(append(args, "config"))
			assert.Equal(t, console.ExitUsage, code)
			assert.Contains(t, out.String(), "invalid configuration")
		})
	}
}

func TestOpenSessionRejectsUnknownGPIO(t *testing.T) {
	out := captureOutput(t)
	code := run([]string{"powermon", "--adapter", "soft", "--sda", "NOPE1", "--scl", "NOPE2", "read"})
	assert.Equal(t, console.ExitError, code)
	assert.Contains(t, out.String(), "could not open bus")

	out.Reset()
	code = run([]string{"powermon", "--adapter", "soft", "read"})
	assert.Equal(t, console.ExitUsage, code)
	assert.Contains(t, out.String(), "soft adapter needs sda and scl")
}

func TestPrintMeasurement(t *testing.T) {
	console.NoColor()
	sensor := power.NewMockPowerSensor(func(ctx context.Context) (power.Measurement, error) {
		return power.Measurement{BusVoltage: 5.0, ShuntVoltage: 2.5, Current: 250}, nil
	})
	m, err := sensor.Measure(context.Background())
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	printMeasurement(buf, m)
	assert.Contains(t, buf.String(), "bus voltage:   5.000 V")
	assert.Contains(t, buf.String(), "shunt voltage: 2.5000 mV")
	assert.Contains(t, buf.String(), "current:       250.0 mA")
	assert.Contains(t, buf.String(), "power:         1250.0 mW")
	assert.Contains(t, buf.String(), "resistance:    20.0 Ω")
}

func TestWatch(t *testing.T) {
	calls := 0
	sensor := power.NewMockPowerSensor(func(ctx context.Context) (power.Measurement, error) {
		calls++
		return power.Measurement{BusVoltage: float64(calls), Current: 100}, nil
	})
	var got []float64
	err := watch(context.Background(), sensor, time.Millisecond, 3, func(m power.Measurement) {
		got = append(got, m.BusVoltage)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestWatchStopsOnError(t *testing.T) {
	fail := errors.New("sensor malfunction")
	sensor := power.NewMockPowerSensor(func(ctx context.Context) (power.Measurement, error) {
		return power.Measurement{}, fail
	})
	err := watch(context.Background(), sensor, time.Millisecond, 0, func(power.Measurement) {
		t.Fatal("no measurement expected")
	})
	assert.ErrorIs(t, err, fail)
}

func TestWatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	sensor := power.NewMockPowerSensor(func(ctx context.Context) (power.Measurement, error) {
		return power.Measurement{BusVoltage: 12}, nil
	})
	err := watch(ctx, sensor, time.Hour, 0, func(power.Measurement) {
		n++
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}

func TestDumpRegisters(t *testing.T) {
	values := map[power.Register]uint16{
		power.RegConfig:         0x4127,
		power.RegCalibration:    0x0200,
		power.RegManufacturerID: 0x5449,
		power.RegDieID:          0x2260,
	}
	dump, err := dumpRegisters(context.Background(), func(_ context.Context, reg power.Register) (uint16, error) {
		return values[reg], nil
	})
	require.NoError(t, err)
	require.Len(t, dump, len(power.Registers))
	assert.Equal(t, registerDump{Name: "config", Address: "0x00", Value: "0x4127"}, dump[0])
	assert.Equal(t, registerDump{Name: "die_id", Address: "0xff", Value: "0x2260"}, dump[len(dump)-1])

	_, err = dumpRegisters(context.Background(), func(context.Context, power.Register) (uint16, error) {
		return 0, errors.New("bus error")
	})
	assert.Error(t, err)
}

func TestDetectAdapters(t *testing.T) {
	devices := []hid.DeviceInfo{
		{Path: "1-1", VendorID: 0x046d, ProductID: 0xc52b, Product: "Receiver"},
		{Path: "1-2", VendorID: adapter.VendorID, ProductID: adapter.ProductID, Product: "MCP2221 USB-I2C/UART Combo"},
	}
	buf := &bytes.Buffer{}
	assert.Equal(t, 1, detectAdapters(buf, devices))
	assert.Contains(t, buf.String(), "MCP2221")
	assert.NotContains(t, buf.String(), "0x46d")

	buf.Reset()
	listDevices(buf, devices)
	assert.Contains(t, buf.String(), "Receiver")
	assert.Contains(t, buf.String(), "0x4d8")
}
