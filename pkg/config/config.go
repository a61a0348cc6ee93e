// Package config holds the powermon configuration file and the build
// information injected at link time.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Set with -ldflags -X at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	AdapterGeneric = "generic"
	AdapterMCP2221 = "mcp2221"
	AdapterNanoPi  = "nanopi"
	AdapterSoft    = "soft"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Bus    Bus    `yaml:"bus"`
	Sensor Sensor `yaml:"sensor"`
}

// Bus selects the transport. SDA and SCL are only used by the soft adapter
// and by mcp2221 when set (software-driven over the adapter pins).
type Bus struct {
	Adapter   string `yaml:"adapter"`
	Device    string `yaml:"device,omitempty"`
	Index     int    `yaml:"index,omitempty"`
	Number    int    `yaml:"number,omitempty"`
	SDA       string `yaml:"sda,omitempty"`
	SCL       string `yaml:"scl,omitempty"`
	Speed     string `yaml:"speed,omitempty"`
	Strict    bool   `yaml:"strict,omitempty"`
	OpenDrain bool   `yaml:"open_drain,omitempty"`
}

type Sensor struct {
	Address uint8   `yaml:"address"`
	Shunt   float64 `yaml:"shunt"`
	Config  uint16  `yaml:"config,omitempty"`
}

func Default() Config {
	return Config{
		Bus: Bus{
			Adapter: AdapterGeneric,
		},
		Sensor: Sensor{
			Address: 0x40,
			Shunt:   0.1,
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not open config file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("could not decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(c)
}

func (c Config) Validate() error {
	switch c.Bus.Adapter {
	case AdapterGeneric, AdapterNanoPi:
	case AdapterMCP2221:
		if (c.Bus.SDA == "") != (c.Bus.SCL == "") {
			return fmt.Errorf("%w: both sda and scl must be set", ErrInvalid)
		}
	case AdapterSoft:
		if c.Bus.SDA == "" || c.Bus.SCL == "" {
			return fmt.Errorf("%w: soft adapter needs sda and scl", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown adapter %q", ErrInvalid, c.Bus.Adapter)
	}
	if _, err := c.Bus.Frequency(); err != nil {
		return err
	}
	if c.Sensor.Address > 0x7F {
		return fmt.Errorf("%w: address %#x is not a 7-bit address", ErrInvalid, c.Sensor.Address)
	}
	if c.Sensor.Shunt <= 0 {
		return fmt.Errorf("%w: shunt must be positive", ErrInvalid)
	}
	return nil
}

// SoftwareDriven reports whether the bus is bit-banged.
func (b Bus) SoftwareDriven() bool {
	return b.SDA != "" && b.SCL != ""
}

// Frequency parses Speed (e.g. "100kHz"). Zero means the driver default.
func (b Bus) Frequency() (physic.Frequency, error) {
	if b.Speed == "" {
		return 0, nil
	}
	var f physic.Frequency
	if err := f.Set(b.Speed); err != nil {
		return 0, fmt.Errorf("%w: speed %q: %v", ErrInvalid, b.Speed, err)
	}
	return f, nil
}

// BuildInfo formats the version for display.
func BuildInfo() string {
	return fmt.Sprintf("%s-%s-%s", Version, Date, Commit)
}
