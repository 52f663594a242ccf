package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/queue"
	"github.com/ardnew/partner64/transport/serialport"
)

// maxFileSize bounds a configuration file.
const maxFileSize = 1 << 20

// Config is the root of a configuration file.
type Config struct {
	Pins   *PinConfig    `json:"pins,omitempty"`
	Timing *TimingConfig `json:"timing,omitempty"`
	Serial *SerialConfig `json:"serial,omitempty"`

	RXCapacity *int `json:"rx_capacity,omitempty"`
	TXCapacity *int `json:"tx_capacity,omitempty"`

	LogLevel  *string `json:"log_level,omitempty"`  // debug, info, warn or error
	LogFormat *string `json:"log_format,omitempty"` // text or json

	CapturePath *string `json:"capture_path,omitempty"` // pcap output
	TracePath   *string `json:"trace_path,omitempty"`   // sqlite output

	GPIOChip *string `json:"gpio_chip,omitempty"` // e.g. "gpiochip0"
	Script   *string `json:"script,omitempty"`    // Lua cartridge for the simulator
}

// PinConfig overrides the board wiring. Omitted groups keep their default
// pins.
type PinConfig struct {
	Addr       []int              `json:"addr,omitempty"`
	Data       []int              `json:"data,omitempty"`
	SerialData *int               `json:"serial_data,omitempty"`
	Clock      *int               `json:"clock,omitempty"`
	Dir        *int               `json:"dir,omitempty"`
	Controls   []ControlPinConfig `json:"controls,omitempty"` // ALE_L, ALE_H, /RD, /WR, /RESET, /NMI
}

// ControlPinConfig binds one control line.
type ControlPinConfig struct {
	Pin       int  `json:"pin"`
	ActiveLow bool `json:"active_low"`
}

// TimingConfig overrides the bus delays.
type TimingConfig struct {
	Setup  *string `json:"setup,omitempty"`
	Strobe *string `json:"strobe,omitempty"`
	Hold   *string `json:"hold,omitempty"`
}

// SerialConfig selects and configures a serial link.
type SerialConfig struct {
	Path        string `json:"path,omitempty"`
	BaudRate    int    `json:"baud_rate,omitempty"`
	DataBits    int    `json:"data_bits,omitempty"`
	StopBits    int    `json:"stop_bits,omitempty"`
	Parity      string `json:"parity,omitempty"`
	ReadTimeout string `json:"read_timeout,omitempty"`
}

// Empty returns a configuration with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads and validates a JSON configuration file.
func Load(path string) (*Config, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q: %w", ext, pkg.ErrInvalidParameter)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d): %w", info.Size(), maxFileSize, pkg.ErrInvalidParameter)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a JSON configuration. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Empty()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	pkg.LogDebug(pkg.ComponentConfig, "configuration loaded")
	return cfg, nil
}

// Validate checks every set field.
func (c *Config) Validate() error {
	pins, err := c.PinMap()
	if err != nil {
		return err
	}
	if err := pins.Validate(); err != nil {
		return err
	}

	timing, err := c.BusTiming()
	if err != nil {
		return err
	}
	if err := timing.Validate(); err != nil {
		return err
	}

	for name, v := range map[string]*int{"rx_capacity": c.RXCapacity, "tx_capacity": c.TXCapacity} {
		if v != nil && *v < queue.MinCapacity {
			return fmt.Errorf("%s must be at least %d, got %d: %w", name, queue.MinCapacity, *v, pkg.ErrInvalidParameter)
		}
	}

	if _, err := c.SerialOptions(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Format(); err != nil {
		return err
	}
	return nil
}

// PinMap returns the configured wiring.
func (c *Config) PinMap() (bus.PinMap, error) {
	m := bus.DefaultPinMap
	p := c.Pins
	if p == nil {
		return m, nil
	}

	group := func(name string, dst []bus.Pin, src []int) error {
		if src == nil {
			return nil
		}
		if len(src) != len(dst) {
			return fmt.Errorf("pins.%s needs %d pins, got %d: %w", name, len(dst), len(src), pkg.ErrInvalidParameter)
		}
		for i, v := range src {
			pin, err := toPin(v)
			if err != nil {
				return fmt.Errorf("pins.%s[%d]: %w", name, i, err)
			}
			dst[i] = pin
		}
		return nil
	}
	if err := group("addr", m.Addr[:], p.Addr); err != nil {
		return m, err
	}
	if err := group("data", m.Data[:], p.Data); err != nil {
		return m, err
	}

	single := []struct {
		name string
		dst  *bus.Pin
		src  *int
	}{
		{"serial_data", &m.SerialData, p.SerialData},
		{"clock", &m.Clock, p.Clock},
		{"dir", &m.Dir, p.Dir},
	}
	for _, s := range single {
		if s.src == nil {
			continue
		}
		pin, err := toPin(*s.src)
		if err != nil {
			return m, fmt.Errorf("pins.%s: %w", s.name, err)
		}
		*s.dst = pin
	}

	if p.Controls != nil {
		if len(p.Controls) != bus.NumControls {
			return m, fmt.Errorf("pins.controls needs %d entries, got %d: %w", bus.NumControls, len(p.Controls), pkg.ErrInvalidParameter)
		}
		for i, cp := range p.Controls {
			pin, err := toPin(cp.Pin)
			if err != nil {
				return m, fmt.Errorf("pins.controls[%d]: %w", i, err)
			}
			m.Controls[i] = bus.ControlPin{Pin: pin, ActiveLow: cp.ActiveLow}
		}
	}
	return m, nil
}

func toPin(v int) (bus.Pin, error) {
	if v < 0 || v > int(bus.MaxPin) {
		return 0, fmt.Errorf("pin %d not in 0..%d: %w", v, bus.MaxPin, pkg.ErrInvalidParameter)
	}
	return bus.Pin(v), nil
}

// BusTiming returns the configured bus delays.
func (c *Config) BusTiming() (bus.Timing, error) {
	t := bus.DefaultTiming
	if c.Timing == nil {
		return t, nil
	}
	for _, d := range []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"setup", &t.Setup, c.Timing.Setup},
		{"strobe", &t.Strobe, c.Timing.Strobe},
		{"hold", &t.Hold, c.Timing.Hold},
	} {
		if d.src == nil || *d.src == "" {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return t, fmt.Errorf("invalid timing.%s %q: %w", d.name, *d.src, err)
		}
		*d.dst = v
	}
	return t, nil
}

// GetRXCapacity returns the RX buffer capacity or the default.
func (c *Config) GetRXCapacity() int {
	if c.RXCapacity == nil {
		return queue.DefaultCapacity
	}
	return *c.RXCapacity
}

// GetTXCapacity returns the TX buffer capacity or the default.
func (c *Config) GetTXCapacity() int {
	if c.TXCapacity == nil {
		return queue.DefaultCapacity
	}
	return *c.TXCapacity
}

// SerialPath returns the serial device path, or "" when none is set.
func (c *Config) SerialPath() string {
	if c.Serial == nil {
		return ""
	}
	return c.Serial.Path
}

// SerialOptions returns normalized serial line settings.
func (c *Config) SerialOptions() (serialport.Options, error) {
	var opts serialport.Options
	if s := c.Serial; s != nil {
		opts = serialport.Options{
			BaudRate: s.BaudRate,
			DataBits: s.DataBits,
			StopBits: s.StopBits,
			Parity:   s.Parity,
		}
		if s.ReadTimeout != "" {
			d, err := time.ParseDuration(s.ReadTimeout)
			if err != nil {
				return opts, fmt.Errorf("invalid serial.read_timeout %q: %w", s.ReadTimeout, err)
			}
			opts.ReadTimeout = d
		}
	}
	return opts.Normalize()
}

// Level returns the configured log level, warn by default.
func (c *Config) Level() (slog.Level, error) {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return slog.LevelWarn, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(*c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid log_level %q: %w", *c.LogLevel, pkg.ErrInvalidParameter)
	}
	return l, nil
}

// Format returns the configured log format.
func (c *Config) Format() (pkg.LogFormat, error) {
	if c.LogFormat == nil {
		return pkg.LogFormatText, nil
	}
	return pkg.ParseLogFormat(*c.LogFormat)
}

// HasLogFormat reports whether the file chose a log format, which then
// overrides terminal detection.
func (c *Config) HasLogFormat() bool {
	return c.LogFormat != nil && *c.LogFormat != ""
}

// GetCapturePath returns the pcap output path or "".
func (c *Config) GetCapturePath() string {
	return deref(c.CapturePath)
}

// GetTracePath returns the trace database path or "".
func (c *Config) GetTracePath() string {
	return deref(c.TracePath)
}

// GetGPIOChip returns the GPIO character device, gpiochip0 by default.
func (c *Config) GetGPIOChip() string {
	if c.GPIOChip == nil || *c.GPIOChip == "" {
		return "gpiochip0"
	}
	return *c.GPIOChip
}

// GetScript returns the Lua cartridge script path or "".
func (c *Config) GetScript() string {
	return deref(c.Script)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
