package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/queue"
	"github.com/ardnew/partner64/transport/serialport"
)

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	pins, err := cfg.PinMap()
	if err != nil || pins != bus.DefaultPinMap {
		t.Errorf("PinMap() = %+v, %v; want defaults", pins, err)
	}
	timing, err := cfg.BusTiming()
	if err != nil || timing != bus.DefaultTiming {
		t.Errorf("BusTiming() = %+v, %v; want defaults", timing, err)
	}
	if got := cfg.GetRXCapacity(); got != queue.DefaultCapacity {
		t.Errorf("GetRXCapacity() = %d, want %d", got, queue.DefaultCapacity)
	}
	if got := cfg.GetTXCapacity(); got != queue.DefaultCapacity {
		t.Errorf("GetTXCapacity() = %d, want %d", got, queue.DefaultCapacity)
	}
	opts, err := cfg.SerialOptions()
	if err != nil || opts.BaudRate != serialport.DefaultBaudRate || opts.Parity != "N" {
		t.Errorf("SerialOptions() = %+v, %v", opts, err)
	}
	if level, _ := cfg.Level(); level != slog.LevelWarn {
		t.Errorf("Level() = %v, want WARN", level)
	}
	if cfg.HasLogFormat() {
		t.Error("HasLogFormat() = true for empty config")
	}
	if got := cfg.GetGPIOChip(); got != "gpiochip0" {
		t.Errorf("GetGPIOChip() = %q", got)
	}
	if cfg.GetCapturePath() != "" || cfg.GetTracePath() != "" || cfg.GetScript() != "" || cfg.SerialPath() != "" {
		t.Error("optional paths should be empty")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.json")
	testJSON := `{
  "pins": {
    "clock": 24,
    "controls": [
      {"pin": 18}, {"pin": 19},
      {"pin": 20, "active_low": true}, {"pin": 21, "active_low": true},
      {"pin": 25, "active_low": true}, {"pin": 26, "active_low": true}
    ]
  },
  "timing": {"setup": "2us", "hold": "500ns"},
  "serial": {"path": "/dev/ttyACM0", "baud_rate": 921600, "parity": "even", "read_timeout": "50ms"},
  "rx_capacity": 8192,
  "log_level": "debug",
  "log_format": "json",
  "capture_path": "session.pcap",
  "trace_path": "trace.db",
  "gpio_chip": "gpiochip4",
  "script": "cart.lua"
}`
	if err := os.WriteFile(path, []byte(testJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	pins, err := cfg.PinMap()
	if err != nil {
		t.Fatal(err)
	}
	if pins.Clock != 24 {
		t.Errorf("Clock = %d, want 24", pins.Clock)
	}
	if pins.Controls[4].Pin != 25 || !pins.Controls[4].ActiveLow {
		t.Errorf("RESET = %+v", pins.Controls[4])
	}
	if pins.Addr != bus.DefaultPinMap.Addr {
		t.Error("unset address pins should keep defaults")
	}

	timing, err := cfg.BusTiming()
	if err != nil {
		t.Fatal(err)
	}
	want := bus.Timing{Setup: 2 * time.Microsecond, Strobe: bus.DefaultTiming.Strobe, Hold: 500 * time.Nanosecond}
	if timing != want {
		t.Errorf("BusTiming() = %+v, want %+v", timing, want)
	}

	opts, err := cfg.SerialOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.BaudRate != 921600 || opts.Parity != "E" || opts.ReadTimeout != 50*time.Millisecond {
		t.Errorf("SerialOptions() = %+v", opts)
	}
	if cfg.SerialPath() != "/dev/ttyACM0" {
		t.Errorf("SerialPath() = %q", cfg.SerialPath())
	}

	if got := cfg.GetRXCapacity(); got != 8192 {
		t.Errorf("GetRXCapacity() = %d", got)
	}
	if got := cfg.GetTXCapacity(); got != queue.DefaultCapacity {
		t.Errorf("GetTXCapacity() = %d", got)
	}
	if level, _ := cfg.Level(); level != slog.LevelDebug {
		t.Errorf("Level() = %v", level)
	}
	if f, _ := cfg.Format(); f != pkg.LogFormatJSON || !cfg.HasLogFormat() {
		t.Errorf("Format() = %v", f)
	}
	if cfg.GetCapturePath() != "session.pcap" || cfg.GetTracePath() != "trace.db" {
		t.Error("output paths not loaded")
	}
	if cfg.GetGPIOChip() != "gpiochip4" || cfg.GetScript() != "cart.lua" {
		t.Error("backend settings not loaded")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "bridge.yaml")); err == nil {
		t.Error("non-JSON extension accepted")
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file accepted")
	}

	big := filepath.Join(dir, "big.json")
	if err := os.WriteFile(big, []byte(`{"script":"`+strings.Repeat("x", maxFileSize)+`"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(big); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("oversized file: got %v", err)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"pins":`},
		{"unknown field", `{"baud": 9600}`},
		{"pin out of range", `{"pins": {"clock": 32}}`},
		{"negative pin", `{"pins": {"dir": -1}}`},
		{"short address group", `{"pins": {"addr": [0, 1, 2]}}`},
		{"duplicate pin", `{"pins": {"clock": 16}}`},
		{"too few controls", `{"pins": {"controls": [{"pin": 18}]}}`},
		{"bad duration", `{"timing": {"setup": "fast"}}`},
		{"zero duration", `{"timing": {"strobe": "0s"}}`},
		{"duration too long", `{"timing": {"hold": "2ms"}}`},
		{"small queue", `{"tx_capacity": 16}`},
		{"bad parity", `{"serial": {"parity": "mark"}}`},
		{"bad stop bits", `{"serial": {"stop_bits": 3}}`},
		{"bad read timeout", `{"serial": {"read_timeout": "soon"}}`},
		{"bad log level", `{"log_level": "loud"}`},
		{"bad log format", `{"log_format": "xml"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.json)); err == nil {
				t.Errorf("Parse(%s) succeeded, want error", tt.json)
			}
		})
	}
}

func TestParseSerialDataSharesDataPin(t *testing.T) {
	cfg, err := Parse([]byte(`{"pins": {"serial_data": 15}}`))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	pins, _ := cfg.PinMap()
	if pins.SerialData != 15 {
		t.Errorf("SerialData = %d, want 15", pins.SerialData)
	}
}
