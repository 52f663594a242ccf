// Package serialport opens serial links for the stream transport.
package serialport

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/ardnew/partner64/pkg"
)

// DefaultBaudRate suits a USB CDC link, where the rate is nominal.
const DefaultBaudRate = 115200

// DefaultReadTimeout bounds a blocked read so the transport can notice
// cancellation.
const DefaultReadTimeout = 100 * time.Millisecond

// Options describes the serial line settings.
type Options struct {
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Normalize validates the options and fills in defaults for unset fields.
func (o Options) Normalize() (Options, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("data bits %d not in 5..8: %w", opts.DataBits, pkg.ErrInvalidParameter)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("stop bits %d not 1 or 2: %w", opts.StopBits, pkg.ErrInvalidParameter)
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	switch strings.ToUpper(strings.TrimSpace(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("parity %q not N, E or O: %w", opts.Parity, pkg.ErrInvalidParameter)
	}
	return opts, nil
}

// Mode converts the options to a serial.Mode.
func (o Options) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Open opens the port at path with a bounded read timeout.
func Open(path string, opts Options) (serial.Port, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	port.ResetInputBuffer()

	pkg.LogInfo(pkg.ComponentTransport, "serial port opened",
		"path", path, "baud", opts.BaudRate, "parity", opts.Parity)
	return port, nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
