//go:build linux

// Command partner64-gpio runs the bridge on a Linux board, driving the
// cartridge bus through the GPIO character device and talking to the host
// over a serial link.
//
// Usage:
//
//	partner64-gpio [options] -serial /dev/ttyGS0
//
// Options:
//
//	-config path    JSON configuration file
//	-chip name      GPIO chip (default from config, else gpiochip0)
//	-base n         chip offset of bus pin 0 (default 0)
//	-serial path    serial device carrying the command stream
//	-pcap path      capture transfers in usbmon pcap format
//	-trace path     record executed operations to a SQLite database
//	-v              enable verbose (debug) logging
//	-log format     auto, text or json (default auto)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardnew/partner64/bus"
	"github.com/ardnew/partner64/bus/cdev"
	"github.com/ardnew/partner64/cmd/internal/cli"
	"github.com/ardnew/partner64/config"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/transport"
	"github.com/ardnew/partner64/transport/serialport"
)

const component = pkg.ComponentCommand

func main() {
	configPath := flag.String("config", "", "JSON configuration file")
	chip := flag.String("chip", "", "GPIO chip")
	base := flag.Int("base", 0, "chip offset of bus pin 0")
	serialPath := flag.String("serial", "", "serial device carrying the command stream")
	pcapPath := flag.String("pcap", "", "capture transfers to a pcap file")
	tracePath := flag.String("trace", "", "record operations to a SQLite database")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	logFormat := flag.String("log", "auto", "log format: auto, text or json")
	flag.Parse()

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cli.SetupLogging(cfg, *verbose, *logFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *chip != "" {
		cfg.GPIOChip = chip
	}
	if *serialPath != "" {
		if cfg.Serial == nil {
			cfg.Serial = &config.SerialConfig{}
		}
		cfg.Serial.Path = *serialPath
	}
	if *pcapPath != "" {
		cfg.CapturePath = pcapPath
	}
	if *tracePath != "" {
		cfg.TracePath = tracePath
	}
	if cfg.SerialPath() == "" {
		pkg.LogError(component, "missing serial device",
			"usage", "partner64-gpio [options] -serial <device>")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *base); err != nil {
		pkg.LogError(component, "bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, base int) error {
	pins, err := cfg.PinMap()
	if err != nil {
		return err
	}
	timing, err := cfg.BusTiming()
	if err != nil {
		return err
	}

	port, err := cdev.Open(cfg.GetGPIOChip(), pins, base)
	if err != nil {
		return err
	}
	defer port.Close()

	drv, err := bus.NewDriver(port, pins, timing, &bus.BusyTimer{})
	if err != nil {
		return err
	}
	drv.Init()
	if err := port.Err(); err != nil {
		return err
	}

	session, err := cli.NewSession(drv, cfg, "gpio")
	if err != nil {
		return err
	}
	defer session.Close()

	opts, err := cfg.SerialOptions()
	if err != nil {
		return err
	}
	link, err := serialport.Open(cfg.SerialPath(), opts)
	if err != nil {
		return err
	}
	pkg.LogInfo(component, "serving",
		"chip", cfg.GetGPIOChip(),
		"serial", cfg.SerialPath(),
		"baud", opts.BaudRate)
	return session.Serve(ctx, transport.NewStream(link, session.Engine))
}
