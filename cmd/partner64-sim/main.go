// Command partner64-sim runs the bridge against a simulated cartridge.
//
// The host side is either a fifo HAL bus directory, which a host process
// attaches to with hal/fifo.Dial, or a serial device carrying the raw
// command and response streams.
//
// Usage:
//
//	partner64-sim [options] <bus-dir>
//	partner64-sim [options] -serial /dev/ttyUSB0
//	partner64-sim -dump session.pcap
//
// Options:
//
//	-config path    JSON configuration file
//	-script path    Lua cartridge (default: loopback cartridge)
//	-serial path    serve over a serial device instead of the fifo HAL
//	-pcap path      capture transfers in usbmon pcap format
//	-trace path     record executed operations to a SQLite database
//	-dump path      print the events of a capture and exit
//	-list           list serial ports and exit
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
	"github.com/ardnew/partner64/bus/script"
	"github.com/ardnew/partner64/bus/sim"
	"github.com/ardnew/partner64/capture"
	"github.com/ardnew/partner64/cmd/internal/cli"
	"github.com/ardnew/partner64/config"
	"github.com/ardnew/partner64/hal/fifo"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/transport"
	"github.com/ardnew/partner64/transport/serialport"
)

const component = pkg.ComponentCommand

func main() {
	configPath := flag.String("config", "", "JSON configuration file")
	scriptPath := flag.String("script", "", "Lua cartridge script")
	serialPath := flag.String("serial", "", "serve over a serial device")
	pcapPath := flag.String("pcap", "", "capture transfers to a pcap file")
	tracePath := flag.String("trace", "", "record operations to a SQLite database")
	dumpPath := flag.String("dump", "", "print a capture and exit")
	list := flag.Bool("list", false, "list serial ports and exit")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	logFormat := flag.String("log", "auto", "log format: auto, text or json")
	flag.Parse()

	if *dumpPath != "" {
		if err := dump(*dumpPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if *list {
		ports, err := serialport.Ports()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cli.SetupLogging(cfg, *verbose, *logFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	override(cfg, *scriptPath, *serialPath, *pcapPath, *tracePath)

	if cfg.SerialPath() == "" && flag.NArg() < 1 {
		pkg.LogError(component, "missing bus directory argument",
			"usage", "partner64-sim [options] <bus-dir>")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, flag.Arg(0)); err != nil {
		pkg.LogError(component, "bridge failed", "error", err)
		os.Exit(1)
	}
}

// override applies command-line settings on top of the configuration file.
func override(cfg *config.Config, scriptPath, serialPath, pcapPath, tracePath string) {
	if scriptPath != "" {
		cfg.Script = &scriptPath
	}
	if serialPath != "" {
		if cfg.Serial == nil {
			cfg.Serial = &config.SerialConfig{}
		}
		cfg.Serial.Path = serialPath
	}
	if pcapPath != "" {
		cfg.CapturePath = &pcapPath
	}
	if tracePath != "" {
		cfg.TracePath = &tracePath
	}
}

func run(ctx context.Context, cfg *config.Config, busDir string) error {
	pins, err := cfg.PinMap()
	if err != nil {
		return err
	}
	timing, err := cfg.BusTiming()
	if err != nil {
		return err
	}

	var port *sim.Port
	if path := cfg.GetScript(); path != "" {
		cart, err := script.LoadFile(path)
		if err != nil {
			return err
		}
		defer cart.Close()
		port = script.New(pins, cart)
		pkg.LogInfo(component, "scripted cartridge loaded", "script", path)
	} else {
		port, _ = sim.New(pins)
	}
	port.SetRecording(false)

	drv, err := bus.NewDriver(port, pins, timing, port.Clock())
	if err != nil {
		return err
	}
	drv.Init()

	name := "fifo"
	if cfg.SerialPath() != "" {
		name = "serial"
	}
	session, err := cli.NewSession(drv, cfg, name)
	if err != nil {
		return err
	}
	defer session.Close()

	if path := cfg.SerialPath(); path != "" {
		opts, err := cfg.SerialOptions()
		if err != nil {
			return err
		}
		link, err := serialport.Open(path, opts)
		if err != nil {
			return err
		}
		pkg.LogInfo(component, "serving serial link", "path", path, "baud", opts.BaudRate)
		return session.Serve(ctx, transport.NewStream(link, session.Engine))
	}

	dev := fifo.New(busDir)
	pkg.LogInfo(component, "serving fifo HAL", "busDir", busDir)
	return session.Serve(ctx, transport.NewUSB(dev, session.Engine))
}

func dump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	events, err := capture.ReadEvents(f)
	for _, ev := range events {
		fmt.Printf("%s %d %s\n", ev.Time.Format("15:04:05.000000"), ev.ID, ev)
	}
	return err
}
