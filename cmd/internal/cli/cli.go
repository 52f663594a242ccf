// Package cli holds the setup shared by the bridge commands: configuration,
// logging, and running an engine behind a transport with optional capture
// and tracing.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/ardnew/partner64/bridge"
	"github.com/ardnew/partner64/capture"
	"github.com/ardnew/partner64/config"
	"github.com/ardnew/partner64/pkg"
	"github.com/ardnew/partner64/queue"
	"github.com/ardnew/partner64/trace"
	"github.com/ardnew/partner64/transport"
)

const component = pkg.ComponentCommand

// LoadConfig reads path, or returns an empty configuration when path is "".
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Empty(), nil
	}
	return config.Load(path)
}

// SetupLogging applies the configured level and format. verbose forces
// debug logging. format is "auto", "text" or "json"; auto defers to the
// configuration file, then picks text for a terminal and JSON otherwise.
func SetupLogging(cfg *config.Config, verbose bool, format string) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}
	pkg.SetLogLevel(level)

	var f pkg.LogFormat
	switch {
	case format != "" && format != "auto":
		f, err = pkg.ParseLogFormat(format)
	case cfg.HasLogFormat():
		f, err = cfg.Format()
	case term.IsTerminal(int(os.Stderr.Fd())):
		f = pkg.LogFormatText
	default:
		f = pkg.LogFormatJSON
	}
	if err != nil {
		return err
	}
	pkg.SetLogFormat(f)
	return nil
}

// Transport is a link that feeds an engine.
type Transport interface {
	Run(ctx context.Context) error
	SetTap(t transport.Tap)
}

// Session is an engine with its optional capture and trace outputs.
type Session struct {
	Engine *bridge.Engine

	capture  *capture.Writer
	store    *trace.Store
	recorder *trace.Recorder
}

// NewSession builds an engine over b with the configured buffer sizes and
// opens the configured capture and trace outputs. name labels the trace
// session.
func NewSession(b bridge.Bus, cfg *config.Config, name string) (*Session, error) {
	engine, err := bridge.New(b, queue.New(cfg.GetRXCapacity()), queue.New(cfg.GetTXCapacity()))
	if err != nil {
		return nil, err
	}
	s := &Session{Engine: engine}

	if path := cfg.GetCapturePath(); path != "" {
		if s.capture, err = capture.Create(path); err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
	}
	if path := cfg.GetTracePath(); path != "" {
		if s.store, err = trace.Open(path); err != nil {
			s.Close()
			return nil, fmt.Errorf("open trace: %w", err)
		}
		if s.recorder, err = trace.NewRecorder(s.store, name, "", trace.DefaultBacklog); err != nil {
			s.Close()
			return nil, err
		}
		engine.SetObserver(s.recorder.Observe)
	}
	return s, nil
}

// Serve runs the engine, the transport and the trace recorder until ctx is
// done or one of them fails. Cancellation is not reported as an error.
func (s *Session) Serve(ctx context.Context, t Transport) error {
	if s.capture != nil {
		t.SetTap(s.capture.Tap)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Engine.Run(gctx) })
	g.Go(func() error { return t.Run(gctx) })
	if s.recorder != nil {
		// The recorder outlives the engine so it can drain the last records.
		rctx, stop := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan error, 1)
		go func() { done <- s.recorder.Run(rctx) }()
		defer func() {
			stop()
			if err := <-done; err != nil {
				pkg.LogWarn(component, "trace close failed", "error", err)
			}
		}()
	}

	err := g.Wait()
	stats := s.Engine.Stats()
	pkg.LogInfo(component, "session ended",
		"commands", stats.Commands,
		"bitsOut", stats.BitsOut,
		"bitsIn", stats.BitsIn,
		"cycles", stats.Cycles,
		"resets", stats.Resets)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close flushes and closes the capture and trace outputs.
func (s *Session) Close() error {
	var errs []error
	if s.capture != nil {
		errs = append(errs, s.capture.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
