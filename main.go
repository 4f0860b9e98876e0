// SPDX-License-Identifier: MIT
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"specstream/cmd"
	"specstream/internal/audio"
	"specstream/internal/config"
	"specstream/internal/export"
	applog "specstream/internal/log"
	"specstream/internal/source"
	"specstream/internal/spectrogram"
	"specstream/internal/transport"
	"specstream/internal/transport/udp"
	"specstream/internal/tui"
	"specstream/pkg/build"

	"golang.org/x/sync/errgroup"
)

// main runs in three phases:
//
//  1. Startup: build metadata, command line and config, logging.
//  2. Run: the sample source, the engine worker and the outputs share one
//     errgroup. The first failure or a signal cancels the rest.
//  3. Shutdown: every component closes on context cancellation and main
//     flushes the log.
func main() {
	if err := run(); err != nil {
		applog.Errorf("%v", err)
		applog.Sync()
		os.Exit(1)
	}
	applog.Sync()
}

func run() error {
	if err := build.Initialize(); err != nil {
		if !errors.Is(err, build.ErrMissingFlag) {
			return err
		}
		applog.Debugf("Build: %v", err)
	}

	inv, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		return err
	}
	if inv == nil {
		return nil
	}

	if inv.Command == cmd.CommandVersion {
		fmt.Println(build.GetBuildFlags().String())
		return nil
	}

	cfg := inv.Config
	level, _ := applog.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch inv.Command {
	case cmd.CommandList:
		return audio.ListDevices(os.Stdout)
	case cmd.CommandExport:
		return runExport(ctx, cfg)
	default:
		return runServe(ctx, cfg, inv.TUI, inv.PickDevice)
	}
}

// startSource is replaced in tests.
var startSource = openSource

// openSource starts filling buf from the configured file, or from the live
// input when no file is set. The returned cleanup must run after g.Wait.
func openSource(ctx context.Context, g *errgroup.Group, cfg *config.Config, buf *source.Buffer, pick bool) (func(), error) {
	if cfg.Source.Input != "" {
		dec, err := source.Open(cfg.Source.Input)
		if err != nil {
			return nil, err
		}
		applog.Infof("Loader: reading %s", cfg.Source.Input)
		loader := source.NewLoader(dec, buf, source.LoaderOptions{
			ChunkSamples: cfg.Source.ChunkSamples,
			Throttle:     cfg.Source.Throttle,
		})
		g.Go(func() error { return loader.Run(ctx) })
		return func() {}, nil
	}

	if err := audio.Initialize(); err != nil {
		return nil, err
	}
	cleanup := func() {
		if err := audio.Terminate(); err != nil {
			applog.Warnf("Capture: terminating PortAudio: %v", err)
		}
	}

	if pick {
		devices, err := audio.HostDevices()
		if err != nil {
			cleanup()
			return nil, err
		}
		sel, err := tui.PickDevice(devices)
		if err != nil {
			cleanup()
			return nil, err
		}
		cfg.Audio.InputDevice = sel.DeviceID
		cfg.Audio.SampleRate = sel.SampleRate
	}

	capture, err := audio.NewCapture(cfg.Audio, cfg.Recording, buf)
	if err != nil {
		cleanup()
		return nil, err
	}
	g.Go(func() error { return capture.Run(ctx) })
	return cleanup, nil
}

func runServe(parent context.Context, cfg *config.Config, withTUI, pick bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// The status view owns the terminal; send log lines to a file instead.
	if withTUI {
		f, err := os.OpenFile("specstream.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		applog.SetOutput(f)
		defer applog.SetOutput(os.Stderr)
	}

	buf := source.NewBuffer(0)
	engine, err := spectrogram.New(buf, cfg.Spectrogram(), cfg.EngineOptions())
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	cleanup, err := startSource(ctx, g, cfg, buf, pick)
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	defer cleanup()

	g.Go(func() error { return engine.Run(ctx) })

	if addr := cfg.Transport.WSAddress; addr != "" {
		srv := transport.NewServer(addr, engine)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if cfg.Transport.UDPEnabled {
		var sender transport.Sender
		if cfg.Transport.UDPTargetAddress == "" {
			sender = transport.NewLoggingSender()
		} else {
			s, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
			if err != nil {
				cancel()
				_ = g.Wait()
				return err
			}
			sender = s
		}
		publisher, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender, engine)
		if err != nil {
			_ = sender.Close()
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return publisher.Run(ctx) })
	}

	if withTUI {
		g.Go(func() error {
			defer cancel()
			return tui.RunStatus(ctx, engine)
		})
	} else {
		fmt.Printf("%s serving; press Ctrl+C to stop.\n", build.GetBuildFlags().Name)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stats := engine.Stats()
	applog.Infof("Engine: stopped with %d columns computed, %d range timeouts, %d transform failures",
		stats.Computed.Len(), stats.RangeTimeouts, stats.TransformFailures)
	return err
}

func runExport(parent context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	f, err := os.Create(cfg.Export.Output)
	if err != nil {
		return err
	}
	defer f.Close()

	// Export wants every column as fast as possible.
	cfg.Source.Throttle = 0

	buf := source.NewBuffer(0)
	engine, err := spectrogram.New(buf, cfg.Spectrogram(), cfg.EngineOptions())
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	cleanup, err := startSource(ctx, g, cfg, buf, false)
	if err != nil {
		return err
	}
	defer cleanup()

	var written int
	g.Go(func() error {
		defer cancel()
		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Close()

		w := bufio.NewWriter(f)
		n, err := export.Run(ctx, engine, w, cfg.Export.Compression)
		if err != nil {
			return err
		}
		written = n
		return w.Flush()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := parent.Err(); err != nil {
		return fmt.Errorf("export interrupted after %d columns: %w", written, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	applog.Infof("Export: wrote %d columns to %s", written, cfg.Export.Output)
	return nil
}
