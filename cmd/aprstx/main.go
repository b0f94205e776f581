// Command aprstx is an APRS packet-radio-to-Internet gateway: it bridges
// one or more KISS/TNC2 serial TNCs, the APRS-IS network, a digipeater,
// a telemetry beacon, a message responder, and a smart-beaconing GPS
// tracker around a single dedup/filter router.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/aprsis"
	"github.com/n0call/aprstx/internal/beacon"
	"github.com/n0call/aprstx/internal/config"
	"github.com/n0call/aprstx/internal/digipeater"
	"github.com/n0call/aprstx/internal/filter"
	"github.com/n0call/aprstx/internal/gpstracker"
	"github.com/n0call/aprstx/internal/message"
	"github.com/n0call/aprstx/internal/router"
	"github.com/n0call/aprstx/internal/serial"
	"github.com/n0call/aprstx/internal/telemetry"
)

func main() {
	var configFile = pflag.StringP("config", "c", "aprstx.conf", "Configuration file path.")
	var debug = pflag.BoolP("debug", "d", false, "Enable debug-level logging.")
	var foreground = pflag.BoolP("foreground", "f", false, "Run in the foreground instead of detaching. Currently the only supported mode.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - an APRS packet-radio-to-Internet gateway daemon.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nUsage: aprstx [options]\n\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	_ = foreground // no daemonizing mode implemented; flag kept for CLI compatibility.

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	if err := run(*configFile, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configFile string, logger *log.Logger) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	f, err := filter.New(cfg.Filters)
	if err != nil {
		return fmt.Errorf("building filters: %w", err)
	}

	rtr, channels := router.New(cfg, f, logger.WithPrefix("router"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error("component stopped with error", "component", name, "error", err)
			}
		}()
	}

	spawn("router", func() error { return rtr.Run(ctx) })

	for _, portCfg := range cfg.SerialPorts {
		portCfg := portCfg
		rfRx, rfCancel := channels.RFEgress.Subscribe()
		defer rfCancel()
		p := serial.New(portCfg, logger.WithPrefix("serial."+portCfg.Name))
		spawn("serial."+portCfg.Name, func() error { return p.Run(ctx, rtr.Ingress, rfRx) })
	}

	if cfg.AprsIs != nil {
		isRx, isCancel := channels.ISEgress.Subscribe()
		defer isCancel()
		client := aprsis.New(*cfg.AprsIs, logger.WithPrefix("aprsis"))
		spawn("aprsis", func() error { return client.Run(ctx, rtr.Ingress, isRx) })
	}

	if cfg.Digipeater.Enabled {
		digi := digipeater.New(cfg.Digipeater, logger.WithPrefix("digipeater"))
		spawn("digipeater", func() error { return digi.Run(ctx, channels.DigipeaterFeed, rtr.Ingress) })
	}

	if cfg.Telemetry.Enabled {
		telemetryCfg := telemetry.Config{Interval: cfg.Telemetry.Interval, Comment: cfg.Telemetry.Comment}
		sender := func(p aprs.Packet) {
			select {
			case rtr.Ingress <- router.RoutedPacket{Packet: p, Source: router.Internal}:
			case <-ctx.Done():
			}
		}
		spawn("telemetry", func() error {
			return telemetry.Run(ctx, telemetryCfg, cfg.MyCall, sender, logger.WithPrefix("telemetry"))
		})
	}

	msgHandler := message.New(cfg.MyCall, logger.WithPrefix("message"))
	spawn("message", func() error { return msgHandler.Run(ctx, channels.MessageFeed, rtr.Ingress) })

	var gps *gpstracker.Tracker
	if cfg.Gps != nil {
		gps = gpstracker.New(cfg.Gps, logger.WithPrefix("gps"))
		spawn("gps", func() error { return gps.Run(ctx) })
	}

	if cfg.Beacon != nil && cfg.Beacon.Enabled && gps != nil {
		b := beacon.New(*cfg.Beacon, gps, logger.WithPrefix("beacon"))
		spawn("beacon", func() error { return b.Run(ctx, rtr.Ingress) })
	}

	logger.Info("aprstx started", "mycall", cfg.MyCall)

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()

	return nil
}
