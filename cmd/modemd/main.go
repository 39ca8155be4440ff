// Command modemd is the modem broker daemon: it constructs the managed
// modems from the configuration, runs their initialization and enable
// ladders and coordinates host sleep.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/linux-mobile-broadband/modemd/config"
	"github.com/linux-mobile-broadband/modemd/logging"
	"github.com/linux-mobile-broadband/modemd/modem"
	"github.com/linux-mobile-broadband/modemd/registry"
	"github.com/linux-mobile-broadband/modemd/sleepmon"
)

const version = "0.3.0"

type options struct {
	Config  string `short:"c" long:"config" description:"Configuration file" default:"/etc/modemd/modemd.yaml"`
	Debug   bool   `short:"d" long:"debug" description:"Force debug logging"`
	Version bool   `short:"V" long:"version" description:"Print version and exit"`
}

// noopInhibitor stands in for the host sleep subsystem binding, which
// lives outside the broker.
type noopInhibitor struct{}

func (noopInhibitor) Acquire(reason string) error { return nil }
func (noopInhibitor) Release()                    {}

func portKind(kind string) modem.PortKind {
	switch kind {
	case "primary-at":
		return modem.PortPrimaryAT
	case "secondary-at":
		return modem.PortSecondaryAT
	case "qmi-control":
		return modem.PortQMIControl
	case "network-data":
		return modem.PortNetworkData
	default:
		return modem.PortIgnored
	}
}

func run() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}
	if opts.Version {
		fmt.Println("modemd", version)
		return nil
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	if opts.Debug {
		cfg.Log.Level = "debug"
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	log.Info().Str("version", version).Msg("modemd starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(log)
	monitor, err := sleepmon.NewMonitor(noopInhibitor{}, reg,
		time.Duration(cfg.QuiesceTimeoutSec)*time.Second, log)
	if err != nil {
		return err
	}
	defer monitor.Close()

	for i, mc := range cfg.Modems {
		ports := make([]modem.PortConfig, 0, len(mc.Ports))
		for _, p := range mc.Ports {
			ports = append(ports, modem.PortConfig{
				Name:   p.Name,
				Device: p.Device,
				Kind:   portKind(p.Kind),
				Baud:   p.Baud,
			})
		}
		m := modem.New(i, modem.Config{
			Name:       mc.Name,
			Ports:      ports,
			VendorID:   mc.VendorID,
			ProductID:  mc.ProductID,
			Driver:     mc.Driver,
			NoReset:    mc.NoReset,
			MaxBearers: mc.MaxBearers,
			SignalRate: cfg.SignalRate,
			Logger:     log,
		})
		path := reg.AddModem(m)

		go func(m *modem.Modem, name string) {
			if err := m.Initialize(ctx); err != nil {
				log.Error().Err(err).Str("modem", name).Msg("initialization failed")
				return
			}
			if err := m.Enable(ctx); err != nil {
				log.Error().Err(err).Str("modem", name).Msg("enable failed")
			}
		}(m, mc.Name)
		log.Info().Str("modem", mc.Name).Str("path", path).Msg("modem configured")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, m := range reg.Modems() {
		m.Teardown(shutdownCtx)
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "modemd:", err)
		os.Exit(1)
	}
}
