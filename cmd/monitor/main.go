package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solix-monitor/solix-monitor-pro/internal/api"
	"github.com/solix-monitor/solix-monitor-pro/internal/config"
	"github.com/solix-monitor/solix-monitor-pro/internal/integration"
	"github.com/solix-monitor/solix-monitor-pro/internal/logging"
	"github.com/solix-monitor/solix-monitor-pro/internal/session"
	"github.com/solix-monitor/solix-monitor-pro/internal/transformer"
	"github.com/solix-monitor/solix-monitor-pro/internal/transport"
	"github.com/solix-monitor/solix-monitor-pro/internal/transport/bluetooth"
	"github.com/solix-monitor/solix-monitor-pro/pkg/solix"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/monitor.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(cfg.Log)
	cfg.PrintConfigSummary()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Find and connect the device
	adapter := bluetooth.NewAdapter()
	peripheral, err := findDevice(ctx, adapter, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Device discovery failed")
	}

	sess := session.New(peripheral, adapter, cfg.Session.ToSession())

	if !sess.Connect(ctx, 0, false) {
		log.Warn().
			Str("address", peripheral.Address).
			Msg("Initial connect failed, device can be connected later via the API")
	}

	// Optional NATS connection
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Server.Name),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval.Std()),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	}

	// Optional payload transformer
	var tr *transformer.Transformer
	if cfg.Transform.Enabled {
		tr, err = transformer.NewFromFile(cfg.Transform.Script)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load transform script")
		}
		log.Info().Str("script", cfg.Transform.Script).Msg("Loaded transform script")
	}

	// Start the integration forwarder
	forwarder := integration.NewForwarder(cfg, sess, nc, tr)
	if err := forwarder.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start integration forwarder")
	}
	defer forwarder.Stop()

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, sess)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil {
			log.Error().Err(err).Msg("REST API server stopped")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()
	sess.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	wg.Wait()

	log.Info().Msg("Monitor stopped")
}

// findDevice scans for the configured device, or for the first Solix device
// when no address is configured.
func findDevice(ctx context.Context, scanner transport.Scanner, cfg *config.Config) (transport.Peripheral, error) {
	peripherals, err := scanner.Scan(ctx, solix.UUIDIdentifier, cfg.Device.ScanTimeout.Std())
	if err != nil {
		return transport.Peripheral{}, err
	}
	if len(peripherals) == 0 {
		return transport.Peripheral{}, fmt.Errorf("no Solix devices found within %s", cfg.Device.ScanTimeout)
	}

	if cfg.Device.Address == "" {
		log.Info().
			Str("address", peripherals[0].Address).
			Str("name", peripherals[0].Name).
			Msg("No device address configured, using first device found")
		return peripherals[0], nil
	}

	for _, p := range peripherals {
		if p.Address == cfg.Device.Address {
			return p, nil
		}
	}

	return transport.Peripheral{}, fmt.Errorf("device %s not found in scan", cfg.Device.Address)
}
