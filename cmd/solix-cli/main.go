package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solix-monitor/solix-monitor-pro/internal/session"
	"github.com/solix-monitor/solix-monitor-pro/internal/transport/bluetooth"
	"github.com/solix-monitor/solix-monitor-pro/pkg/solix"
)

// solix-cli scans for a Solix device, connects and streams telemetry as one
// JSON document per line on stdout.
func main() {
	var (
		address     string
		scanTimeout time.Duration
		debug       bool
	)
	flag.StringVar(&address, "address", "", "Device address (default: first device found)")
	flag.DurationVar(&scanTimeout, "scan-timeout", 30*time.Second, "Scan timeout")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := bluetooth.NewAdapter()

	fmt.Fprintln(os.Stderr, "Scanning for devices...")
	peripherals, err := adapter.Scan(ctx, solix.UUIDIdentifier, scanTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Scan failed")
	}
	if len(peripherals) == 0 {
		log.Fatal().Msg("No Solix devices found")
	}

	peripheral := peripherals[0]
	if address != "" {
		found := false
		for _, p := range peripherals {
			if p.Address == address {
				peripheral, found = p, true
				break
			}
		}
		if !found {
			log.Fatal().Str("address", address).Msg("Device not found in scan")
		}
	}

	fmt.Fprintf(os.Stderr, "Connecting to %s (%s)...\n", peripheral.Name, peripheral.Address)

	sess := session.New(peripheral, adapter, session.Config{})
	if !sess.Connect(ctx, 0, false) {
		log.Fatal().Str("address", peripheral.Address).Msg("Connect failed")
	}
	defer sess.Disconnect()

	enc := json.NewEncoder(os.Stdout)

	// The session fires the callback on every state update; only print when
	// a newer frame actually arrived.
	var mu sync.Mutex
	var lastPrinted time.Time
	sess.AddCallback(func() {
		snap := sess.Snapshot()
		if snap == nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if !snap.CapturedAt.After(lastPrinted) {
			return
		}
		lastPrinted = snap.CapturedAt

		if err := enc.Encode(snap); err != nil {
			log.Error().Err(err).Msg("Failed to encode telemetry")
		}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(os.Stderr, "Disconnecting...")
}
