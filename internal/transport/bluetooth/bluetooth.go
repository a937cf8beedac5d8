// Package bluetooth adapts the system BLE stack to the transport interfaces.
// All GATT plumbing stays here; the session layer never sees a device handle.
package bluetooth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"github.com/solix-monitor/solix-monitor-pro/internal/transport"
)

// Adapter wraps the default system adapter. It implements transport.Scanner
// and transport.Connector. A device must be seen by Scan before it can be
// connected, because the stack's native address handle is only obtainable
// from a scan result.
type Adapter struct {
	adapter *bluetooth.Adapter

	mu      sync.Mutex
	enabled bool
	seen    map[string]bluetooth.Address
	links   map[string]*link
}

// NewAdapter returns an adapter over the default BLE stack. The stack itself
// is enabled lazily on first use.
func NewAdapter() *Adapter {
	return &Adapter{
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
		links:   make(map[string]*link),
	}
}

func (a *Adapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enabled {
		return nil
	}

	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enabling BLE stack: %w", err)
	}

	a.adapter.SetConnectHandler(a.handleConnectEvent)
	a.enabled = true
	return nil
}

// handleConnectEvent dispatches stack-level connect and disconnect events to
// the link they belong to. Events for unknown addresses are other traffic on
// the shared adapter and are ignored.
func (a *Adapter) handleConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}

	key := device.Address.String()

	a.mu.Lock()
	l := a.links[key]
	if l != nil {
		delete(a.links, key)
	}
	a.mu.Unlock()

	if l == nil {
		return
	}

	log.Debug().Str("address", key).Msg("BLE link dropped")
	l.markDisconnected()

	// Run the session's handler off the stack's event goroutine.
	go l.onDisconnect(l)
}

// Scan collects peripherals advertising serviceUUID until timeout or context
// cancellation. Results are deduplicated by address, and the native address
// handle of every result is cached for later Connect calls.
func (a *Adapter) Scan(ctx context.Context, serviceUUID string, timeout time.Duration) ([]transport.Peripheral, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	target, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("parsing service UUID %q: %w", serviceUUID, err)
	}

	log.Debug().Str("service", serviceUUID).Dur("timeout", timeout).Msg("Scanning for devices")

	var mu sync.Mutex
	found := make(map[string]transport.Peripheral)

	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			if err := a.adapter.StopScan(); err != nil {
				log.Error().Err(err).Msg("Error stopping BLE scan")
			}
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		case <-done:
		}
		stop()
	}()

	err = a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(target) {
			return
		}

		key := result.Address.String()

		a.mu.Lock()
		a.seen[key] = result.Address
		a.mu.Unlock()

		mu.Lock()
		if _, ok := found[key]; !ok {
			found[key] = transport.Peripheral{Address: key, Name: result.LocalName()}
			log.Debug().Str("address", key).Str("name", result.LocalName()).Msg("Found device")
		}
		mu.Unlock()
	})
	close(done)
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}

	peripherals := make([]transport.Peripheral, 0, len(found))
	mu.Lock()
	for _, p := range found {
		peripherals = append(peripherals, p)
	}
	mu.Unlock()

	return peripherals, nil
}

// Connect establishes a link to a previously scanned peripheral, retrying the
// stack-level connect up to maxAttempts times.
func (a *Adapter) Connect(ctx context.Context, p transport.Peripheral, maxAttempts int, onDisconnect transport.DisconnectHandler) (transport.Link, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	a.mu.Lock()
	addr, ok := a.seen[p.Address]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device %s not seen in any scan", p.Address)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			lastErr = err
			log.Debug().
				Err(err).
				Str("address", p.Address).
				Int("attempt", attempt).
				Msg("BLE connect attempt failed")
			continue
		}

		l := &link{
			adapter:      a,
			device:       device,
			addrKey:      p.Address,
			connected:    true,
			onDisconnect: onDisconnect,
		}

		a.mu.Lock()
		a.links[p.Address] = l
		a.mu.Unlock()

		return l, nil
	}

	return nil, fmt.Errorf("connecting to %s after %d attempts: %w", p.Address, maxAttempts, lastErr)
}

// link is one established BLE connection. Characteristic lookups are cached
// after the first full discovery.
type link struct {
	adapter      *Adapter
	device       bluetooth.Device
	addrKey      string
	onDisconnect transport.DisconnectHandler

	mu        sync.Mutex
	connected bool
	chars     map[string]bluetooth.DeviceCharacteristic
}

func (l *link) markDisconnected() {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
}

func (l *link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// discover enumerates all services and characteristics once and caches them
// keyed by canonical lowercase UUID.
func (l *link) discover() (map[string]bluetooth.DeviceCharacteristic, error) {
	l.mu.Lock()
	if l.chars != nil {
		chars := l.chars
		l.mu.Unlock()
		return chars, nil
	}
	l.mu.Unlock()

	services, err := l.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("discovering services: %w", err)
	}

	chars := make(map[string]bluetooth.DeviceCharacteristic)
	for _, svc := range services {
		cs, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discovering characteristics of %s: %w", svc.UUID().String(), err)
		}
		for _, c := range cs {
			chars[strings.ToLower(c.UUID().String())] = c
		}
	}

	log.Debug().Str("address", l.addrKey).Int("characteristics", len(chars)).Msg("Discovered GATT attributes")

	l.mu.Lock()
	l.chars = chars
	l.mu.Unlock()

	return chars, nil
}

func (l *link) HasAttribute(uuid string) (bool, error) {
	chars, err := l.discover()
	if err != nil {
		return false, err
	}
	_, ok := chars[strings.ToLower(uuid)]
	return ok, nil
}

func (l *link) Subscribe(uuid string, h transport.NotificationHandler) error {
	chars, err := l.discover()
	if err != nil {
		return err
	}

	c, ok := chars[strings.ToLower(uuid)]
	if !ok {
		return fmt.Errorf("characteristic %s not present", uuid)
	}

	if err := c.EnableNotifications(func(buf []byte) {
		h(buf)
	}); err != nil {
		return fmt.Errorf("enabling notifications on %s: %w", uuid, err)
	}

	return nil
}

func (l *link) Close() error {
	l.adapter.mu.Lock()
	delete(l.adapter.links, l.addrKey)
	l.adapter.mu.Unlock()

	l.markDisconnected()
	return l.device.Disconnect()
}
