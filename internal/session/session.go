// Package session implements the persistent logical session with one Solix
// device: connect, capability probing, telemetry subscription, bounded
// automatic re-connection and observer notification.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/solix-monitor/solix-monitor-pro/internal/observer"
	"github.com/solix-monitor/solix-monitor-pro/internal/transport"
	"github.com/solix-monitor/solix-monitor-pro/pkg/solix"
)

// Defaults mirror the tested device behavior.
const (
	// DefaultConnectAttempts is the number of low-level link establishment
	// attempts per Connect call.
	DefaultConnectAttempts = 3

	// DefaultReconnectDelay is the time to wait before re-connecting on an
	// unexpected disconnect.
	DefaultReconnectDelay = 3 * time.Second

	// DefaultReconnectAttemptsMax is the maximum number of automatic
	// re-connection attempts.
	DefaultReconnectAttemptsMax = 5

	// DefaultDisconnectTimeout is the time to allow for a re-connect
	// before considering the device disconnected and notifying observers.
	DefaultDisconnectTimeout = 30 * time.Second

	// ReconnectUnlimited disables the automatic re-connect bound.
	ReconnectUnlimited = -1
)

// Config holds the session timing and retry parameters. The zero value
// selects the defaults above.
type Config struct {
	ConnectAttempts      int
	ReconnectDelay       time.Duration
	ReconnectAttemptsMax int
	DisconnectTimeout    time.Duration
}

func (c *Config) setDefaults() {
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ReconnectAttemptsMax == 0 {
		c.ReconnectAttemptsMax = DefaultReconnectAttemptsMax
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
}

// Session owns the connection lifecycle of a single device. All state
// mutation happens under one mutex; transport I/O is always performed with
// the mutex released, and the results are applied at the resumption points.
type Session struct {
	peripheral transport.Peripheral
	connector  transport.Connector
	cfg        Config
	observers  *observer.Registry

	mu                sync.Mutex
	link              transport.Link
	state             State
	supportsTelemetry bool
	expectDisconnect  bool
	attempts          int
	timedOut          bool
	snapshot          *solix.Snapshot
	cancelReconnect   context.CancelFunc
}

// New creates a session for the given peripheral. It does not connect.
func New(p transport.Peripheral, c transport.Connector, cfg Config) *Session {
	cfg.setDefaults()

	log.Debug().
		Str("name", p.Name).
		Str("address", p.Address).
		Msg("Initializing Solix device session")

	return &Session{
		peripheral: p,
		connector:  c,
		cfg:        cfg,
		observers:  observer.NewRegistry(),
		state:      StateDisconnected,
		// Until the first successful Connect any disconnect is expected.
		expectDisconnect: true,
	}
}

// AddCallback registers a callback to run on state updates. Triggers include
// changes to connectivity, availability and every telemetry value.
func (s *Session) AddCallback(cb observer.Callback) observer.Handle {
	return s.observers.Register(cb)
}

// RemoveCallback removes a registered state change callback. Returns
// observer.ErrNotFound if the handle was never registered.
func (s *Session) RemoveCallback(h observer.Handle) error {
	return s.observers.Unregister(h)
}

// Connect connects to the device, determines whether it supports telemetry
// and subscribes to status updates, returning true if fully successful.
//
// It is idempotent: when the session is already available it short-circuits
// to success without re-establishing or re-probing anything. maxAttempts
// bounds the low-level link establishment attempts inside this one call
// (<= 0 selects the configured default). On overall success the reconnect
// counter is reset and, if runCallbacks is set, all observers run once.
func (s *Session) Connect(ctx context.Context, maxAttempts int, runCallbacks bool) bool {
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.ConnectAttempts
	}

	if !s.Connected() {
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.state = StateConnecting
		s.mu.Unlock()

		log.Debug().
			Str("name", s.Name()).
			Str("address", s.peripheral.Address).
			Int("attempt", attempt).
			Msg("Connecting to device")

		link, err := s.connector.Connect(ctx, s.peripheral, maxAttempts, s.handleDisconnect)
		if err != nil {
			log.Error().
				Err(err).
				Str("name", s.Name()).
				Int("attempt", attempt).
				Msg("Error connecting to device")
		} else {
			s.mu.Lock()
			s.link = link
			s.mu.Unlock()
		}
	}

	if !s.Connected() {
		s.mu.Lock()
		if s.cfg.ReconnectAttemptsMax != ReconnectUnlimited && s.attempts >= s.cfg.ReconnectAttemptsMax {
			s.state = StateFailed
		} else {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return false
	}

	log.Debug().Str("name", s.Name()).Msg("Connected to device")

	if !s.Available() {
		if err := s.probeAndSubscribe(); err != nil {
			log.Error().Err(err).Str("name", s.Name()).Msg("Error subscribing to device")
			s.setState(StateConnected)
			return false
		}
	}

	if !s.Available() {
		// The link stays open, but without the telemetry characteristic
		// the session can never become available.
		s.setState(StateConnected)
		return false
	}

	s.mu.Lock()
	s.expectDisconnect = false
	s.attempts = 0
	s.state = StateAvailable
	s.mu.Unlock()

	if runCallbacks {
		s.observers.NotifyAll()
	}

	return true
}

// Disconnect severs the link and does not run callbacks. The expected
// disconnect flag is set before closing so the disconnect handler takes no
// automatic re-connect action.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.expectDisconnect = true
	s.supportsTelemetry = false
	if s.cancelReconnect != nil {
		s.cancelReconnect()
		s.cancelReconnect = nil
	}
	link := s.link
	s.link = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			log.Error().Err(err).Str("address", s.peripheral.Address).Msg("Error closing link")
		}
	}
}

// probeAndSubscribe queries the attribute set of the live link and, when the
// telemetry characteristic is present, subscribes to its notifications.
func (s *Session) probeAndSubscribe() error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()

	if link == nil {
		return errors.New("no link")
	}

	supported, err := link.HasAttribute(solix.UUIDTelemetry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.supportsTelemetry = supported
	s.mu.Unlock()

	if !supported {
		log.Warn().
			Str("name", s.Name()).
			Msg("Device does not support the telemetry characteristic")
		return nil
	}

	return link.Subscribe(solix.UUIDTelemetry, s.handleTelemetry)
}

// handleTelemetry feeds one raw notification payload through the decoder.
// Foreign traffic on the shared characteristic is expected and discarded at
// debug level; only a valid frame replaces the snapshot and fires observers.
func (s *Session) handleTelemetry(data []byte) {
	log.Debug().
		Str("name", s.Name()).
		Int("size", len(data)).
		Hex("frame", data).
		Msg("Received notification")

	snap, err := solix.DecodeFrame(data, time.Now())
	if err != nil {
		log.Debug().Err(err).Str("name", s.Name()).Msg("Discarding notification")
		return
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	s.observers.NotifyAll()
}

// handleDisconnect reacts to the transport's disconnect signal. Signals from
// a link other than the currently held one are late arrivals from a replaced
// link and are dropped without any state transition.
func (s *Session) handleDisconnect(link transport.Link) {
	s.mu.Lock()

	if link != s.link {
		s.mu.Unlock()
		log.Debug().Str("address", s.peripheral.Address).Msg("Ignoring disconnect from stale link")
		return
	}

	s.supportsTelemetry = false
	s.link = nil

	if s.expectDisconnect {
		s.state = StateDisconnected
		s.mu.Unlock()
		log.Info().Str("address", s.peripheral.Address).Msg("Received expected disconnect")
		return
	}

	log.Debug().Str("address", s.peripheral.Address).Msg("Unexpected disconnect")

	if s.cfg.ReconnectAttemptsMax == ReconnectUnlimited || s.attempts < s.cfg.ReconnectAttemptsMax {
		s.state = StateReconnecting
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DisconnectTimeout)
		s.cancelReconnect = cancel
		go s.reconnect(ctx, cancel)
	} else {
		// The bound does not self-reset; only a manual Connect call can
		// re-enable automatic re-connection.
		s.state = StateDisconnected
		log.Warn().
			Str("address", s.peripheral.Address).
			Int("attempts", s.attempts).
			Msg("Maximum re-connect attempts exceeded, auto re-connect disabled")
	}

	s.mu.Unlock()
}

// reconnect performs one automatic re-connect cycle under a single deadline.
// Success resets the counter (inside Connect); the deadline elapsing sets
// the sticky timed-out flag and notifies observers exactly once.
func (s *Session) reconnect(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	select {
	case <-time.After(s.cfg.ReconnectDelay):
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.finishTimedOut()
		}
		return
	}

	if s.Connect(ctx, s.cfg.ConnectAttempts, false) && s.Available() {
		log.Debug().Str("name", s.Name()).Msg("Successfully re-connected to device")
		s.observers.NotifyAll()
		return
	}

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.finishTimedOut()
		}
		return
	}

	// Re-connect failed before the deadline. No retry inside this cycle;
	// the attempt bound decides whether a later disconnect schedules a new
	// one.
	log.Error().Str("name", s.Name()).Msg("Failed to re-connect to device")
	s.observers.NotifyAll()
}

func (s *Session) finishTimedOut() {
	s.mu.Lock()
	s.timedOut = true
	s.state = StateDisconnected
	s.mu.Unlock()

	log.Error().Str("name", s.Name()).Msg("Timed out re-connecting to device")
	s.observers.NotifyAll()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
