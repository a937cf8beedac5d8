// Package integration forwards device state and telemetry to external
// systems over NATS, MQTT and HTTP webhooks.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/solix-monitor/solix-monitor-pro/internal/config"
	"github.com/solix-monitor/solix-monitor-pro/internal/observer"
	"github.com/solix-monitor/solix-monitor-pro/internal/session"
	"github.com/solix-monitor/solix-monitor-pro/internal/transformer"
)

// Forwarder observes one device session and publishes updates to the
// configured sinks. Telemetry is deduplicated by capture timestamp, state by
// value, so the one callback stream fans out into two event kinds.
type Forwarder struct {
	cfg  *config.Config
	sess *session.Session

	nc          *nats.Conn
	mqttClient  mqtt.Client
	httpClient  *http.Client
	transformer *transformer.Transformer

	mu            sync.Mutex
	lastPublished time.Time
	lastState     stateRecord
	handle        observer.Handle
	registered    bool
}

type stateRecord struct {
	state     session.State
	available bool
	timedOut  bool
}

// TelemetryEvent is the published telemetry document
type TelemetryEvent struct {
	Address      string          `json:"address"`
	Name         string          `json:"name"`
	BatteryPower float64         `json:"battery_power"`
	Telemetry    json.RawMessage `json:"telemetry"`
}

// StateEvent is the published connection state document
type StateEvent struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	Available bool      `json:"available"`
	TimedOut  bool      `json:"timed_out"`
	Time      time.Time `json:"time"`
}

// NewForwarder creates a forwarder. nc and tr may be nil when the matching
// sink is disabled.
func NewForwarder(cfg *config.Config, sess *session.Session, nc *nats.Conn, tr *transformer.Transformer) *Forwarder {
	return &Forwarder{
		cfg:         cfg,
		sess:        sess,
		nc:          nc,
		transformer: tr,
		httpClient: &http.Client{
			Timeout: cfg.HTTP.Timeout.Std(),
		},
	}
}

// Start connects the MQTT sink and registers the session observer.
func (f *Forwarder) Start() error {
	if f.cfg.MQTT.Enabled {
		client, err := f.createMQTTClient()
		if err != nil {
			return err
		}
		f.mqttClient = client
	}

	f.mu.Lock()
	f.lastState = f.currentState()
	f.mu.Unlock()

	f.handle = f.sess.AddCallback(f.handleUpdate)
	f.registered = true

	log.Info().Msg("Integration forwarder started")
	return nil
}

// Stop unregisters the observer and closes the sinks.
func (f *Forwarder) Stop() {
	if f.registered {
		if err := f.sess.RemoveCallback(f.handle); err != nil {
			log.Error().Err(err).Msg("Error removing forwarder callback")
		}
		f.registered = false
	}

	if f.mqttClient != nil {
		f.mqttClient.Disconnect(250)
	}
}

func (f *Forwarder) currentState() stateRecord {
	return stateRecord{
		state:     f.sess.State(),
		available: f.sess.Available(),
		timedOut:  f.sess.TimedOut(),
	}
}

// handleUpdate is the session observer callback. It decides which events the
// update carries and publishes them.
func (f *Forwarder) handleUpdate() {
	now := f.currentState()
	lastUpdate := f.sess.LastUpdate()

	f.mu.Lock()
	stateChanged := now != f.lastState
	telemetryNew := !lastUpdate.IsZero() && lastUpdate.After(f.lastPublished)
	f.lastState = now
	if telemetryNew {
		f.lastPublished = lastUpdate
	}
	f.mu.Unlock()

	if stateChanged {
		f.publishState(now)
	}
	if telemetryNew {
		f.publishTelemetry()
	}
}

func (f *Forwarder) publishState(now stateRecord) {
	event := StateEvent{
		Address:   f.sess.Address(),
		Name:      f.sess.Name(),
		State:     now.state.String(),
		Connected: f.sess.Connected(),
		Available: now.available,
		TimedOut:  now.timedOut,
		Time:      time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal state event")
		return
	}

	f.publish("state", data)
}

func (f *Forwarder) publishTelemetry() {
	snap := f.sess.Snapshot()
	if snap == nil {
		return
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal telemetry")
		return
	}

	event := TelemetryEvent{
		Address:      f.sess.Address(),
		Name:         f.sess.Name(),
		BatteryPower: snap.PowerBattery(),
		Telemetry:    raw,
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal telemetry event")
		return
	}

	if f.transformer != nil {
		transformed, err := f.transformer.Transform(data)
		if err != nil {
			log.Error().Err(err).Msg("Transform failed, publishing original payload")
		} else {
			data = transformed
		}
	}

	f.publish("telemetry", data)
}

// publish fans one event out to every enabled sink. Sinks are independent; a
// failing one never blocks the others.
func (f *Forwarder) publish(kind string, data []byte) {
	if f.cfg.NATS.Enabled && f.nc != nil {
		f.forwardToNATS(kind, data)
	}
	if f.cfg.MQTT.Enabled && f.mqttClient != nil {
		go f.forwardToMQTT(kind, data)
	}
	if f.cfg.HTTP.Enabled {
		go f.forwardToHTTP(kind, data)
	}
}

// forwardToNATS publishes to solix.<address>.<kind>. Colons are stripped
// from the address to keep the subject token clean.
func (f *Forwarder) forwardToNATS(kind string, data []byte) {
	subject := fmt.Sprintf("solix.%s.%s", subjectToken(f.sess.Address()), kind)

	if err := f.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish to NATS")
		return
	}

	log.Debug().Str("subject", subject).Msg("Event forwarded to NATS")
}

// forwardToMQTT publishes to <prefix>/<address>/<kind>.
func (f *Forwarder) forwardToMQTT(kind string, data []byte) {
	topic := fmt.Sprintf("%s/%s/%s", f.cfg.MQTT.TopicPrefix, subjectToken(f.sess.Address()), kind)

	token := f.mqttClient.Publish(topic, f.cfg.MQTT.QoS, false, data)
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Failed to publish to MQTT")
		} else {
			log.Debug().Str("topic", topic).Msg("Event forwarded to MQTT")
		}
	} else {
		log.Error().Str("topic", topic).Msg("MQTT publish timeout")
	}
}

// forwardToHTTP posts the event to the configured webhook.
func (f *Forwarder) forwardToHTTP(kind string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.HTTP.Timeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.HTTP.URL, bytes.NewReader(data))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Solix-Event", kind)
	for k, v := range f.cfg.HTTP.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", f.cfg.HTTP.URL).Msg("Failed to forward event to HTTP")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", f.cfg.HTTP.URL).
			Msg("HTTP forward failed")
	} else {
		log.Debug().
			Str("endpoint", f.cfg.HTTP.URL).
			Str("kind", kind).
			Msg("Event forwarded to HTTP")
	}
}

// createMQTTClient connects the MQTT sink.
func (f *Forwarder) createMQTTClient() (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(f.cfg.MQTT.Broker)
	opts.SetClientID(f.cfg.MQTT.ClientID)

	if f.cfg.MQTT.Username != "" {
		opts.SetUsername(f.cfg.MQTT.Username)
		opts.SetPassword(f.cfg.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("MQTT connect timeout: %s", f.cfg.MQTT.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect: %w", err)
	}

	return client, nil
}

func subjectToken(address string) string {
	return strings.ReplaceAll(address, ":", "")
}
