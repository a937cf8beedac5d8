package integration

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solix-monitor/solix-monitor-pro/internal/config"
	"github.com/solix-monitor/solix-monitor-pro/internal/session"
	"github.com/solix-monitor/solix-monitor-pro/internal/transformer"
	"github.com/solix-monitor/solix-monitor-pro/internal/transport"
	"github.com/solix-monitor/solix-monitor-pro/pkg/solix"
)

type captureLink struct {
	handler transport.NotificationHandler
}

func (l *captureLink) Connected() bool { return true }

func (l *captureLink) HasAttribute(uuid string) (bool, error) {
	return uuid == solix.UUIDTelemetry, nil
}

func (l *captureLink) Subscribe(uuid string, h transport.NotificationHandler) error {
	l.handler = h
	return nil
}

func (l *captureLink) Close() error { return nil }

type captureConnector struct {
	link *captureLink
}

func (c *captureConnector) Connect(context.Context, transport.Peripheral, int, transport.DisconnectHandler) (transport.Link, error) {
	return c.link, nil
}

type received struct {
	kind string
	body []byte
}

func telemetryFrame(serial string, pct byte) []byte {
	f := make([]byte, solix.TelemetryFrameSize)
	f[8] = 0x05
	f[9] = 0x13
	copy(f[0x10:], serial)
	f[35] = pct
	binary.LittleEndian.PutUint16(f[77:], 1000)
	return f
}

func setupForwarder(t *testing.T, events chan received, tr *transformer.Transformer) (*Forwarder, *captureLink) {
	t.Helper()

	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		events <- received{kind: r.Header.Get("X-Solix-Event"), body: body}
	}))
	t.Cleanup(sink.Close)

	cfg := &config.Config{}
	cfg.HTTP = config.HTTPConfig{
		Enabled: true,
		URL:     sink.URL,
		Timeout: config.Duration(5 * time.Second),
	}

	link := &captureLink{}
	sess := session.New(
		transport.Peripheral{Address: "AA:BB:CC:DD:EE:FF", Name: "Solix"},
		&captureConnector{link: link},
		session.Config{},
	)

	f := NewForwarder(cfg, sess, nil, tr)
	require.NoError(t, f.Start())
	t.Cleanup(f.Stop)

	require.True(t, sess.Connect(context.Background(), 0, true))
	return f, link
}

func waitEvent(t *testing.T, events chan received) received {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
		return received{}
	}
}

func TestForwarderPublishesStateAndTelemetry(t *testing.T) {
	events := make(chan received, 8)
	_, link := setupForwarder(t, events, nil)

	// Connect with callbacks flips the state from disconnected to available.
	ev := waitEvent(t, events)
	assert.Equal(t, "state", ev.kind)

	var state StateEvent
	require.NoError(t, json.Unmarshal(ev.body, &state))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", state.Address)
	assert.Equal(t, "available", state.State)
	assert.True(t, state.Available)

	link.handler(telemetryFrame("A1B2C3", 87))

	ev = waitEvent(t, events)
	assert.Equal(t, "telemetry", ev.kind)

	var telem TelemetryEvent
	require.NoError(t, json.Unmarshal(ev.body, &telem))
	assert.Equal(t, "Solix", telem.Name)
	assert.InDelta(t, 100.0, telem.BatteryPower, 1e-9)

	var snap solix.Snapshot
	require.NoError(t, json.Unmarshal(telem.Telemetry, &snap))
	assert.Equal(t, "A1B2C3", snap.SerialNo)
	assert.Equal(t, 87, snap.BatteryPercent)
}

func TestForwarderDeduplicatesByCaptureTime(t *testing.T) {
	events := make(chan received, 8)
	f, link := setupForwarder(t, events, nil)

	assert.Equal(t, "state", waitEvent(t, events).kind)

	link.handler(telemetryFrame("A1B2C3", 87))
	assert.Equal(t, "telemetry", waitEvent(t, events).kind)

	// A callback without fresh telemetry or a state change publishes
	// nothing.
	f.handleUpdate()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %q", ev.kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestForwarderAppliesTransformer(t *testing.T) {
	tr, err := transformer.New(`
function transform(payload) {
	var doc = parseJSON(payload);
	return { device: doc.address, soc: doc.telemetry.battery_percent };
}
`)
	require.NoError(t, err)

	events := make(chan received, 8)
	_, link := setupForwarder(t, events, tr)

	assert.Equal(t, "state", waitEvent(t, events).kind)

	link.handler(telemetryFrame("A1B2C3", 42))

	ev := waitEvent(t, events)
	require.Equal(t, "telemetry", ev.kind)
	assert.JSONEq(t, `{"device":"AA:BB:CC:DD:EE:FF","soc":42}`, string(ev.body))
}
