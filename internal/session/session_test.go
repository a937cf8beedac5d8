package session

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solix-monitor/solix-monitor-pro/internal/transport"
	"github.com/solix-monitor/solix-monitor-pro/pkg/solix"
)

type fakeLink struct {
	mu        sync.Mutex
	connected bool
	attrs     map[string]bool
	handler   transport.NotificationHandler
	onDrop    transport.DisconnectHandler
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) HasAttribute(uuid string) (bool, error) {
	return l.attrs[uuid], nil
}

func (l *fakeLink) Subscribe(uuid string, h transport.NotificationHandler) error {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Close() error {
	l.drop()
	return nil
}

// notify delivers a raw payload as the transport would.
func (l *fakeLink) notify(data []byte) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// drop severs the link and fires the disconnect signal, like a radio drop.
func (l *fakeLink) drop() {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return
	}
	l.connected = false
	onDrop := l.onDrop
	l.mu.Unlock()
	if onDrop != nil {
		onDrop(l)
	}
}

type fakeConnector struct {
	mu sync.Mutex

	calls int
	links []*fakeLink

	failAll       bool
	blockUntilCtx bool
	// noTelemetryAfter makes links opened after the n-th call lack the
	// telemetry characteristic. Zero means every link has it, negative
	// means none does.
	noTelemetryAfter int
}

func (c *fakeConnector) Connect(ctx context.Context, p transport.Peripheral, maxAttempts int, onDisconnect transport.DisconnectHandler) (transport.Link, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if c.blockUntilCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.failAll {
		return nil, errors.New("link establishment failed")
	}

	hasTelemetry := c.noTelemetryAfter == 0 || call <= c.noTelemetryAfter
	l := &fakeLink{
		connected: true,
		attrs:     map[string]bool{solix.UUIDTelemetry: hasTelemetry},
		onDrop:    onDisconnect,
	}

	c.mu.Lock()
	c.links = append(c.links, l)
	c.mu.Unlock()

	return l, nil
}

func (c *fakeConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeConnector) lastLink() *fakeLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return nil
	}
	return c.links[len(c.links)-1]
}

func fastConfig() Config {
	return Config{
		ConnectAttempts:      1,
		ReconnectDelay:       time.Millisecond,
		ReconnectAttemptsMax: 5,
		DisconnectTimeout:    200 * time.Millisecond,
	}
}

func telemetryFrame() []byte {
	f := make([]byte, solix.TelemetryFrameSize)
	f[8] = 0x05
	f[9] = 0x13
	copy(f[0x10:], "TESTSERIAL")
	f[35] = 87                                      // battery percent
	f[73] = 25                                      // temperature
	binary.LittleEndian.PutUint16(f[77:], 1000)     // solar in, 100.0 W
	binary.LittleEndian.PutUint16(f[84:], 250)      // AC out, 25.0 W
	binary.LittleEndian.PutUint32(f[110:], 1234567) // solar energy
	return f
}

func TestConnectIdempotent(t *testing.T) {
	conn := &fakeConnector{}
	s := New(transport.Peripheral{Address: "AA:BB", Name: "Solix"}, conn, fastConfig())

	require.True(t, s.Connect(context.Background(), 0, false))
	assert.True(t, s.Connected())
	assert.True(t, s.Available())
	assert.Equal(t, StateAvailable, s.State())
	assert.Equal(t, 1, conn.callCount())

	// Already available: no new link, no re-probe.
	require.True(t, s.Connect(context.Background(), 0, false))
	assert.Equal(t, 1, conn.callCount())
}

func TestConnectFailure(t *testing.T) {
	conn := &fakeConnector{failAll: true}
	cfg := fastConfig()
	s := New(transport.Peripheral{Address: "AA:BB"}, conn, cfg)

	assert.False(t, s.Connect(context.Background(), 0, false))
	assert.False(t, s.Connected())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnectFailureExhaustsBound(t *testing.T) {
	conn := &fakeConnector{failAll: true}
	cfg := fastConfig()
	cfg.ReconnectAttemptsMax = 1
	s := New(transport.Peripheral{Address: "AA:BB"}, conn, cfg)

	assert.False(t, s.Connect(context.Background(), 0, false))
	assert.Equal(t, StateFailed, s.State())
}

func TestConnectWithoutTelemetry(t *testing.T) {
	conn := &fakeConnector{noTelemetryAfter: -1}
	s := New(transport.Peripheral{Address: "AA:BB"}, conn, fastConfig())

	assert.False(t, s.Connect(context.Background(), 0, false))
	assert.True(t, s.Connected())
	assert.False(t, s.Available())
	assert.False(t, s.SupportsTelemetry())
	assert.Equal(t, StateConnected, s.State())
}

func TestSentinelsBeforeTelemetry(t *testing.T) {
	s := New(transport.Peripheral{Address: "AA:BB"}, &fakeConnector{}, fastConfig())

	assert.Nil(t, s.Snapshot())
	assert.True(t, s.LastUpdate().IsZero())
	assert.Equal(t, solix.DefaultMetadataString, s.SerialNo())
	assert.Equal(t, solix.DefaultMetadataInt, s.ChargePercentageBattery())
	assert.Equal(t, solix.DefaultMetadataInt, s.TemperatureBattery())
	assert.Equal(t, solix.DefaultMetadataFloat, s.PowerSolarIn())
	assert.Equal(t, solix.DefaultMetadataFloat, s.PowerACOut())
	assert.Equal(t, solix.DefaultMetadataFloat, s.PowerBattery())
	assert.Equal(t, solix.DefaultMetadataFloat, s.PowerBatteryDischarge())
	assert.Equal(t, solix.DefaultMetadataFloat, s.EnergyTotalSolar())
	assert.Equal(t, solix.DefaultMetadataFloat, s.EnergyTotalBattery())
	assert.Equal(t, solix.DefaultMetadataFloat, s.EnergyTotalOut())
	assert.Equal(t, solix.DefaultMetadataString, s.Name())
}

func TestTelemetryUpdatesSnapshot(t *testing.T) {
	conn := &fakeConnector{}
	s := New(transport.Peripheral{Address: "AA:BB", Name: "Solix"}, conn, fastConfig())
	require.True(t, s.Connect(context.Background(), 0, false))

	var fired int
	s.AddCallback(func() { fired++ })

	conn.lastLink().notify(telemetryFrame())

	assert.Equal(t, "TESTSERIAL", s.SerialNo())
	assert.Equal(t, 87, s.ChargePercentageBattery())
	assert.Equal(t, 25, s.TemperatureBattery())
	assert.InDelta(t, 100.0, s.PowerSolarIn(), 1e-9)
	assert.InDelta(t, 25.0, s.PowerACOut(), 1e-9)
	assert.InDelta(t, 75.0, s.PowerBattery(), 1e-9)
	assert.InDelta(t, 123.4567, s.EnergyTotalSolar(), 1e-9)
	assert.False(t, s.LastUpdate().IsZero())
	assert.Equal(t, 1, fired)

	// Foreign traffic on the characteristic leaves the snapshot untouched
	// and runs no callbacks.
	conn.lastLink().notify([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, "TESTSERIAL", s.SerialNo())
	assert.Equal(t, 1, fired)
}

func TestExpectedDisconnect(t *testing.T) {
	conn := &fakeConnector{}
	s := New(transport.Peripheral{Address: "AA:BB"}, conn, fastConfig())
	require.True(t, s.Connect(context.Background(), 0, false))

	var fired int
	s.AddCallback(func() { fired++ })

	s.Disconnect()
	assert.False(t, s.Connected())
	assert.Equal(t, StateDisconnected, s.State())

	// No automatic re-connect and no callback after a requested disconnect.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, 0, fired)
}

func TestUnexpectedDisconnectReconnects(t *testing.T) {
	conn := &fakeConnector{}
	s := New(transport.Peripheral{Address: "AA:BB", Name: "Solix"}, conn, fastConfig())
	require.True(t, s.Connect(context.Background(), 0, false))

	var mu sync.Mutex
	var fired int
	s.AddCallback(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	conn.lastLink().drop()

	require.Eventually(t, s.Available, time.Second, time.Millisecond)
	assert.Equal(t, 2, conn.callCount())
	assert.False(t, s.TimedOut())
	assert.Equal(t, StateAvailable, s.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
}

func TestReconnectBoundExhausted(t *testing.T) {
	// Links opened during re-connect lack the telemetry characteristic, so
	// every cycle ends connected-but-unavailable and the counter never
	// resets.
	conn := &fakeConnector{noTelemetryAfter: 1}
	cfg := fastConfig()
	cfg.ReconnectAttemptsMax = 2
	s := New(transport.Peripheral{Address: "AA:BB"}, conn, cfg)
	require.True(t, s.Connect(context.Background(), 0, false))

	for i := 0; i < 2; i++ {
		prev := conn.callCount()
		conn.lastLink().drop()
		require.Eventually(t, func() bool {
			return conn.callCount() == prev+1 && s.Connected()
		}, time.Second, time.Millisecond)
	}

	// The bound is reached; this drop schedules nothing.
	conn.lastLink().drop()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, conn.callCount())
	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.TimedOut())
}

func TestReconnectTimeout(t *testing.T) {
	conn := &fakeConnector{}
	cfg := fastConfig()
	cfg.DisconnectTimeout = 50 * time.Millisecond
	s := New(transport.Peripheral{Address: "AA:BB"}, conn, cfg)
	require.True(t, s.Connect(context.Background(), 0, false))

	var mu sync.Mutex
	var fired int
	s.AddCallback(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	// Re-connect attempts hang until the cycle deadline.
	conn.blockUntilCtx = true
	conn.lastLink().drop()

	require.Eventually(t, s.TimedOut, time.Second, time.Millisecond)
	assert.Equal(t, StateDisconnected, s.State())

	// Exactly one notification for the timeout.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
}

func TestStaleLinkDisconnectIgnored(t *testing.T) {
	conn := &fakeConnector{}
	s := New(transport.Peripheral{Address: "AA:BB"}, conn, fastConfig())
	require.True(t, s.Connect(context.Background(), 0, false))

	var fired int
	s.AddCallback(func() { fired++ })

	stale := &fakeLink{}
	s.handleDisconnect(stale)

	assert.True(t, s.Available())
	assert.Equal(t, StateAvailable, s.State())
	assert.Equal(t, 0, fired)
}

func TestRemoveCallback(t *testing.T) {
	conn := &fakeConnector{}
	s := New(transport.Peripheral{Address: "AA:BB"}, conn, fastConfig())
	require.True(t, s.Connect(context.Background(), 0, false))

	var fired int
	h := s.AddCallback(func() { fired++ })
	require.NoError(t, s.RemoveCallback(h))
	assert.Error(t, s.RemoveCallback(h))

	conn.lastLink().notify(telemetryFrame())
	assert.Equal(t, 0, fired)
}
