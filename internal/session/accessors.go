package session

import (
	"time"

	"github.com/solix-monitor/solix-monitor-pro/pkg/solix"
)

// Query accessors. Telemetry accessors return the documented sentinel values
// when no snapshot has ever been captured, so callers never have to handle a
// missing-value failure; the sentinels exist only at this boundary and are
// never fed back into internal arithmetic.

// Connected reports whether the transport link is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil && s.link.Connected()
}

// Available reports whether the device is connected and sending telemetry.
func (s *Session) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil && s.link.Connected() && s.supportsTelemetry
}

// SupportsTelemetry reports whether the device exposes the telemetry
// characteristic.
func (s *Session) SupportsTelemetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supportsTelemetry
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TimedOut reports whether a re-connect cycle ever exceeded its deadline.
// The flag is sticky.
func (s *Session) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedOut
}

// Address returns the transport address of the device.
func (s *Session) Address() string {
	return s.peripheral.Address
}

// Name returns the advertised name of the device, or the default string
// value when the advertisement carried none.
func (s *Session) Name() string {
	if s.peripheral.Name == "" {
		return solix.DefaultMetadataString
	}
	return s.peripheral.Name
}

// LastUpdate returns the capture time of the most recent telemetry frame,
// or the zero time when none has been received.
func (s *Session) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return time.Time{}
	}
	return s.snapshot.CapturedAt
}

// Snapshot returns the most recent telemetry snapshot as a read-only view,
// or nil when none has been captured. Snapshots are replaced wholesale and
// never mutated in place.
func (s *Session) Snapshot() *solix.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// SerialNo returns the serial number of the device or the default string
// value.
func (s *Session) SerialNo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataString
	}
	return s.snapshot.SerialNo
}

// ChargePercentageBattery returns the battery charge percentage or the
// default int value.
func (s *Session) ChargePercentageBattery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataInt
	}
	return s.snapshot.BatteryPercent
}

// TemperatureBattery returns the battery temperature in °C or the default
// int value.
func (s *Session) TemperatureBattery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataInt
	}
	return s.snapshot.BatteryTemperature
}

// PowerSolarIn returns the solar input power in W or the default float
// value.
func (s *Session) PowerSolarIn() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataFloat
	}
	return s.snapshot.PowerSolarIn
}

// PowerACOut returns the AC output power in W or the default float value.
func (s *Session) PowerACOut() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataFloat
	}
	return s.snapshot.PowerACOut
}

// PowerBattery returns the power the battery is charged with in W (negative
// means discharge) or the default float value.
func (s *Session) PowerBattery() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataFloat
	}
	return s.snapshot.PowerBattery()
}

// PowerBatteryDischarge returns the battery discharge power in W or the
// default float value.
func (s *Session) PowerBatteryDischarge() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataFloat
	}
	return s.snapshot.PowerBatteryDischarge
}

// EnergyTotalSolar returns the total solar energy produced since system
// setup in kWh or the default float value.
func (s *Session) EnergyTotalSolar() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataFloat
	}
	return s.snapshot.EnergySolarTotalIn
}

// EnergyTotalBattery returns the total energy stored in the battery since
// system setup in kWh or the default float value.
func (s *Session) EnergyTotalBattery() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataFloat
	}
	return s.snapshot.EnergyBatteryTotalIn
}

// EnergyTotalOut returns the total energy output since system setup in kWh
// or the default float value.
func (s *Session) EnergyTotalOut() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return solix.DefaultMetadataFloat
	}
	return s.snapshot.EnergyTotalOut
}
