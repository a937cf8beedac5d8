package solix

import "time"

// Sentinel values returned by accessors when no telemetry has ever been
// captured. They exist for interface boundaries only; internal code works
// with the Snapshot pointer and never does arithmetic on them.
const (
	// DefaultMetadataString is the value for unknown string attributes.
	DefaultMetadataString = "Unknown"

	// DefaultMetadataInt is the value for unknown int attributes.
	DefaultMetadataInt = -1

	// DefaultMetadataFloat is the value for unknown float attributes.
	DefaultMetadataFloat = -1.0
)

// Snapshot is the decoded telemetry state captured from one valid frame.
// It is replaced wholesale on every valid frame and never partially updated.
type Snapshot struct {
	// SerialNo is the Anker serial number of the device.
	SerialNo string `json:"serial_no"`

	// BatteryPercent is the battery charge percentage (0-100).
	BatteryPercent int `json:"battery_percent"`

	// BatteryTemperature is the battery temperature in °C.
	BatteryTemperature int `json:"battery_temp"`

	// PowerSolarIn is the total solar power input in W.
	PowerSolarIn float64 `json:"solar_power_in"`

	// PowerACOut is the total AC power output to home in W.
	PowerACOut float64 `json:"ac_power_out"`

	// PowerBatteryDischarge is the battery discharge power in W.
	PowerBatteryDischarge float64 `json:"battery_discharge_power"`

	// EnergySolarTotalIn is the total solar energy produced since system
	// setup in kWh.
	EnergySolarTotalIn float64 `json:"energy_solar_total"`

	// EnergyBatteryTotalIn is the total energy stored in the battery since
	// system setup in kWh.
	EnergyBatteryTotalIn float64 `json:"energy_battery_total"`

	// EnergyTotalOut is the total energy output since system setup in kWh.
	EnergyTotalOut float64 `json:"energy_total_out"`

	// Unknown1, Unknown2 and Unknown3 are fields at reserved offsets whose
	// meaning is undetermined. They are kept verbatim for diagnostics and
	// forward compatibility rather than dropped.
	Unknown1 int     `json:"unknown1"`
	Unknown2 int     `json:"unknown2"`
	Unknown3 float64 `json:"unknown3"`

	// CapturedAt is the time the frame was received.
	CapturedAt time.Time `json:"time"`
}

// PowerBattery is the power the battery is being charged with in W;
// negative values mean discharge. Derived from solar in minus AC out.
func (s *Snapshot) PowerBattery() float64 {
	return s.PowerSolarIn - s.PowerACOut
}
