package solix

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UUIDTelemetry is the GATT characteristic UUID for device telemetry.
// It is subscribable (handle 17 on the tested hardware).
const UUIDTelemetry = "8c850003-0302-41c5-b46e-cf057c562025"

// UUIDIdentifier is the GATT service UUID advertised by Solix devices
// (tested on a C300X). Used for discovery only.
const UUIDIdentifier = "0000ff09-0000-1000-8000-00805f9b34fb"

// TelemetryFrameSize is the exact size of a telemetry frame in bytes.
// Notifications of any other size on the same characteristic are foreign
// traffic, not telemetry.
const TelemetryFrameSize = 253

// Telemetry frame marker, bytes 8-9.
const (
	frameMarker0 = 0x05
	frameMarker1 = 0x13
)

// Frame field offsets. Little-endian for the multi-byte fields.
const (
	offsetSerialStart   = 0x10 // ASCII serial number
	offsetSerialEnd     = 0x20
	offsetBatteryPct    = 35  // battery charge [percent]
	offsetUnknown1      = 39  // meaning undetermined
	offsetBatteryTemp   = 73  // battery temperature [°C]
	offsetPowerSolarIn  = 77  // uint16, solar power in [W*10]
	offsetPowerACOut    = 84  // uint16, AC power out [W*10]
	offsetUnknown2      = 91  // meaning undetermined
	offsetUnknown3      = 103 // uint32, scale /100000, meaning undetermined
	offsetEnergySolar   = 110 // uint32, total solar energy in [Wh*10]
	offsetEnergyBattery = 117 // uint32, total battery energy in [Wh*100]
	offsetEnergyOut     = 124 // uint32, total energy out [Wh*10]
	offsetPowerBattDis  = 132 // uint32, battery discharge power [W*100]
)

var (
	// ErrFrameSize means the payload is not a telemetry frame at all. This
	// is expected traffic on the shared characteristic, not an error.
	ErrFrameSize = errors.New("solix: not a telemetry frame (wrong size)")

	// ErrFrameType means the payload has telemetry size but an unknown
	// message type marker. Also discarded silently by callers.
	ErrFrameType = errors.New("solix: unknown frame type")

	// ErrMalformedFrame means a well-marked frame failed field extraction.
	// Prior state must be left untouched by the caller.
	ErrMalformedFrame = errors.New("solix: malformed telemetry frame")
)

// DecodeFrame validates and parses one raw notification payload into a
// Snapshot stamped with capturedAt. It is pure: it holds no state and knows
// nothing about connections or callbacks.
//
// Payloads with the wrong size or marker return ErrFrameSize/ErrFrameType;
// those are how non-telemetry notifications are filtered and should only be
// logged at debug level. ErrMalformedFrame is returned when a genuine
// telemetry frame fails extraction; the caller must keep its previous
// snapshot in that case.
func DecodeFrame(data []byte, capturedAt time.Time) (*Snapshot, error) {
	if len(data) != TelemetryFrameSize {
		return nil, fmt.Errorf("%w: %d != %d", ErrFrameSize, len(data), TelemetryFrameSize)
	}

	if data[8] != frameMarker0 || data[9] != frameMarker1 {
		return nil, fmt.Errorf("%w: 0x%02x%02x", ErrFrameType, data[8], data[9])
	}

	serial, err := parseSerial(data[offsetSerialStart:offsetSerialEnd])
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		SerialNo:              serial,
		BatteryPercent:        int(data[offsetBatteryPct]),
		BatteryTemperature:    int(int8(data[offsetBatteryTemp])),
		PowerSolarIn:          float64(parseUint16(data, offsetPowerSolarIn)) / 10.0,
		PowerACOut:            float64(parseUint16(data, offsetPowerACOut)) / 10.0,
		PowerBatteryDischarge: float64(parseUint32(data, offsetPowerBattDis)) / 100.0,
		EnergySolarTotalIn:    float64(parseUint32(data, offsetEnergySolar)) / 10000.0,
		EnergyBatteryTotalIn:  float64(parseUint32(data, offsetEnergyBattery)) / 100000.0,
		EnergyTotalOut:        float64(parseUint32(data, offsetEnergyOut)) / 10000.0,
		Unknown1:              int(data[offsetUnknown1]),
		Unknown2:              int(data[offsetUnknown2]),
		Unknown3:              float64(parseUint32(data, offsetUnknown3)) / 100000.0,
		CapturedAt:            capturedAt,
	}, nil
}

// parseSerial decodes the ASCII serial number field. Non-ASCII bytes make
// the whole frame malformed, matching a strict ASCII decode.
func parseSerial(raw []byte) (string, error) {
	for i, b := range raw {
		if b > 0x7f {
			return "", fmt.Errorf("%w: non-ASCII byte 0x%02x in serial at %d", ErrMalformedFrame, b, i)
		}
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}

func parseUint16(data []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(data[offset : offset+2])
}

func parseUint32(data []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(data[offset : offset+4])
}
