package solix

// PortStatus is the status of a port on the device.
//
// Reserved: live frames carrying a port status have not been observed yet,
// so the variant is not wired into the decode path and no offset is guessed.
type PortStatus int

const (
	// PortStatusUnknown means the status of the port is unknown.
	PortStatusUnknown PortStatus = -1

	// PortStatusNotConnected means the port is not connected.
	PortStatusNotConnected PortStatus = 0

	// PortStatusOutput means the port is an output.
	PortStatusOutput PortStatus = 1

	// PortStatusInput means the port is an input.
	PortStatusInput PortStatus = 2
)

func (p PortStatus) String() string {
	switch p {
	case PortStatusNotConnected:
		return "NOT_CONNECTED"
	case PortStatusOutput:
		return "OUTPUT"
	case PortStatusInput:
		return "INPUT"
	default:
		return "UNKNOWN"
	}
}

// LightStatus is the status of the light bar on the device.
//
// Reserved, same situation as PortStatus.
type LightStatus int

const (
	// LightStatusUnknown means the status of the light is unknown.
	LightStatusUnknown LightStatus = -1

	// LightStatusOff means the light is off.
	LightStatusOff LightStatus = 0

	// LightStatusLow means the light is on low.
	LightStatusLow LightStatus = 1

	// LightStatusMedium means the light is on medium.
	LightStatusMedium LightStatus = 2

	// LightStatusHigh means the light is on high.
	LightStatusHigh LightStatus = 3
)

func (l LightStatus) String() string {
	switch l {
	case LightStatusOff:
		return "OFF"
	case LightStatusLow:
		return "LOW"
	case LightStatusMedium:
		return "MEDIUM"
	case LightStatusHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}
