package comms

import "fmt"

// ReportType is the subtype byte found at offset 1 of every report.
type ReportType byte

const (
	ReportStatus      ReportType = 0x20
	ReportCalibration ReportType = 0x21
	ReportSensor      ReportType = 0x32
)

func (t ReportType) String() string {
	switch t {
	case ReportStatus:
		return "Status"
	case ReportCalibration:
		return "Calibration"
	case ReportSensor:
		return "Sensor"
	default:
		return fmt.Sprintf("Unknown (0x%02X)", byte(t))
	}
}

// Corner identifies one of the four strain gauges.
type Corner int

const (
	FrontRight Corner = iota
	BackRight
	FrontLeft
	BackLeft
)

// NumSensors is the number of strain gauges on the board.
const NumSensors = 4

func (c Corner) String() string {
	switch c {
	case FrontRight:
		return "front right"
	case BackRight:
		return "back right"
	case FrontLeft:
		return "front left"
	case BackLeft:
		return "back left"
	default:
		return fmt.Sprintf("Corner(%d)", int(c))
	}
}

// Report is implemented by every decoded report.
type Report interface {
	Type() ReportType
	Bytes() []byte
}

// Byte offsets inside the report families.
const (
	offsetType = 1

	statusExtensionOffset = 3
	statusExtensionMask   = 0x02
	statusBatteryOffset   = 7

	calibrationRowOffset    = 7
	calibrationSecondOffset = 15
	calibrationMarkerOffset = 15

	sensorStateOffset    = 3
	sensorValueOffset    = 4
	sensorPowerOffMarker = 0x08
)

// StatusReport holds the fields of a 0x20 status report. It is informational
// only and never changes session state.
type StatusReport struct {
	Battery            uint8
	ExtensionConnected bool
	Raw                []byte
}

func (r StatusReport) Type() ReportType { return ReportStatus }
func (r StatusReport) Bytes() []byte    { return r.Raw }

// CalibrationReport is one of the two fragments of the calibration memory
// read. The first fragment carries the zero and mid references, the second
// one carries the full-load reference.
type CalibrationReport struct {
	Second bool
	// Zero and Mid are filled for the first fragment.
	Zero [NumSensors]uint16
	Mid  [NumSensors]uint16
	// Full is filled for the second fragment.
	Full [NumSensors]uint16
	Raw  []byte
}

func (r CalibrationReport) Type() ReportType { return ReportCalibration }
func (r CalibrationReport) Bytes() []byte    { return r.Raw }

// SensorReport holds one 0x32 sample. PoweredOff is set when the report
// carries the extension-detached marker, which the board sends when it is
// switched off.
type SensorReport struct {
	Values     [NumSensors]uint16
	Complete   bool // false when the report was too short to carry all four values
	PoweredOff bool
	Raw        []byte
}

func (r SensorReport) Type() ReportType { return ReportSensor }
func (r SensorReport) Bytes() []byte    { return r.Raw }

// UnhandledReport represents any subtype we don't decode.
type UnhandledReport struct {
	Subtype ReportType
	Raw     []byte
}

func (r UnhandledReport) Type() ReportType { return r.Subtype }
func (r UnhandledReport) Bytes() []byte    { return r.Raw }
