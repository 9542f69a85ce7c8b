package comms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShortRead is returned for buffers of one byte or less. The session
	// treats it as a transport failure.
	ErrShortRead = errors.New("short read")
	// ErrReportTooShort is returned when a known report is missing the bytes
	// its fields live in.
	ErrReportTooShort = errors.New("report too short")
)

// DecodeReport classifies a received buffer by the subtype byte at offset 1
// and decodes its fields. The returned report keeps a private copy of buf, so
// the caller may reuse its receive buffer.
func DecodeReport(buf []byte) (Report, error) {
	if len(buf) <= 1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortRead, len(buf))
	}
	raw := make([]byte, len(buf))
	copy(raw, buf)

	switch t := ReportType(raw[offsetType]); t {
	case ReportStatus:
		return decodeStatus(raw)
	case ReportCalibration:
		return decodeCalibration(raw)
	case ReportSensor:
		return decodeSensor(raw)
	default:
		return UnhandledReport{Subtype: t, Raw: raw}, nil
	}
}

func decodeStatus(raw []byte) (StatusReport, error) {
	if len(raw) <= statusBatteryOffset {
		return StatusReport{}, fmt.Errorf("%w: status report has %d bytes, need %d", ErrReportTooShort, len(raw), statusBatteryOffset+1)
	}
	return StatusReport{
		Battery:            raw[statusBatteryOffset],
		ExtensionConnected: raw[statusExtensionOffset]&statusExtensionMask != 0,
		Raw:                raw,
	}, nil
}

// decodeCalibration splits the two calibration fragments. A zero byte at the
// marker offset identifies the second fragment.
func decodeCalibration(raw []byte) (CalibrationReport, error) {
	if len(raw) <= calibrationMarkerOffset {
		return CalibrationReport{}, fmt.Errorf("%w: calibration report has %d bytes, need %d", ErrReportTooShort, len(raw), calibrationMarkerOffset+1)
	}
	msg := CalibrationReport{Raw: raw}
	if raw[calibrationMarkerOffset] == 0x00 {
		msg.Second = true
		msg.Full = readPairs(raw, calibrationRowOffset)
		return msg, nil
	}

	// A short first fragment is dropped rather than zero-filled.
	need := calibrationSecondOffset + 2*NumSensors
	if len(raw) < need {
		return CalibrationReport{}, fmt.Errorf("%w: first calibration fragment has %d bytes, need %d", ErrReportTooShort, len(raw), need)
	}
	msg.Zero = readPairs(raw, calibrationRowOffset)
	msg.Mid = readPairs(raw, calibrationSecondOffset)
	return msg, nil
}

func decodeSensor(raw []byte) (SensorReport, error) {
	if len(raw) <= sensorStateOffset {
		return SensorReport{}, fmt.Errorf("%w: sensor report has %d bytes, need %d", ErrReportTooShort, len(raw), sensorStateOffset+1)
	}
	msg := SensorReport{
		PoweredOff: raw[sensorStateOffset] == sensorPowerOffMarker,
		Raw:        raw,
	}
	if len(raw) >= sensorValueOffset+2*NumSensors {
		msg.Values = readPairs(raw, sensorValueOffset)
		msg.Complete = true
	}
	return msg, nil
}

// readPairs decodes four consecutive big-endian uint16 values starting at
// offset. The caller has checked the length.
func readPairs(raw []byte, offset int) [NumSensors]uint16 {
	var out [NumSensors]uint16
	for i := range out {
		out[i] = binary.BigEndian.Uint16(raw[offset+2*i:])
	}
	return out
}

// Dump renders raw as space separated index:hex pairs.
func Dump(raw []byte) string {
	var sb strings.Builder
	for i, b := range raw {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d:%02x", i, b)
	}
	return sb.String()
}
