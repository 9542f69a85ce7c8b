// Package comms provides communication details for the Balance Board: the
// fixed command catalog and the decoder for the report families the board
// sends back.
package comms

// L2CAP protocol/service multiplexers used by the board's HID profile.
const (
	ControlPSM uint16 = 0x11
	DataPSM    uint16 = 0x13
)

// Constants for the wire protocol.
const (
	// OutputPrefix is the first byte of every command sent to the board.
	OutputPrefix byte = 0x52
	// InputPrefix is the first byte of reports received on the data channel.
	InputPrefix byte = 0xA1

	// ReportBufferSize is large enough for every report type the board sends.
	ReportBufferSize = 24

	// DeviceName is the name the board advertises during inquiry.
	DeviceName = "Nintendo RVL-WBC-01"
	// DeviceNamePrefix matches every revision of the board.
	DeviceNamePrefix = "Nintendo RVL-WBC"
	// DefaultAddress is used when no address is given and discovery fails.
	DefaultAddress = "00:23:CC:43:DC:C2"
)
