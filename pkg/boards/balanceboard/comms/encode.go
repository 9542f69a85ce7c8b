package comms

// Command is one entry of the fixed command catalog. The bytes are kept
// private so a catalog entry can never be modified at runtime.
type Command struct {
	name  string
	bytes []byte
}

// Name returns the short name used in logs.
func (c Command) Name() string {
	return c.name
}

// Bytes returns a copy of the encoded command.
func (c Command) Bytes() []byte {
	out := make([]byte, len(c.bytes))
	copy(out, c.bytes)
	return out
}

// Len returns the encoded length of the command.
func (c Command) Len() int {
	return len(c.bytes)
}

func (c Command) String() string {
	return c.name
}

// The trailing parameter bytes are opaque protocol constants and must be sent
// exactly as listed.
var (
	// StatusCommand requests device, battery and extension status (report 0x20).
	StatusCommand = Command{name: "status", bytes: []byte{OutputPrefix, 0x12, 0x00, 0x32}}
	// ActivateCommand enables extension reporting.
	ActivateCommand = Command{name: "activate", bytes: []byte{OutputPrefix, 0x13, 0x04}}
	// CalibrationCommand reads calibration memory; the board answers with two
	// 0x21 fragments.
	CalibrationCommand = Command{name: "calibration", bytes: []byte{OutputPrefix, 0x17, 0x04, 0xA4, 0x00, 0x24, 0x00, 0x18}}
	// LEDOnCommand sets bit 0 of the status LED.
	LEDOnCommand = Command{name: "led-on", bytes: []byte{OutputPrefix, 0x11, 0x10}}
	// StreamStartCommand begins continuous 0x32 sensor reports.
	StreamStartCommand = Command{name: "stream-start", bytes: []byte{OutputPrefix, 0x15, 0x00, 0x32}}
)

// Commands returns the catalog in handshake priority order.
func Commands() []Command {
	return []Command{
		StatusCommand,
		CalibrationCommand,
		LEDOnCommand,
		ActivateCommand,
		StreamStartCommand,
	}
}
