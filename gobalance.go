package gobalance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UpdateKind tells which report produced a WeightUpdate.
type UpdateKind string

const (
	KindWeight      UpdateKind = "weight"
	KindStatus      UpdateKind = "status"
	KindCalibration UpdateKind = "calibration"
	KindRaw         UpdateKind = "raw"
)

// WeightUpdate represents a single interpreted report from the board.
// Sensor reports fill Corners (grams per sensor), Value (total grams) and
// Kilograms (total, truncated). Status reports fill Battery. Raw always
// carries the received bytes. A conversion failure is carried in Error and
// does not end the session.
type WeightUpdate struct {
	Kind      UpdateKind `json:"kind"`
	SessionID string     `json:"session_id,omitempty"`
	Time      time.Time  `json:"time"`

	Value     float64    `json:"value,omitempty"`
	Unit      string     `json:"unit,omitempty"`
	Corners   [4]float64 `json:"corners,omitempty"`
	Kilograms int        `json:"kilograms,omitempty"`

	Battery            uint8 `json:"battery,omitempty"`
	ExtensionConnected bool  `json:"extension_connected,omitempty"`

	Label string `json:"label,omitempty"`
	Raw   []byte `json:"raw,omitempty"`
	Error error  `json:"-"`
}

// Board is the generic interface for a Bluetooth balance board.
// Implementations handle the handshake and report protocol of a specific model.
type Board interface {
	// Connect opens the transport and starts the session. Returns a read-only
	// channel of updates that is closed when the session ends.
	Connect(ctx context.Context) (<-chan WeightUpdate, error)

	// Disconnect asks the session to stop. It does not wait for it.
	Disconnect() error

	// Wait blocks until the session has ended and returns the error that
	// ended it, nil for a clean stop.
	Wait() error

	// Address returns the peripheral address the board was created for.
	Address() string

	// DisplayName returns a human readable model name.
	DisplayName() string
}

// Options configures a Board created through the registry.
type Options struct {
	// Interpreter selects how reports are turned into updates: "raw" or
	// "calibrated".
	Interpreter string
	// PollInterval is the pause between two session ticks.
	PollInterval time.Duration
	// ReceiveTimeout bounds each blocking receive so a stop request is
	// observed even when the board goes quiet.
	ReceiveTimeout time.Duration
	ControlPSM     uint16
	DataPSM        uint16
	Logger         zerolog.Logger
}

// --- Implementation Registry ---

// Factory is a function that creates a new instance of a Board.
type Factory func(*FoundDevice, Options) Board

var (
	registry = make(map[string]Factory)
	regLock  = sync.RWMutex{}
)

// Register makes a board implementation available by its device name prefix.
// This function should be called from the init() function of the implementation's package.
func Register(namePrefix string, factory Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	if _, found := registry[namePrefix]; found {
		panic(fmt.Sprintf("gobalance: board implementation for prefix %q registered twice", namePrefix))
	}
	registry[namePrefix] = factory
}

// NewBoardForDevice finds a registered factory for the given device name and
// creates a new Board instance. It matches based on the prefix; the longest
// matching prefix wins.
func NewBoardForDevice(device *FoundDevice, opts Options) (Board, error) {
	regLock.RLock()
	defer regLock.RUnlock()

	best := ""
	for prefix := range registry {
		if strings.HasPrefix(device.Name, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, fmt.Errorf("no implementation found for device '%s'", device.Name)
	}
	return registry[best](device, opts), nil
}

// RegisteredPrefixes returns the registered name prefixes, sorted.
func RegisteredPrefixes() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
