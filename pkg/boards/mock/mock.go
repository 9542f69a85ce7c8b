// Package mock provides a simulated balance board. It answers the setup
// commands byte-for-byte like the real board and streams sensor reports, so
// the whole engine runs without hardware.
package mock

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
	"github.com/mlsorensen/gobalance/pkg/transport/l2cap"
)

// This init function registers the simulated board with the central registry.
// To use it, you must explicitly import this package.
func init() {
	// Register with a distinct name, "MOCK", so it can be requested specifically.
	gobalance.Register("MOCK", New)
}

// Address is the address reported for simulated boards.
const Address = "00:00:00:00:00:01"

// Config shapes the simulation.
type Config struct {
	// Zero, Mid and Full are the calibration references sent to the host.
	Zero, Mid, Full [comms.NumSensors]uint16
	// Load is the raw reading per sensor around which samples drift.
	Load [comms.NumSensors]uint16
	// Jitter is the largest random deviation added to each sample.
	Jitter uint16
	// Battery is reported in status replies.
	Battery uint8
	// Interval is the time between two sensor reports once streaming.
	Interval time.Duration
	// PowerOffAfter sends the power-off marker after that many sensor
	// reports. Zero streams forever.
	PowerOffAfter int
}

// DefaultConfig simulates a person of about 70 kg standing centred.
func DefaultConfig() Config {
	return Config{
		Zero:     [4]uint16{1700, 1750, 1800, 1650},
		Mid:      [4]uint16{3400, 3450, 3500, 3350},
		Full:     [4]uint16{5100, 5150, 5200, 5050},
		Load:     [4]uint16{3450, 3500, 3550, 3400},
		Jitter:   8,
		Battery:  0xC0,
		Interval: 50 * time.Millisecond,
	}
}

// New creates a Board driven by a fresh simulated peripheral.
func New(device *gobalance.FoundDevice, opts gobalance.Options) gobalance.Board {
	p := NewPeripheral(DefaultConfig())
	if device.ID == "" {
		device = &gobalance.FoundDevice{Name: device.Name, ID: Address, RSSI: device.RSSI}
	}
	return balanceboard.NewWithDialer(device, opts, p.Dial)
}

// Peripheral is the simulated board. Commands sent on the control port
// queue replies on the data port.
type Peripheral struct {
	cfg Config

	mu        sync.Mutex
	queue     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	timeout   time.Duration
	led       bool
	active    bool
	streaming bool
	sent      int
	commands  [][]byte
	rnd       *rand.Rand
}

func NewPeripheral(cfg Config) *Peripheral {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Peripheral{
		cfg:    cfg,
		queue:  make(chan []byte, 16),
		closed: make(chan struct{}),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dial satisfies balanceboard.Dialer. Both PSMs lead to the same
// peripheral; the data port is the one replies are read from.
func (p *Peripheral) Dial(_ context.Context, address string, psm uint16, timeout time.Duration) (balanceboard.Port, error) {
	p.mu.Lock()
	p.timeout = timeout
	p.mu.Unlock()
	log.Debug().Str("address", address).Uint16("psm", psm).Msg("MOCK: channel open")
	return &port{p: p, psm: psm}, nil
}

// Commands returns every packet the host has sent.
func (p *Peripheral) Commands() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.commands))
	copy(out, p.commands)
	return out
}

// Close ends the simulation. Pending and later receives fail with
// l2cap.ErrClosed.
func (p *Peripheral) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *Peripheral) handle(cmd []byte) error {
	select {
	case <-p.closed:
		return l2cap.ErrClosed
	default:
	}

	p.mu.Lock()
	p.commands = append(p.commands, append([]byte(nil), cmd...))
	p.mu.Unlock()

	switch {
	case matches(cmd, comms.StatusCommand):
		p.enqueue(p.statusReport())
	case matches(cmd, comms.CalibrationCommand):
		first, second := p.calibrationReports()
		p.enqueue(first)
		p.enqueue(second)
	case matches(cmd, comms.LEDOnCommand):
		p.setState(func() { p.led = true })
	case matches(cmd, comms.ActivateCommand):
		p.setState(func() { p.active = true })
		p.enqueue(p.statusReport())
	case matches(cmd, comms.StreamStartCommand):
		p.setState(func() { p.streaming = true })
	default:
		log.Debug().Str("command", comms.Dump(cmd)).Msg("MOCK: ignoring unknown command")
	}
	return nil
}

func matches(b []byte, cmd comms.Command) bool {
	return bytes.Equal(b, cmd.Bytes())
}

func (p *Peripheral) setState(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f()
}

func (p *Peripheral) enqueue(b []byte) {
	select {
	case p.queue <- b:
	default:
		log.Warn().Msg("MOCK: reply queue full, dropping report")
	}
}

func (p *Peripheral) receive(b []byte) (int, error) {
	// queued replies go out before the next sample
	select {
	case pkt := <-p.queue:
		return copy(b, pkt), nil
	default:
	}

	p.mu.Lock()
	timeout := p.timeout
	var tick <-chan time.Time
	if p.streaming {
		tick = time.After(p.cfg.Interval)
	}
	p.mu.Unlock()

	var expire <-chan time.Time
	if timeout > 0 {
		expire = time.After(timeout)
	}

	select {
	case pkt := <-p.queue:
		return copy(b, pkt), nil
	case <-tick:
		return copy(b, p.sensorReport()), nil
	case <-expire:
		return 0, l2cap.ErrReceiveTimeout
	case <-p.closed:
		return 0, l2cap.ErrClosed
	}
}

func (p *Peripheral) statusReport() []byte {
	buf := make([]byte, 8)
	buf[0], buf[1] = comms.InputPrefix, byte(comms.ReportStatus)
	p.mu.Lock()
	if p.active {
		buf[3] = 0x02
	}
	p.mu.Unlock()
	buf[7] = p.cfg.Battery
	return buf
}

func (p *Peripheral) calibrationReports() ([]byte, []byte) {
	first := make([]byte, comms.ReportBufferSize)
	first[0], first[1] = comms.InputPrefix, byte(comms.ReportCalibration)
	putPairs(first, 7, p.cfg.Zero)
	putPairs(first, 15, p.cfg.Mid)

	second := make([]byte, comms.ReportBufferSize)
	second[0], second[1] = comms.InputPrefix, byte(comms.ReportCalibration)
	putPairs(second, 7, p.cfg.Full)
	return first, second
}

func (p *Peripheral) sensorReport() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sent++
	buf := make([]byte, comms.ReportBufferSize)
	buf[0], buf[1] = comms.InputPrefix, byte(comms.ReportSensor)

	var values [comms.NumSensors]uint16
	for i, v := range p.cfg.Load {
		values[i] = v
		if p.cfg.Jitter > 0 && v > p.cfg.Jitter {
			values[i] = v - p.cfg.Jitter + uint16(p.rnd.Intn(int(2*p.cfg.Jitter)+1))
		}
	}
	putPairs(buf, 4, values)

	if p.cfg.PowerOffAfter > 0 && p.sent > p.cfg.PowerOffAfter {
		log.Info().Int("reports", p.sent-1).Msg("MOCK: powering off")
		buf[3] = 0x08
	}
	return buf
}

func putPairs(buf []byte, offset int, values [comms.NumSensors]uint16) {
	for i, v := range values {
		binary.BigEndian.PutUint16(buf[offset+2*i:], v)
	}
}

// port is one end of a channel to the peripheral.
type port struct {
	p   *Peripheral
	psm uint16
}

func (c *port) Send(b []byte) error { return c.p.handle(b) }

func (c *port) Receive(b []byte) (int, error) { return c.p.receive(b) }

func (c *port) Close() error {
	if c.psm == comms.DataPSM {
		c.p.Close()
	}
	return nil
}
