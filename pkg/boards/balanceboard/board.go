// Package balanceboard implements the Nintendo balance board protocol: the
// setup handshake, report dispatch and the session loop that streams
// calibrated weight from the board's four strain gauges.
package balanceboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/calibration"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
)

// DefaultReceiveTimeout bounds each receive so a stop request is observed
// while the board is quiet.
const DefaultReceiveTimeout = 500 * time.Millisecond

func init() {
	gobalance.Register(comms.DeviceNamePrefix, New)
}

// This line is the compile-time check. It will fail to compile if
// *Board ever stops satisfying the gobalance.Board interface.
var _ gobalance.Board = (*Board)(nil)

// Board connects to a balance board over two L2CAP channels and runs a
// Session on them.
type Board struct {
	name    string
	address string
	opts    gobalance.Options
	dial    Dialer

	mu      sync.Mutex
	session *Session
	done    chan struct{}
	err     error
}

// New creates a Board for a discovered device. It is the registry factory.
func New(device *gobalance.FoundDevice, opts gobalance.Options) gobalance.Board {
	return NewWithDialer(device, opts, DialL2CAP)
}

// NewWithDialer creates a Board whose ports are opened by dial.
func NewWithDialer(device *gobalance.FoundDevice, opts gobalance.Options, dial Dialer) *Board {
	if opts.ControlPSM == 0 {
		opts.ControlPSM = comms.ControlPSM
	}
	if opts.DataPSM == 0 {
		opts.DataPSM = comms.DataPSM
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Board{
		name:    device.Name,
		address: device.ID,
		opts:    opts,
		dial:    dial,
	}
}

func (b *Board) Address() string { return b.address }

func (b *Board) DisplayName() string { return "Balance Board" }

// Connect opens the control and data channels and starts the session loop.
// The returned channel is closed when the session ends; Wait reports why.
func (b *Board) Connect(ctx context.Context) (<-chan gobalance.WeightUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return nil, errors.New("balance board is already connected")
	}
	if !gobalance.ValidAddress(b.address) {
		return nil, fmt.Errorf("%w: %q", gobalance.ErrInvalidAddress, b.address)
	}

	logger := b.opts.Logger
	interp, err := NewInterpreter(b.opts.Interpreter, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("address", b.address).Uint16("psm", b.opts.ControlPSM).Msg("opening control channel")
	control, err := b.dial(ctx, b.address, b.opts.ControlPSM, b.opts.ReceiveTimeout)
	if err != nil {
		return nil, &TransportError{Op: "dial control", Err: err}
	}

	logger.Info().Str("address", b.address).Uint16("psm", b.opts.DataPSM).Msg("opening data channel")
	data, err := b.dial(ctx, b.address, b.opts.DataPSM, b.opts.ReceiveTimeout)
	if err != nil {
		_ = control.Close()
		return nil, &TransportError{Op: "dial data", Err: err}
	}

	s := NewSession(b.address, control, data, Options{
		Interpreter:  interp,
		PollInterval: b.opts.PollInterval,
		Logger:       logger,
	})
	b.session = s
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		err := s.Run(ctx)
		if cerr := s.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("closing channels")
		}
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
	}()

	return s.Updates(), nil
}

// Disconnect asks the session to stop. The channels are closed once the
// loop has observed the request.
func (b *Board) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Stop()
	}
	return nil
}

// Wait blocks until the session has ended.
func (b *Board) Wait() error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Session returns the running session, nil before Connect.
func (b *Board) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Calibration returns the references received so far. ok is false when
// the board was not connected with the calibrated interpreter.
func (b *Board) Calibration() (snap calibration.Snapshot, ok bool) {
	s := b.Session()
	if s == nil {
		return snap, false
	}
	c, ok := s.Interpreter().(*CalibratedInterpreter)
	if !ok {
		return snap, false
	}
	return c.Store().Snapshot(), true
}
