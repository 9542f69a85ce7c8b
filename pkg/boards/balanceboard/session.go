package balanceboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
	"github.com/mlsorensen/gobalance/pkg/transport/l2cap"
)

// DefaultPollInterval is the pause at the end of every loop iteration.
const DefaultPollInterval = 10 * time.Millisecond

// updateBuffer is the capacity of the updates channel.
const updateBuffer = 20

// Options configures a Session.
type Options struct {
	// Interpreter turns reports into updates. Defaults to a calibrated
	// interpreter.
	Interpreter  Interpreter
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Session drives one board from connected to streaming and reads its
// reports until it is stopped, the board powers off or the channel fails.
//
// All fields except running are owned by the goroutine calling Tick or Run.
// Stop may be called from any goroutine.
type Session struct {
	id      string
	address string
	control Port
	data    Port

	interpreter  Interpreter
	pollInterval time.Duration
	logger       zerolog.Logger

	// setup flags, true until the matching command went out
	needStatus      bool
	needCalibration bool
	ledOn           bool // inverted: false until the LED command went out
	needActivation  bool
	needStreamStart bool

	running atomic.Bool
	started atomic.Bool
	closed  atomic.Bool // updates has been closed
	err     error

	buf     [comms.ReportBufferSize]byte
	updates chan gobalance.WeightUpdate

	closeOnce sync.Once
	closeErr  error
}

// NewSession builds a session over already connected ports. control and
// data may be the same Port.
func NewSession(address string, control, data Port, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Interpreter == nil {
		opts.Interpreter = NewCalibratedInterpreter(opts.Logger)
	}
	id := uuid.NewString()
	s := &Session{
		id:              id,
		address:         address,
		control:         control,
		data:            data,
		interpreter:     opts.Interpreter,
		pollInterval:    opts.PollInterval,
		logger:          opts.Logger.With().Str("session", id).Str("address", address).Logger(),
		needStatus:      true,
		needCalibration: true,
		needActivation:  true,
		needStreamStart: true,
		updates:         make(chan gobalance.WeightUpdate, updateBuffer),
	}
	s.running.Store(true)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Address returns the board address the session was built for.
func (s *Session) Address() string { return s.address }

// Interpreter returns the interpreter chosen at construction.
func (s *Session) Interpreter() Interpreter { return s.interpreter }

// Updates returns the channel interpreted reports are delivered on. Run
// closes it when it returns.
func (s *Session) Updates() <-chan gobalance.WeightUpdate { return s.updates }

// Running reports whether no terminal condition has been observed yet.
func (s *Session) Running() bool { return s.running.Load() }

// Stop asks the loop to end after the current iteration. It is safe to call
// from any goroutine and more than once.
func (s *Session) Stop() { s.running.Store(false) }

// Err returns the error that ended the session, nil if none.
func (s *Session) Err() error { return s.err }

// HandshakeComplete reports whether every setup command has been sent.
func (s *Session) HandshakeComplete() bool {
	return !s.needStatus && !s.needCalibration && s.ledOn && !s.needActivation && !s.needStreamStart
}

// Handshake sends every setup command still pending, in the fixed order
// status, calibration, LED, activation, stream start. Each command is sent
// at most once and no reply is awaited. A send failure is fatal.
func (s *Session) Handshake() error {
	steps := []struct {
		pending bool
		cmd     comms.Command
		done    func()
	}{
		{s.needStatus, comms.StatusCommand, func() { s.needStatus = false }},
		{s.needCalibration, comms.CalibrationCommand, func() { s.needCalibration = false }},
		{!s.ledOn, comms.LEDOnCommand, func() { s.ledOn = true }},
		{s.needActivation, comms.ActivateCommand, func() { s.needActivation = false }},
		{s.needStreamStart, comms.StreamStartCommand, func() { s.needStreamStart = false }},
	}

	for _, step := range steps {
		if !step.pending {
			continue
		}
		s.logger.Debug().Stringer("command", step.cmd).Msg("sending")
		err := s.control.Send(step.cmd.Bytes())
		step.done()
		if err != nil {
			return s.fail(&TransportError{Op: "send " + step.cmd.Name(), Err: err})
		}
		if s.HandshakeComplete() {
			s.logger.Info().Msg("handshake complete, streaming")
		}
	}
	return nil
}

// Dispatch classifies one received buffer and routes it to the interpreter.
// A buffer of one byte or less ends the session as a transport failure, a
// sensor report carrying the power-off marker ends it cleanly. Unknown
// report types are ignored.
func (s *Session) Dispatch(buf []byte) {
	report, err := comms.DecodeReport(buf)
	switch {
	case errors.Is(err, comms.ErrShortRead):
		s.logger.Error().Int("length", len(buf)).Msg("short read from board")
		_ = s.fail(&TransportError{Op: "receive", Err: err})
		return
	case err != nil:
		s.logger.Debug().Err(err).Str("raw", comms.Dump(buf)).Msg("dropping report")
		return
	}

	poweredOff := false
	switch r := report.(type) {
	case comms.UnhandledReport:
		s.logger.Debug().Stringer("type", r.Subtype).Str("raw", comms.Dump(r.Raw)).Msg("unhandled report")
		return
	case comms.SensorReport:
		poweredOff = r.PoweredOff
	}

	for _, u := range s.interpreter.Interpret(report) {
		s.emit(u)
	}
	if poweredOff {
		s.logger.Warn().Msg("board powered off")
		s.Stop()
	}
}

// Tick runs one loop iteration: pending handshake commands, one receive on
// the data port, dispatch, then the poll pause. A receive timeout only skips
// the dispatch. The returned error is the fatal error that ended the
// session, if any.
func (s *Session) Tick(ctx context.Context) error {
	if err := s.Handshake(); err != nil {
		return err
	}

	n, err := s.data.Receive(s.buf[:])
	switch {
	case errors.Is(err, l2cap.ErrReceiveTimeout):
	case err != nil:
		return s.fail(&TransportError{Op: "receive", Err: err})
	default:
		s.Dispatch(s.buf[:n])
	}
	if s.err != nil {
		return s.err
	}

	select {
	case <-ctx.Done():
		s.Stop()
	case <-time.After(s.pollInterval):
	}
	return nil
}

// Run ticks until the session stops. Cancelling ctx stops the session; as
// with Stop, an in-flight receive is not interrupted. Run closes the
// updates channel before returning. A session runs once; later calls
// return the error of the first run.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return s.err
	}
	defer func() {
		s.closed.Store(true)
		close(s.updates)
	}()
	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	s.logger.Info().Str("interpreter", s.interpreter.Name()).Msg("session started")
	for s.Running() {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error().Err(err).Msg("session failed")
			return err
		}
	}
	s.logger.Info().Msg("session stopped")
	return nil
}

// Close closes both ports once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Stop()
		errs := []error{s.control.Close()}
		if s.data != s.control {
			errs = append(errs, s.data.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Session) fail(err error) error {
	if s.err == nil {
		s.err = err
	}
	s.Stop()
	return s.err
}

func (s *Session) emit(u gobalance.WeightUpdate) {
	if s.closed.Load() {
		s.logger.Debug().Str("kind", string(u.Kind)).Msg("session finished, dropping update")
		return
	}
	u.SessionID = s.id
	select {
	case s.updates <- u:
	default:
		s.logger.Warn().Str("kind", string(u.Kind)).Msg("update channel full, dropping update")
	}
}
