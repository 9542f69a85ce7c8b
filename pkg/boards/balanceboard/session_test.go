package balanceboard

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/calibration"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
	"github.com/mlsorensen/gobalance/pkg/transport/l2cap"
)

type recv struct {
	buf []byte
	err error
}

// fakePort records sent packets and replays queued receives. An empty queue
// behaves like a receive timeout.
type fakePort struct {
	mu      sync.Mutex
	sent    [][]byte
	queue   []recv
	sendErr error
	closed  int
}

func (p *fakePort) Send(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, append([]byte(nil), b...))
	return nil
}

func (p *fakePort) Receive(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return 0, l2cap.ErrReceiveTimeout
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	if next.err != nil {
		return 0, next.err
	}
	return copy(b, next.buf), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePort) push(buf []byte) { p.queue = append(p.queue, recv{buf: buf}) }

func newTestSession(t *testing.T, interp Interpreter) (*Session, *fakePort, *fakePort) {
	t.Helper()
	control, data := &fakePort{}, &fakePort{}
	s := NewSession(comms.DefaultAddress, control, data, Options{
		Interpreter:  interp,
		PollInterval: time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	return s, control, data
}

func pairs(buf []byte, offset int, v uint16) {
	for i := 0; i < comms.NumSensors; i++ {
		binary.BigEndian.PutUint16(buf[offset+2*i:], v)
	}
}

func firstCalibration(zero, mid uint16) []byte {
	buf := make([]byte, comms.ReportBufferSize)
	buf[0], buf[1] = comms.InputPrefix, byte(comms.ReportCalibration)
	pairs(buf, 7, zero)
	pairs(buf, 15, mid)
	return buf
}

func secondCalibration(full uint16) []byte {
	buf := make([]byte, comms.ReportBufferSize)
	buf[0], buf[1] = comms.InputPrefix, byte(comms.ReportCalibration)
	pairs(buf, 7, full)
	return buf
}

func sensorReport(v uint16) []byte {
	buf := make([]byte, comms.ReportBufferSize)
	buf[0], buf[1] = comms.InputPrefix, byte(comms.ReportSensor)
	pairs(buf, 4, v)
	return buf
}

func drain(s *Session) []gobalance.WeightUpdate {
	var out []gobalance.WeightUpdate
	for {
		select {
		case u := <-s.updates:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestNewSessionFlags(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	assert.True(t, s.Running())
	assert.False(t, s.HandshakeComplete())
	assert.Equal(t, InterpreterCalibrated, s.Interpreter().Name())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, comms.DefaultAddress, s.Address())
}

func TestHandshakeOrderAcrossTicks(t *testing.T) {
	s, control, _ := newTestSession(t, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Tick(context.Background()))
	}

	require.Len(t, control.sent, 5)
	for i, cmd := range comms.Commands() {
		assert.Equal(t, cmd.Bytes(), control.sent[i], "command %d should be %s", i, cmd.Name())
	}
	assert.Equal(t, comms.StatusCommand.Bytes(), control.sent[0])
	assert.Equal(t, comms.CalibrationCommand.Bytes(), control.sent[1])
	assert.Equal(t, comms.LEDOnCommand.Bytes(), control.sent[2])
	assert.Equal(t, comms.ActivateCommand.Bytes(), control.sent[3])
	assert.Equal(t, comms.StreamStartCommand.Bytes(), control.sent[4])
	assert.True(t, s.HandshakeComplete())
	assert.True(t, s.Running())
}

func TestHandshakeIsIdempotent(t *testing.T) {
	s, control, _ := newTestSession(t, nil)

	require.NoError(t, s.Handshake())
	require.NoError(t, s.Handshake())
	assert.Len(t, control.sent, 5)
}

func TestHandshakeSendFailure(t *testing.T) {
	s, control, _ := newTestSession(t, nil)
	control.sendErr = errors.New("connection reset")

	err := s.Tick(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "send status", terr.Op)
	assert.False(t, s.Running())
	assert.Equal(t, err, s.Err())
}

func TestDispatchPowerOff(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	buf := sensorReport(0)
	buf[3] = 0x08

	s.Dispatch(buf)

	assert.False(t, s.Running())
	assert.NoError(t, s.Err())
}

func TestDispatchShortRead(t *testing.T) {
	for _, buf := range [][]byte{nil, {0xA1}} {
		s, _, _ := newTestSession(t, nil)
		s.Dispatch(buf)

		assert.False(t, s.Running())
		var terr *TransportError
		require.ErrorAs(t, s.Err(), &terr)
		assert.Equal(t, "receive", terr.Op)
		assert.ErrorIs(t, s.Err(), comms.ErrShortRead)
	}
}

func TestDispatchIgnoresUnknownAndTruncatedReports(t *testing.T) {
	s, _, _ := newTestSession(t, RawInterpreter{})

	s.Dispatch([]byte{0xA1, 0x3D, 0x00, 0x00})
	s.Dispatch([]byte{0xA1, 0x20, 0x00})

	assert.True(t, s.Running())
	assert.NoError(t, s.Err())
	assert.Empty(t, drain(s))
}

func TestDispatchStatus(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	buf := make([]byte, 8)
	buf[0], buf[1], buf[3], buf[7] = 0x52, 0x20, 0x02, 0x64

	s.Dispatch(buf)

	updates := drain(s)
	require.Len(t, updates, 1)
	assert.Equal(t, gobalance.KindStatus, updates[0].Kind)
	assert.Equal(t, uint8(100), updates[0].Battery)
	assert.True(t, updates[0].ExtensionConnected)
	assert.Equal(t, s.ID(), updates[0].SessionID)
	assert.True(t, s.Running())
}

func TestRawInterpreterDump(t *testing.T) {
	s, _, _ := newTestSession(t, RawInterpreter{})

	s.Dispatch(sensorReport(0x0102))

	updates := drain(s)
	require.Len(t, updates, 1)
	assert.Equal(t, gobalance.KindRaw, updates[0].Kind)
	assert.Equal(t, "Sensor", updates[0].Label)
	assert.Equal(t, byte(0x01), updates[0].Raw[4])
}

func TestCalibratedWeight(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	s.Dispatch(sensorReport(2000))
	assert.Empty(t, drain(s), "sensor reports before calibration are skipped")

	s.Dispatch(firstCalibration(100, 2000))
	s.Dispatch(secondCalibration(4000))
	updates := drain(s)
	require.Len(t, updates, 1)
	assert.Equal(t, gobalance.KindCalibration, updates[0].Kind)
	assert.Contains(t, updates[0].Label, "17 kg")

	s.Dispatch(sensorReport(2000))
	updates = drain(s)
	require.Len(t, updates, 1)
	u := updates[0]
	assert.Equal(t, gobalance.KindWeight, u.Kind)
	assert.NoError(t, u.Error)
	assert.Equal(t, [4]float64{17000, 17000, 17000, 17000}, u.Corners)
	assert.InDelta(t, 68000, u.Value, 1e-9)
	assert.Equal(t, 68, u.Kilograms)
	assert.Equal(t, "g", u.Unit)
}

func TestCalibratedDegenerateSensor(t *testing.T) {
	interp := NewCalibratedInterpreter(zerolog.Nop())
	s, _, _ := newTestSession(t, interp)

	first := firstCalibration(100, 2000)
	binary.BigEndian.PutUint16(first[15+2*int(comms.BackLeft):], 100)
	s.Dispatch(first)
	s.Dispatch(secondCalibration(4000))
	drain(s)

	s.Dispatch(sensorReport(2000))
	updates := drain(s)
	require.Len(t, updates, 1)
	assert.ErrorIs(t, updates[0].Error, calibration.ErrDegenerateCalibration)
	assert.Equal(t, 17000.0, updates[0].Corners[comms.FrontRight])
	assert.Equal(t, 0.0, updates[0].Corners[comms.BackLeft])
	assert.True(t, s.Running())
}

func TestTickReceiveTimeoutContinues(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	require.NoError(t, s.Tick(context.Background()))
	assert.True(t, s.Running())
}

func TestTickReceiveFailure(t *testing.T) {
	s, _, data := newTestSession(t, nil)
	data.queue = append(data.queue, recv{err: errors.New("host is down")})

	err := s.Tick(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "receive", terr.Op)
	assert.False(t, s.Running())
}

func TestRunUntilPowerOff(t *testing.T) {
	s, control, data := newTestSession(t, nil)
	data.push(firstCalibration(100, 2000))
	data.push(secondCalibration(4000))
	data.push(sensorReport(3000))
	off := sensorReport(3000)
	off[3] = 0x08
	data.push(off)

	var got []gobalance.WeightUpdate
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range s.Updates() {
			got = append(got, u)
		}
	}()

	require.NoError(t, s.Run(context.Background()))
	<-done

	assert.Len(t, control.sent, 5)
	require.Len(t, got, 3)
	assert.Equal(t, gobalance.KindCalibration, got[0].Kind)
	assert.Equal(t, 25500.0, got[1].Corners[comms.FrontRight])
	assert.Equal(t, 102, got[1].Kilograms)
	assert.False(t, s.Running())
}

func TestRunStopsOnShortRead(t *testing.T) {
	s, _, data := newTestSession(t, nil)
	data.push([]byte{0xA1})

	err := s.Run(context.Background())

	assert.ErrorIs(t, err, comms.ErrShortRead)
	_, open := <-s.Updates()
	assert.False(t, open)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancel")
	}
}

func TestStopFromOtherGoroutine(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	s.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestCloseOnce(t *testing.T) {
	s, control, data := newTestSession(t, nil)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, control.closed)
	assert.Equal(t, 1, data.closed)
	assert.False(t, s.Running())

	shared := &fakePort{}
	s = NewSession(comms.DefaultAddress, shared, shared, Options{Logger: zerolog.Nop()})
	require.NoError(t, s.Close())
	assert.Equal(t, 1, shared.closed)
}

func TestNewInterpreter(t *testing.T) {
	i, err := NewInterpreter("", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, InterpreterCalibrated, i.Name())

	i, err = NewInterpreter("raw", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, InterpreterRaw, i.Name())

	_, err = NewInterpreter("fancy", zerolog.Nop())
	assert.Error(t, err)
}

func TestDispatchDegenerateCalibrationKeepsRunning(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	s.Dispatch(firstCalibration(2000, 2000))
	require.NotPanics(t, func() { s.Dispatch(secondCalibration(4000)) })
	drain(s)

	s.Dispatch(sensorReport(3000))
	updates := drain(s)
	require.Len(t, updates, 1)
	assert.ErrorIs(t, updates[0].Error, calibration.ErrDegenerateCalibration)
	assert.Equal(t, [4]float64{}, updates[0].Corners)
	assert.True(t, s.Running())
}

func TestTickAfterRunDropsUpdates(t *testing.T) {
	s, _, data := newTestSession(t, nil)
	s.Stop()
	require.NoError(t, s.Run(context.Background()))

	data.push(firstCalibration(100, 2000))
	data.push(secondCalibration(4000))
	data.push(sensorReport(5))
	require.NotPanics(t, func() {
		for i := 0; i < 3; i++ {
			_ = s.Tick(context.Background())
		}
		s.Dispatch(sensorReport(5))
	})

	_, open := <-s.Updates()
	assert.False(t, open)
}

func TestRunTwice(t *testing.T) {
	s, _, data := newTestSession(t, nil)
	data.push([]byte{0xA1})

	err := s.Run(context.Background())
	require.ErrorIs(t, err, comms.ErrShortRead)
	assert.NotPanics(t, func() {
		assert.Equal(t, err, s.Run(context.Background()))
	})
}
