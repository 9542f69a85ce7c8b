package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/gobalance"
)

func TestListenForStop(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		stopped bool
	}{
		{"bare newline", "\n", true},
		{"text then newline", "hello\n\n", true},
		{"windows newline", "\r\n", true},
		{"text only", "hello\nworld\n", false},
		{"empty input", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			ListenForStop(context.Background(), strings.NewReader(tt.input), func() { calls.Add(1) })
			if tt.stopped {
				assert.Equal(t, int32(1), calls.Load())
			} else {
				assert.Zero(t, calls.Load())
			}
		})
	}
}

func TestListenForStopCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var calls atomic.Int32
	go func() {
		defer close(done)
		ListenForStop(ctx, r, func() { calls.Add(1) })
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not return after cancel")
	}
	assert.Zero(t, calls.Load())
}

func TestStopKeys(t *testing.T) {
	assert.True(t, isStopKey(keyboard.KeyEnter))
	assert.True(t, isStopKey(keyboard.KeyEsc))
	assert.True(t, isStopKey(keyboard.KeyCtrlC))
	assert.False(t, isStopKey(keyboard.KeySpace))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		update gobalance.WeightUpdate
		want   string
	}{
		{
			name:   "raw",
			update: gobalance.WeightUpdate{Kind: gobalance.KindRaw, Label: "Sensor", Raw: []byte{0xA1, 0x32}},
			want:   "Sensor: 0:a1 1:32\n",
		},
		{
			name:   "status",
			update: gobalance.WeightUpdate{Kind: gobalance.KindStatus, Battery: 100, ExtensionConnected: true},
			want:   "Status: battery 100, extension connected\n",
		},
		{
			name: "weight",
			update: gobalance.WeightUpdate{
				Kind:      gobalance.KindWeight,
				Unit:      "g",
				Corners:   [4]float64{17500, 17500, 17500, 17500},
				Kilograms: 70,
			},
			want: "front right:  17500 g  back right:  17500 g  front left:  17500 g  back left:  17500 g  total: 70 kg\n",
		},
		{
			name:   "calibration",
			update: gobalance.WeightUpdate{Kind: gobalance.KindCalibration, Label: "calibration:\n  0 kg\n"},
			want:   "calibration:\n  0 kg\n",
		},
		{
			name:   "error",
			update: gobalance.WeightUpdate{Kind: gobalance.KindWeight, Unit: "g", Error: errors.New("boom")},
			want:   "front right:      0 g  back right:      0 g  front left:      0 g  back left:      0 g  total: 0 kg  (error: boom)\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.update))
		})
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, gobalance.WeightUpdate{Kind: gobalance.KindStatus, Battery: 1}))
	assert.Equal(t, "Status: battery 1, extension not connected\n", buf.String())
}

func TestReuseHint(t *testing.T) {
	assert.Equal(t,
		"YOU MAY USE \"balanceboard 00:23:CC:43:DC:C2\" FOR IMMEDIATE CONNECTION\n",
		ReuseHint("balanceboard", "00:23:CC:43:DC:C2"))
}
