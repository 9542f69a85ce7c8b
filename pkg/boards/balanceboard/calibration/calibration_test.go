package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
)

func uniform(v uint16) [comms.NumSensors]uint16 {
	return [comms.NumSensors]uint16{v, v, v, v}
}

func calibratedStore(t *testing.T, zero, mid, full uint16) *Store {
	t.Helper()
	s := NewStore()
	s.Apply(comms.CalibrationReport{Zero: uniform(zero), Mid: uniform(mid)})
	s.Apply(comms.CalibrationReport{Second: true, Full: uniform(full)})
	require.True(t, s.Complete())
	return s
}

func TestApplyFirstFragment(t *testing.T) {
	s := NewStore()
	s.Apply(comms.CalibrationReport{Zero: uniform(100), Mid: uniform(2000)})

	rows := s.Rows()
	assert.Equal(t, uniform(100), rows[RowZero])
	assert.Equal(t, uniform(2000), rows[RowMid])
	assert.False(t, s.Complete())
}

func TestApplySecondFragment(t *testing.T) {
	s := NewStore()
	s.Apply(comms.CalibrationReport{Second: true, Full: uniform(4000)})

	rows := s.Rows()
	assert.Equal(t, uniform(4000), rows[RowFull])
	assert.Equal(t, [comms.NumSensors]uint16{}, rows[RowZero])
}

func TestApplyIsIdempotent(t *testing.T) {
	first := comms.CalibrationReport{Zero: [4]uint16{1, 2, 3, 4}, Mid: [4]uint16{10, 20, 30, 40}}
	s := NewStore()
	s.Apply(first)
	once := s.Rows()
	s.Apply(first)
	assert.Equal(t, once, s.Rows())
}

func TestConvertPending(t *testing.T) {
	s := NewStore()
	_, err := s.Convert(500, 0)
	assert.ErrorIs(t, err, ErrCalibrationPending)

	s.Apply(comms.CalibrationReport{Zero: uniform(100), Mid: uniform(2000)})
	_, err = s.Convert(500, 0)
	assert.ErrorIs(t, err, ErrCalibrationPending)
}

func TestConvertSensorIndex(t *testing.T) {
	s := calibratedStore(t, 100, 2000, 4000)
	for _, idx := range []int{-1, 4} {
		_, err := s.Convert(500, idx)
		assert.ErrorIs(t, err, ErrSensorIndex)
	}
}

func TestConvertPiecewise(t *testing.T) {
	s := calibratedStore(t, 100, 2000, 4000)

	tests := []struct {
		name string
		raw  uint16
		want float64
	}{
		{"below zero reference", 50, 0},
		{"at zero reference", 100, 0},
		{"half way to mid", 1050, 8500},
		{"at mid reference", 2000, 17000},
		{"half way to full", 3000, 25500},
		{"at full reference", 4000, 34000},
		{"extrapolated", 5000, 42500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Convert(tt.raw, 0)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestConvertBoundariesAreExact(t *testing.T) {
	s := NewStore()
	s.Apply(comms.CalibrationReport{Zero: [4]uint16{1234, 777, 3, 9999}, Mid: [4]uint16{5431, 2001, 17, 12345}})
	s.Apply(comms.CalibrationReport{Second: true, Full: [4]uint16{9871, 4003, 19, 23456}})
	rows := s.Rows()

	for i := 0; i < comms.NumSensors; i++ {
		g, err := s.Convert(rows[RowZero][i], i)
		require.NoError(t, err)
		assert.Equal(t, 0.0, g)

		g, err = s.Convert(rows[RowMid][i], i)
		require.NoError(t, err)
		assert.Equal(t, MidReferenceGrams, g)

		g, err = s.Convert(rows[RowFull][i], i)
		require.NoError(t, err)
		assert.Equal(t, FullReferenceGrams, g)
	}
}

func TestConvertIsMonotonic(t *testing.T) {
	s := calibratedStore(t, 1500, 3200, 5100)
	prev := -1.0
	for raw := 0; raw <= 0xFFFF; raw += 7 {
		g, err := s.Convert(uint16(raw), 2)
		require.NoError(t, err)
		require.GreaterOrEqual(t, g, prev, "raw=%d", raw)
		prev = g
	}
}

func TestConvertDegenerate(t *testing.T) {
	s := NewStore()
	s.Apply(comms.CalibrationReport{Zero: [4]uint16{100, 100, 100, 100}, Mid: [4]uint16{2000, 100, 2000, 2000}})
	s.Apply(comms.CalibrationReport{Second: true, Full: [4]uint16{4000, 4000, 2000, 4000}})

	_, err := s.Convert(500, 1)
	assert.ErrorIs(t, err, ErrDegenerateCalibration)
	_, err = s.Convert(500, 2)
	assert.ErrorIs(t, err, ErrDegenerateCalibration)

	g, err := s.Convert(2000, 0)
	require.NoError(t, err)
	assert.Equal(t, MidReferenceGrams, g)
}

func TestApplyDegenerateDoesNotPanic(t *testing.T) {
	tests := map[string]struct {
		zero, mid, full uint16
	}{
		"zero equals mid": {2000, 2000, 4000},
		"mid equals full": {100, 4000, 4000},
		"all equal":       {0, 0, 0},
		"decreasing":      {4000, 2000, 100},
		"full below zero": {2000, 3000, 1000},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewStore()
			s.Apply(comms.CalibrationReport{Zero: uniform(tt.zero), Mid: uniform(tt.mid)})
			require.NotPanics(t, func() {
				s.Apply(comms.CalibrationReport{Second: true, Full: uniform(tt.full)})
			})
			require.True(t, s.Complete())
			for sensor := 0; sensor < comms.NumSensors; sensor++ {
				_, err := s.Convert(5000, sensor)
				assert.ErrorIs(t, err, ErrDegenerateCalibration)
			}
		})
	}
}

func TestApplyRecoversFromDegenerate(t *testing.T) {
	s := NewStore()
	s.Apply(comms.CalibrationReport{Zero: uniform(2000), Mid: uniform(2000)})
	s.Apply(comms.CalibrationReport{Second: true, Full: uniform(4000)})
	_, err := s.Convert(3000, 0)
	require.ErrorIs(t, err, ErrDegenerateCalibration)

	s.Apply(comms.CalibrationReport{Zero: uniform(100), Mid: uniform(2000)})
	g, err := s.Convert(2000, 0)
	require.NoError(t, err)
	assert.Equal(t, MidReferenceGrams, g)
}

func TestConvertAllJoinsErrors(t *testing.T) {
	s := NewStore()
	s.Apply(comms.CalibrationReport{Zero: uniform(100), Mid: [4]uint16{2000, 100, 2000, 2000}})
	s.Apply(comms.CalibrationReport{Second: true, Full: uniform(4000)})

	grams, err := s.ConvertAll([4]uint16{2000, 2000, 4000, 100})
	assert.ErrorIs(t, err, ErrDegenerateCalibration)
	assert.Equal(t, [4]float64{17000, 0, 34000, 0}, grams)
}

func TestTotalKilograms(t *testing.T) {
	assert.Equal(t, 0, TotalKilograms([4]float64{}))
	assert.Equal(t, 68, TotalKilograms([4]float64{17000, 17000, 17000, 17999}))
	assert.Equal(t, 1, TotalKilograms([4]float64{400, 400, 400, 0}))
}

func TestSnapshotAndString(t *testing.T) {
	s := calibratedStore(t, 100, 2000, 4000)
	snap := s.Snapshot()
	assert.True(t, snap.Complete)
	assert.Equal(t, uniform(2000), snap.Mid)
	assert.Contains(t, s.String(), "17 kg")
	assert.Contains(t, s.String(), "front right= 2000")
}
