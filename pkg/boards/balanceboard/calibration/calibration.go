// Package calibration holds the board's per-sensor reference readings and
// converts raw strain-gauge values to grams.
//
// The board stores three references per sensor: the raw reading at 0 kg,
// at 17 kg and at 34 kg. Between references the mass is interpolated
// linearly; above the 34 kg reference the 17-34 kg slope is extended.
package calibration

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gonum.org/v1/gonum/interp"

	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
)

// Reference masses for calibration rows 1 and 2, in grams.
const (
	MidReferenceGrams  = 17000.0
	FullReferenceGrams = 34000.0
)

// Row indexes.
const (
	RowZero = iota
	RowMid
	RowFull
	NumRows
)

var (
	// ErrCalibrationPending is returned until both calibration fragments
	// have been applied.
	ErrCalibrationPending = errors.New("calibration incomplete")
	// ErrDegenerateCalibration is returned for a sensor whose references are
	// not strictly increasing; interpolating over them would divide by zero.
	ErrDegenerateCalibration = errors.New("degenerate calibration")
	// ErrSensorIndex is returned for a sensor index outside 0..3.
	ErrSensorIndex = errors.New("sensor index out of range")
)

// Store holds the three reference rows. It is safe for concurrent use: the
// session writes it while HTTP handlers may read a snapshot.
type Store struct {
	mu         sync.RWMutex
	rows       [NumRows][comms.NumSensors]uint16
	haveFirst  bool
	haveSecond bool

	fits [comms.NumSensors]interp.PiecewiseLinear
	errs [comms.NumSensors]error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Apply stores the rows carried by one calibration fragment. Applying the
// same fragment twice leaves the store unchanged.
func (s *Store) Apply(r comms.CalibrationReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Second {
		s.rows[RowFull] = r.Full
		s.haveSecond = true
	} else {
		s.rows[RowZero] = r.Zero
		s.rows[RowMid] = r.Mid
		s.haveFirst = true
	}
	if s.haveFirst && s.haveSecond {
		s.refit()
	}
}

// refit rebuilds the per-sensor interpolators. The caller holds the lock.
func (s *Store) refit() {
	ys := []float64{0, MidReferenceGrams, FullReferenceGrams}
	for i := 0; i < comms.NumSensors; i++ {
		xs := []float64{
			float64(s.rows[RowZero][i]),
			float64(s.rows[RowMid][i]),
			float64(s.rows[RowFull][i]),
		}
		s.fits[i] = interp.PiecewiseLinear{}
		s.errs[i] = nil
		// Fit panics on xs that are not strictly increasing.
		if !(xs[0] < xs[1] && xs[1] < xs[2]) {
			s.errs[i] = fmt.Errorf("%w: sensor %d (%s) references %v", ErrDegenerateCalibration, i, comms.Corner(i), xs)
			continue
		}
		if err := s.fits[i].Fit(xs, ys); err != nil {
			s.errs[i] = fmt.Errorf("%w: sensor %d (%s) references %v: %v", ErrDegenerateCalibration, i, comms.Corner(i), xs, err)
		}
	}
}

// Complete reports whether both fragments have been applied.
func (s *Store) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.haveFirst && s.haveSecond
}

// Rows returns a copy of the reference rows.
func (s *Store) Rows() [NumRows][comms.NumSensors]uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows
}

// Convert maps a raw reading of one sensor to grams.
func (s *Store) Convert(raw uint16, sensor int) (float64, error) {
	if sensor < 0 || sensor >= comms.NumSensors {
		return 0, fmt.Errorf("%w: %d", ErrSensorIndex, sensor)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.haveFirst || !s.haveSecond {
		return 0, ErrCalibrationPending
	}
	if err := s.errs[sensor]; err != nil {
		return 0, err
	}

	zero := s.rows[RowZero][sensor]
	mid := s.rows[RowMid][sensor]
	full := s.rows[RowFull][sensor]

	switch {
	case raw < zero:
		return 0, nil
	case raw >= full:
		slope := (FullReferenceGrams - MidReferenceGrams) / float64(full-mid)
		return FullReferenceGrams + slope*float64(raw-full), nil
	default:
		return s.fits[sensor].Predict(float64(raw)), nil
	}
}

// ConvertAll converts one raw value per sensor. Sensors that fail are left
// at zero and their errors are joined into the returned error.
func (s *Store) ConvertAll(values [comms.NumSensors]uint16) ([comms.NumSensors]float64, error) {
	var grams [comms.NumSensors]float64
	var errs []error
	for i, raw := range values {
		g, err := s.Convert(raw, i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		grams[i] = g
	}
	return grams, errors.Join(errs...)
}

// TotalKilograms sums per-sensor grams and truncates to whole kilograms.
func TotalKilograms(grams [comms.NumSensors]float64) int {
	var sum float64
	for _, g := range grams {
		sum += g
	}
	return int(sum / 1000)
}

// Snapshot is a JSON friendly copy of the store.
type Snapshot struct {
	Complete bool                     `json:"complete"`
	Zero     [comms.NumSensors]uint16 `json:"zero"`
	Mid      [comms.NumSensors]uint16 `json:"mid"`
	Full     [comms.NumSensors]uint16 `json:"full"`
}

// Snapshot returns the current rows.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Complete: s.haveFirst && s.haveSecond,
		Zero:     s.rows[RowZero],
		Mid:      s.rows[RowMid],
		Full:     s.rows[RowFull],
	}
}

// String renders the three rows, one line per reference.
func (s *Store) String() string {
	rows := s.Rows()
	labels := [NumRows]string{"0 kg", "17 kg", "34 kg"}
	sb := &strings.Builder{}
	sb.WriteString("calibration:\n")
	for i, row := range rows {
		fmt.Fprintf(sb, "  %-6s", labels[i])
		for j, v := range row {
			fmt.Fprintf(sb, " %s=%5d", comms.Corner(j), v)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
