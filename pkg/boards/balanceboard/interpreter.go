package balanceboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/calibration"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
)

const (
	InterpreterRaw        = "raw"
	InterpreterCalibrated = "calibrated"
)

// Interpreter turns decoded reports into updates. It is chosen when the
// session is built and only ever called from the session loop.
type Interpreter interface {
	Name() string
	Interpret(r comms.Report) []gobalance.WeightUpdate
}

// NewInterpreter returns the interpreter registered under name. An empty
// name selects the calibrated interpreter.
func NewInterpreter(name string, logger zerolog.Logger) (Interpreter, error) {
	switch name {
	case InterpreterCalibrated, "":
		return NewCalibratedInterpreter(logger), nil
	case InterpreterRaw:
		return RawInterpreter{}, nil
	default:
		return nil, fmt.Errorf("unknown interpreter %q", name)
	}
}

// RawInterpreter reports every known report as a labelled byte dump.
type RawInterpreter struct{}

func (RawInterpreter) Name() string { return InterpreterRaw }

func (RawInterpreter) Interpret(r comms.Report) []gobalance.WeightUpdate {
	var label string
	switch r.(type) {
	case comms.SensorReport:
		label = "Sensor"
	case comms.CalibrationReport:
		label = "Calibration"
	case comms.StatusReport:
		label = "Status"
	default:
		return nil
	}
	return []gobalance.WeightUpdate{{
		Kind:  gobalance.KindRaw,
		Time:  time.Now(),
		Label: label,
		Raw:   r.Bytes(),
	}}
}

// CalibratedInterpreter keeps the calibration references sent by the board
// and converts sensor reports to grams.
type CalibratedInterpreter struct {
	store  *calibration.Store
	logger zerolog.Logger
}

func NewCalibratedInterpreter(logger zerolog.Logger) *CalibratedInterpreter {
	return &CalibratedInterpreter{store: calibration.NewStore(), logger: logger}
}

func (c *CalibratedInterpreter) Name() string { return InterpreterCalibrated }

// Store exposes the calibration references received so far.
func (c *CalibratedInterpreter) Store() *calibration.Store { return c.store }

func (c *CalibratedInterpreter) Interpret(r comms.Report) []gobalance.WeightUpdate {
	now := time.Now()
	switch p := r.(type) {
	case comms.StatusReport:
		c.logger.Info().Uint8("battery", p.Battery).Bool("extension", p.ExtensionConnected).Msg("status report")
		return []gobalance.WeightUpdate{{
			Kind:               gobalance.KindStatus,
			Time:               now,
			Battery:            p.Battery,
			ExtensionConnected: p.ExtensionConnected,
			Raw:                p.Raw,
		}}

	case comms.CalibrationReport:
		c.store.Apply(p)
		c.logger.Debug().Bool("second", p.Second).Str("raw", comms.Dump(p.Raw)).Msg("calibration fragment")
		if !c.store.Complete() {
			return nil
		}
		c.logger.Info().Msg("calibration complete")
		return []gobalance.WeightUpdate{{
			Kind:  gobalance.KindCalibration,
			Time:  now,
			Label: c.store.String(),
			Raw:   p.Raw,
		}}

	case comms.SensorReport:
		if !p.Complete {
			return nil
		}
		grams, err := c.store.ConvertAll(p.Values)
		if errors.Is(err, calibration.ErrCalibrationPending) {
			c.logger.Debug().Msg("sensor report before calibration, skipped")
			return nil
		}
		var total float64
		for _, g := range grams {
			total += g
		}
		return []gobalance.WeightUpdate{{
			Kind:      gobalance.KindWeight,
			Time:      now,
			Value:     total,
			Unit:      "g",
			Corners:   grams,
			Kilograms: calibration.TotalKilograms(grams),
			Raw:       p.Raw,
			Error:     err,
		}}
	}
	return nil
}
