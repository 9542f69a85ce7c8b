// Package runner drives a connected board for the command line tools: it
// wires the stop listener, the live outputs and console rendering around the
// board's update channel.
package runner

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/calibration"
	"github.com/mlsorensen/gobalance/pkg/console"
	"github.com/mlsorensen/gobalance/pkg/stream"
)

// Options selects the outputs of a run.
type Options struct {
	// In is watched for a stop request. Nil disables the listener.
	In *os.File
	// Out receives rendered updates. Nil discards them.
	Out io.Writer

	Listen      string
	NATSURL     string
	NATSSubject string
}

// listen is replaced in tests.
var listen = console.Listen

type calibrationSource interface {
	Calibration() (calibration.Snapshot, bool)
}

// Run connects board and renders its updates until the session ends. It
// returns the error that ended the session.
func Run(ctx context.Context, board gobalance.Board, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.Out == nil {
		opts.Out = io.Discard
	}

	var sinks []stream.Sink
	if opts.Listen != "" {
		hub := stream.NewHub()
		var calib stream.CalibrationFunc
		if src, ok := board.(calibrationSource); ok {
			calib = src.Calibration
		}
		srv := stream.NewServer(hub, calib)
		go func() {
			if err := srv.ListenAndServe(ctx, opts.Listen); err != nil {
				log.Error().Err(err).Msg("stream server stopped")
			}
		}()
		sinks = append(sinks, hub)
	}
	if opts.NATSURL != "" {
		pub, err := stream.DialNATS(opts.NATSURL, opts.NATSSubject)
		if err != nil {
			log.Warn().Err(err).Msg("NATS output disabled")
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	updates, err := board.Connect(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("address", board.Address()).Msg("connected, press Enter to stop")

	// The keyboard listener holds the terminal in raw mode until it returns,
	// so Run does not return before it.
	listenerDone := make(chan struct{})
	if opts.In != nil {
		go func() {
			defer close(listenerDone)
			listen(ctx, opts.In, func() { _ = board.Disconnect() })
		}()
	} else {
		close(listenerDone)
	}

	for u := range stream.Tee(updates, sinks...) {
		if err := console.Render(opts.Out, u); err != nil {
			log.Debug().Err(err).Msg("render")
		}
	}
	err = board.Wait()
	cancel()
	<-listenerDone
	return err
}
