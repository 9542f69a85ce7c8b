package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/internal/logging"
	"github.com/mlsorensen/gobalance/internal/runner"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard"
	"github.com/mlsorensen/gobalance/pkg/boards/mock"
)

func main() {
	var (
		interpreter   string
		logLevel      string
		listen        string
		interval      time.Duration
		powerOffAfter int
	)
	flag.StringVar(&interpreter, "interpreter", balanceboard.InterpreterCalibrated, "report interpreter: raw or calibrated")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.StringVar(&listen, "listen", "", "serve /ws, /healthz and /calibration on this address")
	flag.DurationVar(&interval, "interval", 250*time.Millisecond, "time between simulated sensor reports")
	flag.IntVar(&powerOffAfter, "power-off-after", 0, "simulate power off after this many reports, 0 for never")
	flag.Parse()

	logger := logging.Setup(os.Stderr, logLevel, "console")
	log.Info().Msg("gobalance mock board starting")

	cfg := mock.DefaultConfig()
	cfg.Interval = interval
	cfg.PowerOffAfter = powerOffAfter
	peripheral := mock.NewPeripheral(cfg)

	// A real program would find the device by scanning; here the simulated
	// peripheral stands in for the two L2CAP channels.
	device := &gobalance.FoundDevice{Name: "MOCK-Development-Board", ID: mock.Address}
	board := balanceboard.NewWithDialer(device, gobalance.Options{
		Interpreter: interpreter,
		Logger:      logger,
	}, peripheral.Dial)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx, board, runner.Options{In: os.Stdin, Out: os.Stdout, Listen: listen}); err != nil {
		fmt.Fprintf(os.Stderr, "mockboard: %v\n", err)
		os.Exit(1)
	}

	log.Info().Msg("session ended")
	for _, cmd := range peripheral.Commands() {
		log.Debug().Hex("command", cmd).Msg("received")
	}
}
