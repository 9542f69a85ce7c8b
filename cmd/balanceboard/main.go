package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/internal/config"
	"github.com/mlsorensen/gobalance/internal/logging"
	"github.com/mlsorensen/gobalance/internal/runner"
	"github.com/mlsorensen/gobalance/pkg/console"

	// Registers the balance board driver with the gobalance factory.
	_ "github.com/mlsorensen/gobalance/pkg/boards/all"
)

func main() {
	var (
		configFile      string
		interpreter     string
		logLevel        string
		listen          string
		natsURL         string
		discoverTimeout time.Duration
	)
	flag.StringVar(&configFile, "config", config.DefaultPath, "config file path")
	flag.StringVar(&interpreter, "interpreter", "", "report interpreter: raw or calibrated")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.StringVar(&listen, "listen", "", "serve /ws, /healthz and /calibration on this address")
	flag.StringVar(&natsURL, "nats", "", "publish updates to this NATS server")
	flag.DurationVar(&discoverTimeout, "discover-timeout", 0, "how long to search for the board")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [XX:XX:XX:XX:XX:XX]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if interpreter != "" {
		cfg.Interpreter = interpreter
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if listen != "" {
		cfg.Stream.Listen = listen
	}
	if natsURL != "" {
		cfg.Stream.NATSURL = natsURL
	}
	if discoverTimeout > 0 {
		cfg.Discovery.Timeout = discoverTimeout
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address := resolveAddress(ctx, flag.Arg(0), cfg)

	device := &gobalance.FoundDevice{Name: cfg.Discovery.Name, ID: address}
	board, err := gobalance.NewBoardForDevice(device, gobalance.Options{
		Interpreter:    cfg.Interpreter,
		PollInterval:   cfg.PollInterval,
		ReceiveTimeout: cfg.ReceiveTimeout,
		ControlPSM:     cfg.Transport.ControlPSM,
		DataPSM:        cfg.Transport.DataPSM,
		Logger:         logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("could not create board instance")
	}

	err = runner.Run(ctx, board, runner.Options{
		In:          os.Stdin,
		Out:         os.Stdout,
		Listen:      cfg.Stream.Listen,
		NATSURL:     cfg.Stream.NATSURL,
		NATSSubject: cfg.Stream.NATSSubject,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(os.Args[0]), err)
		os.Exit(1)
	}

	fmt.Print(console.ReuseHint(filepath.Base(os.Args[0]), address))
}

// resolveAddress prefers a valid command line address, then the configured
// one, then a device found by name, then the compiled-in default.
func resolveAddress(ctx context.Context, arg string, cfg *config.Config) string {
	if arg != "" {
		if gobalance.ValidAddress(arg) {
			return arg
		}
		log.Warn().Str("address", arg).Msg("invalid address, searching for the board instead")
	}
	if gobalance.ValidAddress(cfg.Address) {
		return cfg.Address
	}

	log.Info().Str("name", cfg.Discovery.Name).Dur("timeout", cfg.Discovery.Timeout).Msg("searching for board, press its red sync button")
	ctx, cancel := context.WithTimeout(ctx, cfg.Discovery.Timeout)
	defer cancel()

	dev, err := gobalance.FindFirst(ctx, cfg.Discovery.Name)
	if err != nil {
		log.Warn().Err(err).Str("address", cfg.Discovery.DefaultAddress).Msg("board not found, using default address")
		return cfg.Discovery.DefaultAddress
	}
	log.Info().Str("address", dev.ID).Int("rssi", dev.RSSI).Msg("found board")
	return dev.ID
}
