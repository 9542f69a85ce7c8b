package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/internal/logging"
	_ "github.com/mlsorensen/gobalance/pkg/boards/all"
)

func main() {
	scanDuration := flag.Duration("duration", 15*time.Second, "how long to scan")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logging.Setup(os.Stderr, *logLevel, "console")
	log.Info().Msg("--- gobalance scanner ---")
	log.Info().Dur("duration", *scanDuration).Msg("starting Bluetooth inquiry")
	log.Info().Msg("Press the red sync button under the battery cover now.")

	// With no arguments every registered prefix is searched, e.g.
	// "Nintendo RVL-WBC". Names given on the command line replace them.
	devices, err := gobalance.Scan(*scanDuration, flag.Args()...)
	if err != nil {
		log.Fatal().Err(err).Msg("scan failed")
	}

	// --- Print the results ---
	if len(devices) == 0 {
		log.Info().Msg("Scan complete. No supported devices found.")
		log.Info().Msg("Tip: make sure the board is on and in sync mode, and that you have an implementation for it.")
		return
	}
	fmt.Println("\n--- Found Supported Devices ---")
	for i, device := range devices {
		fmt.Printf("%d: Name: %s\n", i+1, device.Name)
		fmt.Printf("   ID:   %s\n", device.ID)
		fmt.Printf("   RSSI: %d\n\n", device.RSSI)
	}
	fmt.Println("-----------------------------")
}
