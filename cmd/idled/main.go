// Command idled runs the idle notification daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkkko/idled/internal/config"
	"github.com/nkkko/idled/internal/engine"
	"github.com/nkkko/idled/internal/logging"
	flag "github.com/spf13/pflag"
)

var version = "dev"

func main() {
	var (
		configPath  string
		overrides   config.Overrides
		showVersion bool
	)

	flag.StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	flag.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "Journal data directory")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flag.StringVar(&overrides.FIFOPath, "fifo", "", "FIFO or file to read seat activity from")
	flag.StringArrayVar(&overrides.Seats, "seat", nil, "Seat to track (repeatable)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("idled", version)
		return
	}

	if err := run(configPath, overrides); err != nil {
		fmt.Fprintf(os.Stderr, "idled: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, overrides config.Overrides) error {
	cfg, err := config.LoadConfig(configPath, overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logging.Setup(cfg.ToLoggingConfig()); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}

	e, err := engine.CreateEngine(cfg)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := e.Start(ctx)
	if runErr != nil {
		logger := logging.Component("main")
		logger.Error().Err(runErr).Msg("Engine stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return runErr
}
