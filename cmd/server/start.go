package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joungwonlim/aegis-v3/internal/app"
	"github.com/joungwonlim/aegis-v3/internal/config"
	"github.com/joungwonlim/aegis-v3/pkg/logger"
)

// Exit codes, per the operator contract: 0 on a clean shutdown, 1 when
// the process could not come up at all, 130 on an interrupt signal
// (the conventional 128+SIGINT).
const (
	exitOK        = 0
	exitInitError = 1
	exitInterrupt = 130
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the decision core in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runStart())
			return nil
		},
	}
}

func runStart() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load configuration:", err)
		return exitInitError
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting aegis-v3")

	if err := writePIDFile(cfg.DataDir); err != nil {
		log.Error().Err(err).Msg("could not write pid file")
		return exitInitError
	}
	defer removePIDFile(cfg.DataDir)

	deps, err := buildDeps(cfg)
	if err != nil {
		log.Error().Err(err).Msg("dependency wiring failed")
		return exitInitError
	}

	container, err := app.Wire(cfg, log, deps)
	if err != nil {
		log.Error().Err(err).Msg("failed to wire dependencies")
		return exitInitError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start")
		return exitInitError
	}
	log.Info().Int("port", cfg.Port).Msg("aegis-v3 started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	caught := <-sig
	log.Info().Str("signal", caught.String()).Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	container.Shutdown(shutdownCtx)

	if caught == syscall.SIGINT {
		return exitInterrupt
	}
	return exitOK
}

// buildDeps assembles the vendor-specific collaborators the decision
// core itself never implements (brokerage wire protocol, LLM reasoners,
// feed parsers). None exist in this repository by design; an operator
// deployment supplies them via a separate integration package and links
// them in here before building.
func buildDeps(cfg *config.Config) (app.Deps, error) {
	return app.Deps{}, fmt.Errorf("no broker.REST implementation is linked into this build; wire one in buildDeps before running start")
}
