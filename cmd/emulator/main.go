package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/engine"
	"github.com/gamma-omg/cycle-trader/internal/ledger"
	"github.com/gamma-omg/cycle-trader/internal/logger"
	"github.com/gamma-omg/cycle-trader/internal/strategy"
	"github.com/gamma-omg/cycle-trader/internal/venue/emulator"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// replayClock follows the emulator's bar time and never sleeps.
type replayClock struct {
	emu *emulator.Emulator
}

func (c replayClock) Now() time.Time {
	return c.emu.Time()
}

func (c replayClock) Wait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func replayAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.ReadFromFile(cmd.String("config"))
	if err != nil {
		return err
	}

	cfgEmu, ok := cfg.VenueRef.Venue.(config.Emulator)
	if !ok {
		return errors.New("replay requires the emulator venue")
	}

	l, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer l.Sync()

	emu, err := emulator.NewEmulator(l, cfgEmu)
	if err != nil {
		return err
	}

	for _, symbol := range cfg.Market.Symbols {
		if !slices.Contains(emu.Symbols(), symbol) {
			return fmt.Errorf("no replay data for symbol %s", symbol)
		}
	}

	registry, err := strategy.NewRegistry(cfg.Strategies, strategy.DefaultCatalog())
	if err != nil {
		return err
	}

	opts := []engine.Option{engine.WithClock(replayClock{emu})}
	if cfg.Debug.PlotDir != "" {
		opts = append(opts, engine.WithPlotDir(cfg.Debug.PlotDir))
	}

	e := engine.New(l, cfg, registry, engine.SharedVenue(emu), engine.OpenLedgerFile(cfg.Ledger.Path), opts...)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	steps := 0
	for emu.Advance() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.RunAll(ctx); err != nil {
			l.Warn("replay step failed", zap.Time("time", emu.Time()), zap.Error(err))
		}
		steps++
	}
	l.Info("replay finished", zap.Int("steps", steps))

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Report.Path != "" {
		f, err := os.Create(cfg.Report.Path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()

		if err := store.WriteReport(ctx, f); err != nil {
			return err
		}
	}

	s, err := store.Summary(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func main() {
	cmd := &cli.Command{
		Name:  "emulator",
		Usage: "Replay historical bars through every enabled strategy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration",
				Value:   "config.yaml",
				Sources: cli.EnvVars("CONFIG"),
			},
		},
		Action: replayAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
