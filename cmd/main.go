package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/admin"
	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/engine"
	"github.com/gamma-omg/cycle-trader/internal/ledger"
	"github.com/gamma-omg/cycle-trader/internal/logger"
	"github.com/gamma-omg/cycle-trader/internal/scheduler"
	"github.com/gamma-omg/cycle-trader/internal/strategy"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *strategy.Registry
	engine   *engine.Engine
}

func setup(cmd *cli.Command) (*app, error) {
	cfg, err := config.ReadFromFile(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	l, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	registry, err := strategy.NewRegistry(cfg.Strategies, strategy.DefaultCatalog())
	if err != nil {
		return nil, err
	}

	openVenue, err := engine.NewVenueOpener(l, cfg.VenueRef)
	if err != nil {
		return nil, err
	}

	var opts []engine.Option
	if cfg.Debug.PlotDir != "" {
		opts = append(opts, engine.WithPlotDir(cfg.Debug.PlotDir))
	}
	if dir := cmd.String("dump-bars"); dir != "" {
		opts = append(opts, engine.WithBarsDump(dir))
	}

	e := engine.New(l, cfg, registry, openVenue, engine.OpenLedgerFile(cfg.Ledger.Path), opts...)
	return &app{cfg: cfg, log: l, registry: registry, engine: e}, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	sched := scheduler.New(a.log, a.engine)
	for _, e := range a.registry.List() {
		if err := sched.Add(e.Name, e.Schedule); err != nil {
			return fmt.Errorf("failed to schedule strategy %s: %w", e.Name, err)
		}
	}

	if a.cfg.Report.Schedule != "" && a.cfg.Report.Path != "" {
		err := sched.AddReport(a.cfg.Report.Schedule, func(ctx context.Context) error {
			return writeReport(ctx, a.cfg.Ledger.Path, a.cfg.Report.Path)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule report: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var srv *admin.Server
	if a.cfg.Admin.Addr != "" {
		srv = admin.NewServer(a.log, a.cfg.Admin.Addr, a.registry, sched, a.engine, func() (admin.Ledger, error) {
			return ledger.Open(a.cfg.Ledger.Path)
		})
		g.Go(srv.ListenAndServe)
	}

	sched.Start()
	a.log.Info("scheduler started", zap.Int("strategies", len(a.registry.List())))

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down, waiting for running cycles")
		<-sched.Stop().Done()

		if srv == nil {
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func cycleAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Bool("all") {
		return a.engine.RunAll(ctx)
	}

	name := cmd.String("strategy")
	if name == "" {
		return errors.New("either --strategy or --all is required")
	}

	rep, err := a.engine.RunCycle(ctx, name)
	if printErr := printJSON(rep); printErr != nil {
		return printErr
	}

	return err
}

func summaryAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.ReadFromFile(cmd.String("config"))
	if err != nil {
		return err
	}

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := store.Summary(ctx)
	if err != nil {
		return err
	}

	return printJSON(s)
}

func reportAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.ReadFromFile(cmd.String("config"))
	if err != nil {
		return err
	}

	out := cmd.String("out")
	if out == "" {
		out = cfg.Report.Path
	}
	if out == "" {
		return errors.New("report path is not configured, use --out")
	}

	return writeReport(ctx, cfg.Ledger.Path, out)
}

func writeReport(ctx context.Context, ledgerPath, out string) (err error) {
	store, err := ledger.Open(ledgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close report file: %w", cerr)
		}
	}()

	return store.WriteReport(ctx, f)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cmd := &cli.Command{
		Name:  "cycle-trader",
		Usage: "Run trading strategies against an exchange on a schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration",
				Value:   "config.yaml",
				Sources: cli.EnvVars("CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Schedule every strategy and serve the admin API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dump-bars",
						Usage: "Write the bars of every evaluated symbol as CSV into `DIR`",
					},
				},
				Action: runAction,
			},
			{
				Name:  "cycle",
				Usage: "Run one cycle immediately",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "strategy",
						Aliases: []string{"s"},
						Usage:   "Strategy name",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Run every enabled strategy",
					},
					&cli.StringFlag{
						Name:  "dump-bars",
						Usage: "Write the bars of every evaluated symbol as CSV into `DIR`",
					},
				},
				Action: cycleAction,
			},
			{
				Name:   "summary",
				Usage:  "Print the trade ledger summary",
				Action: summaryAction,
			},
			{
				Name:  "report",
				Usage: "Write the JSON trade report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Report file, defaults to report.path",
					},
				},
				Action: reportAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
