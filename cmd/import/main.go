package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ticketsync/internal/app"
	"ticketsync/internal/config"
	"ticketsync/internal/ingest"
	"ticketsync/internal/logging"
	"ticketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	modeFull        = "full"
	modeIncremental = "incremental"
	modeSyncSheet   = "sync-sheet"
	modeCheck       = "check"
)

type options struct {
	configPath string
	mode       string
	lookback   string
	target     string
	xlsx       string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("import", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", envOr("CONFIG_PATH", "configs/config.yaml"), "path to the config file")
	fs.StringVarP(&opts.mode, "mode", "m", modeFull, "full, incremental, sync-sheet or check")
	fs.StringVarP(&opts.lookback, "lookback", "l", "", "incremental window: 24h, 48h, weekly, monthly or a Go duration")
	fs.StringVar(&opts.target, "target", "", "override export.mode: file or gsheet")
	fs.StringVar(&opts.xlsx, "xlsx", "", "override export.xlsx_file")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch opts.mode {
	case modeFull, modeIncremental, modeSyncSheet, modeCheck:
	default:
		return opts, fmt.Errorf("unknown mode %q", opts.mode)
	}
	switch opts.target {
	case "", models.TargetFile, models.TargetSheet:
	default:
		return opts, fmt.Errorf("unknown target %q", opts.target)
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "import-cli").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer (func() { _ = a.Close() })()

	switch opts.mode {
	case modeCheck:
		return checkConnections(ctx, a)
	case modeSyncSheet:
		return syncSheet(ctx, a, &logger)
	case modeIncremental:
		raw := opts.lookback
		if raw == "" {
			raw = cfg.Import.Lookback
		}
		lookback, err := config.ParseLookback(raw)
		if err != nil {
			return err
		}
		return report(a.Orchestrator.RunIncremental(ctx, lookback))
	default:
		return report(a.Orchestrator.RunFull(ctx))
	}
}

func applyOverrides(cfg *config.Config, opts options) error {
	if opts.target != "" {
		cfg.Export.Mode = opts.target
	}
	if opts.xlsx != "" {
		cfg.Export.XLSXFile = opts.xlsx
	}
	return cfg.Validate()
}

// syncSheet pushes the canonical dataset into the configured spreadsheet tab.
func syncSheet(ctx context.Context, a *app.App, logger *zerolog.Logger) error {
	if a.Sheets == nil {
		return errors.New("google sheets is not configured")
	}
	rows := a.Dataset.Rows()
	if err := a.Sheets.ReplaceAll(ctx, models.CanonicalHeader, rows); err != nil {
		return fmt.Errorf("sync sheet: %w", err)
	}
	logger.Info().Int("rows", len(rows)).Str("sheet", a.Sheets.SheetName()).Msg("canonical dataset mirrored")
	return nil
}

// checkConnections verifies credentials against the ticketing API and, when configured, the spreadsheet.
func checkConnections(ctx context.Context, a *app.App) error {
	if err := a.Source.TestConnection(ctx); err != nil {
		return fmt.Errorf("zendesk: %w", err)
	}
	fmt.Fprintln(os.Stdout, "Zendesk connection OK")

	if a.Sheets == nil {
		return nil
	}
	if err := a.Sheets.TestConnection(ctx); err != nil {
		return fmt.Errorf("google sheets: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Google Sheets connection OK (tab %s)\n", a.Sheets.SheetName())
	return nil
}

func report(rep *ingest.Report, err error) error {
	if rep != nil {
		fmt.Fprintln(os.Stdout, rep.Message)
		if rep.Location != "" && err == nil {
			fmt.Fprintf(os.Stdout, "Output: %s\n", rep.Location)
		}
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
