package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sandahltim/RFID3-sub003/internal/config"
	"github.com/sandahltim/RFID3-sub003/internal/metrics"
	"github.com/sandahltim/RFID3-sub003/internal/metrics/datadog"
	"github.com/sandahltim/RFID3-sub003/internal/schema"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

type app struct {
	cfgPath string
	verbose bool

	cfg config.Config
	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "recon",
		Short: "Cross-system inventory reconciliation engine",
		Long: `recon ingests POS and RFID exports into a relational store,
normalizes them, and correlates equipment records against inventory
items with tiered confidence scores.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to config file (json/yaml/toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newIngestCmd(a),
		newResolveCmd(a),
		newReportCmd(a),
		newServeCmd(a),
		newScheduleCmd(a),
		newPurgeCmd(a),
		newProbeCmd(a),
	)
	return root
}

func (a *app) setup() error {
	// A local .env is optional; real deployments set env directly.
	_ = godotenv.Load()

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log = logrus.New()
	a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// openRepo connects the configured backend and ensures the schema exists.
func (a *app) openRepo(ctx context.Context) (storage.Repository, error) {
	repo, err := storage.New(ctx, storage.Config{
		Kind: a.cfg.Storage.Kind,
		DSN:  os.ExpandEnv(a.cfg.Storage.DSN),
	})
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx, schema.Types()); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// openMetrics returns the configured metrics backend. Errors are logged
// and degrade to Noop rather than failing the run.
func (a *app) openMetrics(ctx context.Context) metrics.Backend {
	if a.cfg.Metrics.Kind != "datadog" {
		return metrics.Noop{}
	}
	be, err := datadog.NewBackend(ctx, datadog.Options{
		JobName: a.cfg.Metrics.JobName,
		Tags:    a.cfg.Metrics.Tags,
	})
	if err != nil {
		a.log.WithError(err).Warn("datadog metrics unavailable, continuing without")
		return metrics.Noop{}
	}
	return be
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// logAdapter exposes logrus through the small Printf interface the
// engine packages log against.
type logAdapter struct{ l *logrus.Logger }

func (a logAdapter) Printf(format string, v ...any) { a.l.Infof(format, v...) }
