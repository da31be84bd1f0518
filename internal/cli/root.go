// Package cli implements crmctl, a command line client that drives the
// entity stores against any configured backend.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crmcore/internal/backend"
	"crmcore/internal/core"
	"crmcore/internal/infra/cache"
	"crmcore/internal/infra/metrics/prom"
	"crmcore/internal/infra/notify"
)

// app holds the state shared by every command of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	settings   settings
	stdout     io.Writer
	stderr     io.Writer

	logger   *slog.Logger
	backend  backend.Backend
	cache    *cache.QueryCache
	stores   *core.Stores
	registry *prometheus.Registry
	metrics  *prom.Recorder
}

// Execute runs crmctl with args and releases every resource it opened.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{v: newViper(), stdout: stdout, stderr: stderr}
	root := a.command()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crmctl",
		Short:         "Manage contacts, companies, deals, activities and pipelines.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.settings = s
			a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: s.LogLevel}))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./.crmctl.yaml or $HOME/.crmctl.yaml)")
	flags.String("driver", "", "storage driver: memory, sqlite, postgres or http")
	flags.String("sqlite-path", "", "sqlite database file")
	flags.String("api-url", "", "remote API base url for driver=http")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.StringP("output", "o", "", "output format: table or json")
	flags.Bool("no-color", false, "disable colored output")
	flags.Int("max-bulk", 0, "maximum number of records per bulk operation")
	flags.Bool("trace", false, "write operation spans to stderr as JSON lines")
	flags.Bool("read-only", false, "reject mutations")
	if err := bindFlags(a.v, flags, map[string]string{
		"driver":      keyStorageDriver,
		"sqlite-path": keySQLitePath,
		"api-url":     keyAPIURL,
		"log-level":   keyLogLevel,
		"output":      keyOutput,
		"no-color":    keyNoColor,
		"max-bulk":    keyMaxBulk,
		"trace":       keyTrace,
		"read-only":   keyReadOnly,
	}); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		a.contactCommand(),
		a.companyCommand(),
		a.activityCommand(),
		a.pipelineCommand(),
		a.dealCommand(),
		a.serveCommand(),
	)
	return cmd
}

// open connects the backend and builds the stores on first use.
func (a *app) open(ctx context.Context) (*core.Stores, error) {
	if a.stores != nil {
		return a.stores, nil
	}
	cfg := a.settings.Backend
	cfg.Logger = a.logger
	be, err := backend.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", displayDriver(cfg.Driver), err)
	}
	qc, err := cache.New(cache.DefaultCapacity, cache.WithLogger(a.logger))
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	a.registry = prometheus.NewRegistry()
	metrics, err := prom.New(a.registry, prom.DefaultNamespace)
	if err != nil {
		_ = qc.Close()
		_ = be.Close()
		return nil, err
	}

	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithMetricsRecorder(metrics),
	}
	if a.settings.MaxBulk > 0 {
		opts = append(opts, core.WithMaxBulkSize(a.settings.MaxBulk))
	}
	if a.settings.Trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(a.stderr)))
	}
	notifier := notify.Multi{notify.NewConsole(a.stderr, a.settings.NoColor), notify.NewLog(a.logger)}

	a.backend, a.cache, a.metrics = be, qc, metrics
	a.stores = core.NewStores(be, qc, notifier, opts...)
	a.logger.Debug("stores opened", "driver", displayDriver(cfg.Driver))
	return a.stores, nil
}

func (a *app) close() error {
	var errs []error
	if a.stores != nil {
		errs = append(errs, a.stores.Close())
	}
	// Closing twice is a no-op, so this also covers stores that never opened.
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
		if a.logger != nil {
			a.logger.Debug("query cache closed", "stats", a.cache.Stats())
		}
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	a.stores, a.cache, a.backend = nil, nil, nil
	return errors.Join(errs...)
}

func displayDriver(d backend.Driver) backend.Driver {
	if d == "" {
		return backend.DriverSQLite
	}
	return d
}
