// Command mentoring is an interactive console over the mentoring service.
//
// The event store is picked with ES_BACKEND (memory, sqlite, postgres, redis
// or nats); see config.go for the other variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tstuttard/eventsourcing/adapters/postgres"
	promadapter "github.com/tstuttard/eventsourcing/adapters/prometheus"
	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/examples/mentoring"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	logLevel string
	logJSON  bool
	backend  string
}

func newRootCommand() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "mentoring",
		Short:         "Event-sourced mentoring platform console",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if flags.backend != "" {
				cfg.Backend = flags.backend
			}
			log := newLogger(flags.logLevel, flags.logJSON)
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return runConsole(ctx, cfg, log, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "debug, info, warn or error")
	cmd.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "log as JSON")
	cmd.Flags().StringVar(&flags.backend, "backend", "", "overrides ES_BACKEND")
	cmd.AddCommand(newMigrateCommand(&flags))
	return cmd
}

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(flags.logLevel, flags.logJSON)
			if err := postgres.Migrate(cmd.Context(), cfg.Postgres.DSN, cfg.Postgres.MigrationLockID); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

// newLogger returns a slog logger writing through charmbracelet/log.
func newLogger(level string, asJSON bool) *slog.Logger {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		lvl = charmlog.WarnLevel
	}
	h := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           lvl,
	})
	if asJSON {
		h.SetFormatter(charmlog.JSONFormatter)
	}
	return slog.New(h)
}

func runConsole(ctx context.Context, cfg config, log *slog.Logger, in io.Reader, out io.Writer) (err error) {
	strategy, err := parseCommitStrategy(cfg.CommitStrategy)
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, be.release()) }()

	reg := promadapter.NewRegistry()
	proj := mentoring.NewProjection(be.models, log)
	env, err := es.NewEnv(
		es.WithCtx(ctx),
		es.WithLog(log),
		es.WithStore(be.store),
		es.WithMetrics(promadapter.NewESMetrics(reg)),
		es.WithCommitStrategy(strategy),
		es.WithSubscriptions(proj.Register),
	)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, env.Shutdown()) }()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promadapter.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
	}

	svc := mentoring.NewService(env, log, mentoring.ServiceConfig{MaxRetries: cfg.MaxRetries})
	defer svc.Close()

	log.Info("ready", slog.String("backend", cfg.Backend), slog.String("strategy", strategy.String()))
	c := &console{svc: svc, proj: proj, in: in, out: out}
	return c.run(ctx)
}
