package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/rolodex/internal/config"
	"github.com/roach88/rolodex/internal/manager"
	"github.com/roach88/rolodex/internal/notify"
)

// session is an open database plus everything a command needs around it.
type session struct {
	cfg      *config.Config
	mgr      *manager.Manager
	logger   *slog.Logger
	out      *OutputFormatter
	registry *prometheus.Registry // nil unless metrics are enabled
	closers  []io.Closer
}

// loadConfig reads the config file named by --config and applies --db.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

// newLogger writes text logs to stderr at the configured level, or debug
// with --verbose.
func (o *RootOptions) newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openSession loads config and opens the manager. Failures are reported
// through the formatter and returned as ExitErrors.
func openSession(cmd *cobra.Command, o *RootOptions) (*session, error) {
	out := o.formatter(cmd)

	cfg, err := o.loadConfig()
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), o.ConfigPath)
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	s := &session{cfg: cfg, out: out, logger: o.newLogger(cmd, cfg)}

	mopts := []manager.Option{
		manager.WithLogger(s.logger),
		manager.WithQueueSize(cfg.Worker.QueueSize),
		manager.WithWaitTimeout(cfg.Worker.WaitTimeout),
		manager.WithMergePresenceChanges(cfg.MergePresenceChanges),
	}

	if cfg.Notify.RedisURL != "" {
		sink, err := notify.NewRedisSink(cfg.Notify.RedisURL, cfg.Notify.Channel)
		if err != nil {
			_ = out.Error(ErrCodeConfig, err.Error(), cfg.Notify.RedisURL)
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		s.closers = append(s.closers, sink)
		mopts = append(mopts, manager.WithSink(sink))
	}

	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		mopts = append(mopts, manager.WithMetrics(s.registry))
	}

	out.VerboseLog("opening database %s", cfg.Database)
	mgr, err := manager.Open(cfg.Database, mopts...)
	if err != nil {
		_ = s.closeSinks()
		_ = out.Error(ErrCodeStorage, err.Error(), cfg.Database)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	s.mgr = mgr
	return s, nil
}

func (s *session) closeSinks() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// close shuts the manager down, then the sinks it was publishing to.
func (s *session) close() error {
	err := s.mgr.Close()
	return errors.Join(err, s.closeSinks())
}

// withSession opens a session, runs fn and closes the session. A close
// failure is logged; fn's error wins.
func withSession(cmd *cobra.Command, o *RootOptions, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd, o)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			s.logger.Error("error closing database", "error", cerr)
		}
	}()
	return fn(commandContext(cmd), s)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
