package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/rolodex/internal/contact"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print change sets as they are committed",
		Long: `Keep the database open and print every committed change set until
interrupted.

When metrics are enabled in the config, the scheduler metrics are served
on metrics.addr under /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, runWatch)
		},
	}
}

func runWatch(parent context.Context, s *session) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.registry != nil {
		srv := &http.Server{
			Addr:              s.cfg.Metrics.Addr,
			Handler:           metricsMux(s),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server failed", "addr", srv.Addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		s.logger.Info("serving metrics", "addr", srv.Addr)
	}

	unsubscribe := s.mgr.Subscribe(func(cs contact.ChangeSet) {
		if err := s.out.Success(changeView{cs}); err != nil {
			s.logger.Error("failed to print change set", "id", cs.ID, "error", err)
		}
	})
	defer unsubscribe()

	s.out.VerboseLog("watching %s", s.cfg.Database)
	<-ctx.Done()
	return nil
}

func metricsMux(s *session) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}
