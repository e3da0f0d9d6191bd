package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rickgao/wsdemo/internal/buffer"
	"github.com/rickgao/wsdemo/internal/config"
	"github.com/rickgao/wsdemo/internal/database"
	"github.com/rickgao/wsdemo/internal/journal"
	"github.com/rickgao/wsdemo/internal/metrics"
	"github.com/rickgao/wsdemo/internal/sink"
	"github.com/rickgao/wsdemo/internal/view"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Mount the connection demo view",
	Long: `Mounts the connection demo view, prints its rendered HTML and logs the
connection lifecycle to ws://localhost:3000 until interrupted.`,
	RunE: runView,
}

func init() {
	viewCmd.Flags().String("metrics-addr", "", "serve view metrics on this address (disabled when empty)")
	rootCmd.AddCommand(viewCmd)
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		bound, stopMetrics, err := startMetricsServer(addr, cfg.Metrics.Path, reg, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
		logger.Info("serving view metrics", "addr", bound.String(), "path", cfg.Metrics.Path)
	}

	session := uuid.New()
	var diag sink.Sink = sink.NewConsole(logger)

	if cfg.Journal.Enabled {
		journalSink, closeJournal, err := startJournal(ctx, cfg.Journal, diag, session, logger)
		if err != nil {
			return err
		}
		defer closeJournal()
		diag = journalSink
	}

	v := view.New(
		view.WithSink(diag),
		view.WithLogger(logger),
		view.WithSessionID(session),
		view.WithMetrics(m),
		view.WithOpener(view.DefaultOpener(clientConfig(cfg.View), logger)),
	)

	if err := v.RenderHTML(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout())

	if err := v.Mount(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	unmountCtx, cancel := context.WithTimeout(context.Background(), cfg.View.CloseTimeout+cfg.View.WriteTimeout)
	defer cancel()
	if err := v.Unmount(unmountCtx); err != nil {
		logger.Warn("unmount did not complete", "error", err)
	}

	logger.Info("view stopped")
	return nil
}

// startJournal connects to the database and wraps inner with a journal
// sink. The returned func flushes the writer and closes the pool.
func startJournal(ctx context.Context, cfg config.JournalConfig, inner sink.Sink, session uuid.UUID, logger *slog.Logger) (sink.Sink, func(), error) {
	pool, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect journal database: %w", err)
	}

	if err := journal.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	entries := buffer.New[journal.Entry](cfg.BufferSize)
	writer := journal.NewWriter(journal.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, entries, pool, logger)

	// The writer outlives the signal: Stop in closeFn does the final flush.
	if err := writer.Start(context.WithoutCancel(ctx)); err != nil {
		pool.Close()
		return nil, nil, err
	}

	closeFn := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := writer.Stop(stopCtx); err != nil {
			logger.Warn("journal writer stop failed", "error", err)
		}
		entries.Close()
		pool.Close()
		logger.Info("journal closed",
			"stats", fmt.Sprintf("%+v", writer.Stats()),
			"queue", fmt.Sprintf("%+v", entries.Stats()),
		)
	}

	return journal.NewSink(inner, session, entries), closeFn, nil
}

// startMetricsServer serves the gatherer at path on addr. The returned func
// shuts the server down.
func startMetricsServer(addr, path string, g prometheus.Gatherer, logger *slog.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Debug("metrics server shutdown", "error", err)
		}
	}
	return ln.Addr(), stop, nil
}
