// Package cmd provides the CLI commands for the vibemcp server.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibemcp/vibemcp/internal/auth"
	"github.com/vibemcp/vibemcp/internal/config"
	"github.com/vibemcp/vibemcp/internal/index"
	"github.com/vibemcp/vibemcp/internal/lockfile"
	"github.com/vibemcp/vibemcp/internal/logging"
	vibemcp "github.com/vibemcp/vibemcp/internal/mcp"
	"github.com/vibemcp/vibemcp/internal/store"
	"github.com/vibemcp/vibemcp/internal/syncer"
	"github.com/vibemcp/vibemcp/internal/webhook"
	"github.com/vibemcp/vibemcp/internal/write"
	"github.com/vibemcp/vibemcp/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// NewRootCmd creates the root command for the vibemcp server.
func NewRootCmd() *cobra.Command {
	var forceReindex bool
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "vibemcp",
		Short: "Personal knowledge and work indexing MCP server",
		Long: `vibemcp indexes a workspace of markdown projects into a full-text
search index and exposes search, task, plan, and session operations as
MCP tools over streamable HTTP. Writes fan out to registered webhooks.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), forceReindex, readOnly)
		},
	}

	cmd.SetVersionTemplate("vibemcp version {{.Version}}\n")

	cmd.Flags().BoolVar(&forceReindex, "reindex", false, "Force a full reindex before serving")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Reject all write operations")

	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "vibemcp:", err)
		return err
	}
	return nil
}

// runServe wires the engines together and serves until the context is
// cancelled.
func runServe(ctx context.Context, forceReindex, readOnlyFlag bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if readOnlyFlag {
		cfg.ReadOnly = true
	}

	logger := logging.SetupDefault(cfg.LogLevel)
	logger.Info("starting vibemcp",
		slog.String("version", version.Version),
		slog.String("config", cfg.String()))

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return fmt.Errorf("cannot create workspace root: %w", err)
	}

	lock := lockfile.New(cfg.Root)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ix, err := index.New(cfg.Root, st, logger)
	if err != nil {
		return err
	}

	gate := auth.New(cfg.AuthToken, cfg.ReadOnly, logger)
	hooks := webhook.New(st, cfg.WebhooksEnabled, logger)
	writer := write.New(cfg.Root, gate, ix, hooks, logger)

	// The database is disposable: an empty one is rebuilt from the
	// workspace markdown on boot.
	projectCount, err := st.CountProjects(ctx)
	if err != nil {
		return err
	}
	if projectCount == 0 || forceReindex {
		count, err := ix.Reindex(ctx)
		if err != nil {
			return err
		}
		logger.Info("initial reindex complete", slog.Int("documents", count))
	}

	var sy *syncer.Syncer
	if cfg.SyncInterval > 0 {
		sy, err = syncer.New(ix, time.Duration(cfg.SyncInterval)*time.Second, logger)
		if err != nil {
			return err
		}
		sy.Start()
	}

	srv, err := vibemcp.NewServer(ix, writer, hooks, gate, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		shutdown(logger, httpServer, hooks, sy)
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdown(logger, httpServer, hooks, sy)
		return nil
	}
}

// shutdown stops the transport, drains webhook deliveries, and stops
// the background syncer. The store and lock are released by runServe's
// defers.
func shutdown(logger *slog.Logger, httpServer *http.Server, hooks *webhook.Engine, sy *syncer.Syncer) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", slog.String("error", err.Error()))
	}
	hooks.Shutdown(shutdownTimeout)
	if sy != nil {
		sy.Stop()
	}
	logger.Info("vibemcp stopped")
}
