package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/api"
	"github.com/JakeFAU/sitecrawl/internal/engine"
	"github.com/JakeFAU/sitecrawl/internal/index"
	"github.com/JakeFAU/sitecrawl/internal/metrics"
)

// newServeCmd runs the HTTP API until SIGINT/SIGTERM.
func newServeCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawl management HTTP API",
		Long: `Serves the REST API for starting, pausing, resuming, stopping, and searching
crawls, plus /healthz, /readyz, and /metrics. PORT overrides server.port.`,
		Args: cobra.NoArgs,
		RunE: runServeCommand,
	}
	cmd.Flags().Int("port", 8080, "listen port")
	root.bindFlag(cmd, "server.port", "port")
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	ctx := cmd.Context()

	port := cfg.Server.Port
	if raw := os.Getenv("PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", raw, err)
		}
		port = p
	}

	// Crawls outlive requests; they stop through StopAll on shutdown.
	manager := engine.NewManager(context.WithoutCancel(ctx), func(opts engine.Options) (engine.Deps, error) {
		return appInstance.Deps(opts)
	}, logger.Named("manager"))

	apiCfg := api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		SearchMode:     index.Mode(cfg.Index.Mode),
		MaxResults:     cfg.Index.MaxResults,
	}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	httpMetrics, err := metrics.NewHTTP(appInstance.Registry())
	if err != nil {
		return err
	}
	apiOpts := []api.Option{
		api.WithGatherer(appInstance.Registry()),
		api.WithMetrics(httpMetrics),
		api.WithLogger(logger.Named("api")),
	}
	if runs := appInstance.Runs(); runs != nil {
		apiOpts = append(apiOpts, api.WithRuns(runs))
	}
	apiServer := api.NewServer(manager, appInstance.CrawlOptions, apiCfg, apiOpts...)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := manager.StopAll(shutdownCtx); err != nil {
		logger.Warn("stopping crawls", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return serveErr
}
