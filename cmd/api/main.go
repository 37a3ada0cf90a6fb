package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/evident/internal/adapters/http"
	mcpadapter "github.com/kirillkom/evident/internal/adapters/mcp"
	"github.com/kirillkom/evident/internal/bootstrap"
	"github.com/kirillkom/evident/internal/config"
	"github.com/kirillkom/evident/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger("evident-api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	opts := []httpadapter.Option{httpadapter.WithMetrics(app.Metrics, app.Metrics.Handler())}
	if cfg.MCPEnabled {
		mcpServer := mcpadapter.New(app.QueryUC, version, app.Metrics)
		opts = append(opts, httpadapter.WithMCP(mcpServer.HTTPHandler(httpadapter.PrincipalFromRequest)))
	}
	router := httpadapter.NewRouter(cfg, app.QueryUC, app.AuditReader, opts...).Handler()

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Pipeline.EmbedTimeout*2 + cfg.Pipeline.GenerateTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "addr", server.Addr, "version", version, "mcp_enabled", cfg.MCPEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
