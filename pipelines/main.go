package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/driftline-labs/driftline-go/internal/engine"
	"github.com/driftline-labs/driftline-go/internal/engine/interpreter"
	"github.com/driftline-labs/driftline-go/internal/pipelinedef"
	"github.com/driftline-labs/driftline-go/internal/platform/auth"
	"github.com/driftline-labs/driftline-go/internal/platform/env"
	"github.com/driftline-labs/driftline-go/internal/platform/httpserver"
	"github.com/driftline-labs/driftline-go/internal/platform/postgres"
	repopg "github.com/driftline-labs/driftline-go/internal/repo/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("PIPELINES_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("PIPELINES_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	pipelineCfg, err := loadPipelineConfig()
	if err != nil {
		logger.Error("invalid pipeline config", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	eng, err := newEngine()
	if err != nil {
		logger.Error("invalid engine config", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("pipelines"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"pipelines",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
		),
	)

	api := newPipelinesAPI(logger, pipelineCfg, eng, repopg.NewExecutionStore(db), db)
	api.register(mux)

	handler := auth.NewMiddleware(authenticator, logger, "/healthz", "/readyz").Wrap(mux)

	cfg := httpserver.Config{
		Service:         "pipelines",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "pipelines", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func loadPipelineConfig() (pipelinedef.Config, error) {
	path := strings.TrimSpace(env.String("DRIFTLINE_PIPELINES_CONFIG", ""))
	if path == "" {
		return pipelinedef.DefaultConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return pipelinedef.Config{}, err
	}
	return pipelinedef.ParseConfig(raw)
}

func newEngine() (engine.Engine, error) {
	mode := strings.ToLower(strings.TrimSpace(env.String("DRIFTLINE_ENGINE_MODE", "remote")))
	switch mode {
	case "remote":
		cfg, err := engine.RemoteConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return engine.NewRemote(cfg)
	case "local":
		return engine.NewLocal(interpreter.Simulation{}), nil
	default:
		return nil, errors.New("DRIFTLINE_ENGINE_MODE must be remote or local")
	}
}
