// riskdesk - rule-based account risk scoring service
package main

import (
	"context"
	"os"

	"github.com/mbd888/riskdesk/internal/config"
	"github.com/mbd888/riskdesk/internal/logging"
	"github.com/mbd888/riskdesk/internal/server"
	"github.com/mbd888/riskdesk/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until config is loaded
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting riskdesk",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithVersion(Version),
		server.WithShutdownHook(shutdownTracing),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
