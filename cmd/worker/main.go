package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tgnms.poller/internal/adapters/ipc"
	"tgnms.poller/internal/config"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/tracing"
)

// The worker speaks newline-delimited JSON: commands on stdin, result
// messages on stdout. Logs go to stderr.
func main() {
	log.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logger.Info("Starting polling worker", "pid", os.Getpid())

	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(cfg.ServiceName+"-worker", cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
		} else {
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("Failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := cfg.PollerSettings(nil).Worker()
	if err := ipc.Serve(ctx, os.Stdin, os.Stdout, worker); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Polling worker exited")
}
