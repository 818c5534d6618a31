package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	nats_bus "tgnms.poller/internal/adapters/bus/nats"
	http_handler "tgnms.poller/internal/adapters/handler/http"
	"tgnms.poller/internal/adapters/handler/mqtt"
	"tgnms.poller/internal/adapters/ipc"
	redis_adapter "tgnms.poller/internal/adapters/queue/redis"
	"tgnms.poller/internal/adapters/repository/file"
	"tgnms.poller/internal/adapters/repository/pg"
	"tgnms.poller/internal/config"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
	"tgnms.poller/internal/core/services"
	"tgnms.poller/internal/core/tracing"
	"tgnms.poller/internal/poller"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize structured logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting Terragraph state poller", "version", version, "worker_mode", cfg.WorkerMode)

	// Initialize tracing
	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
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

	// Topology source
	var (
		topologies ports.TopologyRepository
		db         *gorm.DB
	)
	switch {
	case cfg.DatabaseURL != "":
		repo, err := pg.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres: %v", err)
		}
		topologies, db = repo, repo.DB()
	case cfg.TopologyFile != "":
		topologies = file.NewRepository(cfg.TopologyFile)
	default:
		logger.Warn("No topology source configured; only ad-hoc commands will be polled")
		topologies = file.Static{}
	}

	var (
		recorder services.ResultRecorder
		observer poller.Observer
	)
	if cfg.EnableMetrics {
		metrics := http_handler.PollerMetrics{}
		recorder, observer = metrics, metrics
	}

	hub := http_handler.NewHub()
	publishers := []ports.ResultPublisher{hub}
	var sources []ports.CommandSource
	var deadLetter ports.CommandDeadLetter

	// Optional adapters
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		adapter, client, err := redis_adapter.NewRedisAdapter(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to init redis: %v", err)
		}
		redisClient = client
		defer redisClient.Close()
		publishers = append(publishers, adapter)
		sources = append(sources, adapter)
		deadLetter = redis_adapter.NewDeadLetterQueue(client)
	}

	if cfg.MQTTBrokerURL != "" {
		publisher, err := mqtt.NewPublisher(cfg.MQTTBrokerURL)
		if err != nil {
			logger.Error("Failed to init MQTT publisher", "error", err)
		} else {
			defer publisher.Close()
			publishers = append(publishers, publisher)
		}
	}

	if cfg.NATSURL != "" {
		bus, err := nats_bus.New(cfg.NATSURL)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
		} else {
			defer bus.Close()
			publishers = append(publishers, bus)
			sources = append(sources, bus)
		}
	}

	// Polling worker
	var worker ports.Worker
	switch cfg.WorkerMode {
	case config.WorkerModeInProc:
		worker = cfg.PollerSettings(observer).Worker()
	default:
		worker = ipc.NewProcess(cfg.WorkerBinary, ipc.WithStderr(os.Stderr))
	}
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("failed to start worker: %v", err)
	}

	monitor := services.NewNetworkMonitor(cfg.ControllerMaxFailures, cfg.ControllerMaxEvents)
	resultService := services.NewResultService(monitor, recorder, publishers...)
	scheduler := services.NewScheduler(worker, topologies, monitor, deadLetter, services.SchedulerConfig{
		PollInterval:     cfg.PollInterval,
		ScanPollEnabled:  cfg.ScanPollEnabled,
		ScanPollInterval: cfg.ScanPollInterval,
	}, sources...)
	healthService := services.NewHealthService(db, redisClient, worker, version)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		hub.ForwardAlerts(ctx, monitor.Alerts(), monitor)
	}()
	go func() {
		defer wg.Done()
		resultService.Run(ctx, worker.Results())
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	httpServer := http_handler.NewServer(scheduler, monitor, healthService, hub)
	logger.Info("HTTP Server starting", "port", cfg.HTTPPort)
	if err := httpServer.Run(ctx, ":"+cfg.HTTPPort); err != nil {
		logger.Error("HTTP server failed", "error", err)
		stop()
	}

	logger.Info("Shutting down gracefully...")
	if err := worker.Stop(); err != nil {
		logger.Error("Failed to stop worker", "error", err)
	}
	wg.Wait()
}
