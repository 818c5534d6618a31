package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"tgnms.poller/internal/poller"
)

type WorkerMode string

const (
	WorkerModeProcess WorkerMode = "process"
	WorkerModeInProc  WorkerMode = "inproc"
)

type Config struct {
	// Server
	HTTPPort string

	// Topology sources; the database wins when both are set
	DatabaseURL  string
	TopologyFile string

	// Optional result fan-out and command intake
	RedisURL      string
	MQTTBrokerURL string
	NATSURL       string

	// Scheduling
	PollInterval     time.Duration
	ScanPollEnabled  bool
	ScanPollInterval time.Duration

	// Controller API
	ControllerAPIPort int
	RequestTimeout    time.Duration
	RetryDelays       []time.Duration
	RetryStatusCodes  []int

	// Worker
	WorkerMode   WorkerMode
	WorkerBinary string

	// Network monitor
	ControllerMaxFailures int
	ControllerMaxEvents   int

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// Tracing
	OTLPEndpoint string
	ServiceName  string

	// Features
	EnableMetrics bool
	EnableTracing bool
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:              getEnv("HTTP_PORT", "9090"),
		DatabaseURL:           getEnv("DB_URL", ""),
		TopologyFile:          getEnv("TOPOLOGY_FILE", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		MQTTBrokerURL:         getEnv("MQTT_BROKER_URL", ""),
		NATSURL:               getEnv("NATS_URL", ""),
		ScanPollEnabled:       getEnvBool("SCAN_POLL_ENABLED", true),
		WorkerMode:            WorkerMode(strings.ToLower(getEnv("WORKER_MODE", string(WorkerModeProcess)))),
		WorkerBinary:          getEnv("WORKER_BINARY", "tgnms-worker"),
		ControllerMaxFailures: getEnvInt("CONTROLLER_MAX_FAILURES", 1),
		ControllerMaxEvents:   getEnvInt("CONTROLLER_MAX_EVENTS", 10),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:          getEnv("OTLP_ENDPOINT", ""),
		ServiceName:           getEnv("SERVICE_NAME", "tgnms-poller"),
		EnableMetrics:         getEnvBool("ENABLE_METRICS", true),
		EnableTracing:         getEnvBool("ENABLE_TRACING", false),
	}

	var err error
	if cfg.PollInterval, err = getEnvDuration("POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ScanPollInterval, err = getEnvDuration("SCAN_POLL_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.ControllerAPIPort = getEnvInt("CONTROLLER_API_PORT", 8080)
	if cfg.ControllerAPIPort <= 0 || cfg.ControllerAPIPort > 65535 {
		return nil, fmt.Errorf("CONTROLLER_API_PORT: port %d is outside the valid range 1-65535", cfg.ControllerAPIPort)
	}

	if cfg.RetryDelays, err = parseDurationList(getEnv("RETRY_DELAYS", "100ms,500ms,1s")); err != nil {
		return nil, fmt.Errorf("RETRY_DELAYS: %w", err)
	}
	if cfg.RetryStatusCodes, err = parseStatusCodes(getEnv("RETRY_STATUS_CODES", "400")); err != nil {
		return nil, fmt.Errorf("RETRY_STATUS_CODES: %w", err)
	}

	switch cfg.WorkerMode {
	case WorkerModeProcess, WorkerModeInProc:
	default:
		return nil, fmt.Errorf("WORKER_MODE: unsupported mode %q", cfg.WorkerMode)
	}

	// Parse log level
	logLevelStr := getEnv("LOG_LEVEL", "info")
	switch logLevelStr {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive", key)
	}
	return d, nil
}

// parseDurationList parses "100ms,500ms,1s". An empty list disables retries.
func parseDurationList(value string) ([]time.Duration, error) {
	parts := strings.Split(value, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		d, err := time.ParseDuration(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid duration", trimmed)
		}
		if d < 0 {
			return nil, fmt.Errorf("delay %s is negative", d)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

func parseStatusCodes(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	codes := make([]int, 0, len(parts))
	seen := make(map[int]struct{}, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		code, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid integer", trimmed)
		}
		if code < 100 || code > 599 {
			return nil, fmt.Errorf("status %d is outside the valid range 100-599", code)
		}
		if _, exists := seen[code]; exists {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// PollerSettings returns the worker tunables carried by the configuration.
func (c *Config) PollerSettings(observer poller.Observer) poller.Settings {
	return poller.Settings{
		ControllerPort:   c.ControllerAPIPort,
		RequestTimeout:   c.RequestTimeout,
		RetryDelays:      c.RetryDelays,
		RetryStatusCodes: c.RetryStatusCodes,
		Observer:         observer,
	}
}
