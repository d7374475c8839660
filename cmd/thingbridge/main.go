// Package main implements the entry point for the thingbridge service.
// Thingbridge exposes message-broker connected Things over an HTTP API:
// property reads and writes, action invocations and event streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/thingbridge/config"
	"github.com/c360/thingbridge/service"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "thingbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.LogLevel = cliCfg.LogLevel
	}

	logger := setupLogger(cfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting thingbridge",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"listen_addr", cfg.Server.ListenAddr,
		"nats_url", cfg.NATS.URL)

	bridge, err := service.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build bridge: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := bridge.Run(ctx); err != nil {
		return fmt.Errorf("run bridge: %w", err)
	}

	slog.Info("Thingbridge shutdown complete")
	return nil
}

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("THINGBRIDGE_CONFIG", ""),
		"Path to configuration file (env: THINGBRIDGE_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("THINGBRIDGE_CONFIG", ""),
		"Path to configuration file (env: THINGBRIDGE_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("THINGBRIDGE_LOG_FORMAT", "json"),
		"Log format: json, text (env: THINGBRIDGE_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
