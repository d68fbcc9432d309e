// Package main is the entry point for the push client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cobalt-oss/autopush-client/internal/buildinfo"
	"github.com/cobalt-oss/autopush-client/internal/config"
	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/pushmanager"
	"github.com/cobalt-oss/autopush-client/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(baseLogger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("pushclient - Mozilla Autopush WebSocket client")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Connect and hold a push subscription session open")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting pushclient", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: logging.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"autopush_url", cfg.AutopushURL,
		"ack_interval_ms", cfg.AckIntervalMs,
		"reconnect_delay_ms", cfg.ReconnectDelayMs,
	)

	if dir := filepath.Dir(cfg.StoragePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("failed to create storage directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	backend, err := storage.NewSQLiteBackend(cfg.StoragePath)
	if err != nil {
		logger.Error("failed to open storage database", "path", cfg.StoragePath, "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	logger.Info("storage database opened", "path", cfg.StoragePath)

	store := storage.New(backend)
	manager, err := pushmanager.Create(store, logging.New(logger), cfg.PushManagerOptions())
	if err != nil {
		logger.Error("failed to create push manager", "error", err)
		os.Exit(1)
	}
	defer manager.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	<-ctx.Done()
	logger.Info("pushclient stopped")
}
