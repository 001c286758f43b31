package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittofab/internal/logger"
	"github.com/marmos91/dittofab/pkg/config"
	"github.com/marmos91/dittofab/pkg/engine/memory"
	"github.com/marmos91/dittofab/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	initConfig := flag.Bool("init-config", false, "Write a default config file and exit")
	forceInit := flag.Bool("force", false, "Overwrite an existing config file with -init-config")
	restore := flag.Bool("restore", false, "Restore saved targets from the state store instead of applying the configured target")
	flag.Parse()

	if *initConfig {
		path, err := config.InitConfig(*forceInit)
		if err != nil {
			log.Fatalf("Failed to initialize config: %v", err)
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure logger; CLI flag wins over config file
	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger.SetLevel(level)

	fmt.Println("DittoFab - NVMe-oF Target Control Plane")
	logger.Info("Log level set to: %s", level)
	logger.Info("State store: %s", cfg.State.Type)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics (noop implementations if disabled)
	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		logger.Info("Metrics enabled on port %d", metricsResult.Server.Port())
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Create the state store
	store, err := config.CreateStateStore(ctx, &cfg.State)
	if err != nil {
		log.Fatalf("Failed to create state store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing state store: %v", err)
		}
	}()

	// Create the engine and the server over it
	eng := memory.New()
	srv := server.New(eng, store, server.Options{
		PollInterval:    cfg.Server.PollInterval,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	srv.UseMetrics(metricsResult.TargetMetrics)

	// Bring targets up: either replay the state store or apply the
	// configured target definition
	if *restore {
		if err := srv.Restore(ctx); err != nil {
			log.Fatalf("Failed to restore targets: %v", err)
		}
	} else {
		if _, err := srv.ApplyRecord(ctx, cfg.Target.ToRecord()); err != nil {
			log.Fatalf("Failed to bring up target %q: %v", cfg.Target.Name, err)
		}
	}

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Target is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil && err != context.Canceled {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil && err != context.Canceled {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}
