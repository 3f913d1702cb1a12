// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/ingest"
	"github.com/noldarim/rankledger/internal/logger"
	"github.com/noldarim/rankledger/internal/orchestrator"
	"github.com/noldarim/rankledger/internal/protocol"
	"github.com/noldarim/rankledger/internal/server"
	"github.com/noldarim/rankledger/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	ingestFile := flag.String("ingest-file", "", "JSONL file of actions to ingest after startup")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting rankledger API server")

	// This context drives the engine's lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error initializing telemetry")
		os.Exit(1)
	}

	eventChan := make(chan protocol.Event, max(cfg.Engine.EventBuffer, 1))

	orch, err := orchestrator.New(ctx, cfg, eventChan, orchestrator.Options{})
	if err != nil {
		mainLog.Error().Err(err).Msg("Error starting engine")
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(cfg, orch.Engine(), eventChan)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	if *ingestFile != "" {
		go ingestOnStartup(ctx, cfg, orch, *ingestFile)
	}

	// Wait for signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case err := <-serverErrChan:
		if err != nil {
			mainLog.Error().Err(err).Msg("Server error")
		}
	}

	// Graceful shutdown: fresh context with timeout, independent of the engine ctx.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
	}

	cancel()
	if err := orch.Close(); err != nil {
		mainLog.Error().Err(err).Msg("Error closing engine")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error flushing traces")
	}

	mainLog.Info().Msg("API server shut down")
}

func ingestOnStartup(ctx context.Context, cfg *config.AppConfig, orch *orchestrator.Orchestrator, path string) {
	l := logger.GetLogger("main")
	f, err := os.Open(path)
	if err != nil {
		l.Error().Err(err).Str("file", path).Msg("Cannot open ingest file")
		return
	}
	defer f.Close()

	summary, err := ingest.NewPipeline(orch.Engine(), cfg.Ingest).Run(ctx, f)
	if err != nil {
		l.Error().Err(err).Str("file", path).Msg("Startup ingest stopped")
		return
	}
	l.Info().
		Str("file", path).
		Int("lines", summary.Lines).
		Int("accepted", summary.Accepted).
		Int("duplicates", summary.Duplicates).
		Msg("Startup ingest finished")
}
