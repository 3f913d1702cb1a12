// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator wires a process together: the store, the checkpoint
// store, the engine and, when enabled, the Temporal reorg worker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine"
	"github.com/noldarim/rankledger/internal/engine/checkpoint"
	"github.com/noldarim/rankledger/internal/engine/database"
	"github.com/noldarim/rankledger/internal/engine/temporal"
	"github.com/noldarim/rankledger/internal/engine/temporal/workers"
	"github.com/noldarim/rankledger/internal/logger"
	"github.com/noldarim/rankledger/internal/protocol"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetOrchestratorLogger()
		log = &l
	})
	return log
}

// Orchestrator owns the engine and everything it runs on.
type Orchestrator struct {
	engine         *engine.Engine
	db             *database.GormDB
	checkpoints    *checkpoint.Store
	temporalClient *temporal.Client
	temporalWorker *workers.Worker
	config         *config.AppConfig
}

// Options adjust what New starts.
type Options struct {
	// NoWorker keeps reorgs in process even when Temporal is enabled.
	NoWorker bool
	// SyncReorgs runs in-process reorgs before StartReorg returns.
	SyncReorgs bool
}

// New opens the stores, migrates the schema, builds the engine and
// restores it from the log. eventChan may be nil.
func New(ctx context.Context, cfg *config.AppConfig, eventChan chan<- protocol.Event, opts Options) (_ *Orchestrator, err error) {
	o := &Orchestrator{config: cfg}
	defer func() {
		if err != nil {
			o.Close()
		}
	}()

	o.db, err = database.NewGormDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err = o.db.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if cfg.Checkpoint.Path == "" {
		o.checkpoints, err = checkpoint.OpenMemory(cfg.Checkpoint.Keep)
	} else {
		o.checkpoints, err = checkpoint.Open(cfg.Checkpoint.Path, cfg.Checkpoint.Keep)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	o.engine, err = engine.New(cfg, o.db, o.checkpoints, eventChan)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	if cfg.Temporal.Enabled && !opts.NoWorker {
		o.temporalClient, err = temporal.NewClient(
			cfg.Temporal.HostPort,
			cfg.Temporal.Namespace,
			cfg.Temporal.TaskQueue,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create temporal client: %w", err)
		}
		o.temporalWorker = workers.NewWorker(o.temporalClient.GetTemporalClient(), cfg, o.engine)
		if err = o.temporalWorker.Start(); err != nil {
			return nil, fmt.Errorf("failed to start temporal worker: %w", err)
		}
		o.engine.SetReorgRunner(temporal.NewRunner(o.temporalClient, cfg))
	} else {
		o.engine.SetReorgRunner(engine.NewLocalRunner(o.engine, opts.SyncReorgs))
	}

	if err = o.engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	getLog().Info().
		Str("database", cfg.Database.Driver).
		Bool("temporal", o.temporalWorker != nil).
		Uint64("seq", o.engine.Seq()).
		Msg("Engine ready")
	return o, nil
}

// Engine returns the running engine.
func (o *Orchestrator) Engine() *engine.Engine {
	return o.engine
}

// DB returns the store, for maintenance commands.
func (o *Orchestrator) DB() *database.GormDB {
	return o.db
}

// Close stops the worker, drains the engine and closes the stores.
func (o *Orchestrator) Close() error {
	getLog().Info().Msg("Shutting down orchestrator...")
	var errs []error

	if o.temporalWorker != nil {
		if closeErr := o.temporalWorker.Stop(); closeErr != nil {
			getLog().Error().Err(closeErr).Msg("Error stopping temporal worker")
			errs = append(errs, closeErr)
		}
	}
	if o.engine != nil {
		if closeErr := o.engine.Close(); closeErr != nil {
			getLog().Error().Err(closeErr).Msg("Error closing engine")
			errs = append(errs, closeErr)
		}
	}
	if o.temporalClient != nil {
		if closeErr := o.temporalClient.Close(); closeErr != nil {
			getLog().Error().Err(closeErr).Msg("Error closing temporal client")
			errs = append(errs, closeErr)
		}
	}
	if o.checkpoints != nil {
		if closeErr := o.checkpoints.Close(); closeErr != nil {
			getLog().Error().Err(closeErr).Msg("Error closing checkpoint store")
			errs = append(errs, closeErr)
		}
	}
	if o.db != nil {
		if closeErr := o.db.Close(); closeErr != nil {
			getLog().Error().Err(closeErr).Msg("Error closing database")
			errs = append(errs, closeErr)
		}
	}

	getLog().Info().Msg("Orchestrator shutdown complete")
	return errors.Join(errs...)
}
