// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workers

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine/temporal/activities"
	"github.com/noldarim/rankledger/internal/engine/temporal/workflows"
	"github.com/noldarim/rankledger/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetTemporalLogger().With().Str("component", "worker").Logger()
		log = &l
	})
	return log
}

// Worker runs the reorg workflow and activities against one engine.
// Activities mutate the engine's in-memory state, so the worker must live
// in the same process as the engine that serves reads.
type Worker struct {
	temporalClient  client.Client
	taskQueue       string
	worker          worker.Worker
	reorgActivities *activities.ReorgActivities
	config          *config.AppConfig
	mu              sync.Mutex
	stopped         bool
}

// NewWorker creates a new Temporal worker
func NewWorker(temporalClient client.Client, cfg *config.AppConfig, phases activities.ReorgPhases) *Worker {
	return &Worker{
		temporalClient:  temporalClient,
		taskQueue:       cfg.Temporal.TaskQueue,
		reorgActivities: activities.NewReorgActivities(phases),
		config:          cfg,
	}
}

// Start registers the workflow and activities and starts polling.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return fmt.Errorf("cannot restart a stopped worker - create a new worker instance")
	}
	if w.worker != nil {
		getLog().Info().Msg("Worker already started")
		return nil
	}

	getLog().Info().Str("task_queue", w.taskQueue).Msg("Starting Temporal worker")
	w.worker = worker.New(w.temporalClient, w.taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     w.config.Temporal.Worker.MaxConcurrentActivityExecutions,
		MaxConcurrentWorkflowTaskExecutionSize: w.config.Temporal.Worker.MaxConcurrentWorkflows,
		WorkerActivitiesPerSecond:              w.config.Temporal.Worker.ActivitiesPerSecond,
		TaskQueueActivitiesPerSecond:           w.config.Temporal.Worker.ActivitiesPerSecond,
	})
	w.worker.RegisterWorkflowWithOptions(workflows.ReorgWorkflow, workflow.RegisterOptions{Name: workflows.ReorgWorkflowName})
	w.worker.RegisterActivity(w.reorgActivities)

	if err := w.worker.Start(); err != nil {
		w.worker = nil
		return fmt.Errorf("start worker: %w", err)
	}
	getLog().Info().Msg("Temporal worker started successfully")
	return nil
}

// Stop stops the worker and waits for running activities.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.worker != nil {
		getLog().Info().Msg("Stopping Temporal worker gracefully...")
		w.worker.Stop()
		w.stopped = true
		w.worker = nil
		getLog().Info().Msg("Temporal worker stopped")
	}
	return nil
}

// GetRegisteredActivities returns a list of registered activity names (for testing)
func (w *Worker) GetRegisteredActivities() []string {
	return []string{
		workflows.BeginReorgActivityName,
		workflows.ReplaySegmentActivityName,
		workflows.CommitReorgActivityName,
		workflows.FailReorgActivityName,
	}
}

// GetRegisteredWorkflows returns a list of registered workflow names (for testing)
func (w *Worker) GetRegisteredWorkflows() []string {
	return []string{workflows.ReorgWorkflowName}
}
