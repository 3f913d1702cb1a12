// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package activities exposes the engine's reorg phases as Temporal
// activities.
package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/engine/temporal/types"
)

// ReorgPhases is the part of the engine the reorg activities drive. Every
// phase is idempotent, so activity retries are safe.
type ReorgPhases interface {
	BeginReorg(ctx context.Context, jobID string) error
	ReplayReorgSegment(ctx context.Context, jobID string) (bool, error)
	CommitReorg(ctx context.Context, jobID string) error
	FailReorg(ctx context.Context, jobID string, cause error) error
	ReorgJob(ctx context.Context, id string) (*models.ReorgJob, error)
}

// ReorgActivities provides the reorg activities.
type ReorgActivities struct {
	engine ReorgPhases
}

// NewReorgActivities creates a new instance of ReorgActivities
func NewReorgActivities(engine ReorgPhases) *ReorgActivities {
	return &ReorgActivities{engine: engine}
}

// classify stops retries for errors another attempt cannot fix.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "ReorgJobNotFound", err)
	}
	return err
}

// BeginReorgActivity invalidates the log past the fork and pauses the
// affected lanes.
func (a *ReorgActivities) BeginReorgActivity(ctx context.Context, input types.ReorgJobInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Beginning reorg", "jobID", input.JobID)

	activity.RecordHeartbeat(ctx, "begin")
	if err := a.engine.BeginReorg(ctx, input.JobID); err != nil {
		logger.Error("Failed to begin reorg", "jobID", input.JobID, "error", err)
		return classify(fmt.Errorf("begin reorg: %w", err))
	}
	return nil
}

// ReplaySegmentActivity replays one segment into the shadow projection.
func (a *ReorgActivities) ReplaySegmentActivity(ctx context.Context, input types.ReorgJobInput) (*types.ReplaySegmentOutput, error) {
	logger := activity.GetLogger(ctx)

	activity.RecordHeartbeat(ctx, "replay")
	done, err := a.engine.ReplayReorgSegment(ctx, input.JobID)
	if err != nil {
		logger.Error("Failed to replay reorg segment", "jobID", input.JobID, "error", err)
		return nil, classify(fmt.Errorf("replay segment: %w", err))
	}
	job, err := a.engine.ReorgJob(ctx, input.JobID)
	if err != nil {
		return nil, classify(err)
	}
	logger.Debug("Replayed reorg segment", "jobID", input.JobID, "replayedSeq", job.ReplayedSeq, "done", done)
	return &types.ReplaySegmentOutput{
		Done:        done,
		ReplayedSeq: job.ReplayedSeq,
		HeadSeq:     job.HeadSeq,
	}, nil
}

// CommitReorgActivity applies the corrections and resumes the lanes.
func (a *ReorgActivities) CommitReorgActivity(ctx context.Context, input types.ReorgJobInput) (*types.CommitReorgOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Committing reorg", "jobID", input.JobID)

	activity.RecordHeartbeat(ctx, "commit")
	if err := a.engine.CommitReorg(ctx, input.JobID); err != nil {
		logger.Error("Failed to commit reorg", "jobID", input.JobID, "error", err)
		return nil, classify(fmt.Errorf("commit reorg: %w", err))
	}
	job, err := a.engine.ReorgJob(ctx, input.JobID)
	if err != nil {
		return nil, classify(err)
	}
	return &types.CommitReorgOutput{Status: string(job.Status), Corrections: job.Corrections}, nil
}

// FailReorgActivity marks the job failed (compensation activity).
func (a *ReorgActivities) FailReorgActivity(ctx context.Context, input types.FailReorgInput) error {
	logger := activity.GetLogger(ctx)
	logger.Warn("Failing reorg", "jobID", input.JobID, "cause", input.Error)

	if err := a.engine.FailReorg(ctx, input.JobID, errors.New(input.Error)); err != nil {
		return classify(fmt.Errorf("fail reorg: %w", err))
	}
	return nil
}
