// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workflows holds the Temporal reorg workflow.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/noldarim/rankledger/internal/engine/temporal/types"
	"github.com/noldarim/rankledger/internal/engine/temporal/utils"
)

const (
	ReorgWorkflowName = "ReorgWorkflow"

	BeginReorgActivityName    = "BeginReorgActivity"
	ReplaySegmentActivityName = "ReplaySegmentActivity"
	CommitReorgActivityName   = "CommitReorgActivity"
	FailReorgActivityName     = "FailReorgActivity"
)

// failActivityOptions are used for the compensating fail step.
func failActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 5,
		},
	}
}

// ReorgWorkflow drives one reorg job: Begin, replay segments until the
// shadow reaches the head recorded at Begin, then Commit. Every phase is
// idempotent on the engine side, so a replayed workflow or a retried
// activity picks up where the job stands. Any phase failure marks the job
// failed before the workflow returns the error.
func ReorgWorkflow(ctx workflow.Context, input types.ReorgWorkflowInput) (*types.ReorgWorkflowOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting reorg workflow", "jobID", input.JobID, "segments", input.Segments)

	if input.JobID == "" {
		return nil, temporal.NewNonRetryableApplicationError("job id is required", "InvalidInput", nil)
	}

	ctx = workflow.WithActivityOptions(ctx, utils.GetActivityOptions(input.Activity))
	job := types.ReorgJobInput{JobID: input.JobID}
	output := &types.ReorgWorkflowOutput{JobID: input.JobID, Segments: input.Segments}

	fail := func(err error, phase string) (*types.ReorgWorkflowOutput, error) {
		logger.Error("Reorg phase failed", "jobID", input.JobID, "phase", phase, "error", err)
		failCtx := workflow.WithActivityOptions(ctx, failActivityOptions())
		if ferr := workflow.ExecuteActivity(failCtx, FailReorgActivityName, types.FailReorgInput{
			JobID: input.JobID,
			Error: fmt.Sprintf("%s: %v", phase, err),
		}).Get(failCtx, nil); ferr != nil {
			logger.Warn("Failed to mark reorg failed", "jobID", input.JobID, "error", ferr)
		}
		output.Status = "failed"
		return output, err
	}

	// Begin is a no-op once the job is replaying, so continued runs
	// repeat it safely.
	if err := workflow.ExecuteActivity(ctx, BeginReorgActivityName, job).Get(ctx, nil); err != nil {
		return fail(err, "begin")
	}

	for run := 0; ; run++ {
		if input.SegmentsPerRun > 0 && run >= input.SegmentsPerRun {
			logger.Info("Continuing reorg as new", "jobID", input.JobID, "segments", output.Segments)
			next := input
			next.Segments = output.Segments
			return nil, workflow.NewContinueAsNewError(ctx, ReorgWorkflow, next)
		}
		var seg types.ReplaySegmentOutput
		if err := workflow.ExecuteActivity(ctx, ReplaySegmentActivityName, job).Get(ctx, &seg); err != nil {
			return fail(err, "replay")
		}
		output.Segments++
		output.ReplayedSeq = seg.ReplayedSeq
		if seg.Done {
			break
		}
	}

	var commit types.CommitReorgOutput
	if err := workflow.ExecuteActivity(ctx, CommitReorgActivityName, job).Get(ctx, &commit); err != nil {
		return fail(err, "commit")
	}
	output.Status = commit.Status
	output.Corrections = commit.Corrections

	logger.Info("Reorg workflow completed", "jobID", input.JobID, "segments", output.Segments, "corrections", commit.Corrections)
	return output, nil
}
