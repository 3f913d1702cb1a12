// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine/temporal/types"
	"github.com/noldarim/rankledger/internal/engine/temporal/utils"
	"github.com/noldarim/rankledger/internal/engine/temporal/workflows"
)

// segmentsPerRun bounds one workflow run's history before it continues
// as new.
const segmentsPerRun = 200

// WorkflowStarter is the part of Client the runner needs.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, workflowID string, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Runner submits reorg jobs as ReorgWorkflow executions.
type Runner struct {
	starter WorkflowStarter
	input   types.ReorgWorkflowInput
}

// NewRunner creates a runner that starts workflows through starter.
func NewRunner(starter WorkflowStarter, cfg *config.AppConfig) *Runner {
	return &Runner{
		starter: starter,
		input: types.ReorgWorkflowInput{
			Activity:       utils.GetActivitySettings(cfg),
			SegmentsPerRun: segmentsPerRun,
		},
	}
}

// Submit starts the workflow for jobID. Resubmitting a failed job starts
// a new run under the same workflow id.
func (r *Runner) Submit(ctx context.Context, jobID string) error {
	in := r.input
	in.JobID = jobID
	if _, err := r.starter.StartWorkflow(ctx, utils.WorkflowID(jobID), workflows.ReorgWorkflowName, in); err != nil {
		return fmt.Errorf("submit reorg %s: %w", jobID, err)
	}
	getTemporalLog().Info().Str("job", jobID).Msg("Reorg workflow submitted")
	return nil
}
