// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/noldarim/rankledger/internal/engine/temporal/types"
)

// Mock activity functions for testing
func BeginReorgActivity(ctx context.Context, input types.ReorgJobInput) error {
	return nil
}

func ReplaySegmentActivity(ctx context.Context, input types.ReorgJobInput) (*types.ReplaySegmentOutput, error) {
	return &types.ReplaySegmentOutput{}, nil
}

func CommitReorgActivity(ctx context.Context, input types.ReorgJobInput) (*types.CommitReorgOutput, error) {
	return &types.CommitReorgOutput{}, nil
}

func FailReorgActivity(ctx context.Context, input types.FailReorgInput) error {
	return nil
}

func newReorgEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ReorgWorkflow)
	env.RegisterActivityWithOptions(BeginReorgActivity, activity.RegisterOptions{Name: BeginReorgActivityName})
	env.RegisterActivityWithOptions(ReplaySegmentActivity, activity.RegisterOptions{Name: ReplaySegmentActivityName})
	env.RegisterActivityWithOptions(CommitReorgActivity, activity.RegisterOptions{Name: CommitReorgActivityName})
	env.RegisterActivityWithOptions(FailReorgActivity, activity.RegisterOptions{Name: FailReorgActivityName})
	return env
}

func input(jobID string) types.ReorgWorkflowInput {
	return types.ReorgWorkflowInput{
		JobID: jobID,
		Activity: types.ActivitySettings{
			StartToCloseTimeout: time.Minute,
			Retry:               types.RetrySettings{InitialInterval: time.Second, BackoffCoefficient: 2, MaximumAttempts: 1},
		},
	}
}

func TestReorgWorkflow_Success(t *testing.T) {
	env := newReorgEnv(t)
	job := types.ReorgJobInput{JobID: "job-1"}

	env.OnActivity(BeginReorgActivityName, mock.Anything, job).Return(nil).Once()
	env.OnActivity(ReplaySegmentActivityName, mock.Anything, job).
		Return(&types.ReplaySegmentOutput{ReplayedSeq: 5000, HeadSeq: 12000}, nil).Once()
	env.OnActivity(ReplaySegmentActivityName, mock.Anything, job).
		Return(&types.ReplaySegmentOutput{ReplayedSeq: 10000, HeadSeq: 12000}, nil).Once()
	env.OnActivity(ReplaySegmentActivityName, mock.Anything, job).
		Return(&types.ReplaySegmentOutput{Done: true, ReplayedSeq: 12000, HeadSeq: 12000}, nil).Once()
	env.OnActivity(CommitReorgActivityName, mock.Anything, job).
		Return(&types.CommitReorgOutput{Status: "completed", Corrections: 9}, nil).Once()

	env.ExecuteWorkflow(ReorgWorkflow, input("job-1"))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out types.ReorgWorkflowOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, 3, out.Segments)
	assert.Equal(t, uint64(12000), out.ReplayedSeq)
	assert.Equal(t, 9, out.Corrections)
	env.AssertExpectations(t)
}

func TestReorgWorkflow_ReplayFailureFailsJob(t *testing.T) {
	env := newReorgEnv(t)
	job := types.ReorgJobInput{JobID: "job-2"}

	env.OnActivity(BeginReorgActivityName, mock.Anything, job).Return(nil)
	env.OnActivity(ReplaySegmentActivityName, mock.Anything, job).
		Return(nil, temporal.NewNonRetryableApplicationError("checkpoint store closed", "Test", nil))
	env.OnActivity(FailReorgActivityName, mock.Anything, mock.MatchedBy(func(in types.FailReorgInput) bool {
		return in.JobID == "job-2" && in.Error != ""
	})).Return(nil).Once()

	env.ExecuteWorkflow(ReorgWorkflow, input("job-2"))

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint store closed")
	env.AssertExpectations(t)
}

func TestReorgWorkflow_BeginFailureFailsJob(t *testing.T) {
	env := newReorgEnv(t)
	job := types.ReorgJobInput{JobID: "job-3"}

	env.OnActivity(BeginReorgActivityName, mock.Anything, job).Return(errors.New("database is locked"))
	env.OnActivity(FailReorgActivityName, mock.Anything, mock.Anything).Return(nil).Once()

	env.ExecuteWorkflow(ReorgWorkflow, input("job-3"))

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestReorgWorkflow_ContinuesAsNew(t *testing.T) {
	env := newReorgEnv(t)
	job := types.ReorgJobInput{JobID: "job-4"}

	env.OnActivity(BeginReorgActivityName, mock.Anything, job).Return(nil)
	segments := 0
	env.OnActivity(ReplaySegmentActivityName, mock.Anything, job).
		Return(func(context.Context, types.ReorgJobInput) (*types.ReplaySegmentOutput, error) {
			segments++
			return &types.ReplaySegmentOutput{ReplayedSeq: uint64(segments), HeadSeq: 10}, nil
		})

	in := input("job-4")
	in.SegmentsPerRun = 2
	env.ExecuteWorkflow(ReorgWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var cont *workflow.ContinueAsNewError
	require.True(t, errors.As(err, &cont))
	assert.Equal(t, 2, segments)
}

func TestReorgWorkflow_RequiresJobID(t *testing.T) {
	env := newReorgEnv(t)
	env.ExecuteWorkflow(ReorgWorkflow, input(""))

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}
