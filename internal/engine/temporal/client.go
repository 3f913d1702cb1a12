// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package temporal connects the engine's reorg jobs to Temporal.
package temporal

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/noldarim/rankledger/internal/logger"
)

// WorkflowStatus represents the current status of a workflow
type WorkflowStatus int

const (
	WorkflowStatusUnknown WorkflowStatus = iota
	WorkflowStatusRunning
	WorkflowStatusCompleted
	WorkflowStatusFailed
	WorkflowStatusCanceled
	WorkflowStatusTerminated
	WorkflowStatusTimedOut
)

// String returns the string representation of WorkflowStatus
func (s WorkflowStatus) String() string {
	switch s {
	case WorkflowStatusRunning:
		return "running"
	case WorkflowStatusCompleted:
		return "completed"
	case WorkflowStatusFailed:
		return "failed"
	case WorkflowStatusCanceled:
		return "canceled"
	case WorkflowStatusTerminated:
		return "terminated"
	case WorkflowStatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

var (
	temporalLog     *zerolog.Logger
	temporalLogOnce sync.Once
)

func getTemporalLog() *zerolog.Logger {
	temporalLogOnce.Do(func() {
		l := logger.GetTemporalLogger().With().Str("component", "client").Logger()
		temporalLog = &l
	})
	return temporalLog
}

// Client wraps the Temporal client with the task queue it submits to.
type Client struct {
	temporalClient client.Client
	namespace      string
	taskQueue      string
}

// NewClient dials Temporal.
func NewClient(hostPort, namespace, taskQueue string) (*Client, error) {
	temporalClient, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    logger.GetTemporalLogAdapter("temporal"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Temporal client: %w", err)
	}

	getTemporalLog().Info().Msgf("Connected to Temporal at %s, namespace: %s", hostPort, namespace)
	return &Client{
		temporalClient: temporalClient,
		namespace:      namespace,
		taskQueue:      taskQueue,
	}, nil
}

// GetTemporalClient returns the underlying Temporal client
func (c *Client) GetTemporalClient() client.Client {
	return c.temporalClient
}

// GetTaskQueue returns the task queue name
func (c *Client) GetTaskQueue() string {
	return c.taskQueue
}

// StartWorkflow starts a new workflow execution. A workflow id whose last
// run failed may be reused; a running or completed one may not.
func (c *Client) StartWorkflow(ctx context.Context, workflowID string, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	options := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                c.taskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
	}

	we, err := c.temporalClient.ExecuteWorkflow(ctx, options, workflow, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	getTemporalLog().Info().Msgf("Started workflow %v with ID: %s", workflow, workflowID)
	return we, nil
}

// MapWorkflowExecutionStatus maps Temporal's WorkflowExecutionStatus to our WorkflowStatus type.
func MapWorkflowExecutionStatus(status enums.WorkflowExecutionStatus) WorkflowStatus {
	switch status {
	case enums.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return WorkflowStatusRunning
	case enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return WorkflowStatusCompleted
	case enums.WORKFLOW_EXECUTION_STATUS_FAILED:
		return WorkflowStatusFailed
	case enums.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return WorkflowStatusCanceled
	case enums.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return WorkflowStatusTerminated
	case enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return WorkflowStatusTimedOut
	default:
		return WorkflowStatusUnknown
	}
}

// GetWorkflowStatus returns the current status of a workflow by ID.
func (c *Client) GetWorkflowStatus(ctx context.Context, workflowID string) (WorkflowStatus, error) {
	desc, err := c.temporalClient.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return WorkflowStatusUnknown, fmt.Errorf("failed to describe workflow: %w", err)
	}
	return MapWorkflowExecutionStatus(desc.WorkflowExecutionInfo.Status), nil
}

// Close closes the Temporal client connection
func (c *Client) Close() error {
	if c.temporalClient != nil {
		c.temporalClient.Close()
		getTemporalLog().Info().Msg("Temporal client closed")
	}
	return nil
}
