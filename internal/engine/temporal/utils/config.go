// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package utils provides shared helpers for the reorg workflow and its
// callers.
package utils

import (
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine/temporal/types"
)

// WorkflowID is the Temporal workflow id for a reorg job.
func WorkflowID(jobID string) string {
	return "reorg-" + jobID
}

// GetActivitySettings returns the activity settings from config.
func GetActivitySettings(cfg *config.AppConfig) types.ActivitySettings {
	a := cfg.Temporal.Activity
	return types.ActivitySettings{
		StartToCloseTimeout: a.StartToCloseTimeout,
		HeartbeatTimeout:    a.HeartbeatTimeout,
		Retry: types.RetrySettings{
			InitialInterval:    a.RetryPolicy.InitialInterval,
			BackoffCoefficient: a.RetryPolicy.BackoffCoefficient,
			MaximumInterval:    a.RetryPolicy.MaximumInterval,
			MaximumAttempts:    a.RetryPolicy.MaximumAttempts,
		},
	}
}

// GetActivityOptions converts settings into workflow.ActivityOptions.
func GetActivityOptions(s types.ActivitySettings) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: s.StartToCloseTimeout,
		HeartbeatTimeout:    s.HeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    s.Retry.InitialInterval,
			BackoffCoefficient: s.Retry.BackoffCoefficient,
			MaximumInterval:    s.Retry.MaximumInterval,
			MaximumAttempts:    s.Retry.MaximumAttempts,
		},
	}
}
