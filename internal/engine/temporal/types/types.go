// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package types holds the inputs and outputs passed between the reorg
// workflow and its activities.
package types

import "time"

// RetrySettings mirrors temporal.RetryPolicy in a form that survives
// workflow input serialization.
type RetrySettings struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int32
}

// ActivitySettings configures the reorg activities.
type ActivitySettings struct {
	StartToCloseTimeout time.Duration
	HeartbeatTimeout    time.Duration
	Retry               RetrySettings
}

// ReorgWorkflowInput starts or continues a reorg workflow.
type ReorgWorkflowInput struct {
	JobID    string
	Activity ActivitySettings
	// SegmentsPerRun bounds history size; the workflow continues as new
	// after that many replay segments. Zero means no bound.
	SegmentsPerRun int
	// Segments counts replay segments across continued runs.
	Segments int
}

// ReorgWorkflowOutput reports a finished reorg.
type ReorgWorkflowOutput struct {
	JobID       string
	Status      string
	Segments    int
	ReplayedSeq uint64
	Corrections int
}

// ReorgJobInput names the job an activity works on.
type ReorgJobInput struct {
	JobID string
}

// ReplaySegmentOutput reports one replayed segment.
type ReplaySegmentOutput struct {
	Done        bool
	ReplayedSeq uint64
	HeadSeq     uint64
}

// CommitReorgOutput reports a committed reorg.
type CommitReorgOutput struct {
	Status      string
	Corrections int
}

// FailReorgInput marks a job failed.
type FailReorgInput struct {
	JobID string
	Error string
}
