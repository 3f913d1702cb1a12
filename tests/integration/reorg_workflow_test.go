// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package integration runs the reorg workflow against a live Temporal
// server. Tests skip when none is reachable.
package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/engine/temporal"
	"github.com/noldarim/rankledger/internal/engine/temporal/utils"
	"github.com/noldarim/rankledger/internal/orchestrator"
	"github.com/noldarim/rankledger/internal/protocol"
	"github.com/noldarim/rankledger/test/testutil"
)

func temporalConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	if hp := os.Getenv("RANKLEDGER_TEMPORAL_HOST_PORT"); hp != "" {
		cfg.Temporal.HostPort = hp
	}
	conn, err := net.DialTimeout("tcp", cfg.Temporal.HostPort, time.Second)
	if err != nil {
		t.Skipf("no Temporal server at %s: %v", cfg.Temporal.HostPort, err)
	}
	conn.Close()

	dir := t.TempDir()
	cfg.Temporal.Enabled = true
	cfg.Temporal.TaskQueue = "rankledger-reorg-it-" + filepath.Base(dir)
	cfg.Database.Database = filepath.Join(dir, "rank.db")
	cfg.Checkpoint.Path = filepath.Join(dir, "checkpoints")
	cfg.Engine.Lanes = 8
	cfg.Engine.BufferSweep = 0
	cfg.Leaderboard.RebuildInterval = 0
	return cfg
}

func waitForJob(t *testing.T, ctx context.Context, orch *orchestrator.Orchestrator, id string) *models.ReorgJob {
	t.Helper()
	var job *models.ReorgJob
	require.Eventually(t, func() bool {
		var err error
		job, err = orch.Engine().ReorgJob(ctx, id)
		require.NoError(t, err)
		return job.Status == models.ReorgCompleted || job.Status == models.ReorgFailed
	}, 60*time.Second, 200*time.Millisecond)
	return job
}

func TestReorgWorkflowEndToEnd(t *testing.T) {
	cfg := temporalConfig(t)
	ctx := context.Background()
	alice, bob, carol, dave := testutil.Addr(1), testutil.Addr(2), testutil.Addr(3), testutil.Addr(4)

	events := testutil.NewEventCapture()
	t.Cleanup(events.Close)

	orch, err := orchestrator.New(ctx, cfg, events.Channel(), orchestrator.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })
	e := orch.Engine()

	for _, b := range []*testutil.ActionBuilder{
		testutil.Sign(90, alice, bob),
		testutil.Sign(100, carol, bob),
		testutil.Sign(101, dave, alice),
	} {
		_, err := e.Append(ctx, b.Build())
		require.NoError(t, err)
	}

	job, err := e.StartReorg(ctx, 100, []chain.Action{testutil.Sign(102, carol, alice).Build()})
	require.NoError(t, err)

	done := waitForJob(t, ctx, orch, job.ID)
	require.Equal(t, models.ReorgCompleted, done.Status, done.Error)
	assert.Equal(t, 2, done.Invalidated)

	report, err := e.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())

	testutil.AssertEventEmitted(t, events, func(ev protocol.ReorgCompletedEvent) bool {
		return ev.JobID == job.ID
	})

	tc, err := temporal.NewClient(cfg.Temporal.HostPort, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue)
	require.NoError(t, err)
	t.Cleanup(func() { tc.Close() })
	status, err := tc.GetWorkflowStatus(ctx, utils.WorkflowID(job.ID))
	require.NoError(t, err)
	assert.Equal(t, temporal.WorkflowStatusCompleted, status)
}

func TestReorgJobsResumeAfterRestart(t *testing.T) {
	cfg := temporalConfig(t)
	ctx := context.Background()
	alice, bob, carol := testutil.Addr(1), testutil.Addr(2), testutil.Addr(3)

	first, err := orchestrator.New(ctx, cfg, nil, orchestrator.Options{NoWorker: true})
	require.NoError(t, err)
	for _, b := range []*testutil.ActionBuilder{
		testutil.Sign(10, alice, bob),
		testutil.Sign(20, carol, bob),
	} {
		_, err := first.Engine().Append(ctx, b.Build())
		require.NoError(t, err)
	}
	digest, err := first.Engine().Digest()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// the second process owns a worker and finds nothing to resume
	second, err := orchestrator.New(ctx, cfg, nil, orchestrator.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	restored, err := second.Engine().Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, restored)

	job, err := second.Engine().StartReorg(ctx, 20, nil)
	require.NoError(t, err)
	done := waitForJob(t, ctx, second, job.ID)
	assert.Equal(t, models.ReorgCompleted, done.Status, done.Error)
	assert.Equal(t, 1, done.Invalidated)
}
