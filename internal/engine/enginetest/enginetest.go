// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package enginetest starts engines over in-memory stores for tests of
// the packages built on the engine.
package enginetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine"
	"github.com/noldarim/rankledger/internal/engine/checkpoint"
	"github.com/noldarim/rankledger/internal/engine/database"
	"github.com/noldarim/rankledger/test/testutil"
)

// Env is a started engine and the stores behind it.
type Env struct {
	Config      *config.AppConfig
	Engine      *engine.Engine
	DB          *database.GormDB
	Checkpoints *checkpoint.Store
	Events      *testutil.EventCapture
}

// Config returns the defaults tuned for tests: few lanes, no background
// loops, no rank epochs.
func Config() *config.AppConfig {
	cfg := config.Default()
	cfg.Engine.Lanes = 8
	cfg.Engine.BufferSweep = 0
	cfg.Engine.RankEpochBlocks = 0
	cfg.Leaderboard.RebuildInterval = 0
	return cfg
}

// New starts an engine with a synchronous in-process reorg runner.
func New(t *testing.T, opts ...func(*config.AppConfig)) *Env {
	t.Helper()
	cfg := Config()
	for _, o := range opts {
		o(cfg)
	}

	fx := database.UseFreshInMemoryDatabase(t)
	t.Cleanup(fx.Cleanup)
	cps, err := checkpoint.OpenMemory(cfg.Checkpoint.Keep)
	require.NoError(t, err)
	t.Cleanup(func() { cps.Close() })

	events := testutil.NewEventCapture()
	t.Cleanup(events.Close)

	e, err := engine.New(cfg, fx.DB, cps, events.Channel())
	require.NoError(t, err)
	e.SetReorgRunner(engine.NewLocalRunner(e, true))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Close() })

	return &Env{Config: cfg, Engine: e, DB: fx.DB, Checkpoints: cps, Events: events}
}

// Apply appends actions and requires each to be accepted.
func (env *Env) Apply(t *testing.T, builders ...*testutil.ActionBuilder) {
	t.Helper()
	for _, b := range builders {
		out, err := env.Engine.Append(context.Background(), b.Build())
		require.NoError(t, err)
		require.Equal(t, engine.Accepted, out.Status, "%s: %s", out.Reason, out.Detail)
	}
}
