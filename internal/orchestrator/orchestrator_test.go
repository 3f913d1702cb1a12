// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine"
	"github.com/noldarim/rankledger/test/testutil"
)

func fileConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Database = filepath.Join(dir, "rank.db")
	cfg.Checkpoint.Path = filepath.Join(dir, "checkpoints")
	cfg.Engine.Lanes = 4
	cfg.Engine.BufferSweep = 0
	cfg.Leaderboard.RebuildInterval = 0
	return cfg
}

func TestNewRestoresFromTheLog(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t)
	alice, bob := testutil.Addr(1), testutil.Addr(2)

	o, err := New(ctx, cfg, nil, Options{SyncReorgs: true})
	require.NoError(t, err)
	for _, b := range []*testutil.ActionBuilder{
		testutil.Sign(1, alice, bob),
		testutil.React(2, bob, alice),
	} {
		out, err := o.Engine().Append(ctx, b.Build())
		require.NoError(t, err)
		require.Equal(t, engine.Accepted, out.Status)
	}
	digest, err := o.Engine().Digest()
	require.NoError(t, err)
	require.NoError(t, o.Close())

	again, err := New(ctx, cfg, nil, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { again.Close() })

	restored, err := again.Engine().Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, restored)
	assert.Equal(t, uint64(2), again.Engine().Seq())

	out, err := again.Engine().Append(ctx, testutil.Sign(1, alice, bob).Build())
	require.NoError(t, err)
	assert.Equal(t, engine.DuplicateIgnored, out.Status)
}

func TestNewFailsOnUnknownDriver(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Database.Driver = "oracle"

	o, err := New(context.Background(), cfg, nil, Options{})
	assert.Error(t, err)
	assert.Nil(t, o)
}

func TestNewUsesMemoryCheckpointsWithoutPath(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Checkpoint.Path = ""

	o, err := New(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	assert.NotNil(t, o.DB())
	_, err = o.Engine().Checkpoints()
	assert.NoError(t, err)
}
