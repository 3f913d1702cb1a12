// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, int64(10), cfg.Points.Sign)
	assert.Equal(t, int64(5), cfg.Points.DailyFirstSign)
	assert.Equal(t, []int{3, 7, 30}, cfg.Points.StreakMilestones)
	assert.Equal(t, int64(50), cfg.Points.StreakBonus[7])
	assert.Equal(t, int64(2500), cfg.Referral.BonusBasisPoints)
	assert.Equal(t, uint64(100), cfg.Engine.RankEpochBlocks)
}

func TestNewConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  lanes: 16
  buffer_window_blocks: 4
  cascade_timeout: 2s
points:
  sign: 20
referral:
  bonus_cap: 40
leaderboard:
  rebuild_interval: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Engine.Lanes)
	assert.Equal(t, uint64(4), cfg.Engine.BufferWindowBlocks)
	assert.Equal(t, 2*time.Second, cfg.Engine.CascadeTimeout)
	assert.Equal(t, int64(20), cfg.Points.Sign)
	assert.Equal(t, int64(40), cfg.Referral.BonusCap)
	assert.Equal(t, 30*time.Second, cfg.Leaderboard.RebuildInterval)
	// untouched sections keep their defaults
	assert.Equal(t, int64(5), cfg.Points.DailyFirstSign)
}

func TestNewConfig_EnvOverride(t *testing.T) {
	t.Setenv("RANKLEDGER_SERVER_PORT", "9191")

	cfg, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(c *AppConfig) {}},
		{name: "missing driver", mutate: func(c *AppConfig) { c.Database.Driver = "" }, wantErr: "database driver"},
		{name: "bad log level", mutate: func(c *AppConfig) { c.Log.Level = "LOUD" }, wantErr: "invalid log level"},
		{name: "zero lanes", mutate: func(c *AppConfig) { c.Engine.Lanes = 0 }, wantErr: "engine.lanes"},
		{name: "zero epoch", mutate: func(c *AppConfig) { c.Engine.RankEpochBlocks = 0 }, wantErr: "rank_epoch_blocks"},
		{name: "bps too high", mutate: func(c *AppConfig) { c.Referral.BonusBasisPoints = 10001 }, wantErr: "bonus_basis_points"},
		{name: "bad milestone", mutate: func(c *AppConfig) { c.Points.StreakMilestones = []int{0} }, wantErr: "streak_milestones"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	mem := DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	assert.Equal(t, "file::memory:", mem.GetDSN())

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, Username: "u", Password: "p", Database: "rl", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=rl sslmode=disable", pg.GetDSN())
}
