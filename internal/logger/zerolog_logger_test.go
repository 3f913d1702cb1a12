// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name     string
		config   *config.LogConfig
		errorMsg string
	}{
		{
			name: "console_json",
			config: &config.LogConfig{
				Level:  "info",
				Format: "json",
				Output: []config.LogOutputConfig{{Type: "console", Enabled: true}},
			},
		},
		{
			name: "file_output",
			config: &config.LogConfig{
				Level:  "debug",
				Format: "json",
				Output: []config.LogOutputConfig{{
					Type:    "file",
					Enabled: true,
					Path:    filepath.Join(t.TempDir(), "engine.log"),
				}},
			},
		},
		{
			name: "rotating_file",
			config: &config.LogConfig{
				Level:  "warn",
				Format: "console",
				Output: []config.LogOutputConfig{{
					Type:    "file",
					Enabled: true,
					Path:    filepath.Join(t.TempDir(), "rotating.log"),
					Rotate:  config.LogRotateConfig{MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 1},
				}},
			},
		},
		{
			name: "nothing_enabled",
			config: &config.LogConfig{
				Level:  "info",
				Output: []config.LogOutputConfig{{Type: "console", Enabled: false}},
			},
		},
		{
			name: "sampling",
			config: &config.LogConfig{
				Level:    "info",
				Format:   "json",
				Output:   []config.LogOutputConfig{{Type: "console", Enabled: true}},
				Sampling: config.LogSamplingConfig{Enabled: true, Initial: 10, Thereafter: 5, Tick: time.Second},
			},
		},
		{
			name: "invalid_output_type",
			config: &config.LogConfig{
				Level:  "info",
				Output: []config.LogOutputConfig{{Type: "syslog", Enabled: true}},
			},
			errorMsg: "unsupported output type: syslog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.config)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, m)
			assert.NoError(t, m.Close())
		})
	}
}

func TestManager_PackageLevels(t *testing.T) {
	m, err := NewManager(&config.LogConfig{
		Level:  "info",
		Levels: map[string]string{"engine": "debug", "api": "error"},
	})
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, m.GetLogger("engine").GetLevel())
	assert.Equal(t, zerolog.ErrorLevel, m.GetLogger("api").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, m.GetLogger("reorg").GetLevel())

	m.SetPackageLevel("engine", "warn")
	assert.Equal(t, zerolog.WarnLevel, m.GetLogger("engine").GetLevel())
}

func TestManager_FileReceivesPackageField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	m, err := NewManager(&config.LogConfig{
		Level:  "info",
		Format: "json",
		Output: []config.LogOutputConfig{{Type: "file", Enabled: true, Path: path}},
	})
	require.NoError(t, err)

	l := m.GetLogger("ledger")
	l.Info().Str("actor", "0xabc").Msg("grant appended")
	require.NoError(t, m.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "ledger", entry["pkg"])
	assert.Equal(t, "0xabc", entry["actor"])
	assert.Equal(t, "grant appended", entry["message"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, parseLevel("trace"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestGlobalLoggerLifecycle(t *testing.T) {
	require.NoError(t, CloseGlobal())

	// uninitialized loggers discard
	l := GetLogger("engine")
	l.Info().Msg("dropped")

	require.NoError(t, Initialize(&config.LogConfig{Level: "debug", Levels: map[string]string{"engine": "trace"}}))
	defer CloseGlobal()

	assert.Equal(t, zerolog.TraceLevel, GetEngineLogger().GetLevel())
	assert.Equal(t, zerolog.DebugLevel, GetAPILogger().GetLevel())
}
