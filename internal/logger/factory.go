// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels

// GetEngineLogger returns a logger for the write path
func GetEngineLogger() zerolog.Logger {
	return GetLogger("engine")
}

// GetLedgerLogger returns a logger for the points ledger
func GetLedgerLogger() zerolog.Logger {
	return GetLogger("ledger")
}

// GetBadgesLogger returns a logger for badge evaluation
func GetBadgesLogger() zerolog.Logger {
	return GetLogger("badges")
}

// GetLeaderboardLogger returns a logger for leaderboard maintenance
func GetLeaderboardLogger() zerolog.Logger {
	return GetLogger("leaderboard")
}

// GetReorgLogger returns a logger for chain reorganization handling
func GetReorgLogger() zerolog.Logger {
	return GetLogger("reorg")
}

// GetIngestLogger returns a logger for the ingestion pipeline
func GetIngestLogger() zerolog.Logger {
	return GetLogger("ingest")
}

// GetDatabaseLogger returns a logger for database operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetCheckpointLogger returns a logger for the checkpoint store
func GetCheckpointLogger() zerolog.Logger {
	return GetLogger("checkpoint")
}

// GetTemporalLogger returns a logger for Temporal components
func GetTemporalLogger() zerolog.Logger {
	return GetLogger("temporal")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetOrchestratorLogger returns a logger for process wiring
func GetOrchestratorLogger() zerolog.Logger {
	return GetLogger("orchestrator")
}
