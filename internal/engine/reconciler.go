// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noldarim/rankledger/internal/engine/leaderboard"
	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/protocol"
)

// RebuildResult summarizes one leaderboard rebuild.
type RebuildResult struct {
	Cursor    int `json:"cursor"`
	Drifted   int `json:"drifted"`
	Snapshots int `json:"snapshots"`
}

// RebuildLeaderboard rebuilds every window from the ledger, swaps the result
// in and persists the top of each current bucket. Actors whose incremental
// sums differed from the rebuild are counted as drift.
func (e *Engine) RebuildLeaderboard(ctx context.Context) (*RebuildResult, error) {
	ctx, span := e.tracer.Start(ctx, "leaderboard.rebuild")
	defer span.End()

	e.projMu.RLock()
	cursor := e.proj.Ledger.Len()
	grants := e.proj.Ledger.Range(0, cursor)
	firstAt := e.proj.FirstAt()
	e.projMu.RUnlock()

	fresh := leaderboard.Build(grants, cursor, firstAt)

	e.projMu.Lock()
	if n := e.proj.Ledger.Len(); n > cursor {
		fresh.Apply(e.proj.Ledger.Range(cursor, n), n, e.proj.FirstAt())
		cursor = n
	}
	drifted := e.board.Swap(fresh)
	e.projMu.Unlock()

	res := &RebuildResult{Cursor: cursor, Drifted: len(drifted)}
	e.metrics.AddLeaderboardDrift(len(drifted))
	if len(drifted) > 0 {
		getLog().Warn().Int("drifted", len(drifted)).Int("cursor", cursor).Msg("Leaderboard drift corrected")
	}

	if size := e.cfg.Leaderboard.SnapshotSize; size > 0 {
		now := e.now().UTC()
		snaps := make([]models.LeaderboardSnapshot, 0, len(leaderboard.Windows))
		for _, w := range leaderboard.Windows {
			snap := e.board.Current(w, now)
			entries, err := json.Marshal(snap.Top(size))
			if err != nil {
				return nil, fmt.Errorf("encode %s snapshot: %w", w, err)
			}
			snaps = append(snaps, models.LeaderboardSnapshot{
				Window:  string(w),
				Bucket:  snap.Bucket,
				AsOf:    now,
				Cursor:  snap.Cursor,
				Entries: string(entries),
			})
		}
		if err := e.store.SaveLeaderboardSnapshots(ctx, snaps); err != nil {
			return nil, fmt.Errorf("save leaderboard snapshots: %w", err)
		}
		res.Snapshots = len(snaps)
	}

	e.emit(protocol.LeaderboardRebuiltEvent{
		Metadata: protocol.NewMetadata(fmt.Sprintf("leaderboard/%d", cursor)),
		Cursor:   uint64(cursor),
		Drifted:  len(drifted),
	})
	getLog().Debug().Int("cursor", cursor).Int("drifted", len(drifted)).Msg("Leaderboard rebuilt")
	return res, nil
}

func (e *Engine) reconcileLoop(ctx context.Context, every time.Duration) {
	defer e.bg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := e.board.Evict(); len(dropped) > 0 {
				getLog().Debug().Strs("buckets", dropped).Msg("Evicted leaderboard buckets")
			}
			if _, err := e.RebuildLeaderboard(ctx); err != nil {
				getLog().Error().Err(err).Msg("Leaderboard rebuild failed")
			}
		}
	}
}
