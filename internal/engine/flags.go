// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/models"
)

// SetFlag records an externally set flag on actor and evaluates the flag
// badge rules. The first setAt recorded for a flag wins; setting it again
// returns the stored flag unchanged.
func (e *Engine) SetFlag(ctx context.Context, actor chain.Address, flag string, setAt time.Time) (*models.ActorFlag, error) {
	addr, err := chain.ParseAddress(string(actor))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	flag = strings.ToLower(strings.TrimSpace(flag))
	if flag == "" {
		return nil, fmt.Errorf("%w: empty flag", ErrInvalidAction)
	}
	if setAt.IsZero() {
		setAt = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stored, created, err := e.store.SaveFlag(ctx, &models.ActorFlag{Actor: string(addr), Flag: flag, SetAt: setAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("save flag: %w", err)
	}
	if !created {
		return stored, nil
	}

	lane := e.lanes.of(addr)
	if reason := e.haltedReason([]int{lane}); reason != "" {
		getLog().Warn().Str("actor", string(addr)).Str("flag", flag).Str("halted", reason).
			Msg("Flag persisted on halted lane, badges follow on resume")
		return stored, nil
	}
	if e.reorg != nil && contains(e.reorg.lanes, lane) {
		// the commit replays persisted flags into the shadow
		return stored, nil
	}

	set := []int{lane}
	e.lanes.lock(set)
	defer e.lanes.unlock(set)

	e.projMu.RLock()
	fx := e.folder.flagEffects(e.proj, addr, flag, stored.SetAt.UTC())
	e.projMu.RUnlock()

	if len(fx.awards) > 0 {
		if err := e.store.CommitAwards(ctx, awardRows(fx.awards)); err != nil {
			return stored, fmt.Errorf("persist flag awards: %w", err)
		}
	}
	balances, err := e.publish(fx)
	if err != nil {
		return stored, err
	}
	e.report(fx, balances)

	getLog().Info().Str("actor", string(addr)).Str("flag", flag).Int("awards", len(fx.awards)).Msg("Flag set")
	return stored, nil
}
