// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"encoding/json"
	"fmt"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/badges"
	"github.com/noldarim/rankledger/internal/engine/ledger"
	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/engine/referral"
	"github.com/noldarim/rankledger/internal/engine/streak"
)

func actionRow(a chain.Action, seq uint64) (*models.Action, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload of %s: %w", a.Ref, err)
	}
	return &models.Action{
		RefKey:    a.Ref.Key(),
		Seq:       seq,
		Block:     a.Ref.Block,
		TxIndex:   a.Ref.TxIndex,
		LogIndex:  a.Ref.LogIndex,
		Actor:     string(a.Actor),
		Target:    string(a.Target),
		Type:      string(a.Type),
		Payload:   string(payload),
		BlockTime: a.BlockTime,
	}, nil
}

func actionFromRow(row models.Action) (chain.Action, error) {
	a := chain.Action{
		Ref:       chain.ChainRef{Block: row.Block, TxIndex: row.TxIndex, LogIndex: row.LogIndex},
		Actor:     chain.Address(row.Actor),
		Target:    chain.Address(row.Target),
		Type:      chain.ActionType(row.Type),
		BlockTime: row.BlockTime.UTC(),
	}
	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), &a.Payload); err != nil {
			return chain.Action{}, fmt.Errorf("decode payload of seq %d: %w", row.Seq, err)
		}
	}
	return a, nil
}

func grantRow(g ledger.Grant) models.Grant {
	return models.Grant{
		GrantID:   g.ID,
		Actor:     string(g.Actor),
		Amount:    g.Amount,
		Reason:    g.Reason,
		SourceRef: g.SourceRef.String(),
		ActionSeq: g.ActionSeq,
		Reverses:  g.Reverses,
		CreatedAt: g.CreatedAt,
	}
}

func grantRows(grants []ledger.Grant) []models.Grant {
	out := make([]models.Grant, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantRow(g))
	}
	return out
}

func grantFromRow(row models.Grant) (ledger.Grant, error) {
	ref, err := chain.ParseRef(row.SourceRef)
	if err != nil {
		return ledger.Grant{}, fmt.Errorf("grant %s: %w", row.GrantID, err)
	}
	return ledger.Grant{
		ID:        row.GrantID,
		Actor:     chain.Address(row.Actor),
		Amount:    row.Amount,
		Reason:    row.Reason,
		SourceRef: ref,
		ActionSeq: row.ActionSeq,
		Reverses:  row.Reverses,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

func streakRow(actor chain.Address, s streak.State) models.StreakState {
	return models.StreakState{
		Actor:      string(actor),
		Current:    s.Current,
		Longest:    s.Longest,
		LastDay:    s.LastDay,
		Milestones: models.IntList(s.Milestones),
	}
}

func streakFromRow(row models.StreakState) streak.State {
	return streak.State{
		Current:    row.Current,
		Longest:    row.Longest,
		LastDay:    row.LastDay,
		Milestones: []int(row.Milestones),
	}
}

func edgeRow(e referral.Edge) models.ReferralEdge {
	return models.ReferralEdge{
		Referee:  string(e.Referee),
		Referrer: string(e.Referrer),
		RefKey:   e.Ref.Key(),
		Ref:      e.Ref.String(),
	}
}

func awardRow(a badges.Award) models.BadgeAward {
	return models.BadgeAward{
		Actor:          string(a.Actor),
		BadgeType:      a.Type,
		Rarity:         string(a.Rarity),
		AwardedAt:      a.AwardedAt,
		SourceGrantRef: a.SourceGrantRef,
	}
}

func awardRows(awards []badges.Award) []models.BadgeAward {
	out := make([]models.BadgeAward, 0, len(awards))
	for _, a := range awards {
		out = append(out, awardRow(a))
	}
	return out
}

// batch is the persistence unit of an action cascade.
func (fx *effects) batch() (*models.CascadeBatch, error) {
	b := &models.CascadeBatch{
		Grants: grantRows(fx.grants),
		Awards: awardRows(fx.awards),
	}
	if fx.step != nil {
		row, err := actionRow(fx.step.action, fx.step.seq)
		if err != nil {
			return nil, err
		}
		b.Action = row
	}
	for _, addr := range fx.touched() {
		s := fx.states[addr]
		if s.Streak.Active() {
			b.Streaks = append(b.Streaks, streakRow(addr, s.Streak))
		}
	}
	if fx.edge != nil {
		row := edgeRow(*fx.edge)
		b.Edge = &row
	}
	return b, nil
}
