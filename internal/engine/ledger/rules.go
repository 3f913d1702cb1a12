// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"fmt"
	"strings"

	"github.com/noldarim/rankledger/internal/config"
)

// Grant reasons. Milestone reasons are built with MilestoneReason.
const (
	ReasonSign              = "sign"
	ReasonDailyFirstSign    = "daily_first_sign"
	ReasonSignatureReceived = "signature_received"
	ReasonReactionReceived  = "reaction_received"
	ReasonReferralBonus     = "referral_bonus"
	ReasonReversal          = "reversal"

	milestonePrefix = "streak_milestone_"
)

// MilestoneReason names the grant paid when a streak reaches n days.
func MilestoneReason(n int) string {
	return fmt.Sprintf("%s%d", milestonePrefix, n)
}

// IsMilestoneReason reports whether reason was built by MilestoneReason.
func IsMilestoneReason(reason string) bool {
	return strings.HasPrefix(reason, milestonePrefix)
}

// Rules is the grant rule table.
type Rules struct {
	Sign              int64
	DailyFirstSign    int64
	SignatureReceived int64
	ReactionReceived  int64
	Milestones        []int
	MilestoneBonus    map[int]int64

	ReferralBasisPoints int64
	ReferralCap         int64
}

// DefaultRules returns the stock rule table.
func DefaultRules() Rules {
	return RulesFromConfig(config.Default())
}

// RulesFromConfig builds the rule table from the points and referral sections.
func RulesFromConfig(cfg *config.AppConfig) Rules {
	bonus := make(map[int]int64, len(cfg.Points.StreakBonus))
	for k, v := range cfg.Points.StreakBonus {
		bonus[k] = v
	}
	return Rules{
		Sign:                cfg.Points.Sign,
		DailyFirstSign:      cfg.Points.DailyFirstSign,
		SignatureReceived:   cfg.Points.SignatureReceived,
		ReactionReceived:    cfg.Points.ReactionReceived,
		Milestones:          append([]int(nil), cfg.Points.StreakMilestones...),
		MilestoneBonus:      bonus,
		ReferralBasisPoints: cfg.Referral.BonusBasisPoints,
		ReferralCap:         cfg.Referral.BonusCap,
	}
}

// ReferralBonus is the referrer's share of a referee's base grant:
// floor(base * bps / 10000), capped.
func (r Rules) ReferralBonus(base int64) int64 {
	if base <= 0 {
		return 0
	}
	bonus := base * r.ReferralBasisPoints / 10000
	if r.ReferralCap > 0 && bonus > r.ReferralCap {
		bonus = r.ReferralCap
	}
	return bonus
}

// Milestone returns the bonus for reaching n, or zero.
func (r Rules) Milestone(n int) int64 {
	return r.MilestoneBonus[n]
}
