// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package badges evaluates declarative badge rules against actor facts.
package badges

import (
	"errors"
	"fmt"
	"time"

	"github.com/noldarim/rankledger/internal/chain"
)

// ErrRuleEvaluation is wrapped by every evaluation failure.
var ErrRuleEvaluation = errors.New("badge rule evaluation failed")

type Rarity string

const (
	Common    Rarity = "common"
	Uncommon  Rarity = "uncommon"
	Rare      Rarity = "rare"
	Epic      Rarity = "epic"
	Legendary Rarity = "legendary"
)

func (r Rarity) Valid() bool {
	switch r {
	case Common, Uncommon, Rare, Epic, Legendary:
		return true
	}
	return false
}

// RuleKind tags a Rule variant.
type RuleKind string

const (
	KindCount   RuleKind = "count"
	KindStreak  RuleKind = "streak"
	KindOrdinal RuleKind = "ordinal"
	KindRank    RuleKind = "rank"
	KindFlag    RuleKind = "flag"
)

// Count metrics.
const (
	MetricSigns              = "signs"
	MetricDistinctGuestbooks = "distinct_guestbooks"
	MetricReactionsGiven     = "reactions_given"
	MetricReactionsReceived  = "reactions_received"
	MetricSignaturesReceived = "signatures_received"
	MetricReferrals          = "referrals"
	MetricTipsSent           = "tips_sent"
	MetricActions            = "actions"
)

// Rule is a tagged variant. Only the fields of its Kind are meaningful.
type Rule struct {
	Kind RuleKind `yaml:"kind" json:"kind"`

	// count
	Metric string `yaml:"metric,omitempty" json:"metric,omitempty"`
	Min    int64  `yaml:"min,omitempty" json:"min,omitempty"`
	// streak
	Days int `yaml:"days,omitempty" json:"days,omitempty"`
	// ordinal: awarded while the actor's admission ordinal is below Limit
	Limit uint64 `yaml:"limit,omitempty" json:"limit,omitempty"`
	// rank
	Window string `yaml:"window,omitempty" json:"window,omitempty"`
	Max    int    `yaml:"max,omitempty" json:"max,omitempty"`
	// flag
	Flag string `yaml:"flag,omitempty" json:"flag,omitempty"`
}

func Count(metric string, atLeast int64) Rule   { return Rule{Kind: KindCount, Metric: metric, Min: atLeast} }
func Streak(days int) Rule                      { return Rule{Kind: KindStreak, Days: days} }
func Ordinal(limit uint64) Rule                 { return Rule{Kind: KindOrdinal, Limit: limit} }
func RankAtMost(window string, atMost int) Rule { return Rule{Kind: KindRank, Window: window, Max: atMost} }
func Flag(name string) Rule                     { return Rule{Kind: KindFlag, Flag: name} }

// Phase is the point in processing at which a rule is evaluated.
type Phase int

const (
	// PhaseAction runs after every cascade.
	PhaseAction Phase = iota
	// PhaseEpoch runs at rank epoch boundaries.
	PhaseEpoch
	// PhaseFlag runs when an external flag is set.
	PhaseFlag
)

func (r Rule) Phase() Phase {
	switch r.Kind {
	case KindRank:
		return PhaseEpoch
	case KindFlag:
		return PhaseFlag
	default:
		return PhaseAction
	}
}

func (r Rule) String() string {
	switch r.Kind {
	case KindCount:
		return fmt.Sprintf("count(%s >= %d)", r.Metric, r.Min)
	case KindStreak:
		return fmt.Sprintf("streak(%d)", r.Days)
	case KindOrdinal:
		return fmt.Sprintf("ordinal(< %d)", r.Limit)
	case KindRank:
		return fmt.Sprintf("rank(%s <= %d)", r.Window, r.Max)
	case KindFlag:
		return fmt.Sprintf("flag(%s)", r.Flag)
	}
	return fmt.Sprintf("unknown(%s)", r.Kind)
}

// Definition is one row of the badge table.
type Definition struct {
	Type   string `yaml:"type" json:"type"`
	Rarity Rarity `yaml:"rarity" json:"rarity"`
	Rule   Rule   `yaml:"rule" json:"rule"`
}

// Facts is the evaluator's view of one actor.
type Facts struct {
	Metrics       map[string]int64
	LongestStreak int
	Acted         bool
	Ordinal       uint64
	Flags         map[string]bool
	// Ranks holds the actor's 1-based rank per window; absent when unranked.
	Ranks map[string]int
}

// Award is a badge held by an actor.
type Award struct {
	Actor          chain.Address `json:"actor"`
	Type           string        `json:"type"`
	Rarity         Rarity        `json:"rarity"`
	AwardedAt      time.Time     `json:"awarded_at"`
	SourceGrantRef string        `json:"source_grant_ref,omitempty"`
}

// Failure records a rule that could not be evaluated.
type Failure struct {
	Type string
	Err  error
}

func (d Definition) evaluate(f Facts) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: %s panicked: %v", ErrRuleEvaluation, d.Type, r)
		}
	}()
	if !d.Rarity.Valid() {
		return false, fmt.Errorf("%w: %s has unknown rarity %q", ErrRuleEvaluation, d.Type, d.Rarity)
	}

	r := d.Rule
	switch r.Kind {
	case KindCount:
		v, known := f.Metrics[r.Metric]
		if !known && !isMetric(r.Metric) {
			return false, fmt.Errorf("%w: %s uses unknown metric %q", ErrRuleEvaluation, d.Type, r.Metric)
		}
		return v >= r.Min, nil
	case KindStreak:
		return r.Days > 0 && f.LongestStreak >= r.Days, nil
	case KindOrdinal:
		return f.Acted && f.Ordinal < r.Limit, nil
	case KindRank:
		rank, ranked := f.Ranks[r.Window]
		return ranked && rank >= 1 && rank <= r.Max, nil
	case KindFlag:
		return f.Flags[r.Flag], nil
	}
	return false, fmt.Errorf("%w: %s has unknown rule kind %q", ErrRuleEvaluation, d.Type, r.Kind)
}

func isMetric(name string) bool {
	switch name {
	case MetricSigns, MetricDistinctGuestbooks, MetricReactionsGiven, MetricReactionsReceived,
		MetricSignaturesReceived, MetricReferrals, MetricTipsSent, MetricActions:
		return true
	}
	return false
}
