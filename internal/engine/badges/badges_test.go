// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package badges

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func types(defs []Definition) []string {
	return lo.Map(defs, func(d Definition, _ int) string { return d.Type })
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	assert.Len(t, table.Definitions(), 12)

	d, ok := table.Get(TopTen)
	require.True(t, ok)
	assert.Equal(t, Legendary, d.Rarity)
	assert.Equal(t, PhaseEpoch, d.Rule.Phase())
	assert.Equal(t, []string{"all"}, table.RankWindows())
	assert.Equal(t, 10, table.MaxRank("all"))
}

func TestEvaluateActionPhase(t *testing.T) {
	facts := Facts{
		Metrics:       map[string]int64{MetricSigns: 1, MetricDistinctGuestbooks: 10},
		LongestStreak: 3,
		Acted:         true,
		Ordinal:       5,
	}
	earned, failures := DefaultTable().Evaluate(PhaseAction, facts, nil)
	assert.Empty(t, failures)
	assert.ElementsMatch(t, []string{FirstSign, Explorer, StreakStarter, EarlyAdopter}, types(earned))
}

func TestEvaluateSkipsHeldBadges(t *testing.T) {
	facts := Facts{Metrics: map[string]int64{MetricDistinctGuestbooks: 12}}
	held := func(bt string) bool { return bt == Explorer }

	earned, _ := DefaultTable().Evaluate(PhaseAction, facts, held)
	assert.NotContains(t, types(earned), Explorer)
}

func TestEvaluateOtherPhases(t *testing.T) {
	table := DefaultTable()

	earned, _ := table.Evaluate(PhaseEpoch, Facts{Ranks: map[string]int{"all": 3}}, nil)
	assert.Equal(t, []string{TopTen}, types(earned))
	earned, _ = table.Evaluate(PhaseEpoch, Facts{Ranks: map[string]int{"all": 11}}, nil)
	assert.Empty(t, earned)

	earned, _ = table.Evaluate(PhaseFlag, Facts{Flags: map[string]bool{"vip": true}}, nil)
	assert.Equal(t, []string{VIP}, types(earned))
}

func TestOrdinalRequiresAction(t *testing.T) {
	earned, _ := DefaultTable().Evaluate(PhaseAction, Facts{Ordinal: 0}, nil)
	assert.NotContains(t, types(earned), EarlyAdopter)
}

func TestFailuresAreIsolated(t *testing.T) {
	table := NewTable([]Definition{
		{Type: "BROKEN_METRIC", Rarity: Common, Rule: Count("karma", 1)},
		{Type: "BROKEN_RARITY", Rarity: "mythic", Rule: Count(MetricSigns, 1)},
		{Type: "BROKEN_KIND", Rarity: Common, Rule: Rule{Kind: "vibes"}},
		{Type: FirstSign, Rarity: Common, Rule: Count(MetricSigns, 1)},
	})
	earned, failures := table.Evaluate(PhaseAction, Facts{Metrics: map[string]int64{MetricSigns: 1}}, nil)

	assert.Equal(t, []string{FirstSign}, types(earned))
	require.Len(t, failures, 3)
	for _, f := range failures {
		assert.ErrorIs(t, f.Err, ErrRuleEvaluation)
	}
}

func TestParseOverrides(t *testing.T) {
	yml := `
badges:
  - type: EXPLORER
    rarity: uncommon
    rule: {kind: count, metric: distinct_guestbooks, min: 5}
  - type: TIPPER
    rarity: rare
    rule: {kind: count, metric: tips_sent, min: 3}
`
	table, err := ParseOverrides([]byte(yml))
	require.NoError(t, err)

	assert.Len(t, table.Definitions(), 13)
	d, _ := table.Get(Explorer)
	assert.Equal(t, Uncommon, d.Rarity)
	assert.Equal(t, int64(5), d.Rule.Min)
	tipper, ok := table.Get("TIPPER")
	require.True(t, ok)
	assert.Equal(t, "count(tips_sent >= 3)", tipper.Rule.String())
	// order of defaults is preserved
	assert.Equal(t, Explorer, table.Definitions()[1].Type)
}

func TestParseOverridesRejectsUnknownFields(t *testing.T) {
	_, err := ParseOverrides([]byte("badges:\n  - type: X\n    rarity: common\n    rule: {kind: count}\n    colour: red\n"))
	assert.Error(t, err)

	_, err = ParseOverrides([]byte("badges:\n  - rarity: common\n    rule: {kind: count}\n"))
	assert.Error(t, err)
}

func TestLoadTable(t *testing.T) {
	table, err := LoadTable("")
	require.NoError(t, err)
	assert.Len(t, table.Definitions(), 12)

	path := filepath.Join(t.TempDir(), "badges.yaml")
	require.NoError(t, os.WriteFile(path, []byte("badges:\n  - type: VIP\n    rarity: epic\n    rule: {kind: flag, flag: vip}\n"), 0o600))
	table, err = LoadTable(path)
	require.NoError(t, err)
	d, _ := table.Get(VIP)
	assert.Equal(t, Epic, d.Rarity)

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
