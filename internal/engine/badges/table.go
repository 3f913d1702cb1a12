// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package badges

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Built-in badge types.
const (
	FirstSign        = "FIRST_SIGN"
	Explorer         = "EXPLORER"
	GuestbookVeteran = "GUESTBOOK_VETERAN"
	StreakStarter    = "STREAK_STARTER"
	StreakMaster     = "STREAK_MASTER"
	StreakLegend     = "STREAK_LEGEND"
	CrowdFavorite    = "CROWD_FAVORITE"
	EarlyAdopter     = "EARLY_ADOPTER"
	TopTen           = "TOP_TEN"
	Networker        = "NETWORKER"
	BetaTester       = "BETA_TESTER"
	VIP              = "VIP"
)

// DefaultDefinitions is the stock badge table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Type: FirstSign, Rarity: Common, Rule: Count(MetricSigns, 1)},
		{Type: Explorer, Rarity: Common, Rule: Count(MetricDistinctGuestbooks, 10)},
		{Type: GuestbookVeteran, Rarity: Uncommon, Rule: Count(MetricSigns, 50)},
		{Type: StreakStarter, Rarity: Common, Rule: Streak(3)},
		{Type: StreakMaster, Rarity: Uncommon, Rule: Streak(7)},
		{Type: StreakLegend, Rarity: Rare, Rule: Streak(30)},
		{Type: CrowdFavorite, Rarity: Rare, Rule: Count(MetricReactionsReceived, 100)},
		{Type: EarlyAdopter, Rarity: Rare, Rule: Ordinal(1000)},
		{Type: TopTen, Rarity: Legendary, Rule: RankAtMost("all", 10)},
		{Type: Networker, Rarity: Epic, Rule: Count(MetricReferrals, 10)},
		{Type: BetaTester, Rarity: Legendary, Rule: Flag("beta")},
		{Type: VIP, Rarity: Legendary, Rule: Flag("vip")},
	}
}

// Table is an ordered, immutable set of definitions.
type Table struct {
	defs   []Definition
	byType map[string]int
}

// NewTable builds a table. Later definitions replace earlier ones with the
// same type in place.
func NewTable(defs []Definition) *Table {
	t := &Table{byType: make(map[string]int, len(defs))}
	for _, d := range defs {
		if i, ok := t.byType[d.Type]; ok {
			t.defs[i] = d
			continue
		}
		t.byType[d.Type] = len(t.defs)
		t.defs = append(t.defs, d)
	}
	return t
}

func DefaultTable() *Table { return NewTable(DefaultDefinitions()) }

type overrideFile struct {
	Badges []Definition `yaml:"badges"`
}

// LoadTable returns the default table overlaid with the definitions in the
// YAML file at path. An empty path yields the defaults.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read badge definitions: %w", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides overlays YAML definitions on the defaults.
func ParseOverrides(data []byte) (*Table, error) {
	var file overrideFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse badge definitions: %w", err)
	}
	for i, d := range file.Badges {
		if d.Type == "" {
			return nil, fmt.Errorf("badge definition %d: missing type", i)
		}
		if d.Rule.Kind == "" {
			return nil, fmt.Errorf("badge definition %s: missing rule kind", d.Type)
		}
	}
	return NewTable(append(DefaultDefinitions(), file.Badges...)), nil
}

// Definitions returns the table in order.
func (t *Table) Definitions() []Definition {
	return append([]Definition(nil), t.defs...)
}

func (t *Table) Get(badgeType string) (Definition, bool) {
	i, ok := t.byType[badgeType]
	if !ok {
		return Definition{}, false
	}
	return t.defs[i], true
}

// Evaluate returns the definitions of phase that facts satisfy and that held
// does not already contain. A failing rule never stops the others.
func (t *Table) Evaluate(phase Phase, facts Facts, held func(badgeType string) bool) ([]Definition, []Failure) {
	var (
		earned   []Definition
		failures []Failure
	)
	for _, d := range t.defs {
		if d.Rule.Phase() != phase || (held != nil && held(d.Type)) {
			continue
		}
		ok, err := d.evaluate(facts)
		if err != nil {
			failures = append(failures, Failure{Type: d.Type, Err: err})
			continue
		}
		if ok {
			earned = append(earned, d)
		}
	}
	return earned, failures
}

// RankWindows lists the windows referenced by rank rules, sorted.
func (t *Table) RankWindows() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range t.defs {
		if d.Rule.Kind == KindRank && !seen[d.Rule.Window] {
			seen[d.Rule.Window] = true
			out = append(out, d.Rule.Window)
		}
	}
	sort.Strings(out)
	return out
}

// MaxRank is the deepest rank any rank rule on window looks at.
func (t *Table) MaxRank(window string) int {
	deepest := 0
	for _, d := range t.defs {
		if d.Rule.Kind == KindRank && d.Rule.Window == window && d.Rule.Max > deepest {
			deepest = d.Rule.Max
		}
	}
	return deepest
}
