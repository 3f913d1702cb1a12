// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package streak tracks consecutive UTC days with a qualifying action.
package streak

import (
	"slices"
)

// State is one actor's streak. The zero value is NoStreak.
type State struct {
	Current    int   `json:"current"`
	Longest    int   `json:"longest"`
	LastDay    int64 `json:"last_day"`
	Milestones []int `json:"milestones,omitempty"`
}

// Active reports whether any qualifying action has been seen.
func (s State) Active() bool { return s.Current > 0 }

// Apply advances the state for a qualifying action on day and returns the
// thresholds crossed for the first time. Days before LastDay leave the state
// unchanged.
func (s State) Apply(day int64, thresholds []int) (State, []int) {
	next := s.Clone()
	switch {
	case !s.Active():
		next.Current = 1
	case day == s.LastDay:
		return next, nil
	case day == s.LastDay+1:
		next.Current++
	case day > s.LastDay+1:
		next.Current = 1
	default:
		return next, nil
	}
	next.LastDay = day
	if next.Current > next.Longest {
		next.Longest = next.Current
	}

	var crossed []int
	for _, t := range thresholds {
		if t > 0 && next.Current >= t && !slices.Contains(next.Milestones, t) {
			next.Milestones = append(next.Milestones, t)
			crossed = append(crossed, t)
		}
	}
	slices.Sort(next.Milestones)
	slices.Sort(crossed)
	return next, crossed
}

// CurrentAt is the streak as seen on today. It is zero once a full day has
// passed without a qualifying action.
func (s State) CurrentAt(today int64) int {
	if !s.Active() || today > s.LastDay+1 {
		return 0
	}
	return s.Current
}

// Reached reports whether milestone n was ever crossed.
func (s State) Reached(n int) bool {
	return slices.Contains(s.Milestones, n)
}

func (s State) Clone() State {
	s.Milestones = slices.Clone(s.Milestones)
	return s
}
