// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package streak

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var thresholds = []int{3, 7, 30}

func applyDays(s State, days ...int64) (State, []int) {
	var all []int
	for _, d := range days {
		var crossed []int
		s, crossed = s.Apply(d, thresholds)
		all = append(all, crossed...)
	}
	return s, all
}

func TestConsecutiveDays(t *testing.T) {
	s, crossed := applyDays(State{}, 1, 2, 3)
	assert.Equal(t, 3, s.Current)
	assert.Equal(t, 3, s.Longest)
	assert.Equal(t, []int{3}, crossed)
}

func TestGapResets(t *testing.T) {
	s, _ := applyDays(State{}, 1, 2, 3, 5)
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 3, s.Longest)
	assert.Equal(t, int64(5), s.LastDay)
}

func TestSameDayDoesNotIncrement(t *testing.T) {
	s, _ := applyDays(State{}, 1, 1, 1)
	assert.Equal(t, 1, s.Current)
}

func TestEarlierDayIsNoop(t *testing.T) {
	s, _ := applyDays(State{}, 4, 5)
	next, crossed := s.Apply(3, thresholds)
	assert.Equal(t, s, next)
	assert.Empty(t, crossed)
}

func TestMilestonesReportedOnce(t *testing.T) {
	s, crossed := applyDays(State{}, 1, 2, 3, 4, 5, 6, 7)
	assert.Equal(t, []int{3, 7}, crossed)

	// break and rebuild: no second report
	s, crossed = applyDays(s, 20, 21, 22, 23, 24, 25, 26)
	assert.Empty(t, crossed)
	assert.Equal(t, 7, s.Current)
	assert.True(t, s.Reached(7))
	assert.False(t, s.Reached(30))
}

func TestCurrentAt(t *testing.T) {
	s, _ := applyDays(State{}, 10, 11)
	assert.Equal(t, 2, s.CurrentAt(11))
	assert.Equal(t, 2, s.CurrentAt(12))
	assert.Equal(t, 0, s.CurrentAt(13))
	assert.Equal(t, 0, State{}.CurrentAt(0))
}

func TestApplyDoesNotAliasMilestones(t *testing.T) {
	s, _ := applyDays(State{}, 1, 2, 3)
	next, _ := applyDays(s, 4, 5, 6, 7)
	assert.Equal(t, []int{3}, s.Milestones)
	assert.Equal(t, []int{3, 7}, next.Milestones)
}
