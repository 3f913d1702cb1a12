// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package query is the read-only facade over the engine's published state.
// Nothing here takes the engine's write locks.
package query

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine"
	"github.com/noldarim/rankledger/internal/engine/badges"
	"github.com/noldarim/rankledger/internal/engine/leaderboard"
	"github.com/noldarim/rankledger/internal/engine/ledger"
	"github.com/noldarim/rankledger/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetLogger("query")
		log = &l
	})
	return log
}

const (
	defaultPageSize = 50
	defaultMaxPage  = 500
)

// Reader is the engine's read surface.
type Reader interface {
	Actor(addr chain.Address) (engine.ActorView, bool)
	ActorsOf(addrs []chain.Address) map[chain.Address]engine.ActorView
	History(addr chain.Address, cursor string, limit int) (ledger.Page, error)
	BadgeHolders(badgeType string) int
	Board() *leaderboard.Board
	Table() *badges.Table
}

// Service answers the stats, leaderboard and badge queries.
type Service struct {
	engine  Reader
	maxPage int
}

// NewService creates a query service. maxPage caps leaderboard and history
// pages; zero uses the default.
func NewService(r Reader, maxPage int) *Service {
	if maxPage <= 0 {
		maxPage = defaultMaxPage
	}
	return &Service{engine: r, maxPage: maxPage}
}

// UserStats is one actor's aggregate state.
type UserStats struct {
	Actor              string    `json:"actor"`
	Points             int64     `json:"points"`
	ActionsCount       int64     `json:"actions_count"`
	SignaturesGiven    int64     `json:"signatures_given"`
	SignaturesReceived int64     `json:"signatures_received"`
	CurrentStreak      int       `json:"current_streak"`
	LongestStreak      int       `json:"longest_streak"`
	ReactionsGiven     int64     `json:"reactions_given"`
	ReactionsReceived  int64     `json:"reactions_received"`
	Referrals          int64     `json:"referrals"`
	TipsSent           int64     `json:"tips_sent"`
	TipsReceivedWei    string    `json:"tips_received_wei"`
	BadgeCount         int       `json:"badge_count"`
	FirstSeen          time.Time `json:"first_seen"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	Actor        string `json:"actor"`
	Points       int64  `json:"points"`
	ActionsCount int64  `json:"actions_count"`
	BadgeCount   int    `json:"badge_count"`
}

// LeaderboardPage is a page of one window's current bucket.
type LeaderboardPage struct {
	Window  string             `json:"window"`
	Bucket  string             `json:"bucket"`
	AsOf    time.Time          `json:"as_of"`
	Total   int                `json:"total"`
	Offset  int                `json:"offset"`
	Entries []LeaderboardEntry `json:"entries"`
}

// UserBadge is a badge held by an actor.
type UserBadge struct {
	BadgeType string        `json:"badge_type"`
	Rarity    badges.Rarity `json:"rarity"`
	AwardedAt time.Time     `json:"awarded_at"`
}

func parseActor(actor string) (chain.Address, error) {
	addr, err := chain.ParseAddress(actor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrInvalidAction, err)
	}
	return addr, nil
}

func (s *Service) view(actor string) (engine.ActorView, error) {
	addr, err := parseActor(actor)
	if err != nil {
		return engine.ActorView{}, err
	}
	v, ok := s.engine.Actor(addr)
	if !ok {
		return engine.ActorView{}, fmt.Errorf("%w: actor %s", engine.ErrNotFound, addr)
	}
	return v, nil
}

// GetUserStats returns the actor's stats as of now. The current streak reads
// zero once a full UTC day has passed without a qualifying action. An
// address the engine has never seen is ErrNotFound.
func (s *Service) GetUserStats(actor string, now time.Time) (*UserStats, error) {
	v, err := s.view(actor)
	if err != nil {
		return nil, err
	}
	st := v.State
	tips := st.TipsReceivedWei
	if tips == "" {
		tips = "0"
	}
	return &UserStats{
		Actor:              string(st.Address),
		Points:             v.Balance,
		ActionsCount:       st.Actions,
		SignaturesGiven:    st.Signs,
		SignaturesReceived: st.SignaturesReceived,
		CurrentStreak:      st.Streak.CurrentAt(chain.DayIndex(now)),
		LongestStreak:      st.Streak.Longest,
		ReactionsGiven:     st.ReactionsGiven,
		ReactionsReceived:  st.ReactionsReceived,
		Referrals:          st.Referrals,
		TipsSent:           st.TipsSent,
		TipsReceivedWei:    tips,
		BadgeCount:         len(st.Badges),
		FirstSeen:          st.FirstAt,
	}, nil
}

// GetLeaderboard returns ranks offset+1 .. offset+limit of the window's
// bucket containing now.
func (s *Service) GetLeaderboard(window string, offset, limit int, now time.Time) (*LeaderboardPage, error) {
	w, err := leaderboard.ParseWindow(window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidAction, err)
	}
	if offset < 0 {
		offset = 0
	}
	limit = s.pageSize(limit)

	snap := s.engine.Board().Current(w, now.UTC())
	ranked := snap.Page(offset, limit)
	addrs := lo.Map(ranked, func(r leaderboard.Ranked, _ int) chain.Address { return r.Actor })
	views := s.engine.ActorsOf(addrs)

	entries := lo.Map(ranked, func(r leaderboard.Ranked, _ int) LeaderboardEntry {
		e := LeaderboardEntry{Rank: r.Rank, Actor: string(r.Actor), Points: r.Points}
		if v, ok := views[r.Actor]; ok {
			e.ActionsCount = v.State.Actions
			e.BadgeCount = len(v.State.Badges)
		}
		return e
	})
	getLog().Debug().Str("window", string(w)).Str("bucket", snap.Bucket).Int("entries", len(entries)).Msg("Leaderboard page")
	return &LeaderboardPage{
		Window:  string(w),
		Bucket:  snap.Bucket,
		AsOf:    snap.AsOf,
		Total:   snap.Len(),
		Offset:  offset,
		Entries: entries,
	}, nil
}

// GetUserBadges lists the actor's badges, oldest first.
func (s *Service) GetUserBadges(actor string) ([]UserBadge, error) {
	v, err := s.view(actor)
	if err != nil {
		return nil, err
	}
	out := lo.MapToSlice(v.State.Badges, func(_ string, a badges.Award) UserBadge {
		return UserBadge{BadgeType: a.Type, Rarity: a.Rarity, AwardedAt: a.AwardedAt}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AwardedAt.Equal(out[j].AwardedAt) {
			return out[i].AwardedAt.Before(out[j].AwardedAt)
		}
		return out[i].BadgeType < out[j].BadgeType
	})
	return out, nil
}

// GetBadgeHolders counts holders of a badge type in the rule table.
func (s *Service) GetBadgeHolders(badgeType string) (int, error) {
	if _, ok := s.engine.Table().Get(badgeType); !ok {
		return 0, fmt.Errorf("%w: badge %s", engine.ErrNotFound, badgeType)
	}
	return s.engine.BadgeHolders(badgeType), nil
}

// GetUserRank returns the actor's 1-based rank in the window's bucket
// containing now, or nil when the actor is unranked there.
func (s *Service) GetUserRank(actor, window string, now time.Time) (*int, error) {
	addr, err := parseActor(actor)
	if err != nil {
		return nil, err
	}
	w, err := leaderboard.ParseWindow(window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidAction, err)
	}
	rank, ok := s.engine.Board().Current(w, now.UTC()).RankOf(addr)
	if !ok {
		return nil, nil
	}
	return &rank, nil
}

// History pages through the actor's grants in ledger order.
func (s *Service) History(actor, cursor string, limit int) (ledger.Page, error) {
	addr, err := parseActor(actor)
	if err != nil {
		return ledger.Page{}, err
	}
	page, err := s.engine.History(addr, cursor, s.pageSize(limit))
	if err != nil {
		return ledger.Page{}, fmt.Errorf("%w: %w", engine.ErrInvalidAction, err)
	}
	return page, nil
}

// BadgeDefinitions is the badge rule table in use.
func (s *Service) BadgeDefinitions() []badges.Definition {
	return s.engine.Table().Definitions()
}

func (s *Service) pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return min(limit, s.maxPage)
}
