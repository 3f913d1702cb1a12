// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models holds the GORM persistence models. The actions table is the
// ledger log; every other table can be rebuilt by replaying it together with
// actor_flags.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Action is one admitted action. Canonical rows have an empty InvalidatedBy;
// a reorg stamps its job id instead of deleting the row.
type Action struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	RefKey        string    `gorm:"not null;type:text;uniqueIndex:idx_actions_ref_live,priority:1" json:"ref_key"`
	InvalidatedBy string    `gorm:"not null;default:'';type:text;uniqueIndex:idx_actions_ref_live,priority:2;index" json:"invalidated_by,omitempty"`
	Seq           uint64    `gorm:"not null;uniqueIndex" json:"seq"`
	Block         uint64    `gorm:"not null;index" json:"block"`
	TxIndex       uint32    `gorm:"not null" json:"tx_index"`
	LogIndex      uint32    `gorm:"not null" json:"log_index"`
	Actor         string    `gorm:"not null;type:text;index" json:"actor"`
	Target        string    `gorm:"not null;type:text;index" json:"target"`
	Type          string    `gorm:"not null;type:text" json:"type"`
	Payload       string    `gorm:"type:text" json:"payload"`
	BlockTime     time.Time `gorm:"not null" json:"block_time"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Grant is one ledger entry. RowID preserves append order across restarts.
type Grant struct {
	RowID     uint      `gorm:"primaryKey" json:"-"`
	GrantID   string    `gorm:"not null;type:text;uniqueIndex" json:"id"`
	Actor     string    `gorm:"not null;type:text;index" json:"actor"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Reason    string    `gorm:"not null;type:text;index" json:"reason"`
	SourceRef string    `gorm:"not null;type:text" json:"source_ref"`
	ActionSeq uint64    `gorm:"not null" json:"action_seq"`
	Reverses  string    `gorm:"type:text" json:"reverses,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// IntList is a JSON encoded list of ints.
type IntList []int

func (l *IntList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("cannot scan IntList from non-string/[]byte value")
	}
}

func (l IntList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// StreakState is the persisted streak of one actor.
type StreakState struct {
	Actor      string    `gorm:"primaryKey;type:text" json:"actor"`
	Current    int       `gorm:"column:current_streak;not null" json:"current"`
	Longest    int       `gorm:"column:longest_streak;not null" json:"longest"`
	LastDay    int64     `gorm:"not null" json:"last_day"`
	Milestones IntList   `gorm:"type:text" json:"milestones"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReferralEdge is kept after invalidation for audit.
type ReferralEdge struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	Referee       string    `gorm:"not null;type:text;uniqueIndex:idx_referral_edges_live,priority:1" json:"referee"`
	InvalidatedBy string    `gorm:"not null;default:'';type:text;uniqueIndex:idx_referral_edges_live,priority:2" json:"invalidated_by,omitempty"`
	Referrer      string    `gorm:"not null;type:text;index" json:"referrer"`
	RefKey        string    `gorm:"not null;type:text" json:"ref_key"`
	Ref           string    `gorm:"not null;type:text" json:"ref"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BadgeAward is revoked only by reorg correction.
type BadgeAward struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	Actor          string    `gorm:"not null;type:text;uniqueIndex:idx_badge_awards_live,priority:1" json:"actor"`
	BadgeType      string    `gorm:"not null;type:text;uniqueIndex:idx_badge_awards_live,priority:2;index" json:"badge_type"`
	RevokedBy      string    `gorm:"not null;default:'';type:text;uniqueIndex:idx_badge_awards_live,priority:3" json:"revoked_by,omitempty"`
	Rarity         string    `gorm:"not null;type:text" json:"rarity"`
	AwardedAt      time.Time `gorm:"not null" json:"awarded_at"`
	SourceGrantRef string    `gorm:"type:text" json:"source_grant_ref,omitempty"`
}

// ActorFlag is an externally set flag such as beta or vip.
type ActorFlag struct {
	ID    uint      `gorm:"primaryKey" json:"-"`
	Actor string    `gorm:"not null;type:text;uniqueIndex:idx_actor_flags_actor_flag,priority:1" json:"actor"`
	Flag  string    `gorm:"not null;type:text;uniqueIndex:idx_actor_flags_actor_flag,priority:2" json:"flag"`
	SetAt time.Time `gorm:"not null" json:"set_at"`
}

// LeaderboardSnapshot persists the top of one bucket for audit.
type LeaderboardSnapshot struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	Window  string    `gorm:"column:board_window;not null;type:text;index:idx_leaderboard_snapshots_bucket,priority:1" json:"window"`
	Bucket  string    `gorm:"not null;type:text;index:idx_leaderboard_snapshots_bucket,priority:2" json:"bucket"`
	AsOf    time.Time `gorm:"not null" json:"as_of"`
	Cursor  int       `gorm:"not null" json:"cursor"`
	Entries string    `gorm:"type:text" json:"entries"`
}

// ReorgStatus is the lifecycle of a reorg job.
type ReorgStatus string

const (
	ReorgPending   ReorgStatus = "pending"
	ReorgReplaying ReorgStatus = "replaying"
	ReorgCompleted ReorgStatus = "completed"
	ReorgFailed    ReorgStatus = "failed"
)

// Terminal reports whether the job will not change again.
func (s ReorgStatus) Terminal() bool {
	return s == ReorgCompleted || s == ReorgFailed
}

// ReorgJob is the durable state of one reorg. Canonical holds the
// replacement actions as JSON until Begin admits them. HeadSeq is the log
// head when Begin committed; segments replay up to it.
type ReorgJob struct {
	ID            string      `gorm:"primaryKey;type:text" json:"id"`
	ForkBlock     uint64      `gorm:"not null" json:"fork_block"`
	Status        ReorgStatus `gorm:"not null;type:text;index" json:"status"`
	Canonical     string      `gorm:"type:text" json:"-"`
	Lanes         IntList     `gorm:"type:text" json:"lanes"`
	Invalidated   int         `gorm:"not null" json:"invalidated"`
	HeadSeq       uint64      `gorm:"not null" json:"head_seq"`
	CheckpointSeq uint64      `gorm:"not null" json:"checkpoint_seq"`
	ReplayedSeq   uint64      `gorm:"not null" json:"replayed_seq"`
	Corrections   int         `gorm:"not null" json:"corrections"`
	Error         string      `gorm:"type:text" json:"error,omitempty"`
	StartedAt     time.Time   `gorm:"not null" json:"started_at"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
}

// CascadeBatch is everything one action's cascade persists.
type CascadeBatch struct {
	Action  *Action
	Grants  []Grant
	Streaks []StreakState
	Edge    *ReferralEdge
	Awards  []BadgeAward
}

// ReorgBatch is everything a reorg commit persists.
type ReorgBatch struct {
	Job          *ReorgJob
	Corrections  []Grant
	Streaks      []StreakState
	InvalidEdges []string
	NewEdges     []ReferralEdge
	Revoke       []BadgeAward
	Award        []BadgeAward
}

// AllModels lists every table for migration.
func AllModels() []any {
	return []any{
		&Action{},
		&Grant{},
		&StreakState{},
		&ReferralEdge{},
		&BadgeAward{},
		&ActorFlag{},
		&LeaderboardSnapshot{},
		&ReorgJob{},
	}
}

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")
