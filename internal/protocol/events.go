// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Events published by the engine after a cascade commits. Subscribers (the
// WebSocket fan-out, tests) must treat them as notifications: the Query API
// stays the source of truth.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// NewMetadata stamps a fresh event id. key may be empty.
func NewMetadata(key string) Metadata {
	return Metadata{
		EventID:        uuid.NewString(),
		IdempotencyKey: key,
		Version:        CurrentProtocolVersion,
	}
}

// GetIdempotencyKey extracts the idempotency key from any event
func GetIdempotencyKey(event Event) string {
	return event.GetMetadata().IdempotencyKey
}

// ActionRecordedEvent is sent when an action's cascade has committed.
type ActionRecordedEvent struct {
	Metadata
	Ref    string `json:"ref"`
	Seq    uint64 `json:"seq"`
	Actor  string `json:"actor"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

func (e ActionRecordedEvent) GetMetadata() Metadata { return e.Metadata }

// ActionRejectedEvent is sent when an action is dropped for good.
type ActionRejectedEvent struct {
	Metadata
	Ref    string `json:"ref"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (e ActionRejectedEvent) GetMetadata() Metadata { return e.Metadata }

// PointsGrantedEvent is sent for every grant appended to the ledger,
// including negative reversal entries.
type PointsGrantedEvent struct {
	Metadata
	GrantID   string    `json:"grant_id"`
	Actor     string    `json:"actor"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	SourceRef string    `json:"source_ref"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func (e PointsGrantedEvent) GetMetadata() Metadata { return e.Metadata }

// BadgeAwardedEvent is sent when an actor gains a badge.
type BadgeAwardedEvent struct {
	Metadata
	Actor     string    `json:"actor"`
	BadgeType string    `json:"badge_type"`
	Rarity    string    `json:"rarity"`
	AwardedAt time.Time `json:"awarded_at"`
}

func (e BadgeAwardedEvent) GetMetadata() Metadata { return e.Metadata }

// BadgeRevokedEvent is sent when a reorg correction removes an award.
type BadgeRevokedEvent struct {
	Metadata
	Actor     string `json:"actor"`
	BadgeType string `json:"badge_type"`
	JobID     string `json:"job_id"`
}

func (e BadgeRevokedEvent) GetMetadata() Metadata { return e.Metadata }

// StreakMilestoneEvent is sent the first time an actor reaches a milestone.
type StreakMilestoneEvent struct {
	Metadata
	Actor     string `json:"actor"`
	Milestone int    `json:"milestone"`
}

func (e StreakMilestoneEvent) GetMetadata() Metadata { return e.Metadata }

// ReferralAttributedEvent is sent when a referral edge is created.
type ReferralAttributedEvent struct {
	Metadata
	Referee  string `json:"referee"`
	Referrer string `json:"referrer"`
	Ref      string `json:"ref"`
}

func (e ReferralAttributedEvent) GetMetadata() Metadata { return e.Metadata }

// ReorgStartedEvent is sent once invalidation has been recorded.
type ReorgStartedEvent struct {
	Metadata
	JobID       string `json:"job_id"`
	ForkBlock   uint64 `json:"fork_block"`
	Invalidated int    `json:"invalidated"`
	Paused      int    `json:"paused_partitions"`
}

func (e ReorgStartedEvent) GetMetadata() Metadata { return e.Metadata }

// ReorgCompletedEvent is sent when the corrected projection is live.
type ReorgCompletedEvent struct {
	Metadata
	JobID       string `json:"job_id"`
	ForkBlock   uint64 `json:"fork_block"`
	Corrections int    `json:"corrections"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

func (e ReorgCompletedEvent) GetMetadata() Metadata { return e.Metadata }

// LeaderboardRebuiltEvent is sent after a reconciliation swap.
type LeaderboardRebuiltEvent struct {
	Metadata
	Cursor  uint64 `json:"cursor"`
	Drifted int    `json:"drifted"`
}

func (e LeaderboardRebuiltEvent) GetMetadata() Metadata { return e.Metadata }

// PartitionHaltedEvent is sent when lanes stop accepting writes.
type PartitionHaltedEvent struct {
	Metadata
	Lanes  []int  `json:"lanes"`
	Reason string `json:"reason"`
}

func (e PartitionHaltedEvent) GetMetadata() Metadata { return e.Metadata }
