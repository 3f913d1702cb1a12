// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"github.com/noldarim/rankledger/internal/chain"
)

// Status is the recorder's verdict on one delivered action.
type Status string

const (
	Accepted         Status = "accepted"
	DuplicateIgnored Status = "duplicate_ignored"
	Buffered         Status = "buffered"
	Rejected         Status = "rejected"
)

// Reasons attached to Buffered and Rejected outcomes.
const (
	ReasonInvalid            = "invalid"
	ReasonOutOfOrder         = "out_of_order"
	ReasonAwaitingDependency = "awaiting_dependency"
	ReasonReorgPause         = "reorg_pause"
	ReasonBufferExpired      = "buffer_expired"
	ReasonBufferFull         = "buffer_full"
	ReasonReorgInvalidated   = "reorg_invalidated"
	ReasonPartitionHalted    = "partition_halted"
)

// Outcome reports what Append did with an action.
type Outcome struct {
	Ref    chain.ChainRef `json:"ref"`
	Status Status         `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Seq    uint64         `json:"seq,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// Label is the metrics label for the outcome.
func (o Outcome) Label() string {
	if o.Reason == "" {
		return string(o.Status)
	}
	return string(o.Status) + ":" + o.Reason
}

// Err maps a rejection to its sentinel. It is nil for every other status.
func (o Outcome) Err() error {
	if o.Status != Rejected {
		return nil
	}
	return reasonErr(o.Reason)
}

func reasonErr(reason string) error {
	switch reason {
	case ReasonInvalid:
		return ErrInvalidAction
	case ReasonOutOfOrder:
		return ErrOutOfOrder
	case ReasonBufferExpired:
		return ErrBufferExpired
	case ReasonBufferFull:
		return ErrBufferFull
	case ReasonReorgInvalidated:
		return ErrReorgInvalidated
	case ReasonPartitionHalted:
		return ErrPartitionHalted
	}
	return nil
}
