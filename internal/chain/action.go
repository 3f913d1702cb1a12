// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chain defines the on-chain action model consumed by the engine:
// chain references, addresses, action types and UTC calendar helpers.
package chain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid action")

// ChainRef identifies a log entry on chain. It is the global idempotency key.
type ChainRef struct {
	Block    uint64 `json:"block"`
	TxIndex  uint32 `json:"tx_index"`
	LogIndex uint32 `json:"log_index"`
}

// Compare orders refs by (block, txIndex, logIndex).
func (r ChainRef) Compare(o ChainRef) int {
	switch {
	case r.Block != o.Block:
		if r.Block < o.Block {
			return -1
		}
		return 1
	case r.TxIndex != o.TxIndex:
		if r.TxIndex < o.TxIndex {
			return -1
		}
		return 1
	case r.LogIndex != o.LogIndex:
		if r.LogIndex < o.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

func (r ChainRef) Less(o ChainRef) bool { return r.Compare(o) < 0 }

func (r ChainRef) IsZero() bool { return r == ChainRef{} }

// String renders the ref as block:tx:log.
func (r ChainRef) String() string {
	return fmt.Sprintf("%d:%d:%d", r.Block, r.TxIndex, r.LogIndex)
}

// Key is a fixed-width rendering whose lexical order matches Compare.
func (r ChainRef) Key() string {
	return fmt.Sprintf("%020d-%010d-%010d", r.Block, r.TxIndex, r.LogIndex)
}

// ParseRef parses the String form.
func ParseRef(s string) (ChainRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ChainRef{}, fmt.Errorf("%w: chain ref %q", ErrInvalid, s)
	}
	block, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return ChainRef{}, fmt.Errorf("%w: chain ref block %q", ErrInvalid, parts[0])
	}
	tx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return ChainRef{}, fmt.Errorf("%w: chain ref tx %q", ErrInvalid, parts[1])
	}
	lg, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return ChainRef{}, fmt.Errorf("%w: chain ref log %q", ErrInvalid, parts[2])
	}
	return ChainRef{Block: block, TxIndex: uint32(tx), LogIndex: uint32(lg)}, nil
}

// ActionType enumerates the recognised on-chain actions.
type ActionType string

const (
	ActionSign  ActionType = "sign"
	ActionReact ActionType = "react"
	ActionRefer ActionType = "refer"
	ActionTip   ActionType = "tip"
)

// ParseActionType accepts the lower-case wire names and the capitalised forms.
func ParseActionType(s string) (ActionType, error) {
	t := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown action type %q", ErrInvalid, s)
	}
	return t, nil
}

func (t ActionType) Valid() bool {
	switch t {
	case ActionSign, ActionReact, ActionRefer, ActionTip:
		return true
	}
	return false
}

// Qualifies reports whether the type advances streaks.
func (t ActionType) Qualifies() bool {
	return t == ActionSign || t == ActionReact
}

// Address is an EIP-55 checksummed hex address.
type Address string

// ParseAddress validates and normalizes a hex address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: address %q", ErrInvalid, s)
	}
	return Address(common.HexToAddress(s).Hex()), nil
}

func (a Address) String() string { return string(a) }

// Payload carries the optional, type-specific fields of an action.
type Payload struct {
	DependsOn *ChainRef `json:"depends_on,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Reaction  string    `json:"reaction,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Action is an immutable record delivered by the chain-event source.
type Action struct {
	Ref       ChainRef   `json:"ref"`
	Actor     Address    `json:"actor"`
	Target    Address    `json:"target"`
	Type      ActionType `json:"type"`
	Payload   Payload    `json:"payload"`
	BlockTime time.Time  `json:"block_time"`
}

// Normalize validates a and returns a copy with canonical addresses and a
// UTC block time.
func (a Action) Normalize() (Action, error) {
	if !a.Type.Valid() {
		return Action{}, fmt.Errorf("%w: unknown action type %q", ErrInvalid, a.Type)
	}
	if a.BlockTime.IsZero() {
		return Action{}, fmt.Errorf("%w: missing block timestamp for %s", ErrInvalid, a.Ref)
	}
	actor, err := ParseAddress(string(a.Actor))
	if err != nil {
		return Action{}, err
	}
	target, err := ParseAddress(string(a.Target))
	if err != nil {
		return Action{}, fmt.Errorf("target: %w", err)
	}
	if a.Type == ActionTip {
		if _, err := TipAmount(a.Payload.Amount); err != nil {
			return Action{}, err
		}
	}
	if dep := a.Payload.DependsOn; dep != nil {
		switch {
		case *dep == a.Ref:
			return Action{}, fmt.Errorf("%w: %s depends on itself", ErrInvalid, a.Ref)
		case !dep.Less(a.Ref):
			// a dependency must precede the action on chain
			return Action{}, fmt.Errorf("%w: %s depends on later ref %s", ErrInvalid, a.Ref, dep)
		}
	}

	a.Actor = actor
	a.Target = target
	a.BlockTime = a.BlockTime.UTC()
	return a, nil
}

// TipAmount parses a decimal wei amount.
func TipAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: tip amount %q: %v", ErrInvalid, s, err)
	}
	return v, nil
}
