// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/noldarim/rankledger/internal/chain"
)

// Genesis is the block time of block 0 in test chains.
var Genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// BlockSeconds is the spacing of test blocks.
const BlockSeconds = 12

// Addr returns a deterministic checksummed address for n.
func Addr(n int64) chain.Address {
	return chain.Address(common.BigToAddress(big.NewInt(n)).Hex())
}

// BlockTime is the default block time of block.
func BlockTime(block uint64) time.Time {
	return Genesis.Add(time.Duration(block) * BlockSeconds * time.Second)
}

// Day returns noon UTC of the d-th day after Genesis.
func Day(d int) time.Time {
	return Genesis.AddDate(0, 0, d).Add(12 * time.Hour)
}

// Ref builds a chain ref.
func Ref(block uint64, tx, log uint32) chain.ChainRef {
	return chain.ChainRef{Block: block, TxIndex: tx, LogIndex: log}
}

// ActionBuilder builds test actions.
type ActionBuilder struct {
	a chain.Action
}

// NewAction starts an action at (block, 0, 0) with the default block time.
func NewAction(typ chain.ActionType, block uint64, actor, target chain.Address) *ActionBuilder {
	return &ActionBuilder{a: chain.Action{
		Ref:       Ref(block, 0, 0),
		Actor:     actor,
		Target:    target,
		Type:      typ,
		BlockTime: BlockTime(block),
	}}
}

func Sign(block uint64, actor, target chain.Address) *ActionBuilder {
	return NewAction(chain.ActionSign, block, actor, target)
}

func React(block uint64, actor, target chain.Address) *ActionBuilder {
	return NewAction(chain.ActionReact, block, actor, target).Reaction("like")
}

func Refer(block uint64, referee, referrer chain.Address) *ActionBuilder {
	return NewAction(chain.ActionRefer, block, referee, referrer)
}

func Tip(block uint64, actor, target chain.Address, wei string) *ActionBuilder {
	return NewAction(chain.ActionTip, block, actor, target).Amount(wei)
}

// Tx sets the transaction index.
func (b *ActionBuilder) Tx(i uint32) *ActionBuilder {
	b.a.Ref.TxIndex = i
	return b
}

// Log sets the log index.
func (b *ActionBuilder) Log(i uint32) *ActionBuilder {
	b.a.Ref.LogIndex = i
	return b
}

// At overrides the block time.
func (b *ActionBuilder) At(t time.Time) *ActionBuilder {
	b.a.BlockTime = t
	return b
}

// OnDay sets the block time to noon of day d.
func (b *ActionBuilder) OnDay(d int) *ActionBuilder { return b.At(Day(d)) }

func (b *ActionBuilder) DependsOn(ref chain.ChainRef) *ActionBuilder {
	b.a.Payload.DependsOn = &ref
	return b
}

func (b *ActionBuilder) Amount(wei string) *ActionBuilder {
	b.a.Payload.Amount = wei
	return b
}

func (b *ActionBuilder) Reaction(r string) *ActionBuilder {
	b.a.Payload.Reaction = r
	return b
}

func (b *ActionBuilder) Build() chain.Action { return b.a }
