// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"errors"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine/badges"
	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/engine/referral"
)

// Errors returned by the engine. Callers match them with errors.Is.
var (
	ErrInvalidAction    = chain.ErrInvalid
	ErrOutOfOrder       = errors.New("action out of order")
	ErrBufferExpired    = errors.New("buffered action expired")
	ErrBufferFull       = errors.New("dependency buffer full")
	ErrInvalidReferral  = referral.ErrInvalidReferral
	ErrRuleEvaluation   = badges.ErrRuleEvaluation
	ErrReorgInvalidated = errors.New("action invalidated by reorg")
	ErrReorgInProgress  = errors.New("reorg already in progress")
	ErrReorgNotFailed   = errors.New("reorg is not failed")
	ErrLedgerCorruption = errors.New("ledger corruption")
	ErrPartitionHalted  = errors.New("partition halted")
	ErrNotFound         = models.ErrNotFound
)
