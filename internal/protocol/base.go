// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import "github.com/noldarim/rankledger/internal/common"

// Re-export common types so subscribers only import protocol.
type Metadata = common.Metadata

// Event is re-exported from common.
type Event = common.Event

// CurrentProtocolVersion is re-exported from common.
const CurrentProtocolVersion = common.CurrentProtocolVersion
