// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/log"
)

type jobID string

func (j jobID) String() string { return "job-" + string(j) }

func decodeLast(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestTemporalLogAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	var adapter log.Logger = NewTemporalLogAdapter(zerolog.New(&buf))

	adapter.Info("segment replayed",
		"forkBlock", uint64(100),
		"segment", 3,
		"elapsed", 1500*time.Millisecond,
		"done", true,
		"job", jobID("7"),
		"cause", errors.New("boom"),
	)

	entry := decodeLast(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "segment replayed", entry["message"])
	assert.Equal(t, float64(100), entry["forkBlock"])
	assert.Equal(t, float64(3), entry["segment"])
	assert.Equal(t, true, entry["done"])
	assert.Equal(t, "job-7", entry["job"])
	assert.Equal(t, "boom", entry["cause"])
}

func TestTemporalLogAdapter_Levels(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewTemporalLogAdapter(zerolog.New(&buf))

	adapter.Debug("d")
	assert.Equal(t, "debug", decodeLast(t, &buf)["level"])
	adapter.Warn("w")
	assert.Equal(t, "warn", decodeLast(t, &buf)["level"])
	adapter.Error("e")
	assert.Equal(t, "error", decodeLast(t, &buf)["level"])
}

func TestTemporalLogAdapter_OddKeyvals(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewTemporalLogAdapter(zerolog.New(&buf))

	adapter.Info("odd", "dangling")
	assert.Equal(t, "(missing)", decodeLast(t, &buf)["dangling"])
}

func TestTemporalLogAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	base, ok := NewTemporalLogAdapter(zerolog.New(&buf)).(log.WithLogger)
	require.True(t, ok, "adapter must support With")

	adapter := base.With("workflow", "ReorgWorkflow")
	adapter.Info("started")
	entry := decodeLast(t, &buf)
	assert.Equal(t, "ReorgWorkflow", entry["workflow"])

	chained := adapter.(*TemporalLogAdapter).With("attempt", 2)
	chained.Info("retried")
	entry = decodeLast(t, &buf)
	assert.Equal(t, "ReorgWorkflow", entry["workflow"])
	assert.Equal(t, float64(2), entry["attempt"])
}
