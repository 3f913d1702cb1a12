// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/test/testutil"
)

func line(t *testing.T, b *testutil.ActionBuilder) []byte {
	t.Helper()
	raw, err := json.Marshal(RecordOf(b.Build()))
	require.NoError(t, err)
	return raw
}

func TestDecodeRoundTripsRecord(t *testing.T) {
	want := testutil.Tip(7, testutil.Addr(1), testutil.Addr(2), "1500").Tx(3).Log(1).DependsOn(testutil.Ref(6, 0, 0)).Build()

	got, err := Decode(line(t, testutil.Tip(7, testutil.Addr(1), testutil.Addr(2), "1500").Tx(3).Log(1).DependsOn(testutil.Ref(6, 0, 0))))
	require.NoError(t, err)
	assert.Equal(t, want.Ref, got.Ref)
	assert.Equal(t, chain.ActionTip, got.Type)
	assert.Equal(t, "1500", got.Payload.Amount)
	require.NotNil(t, got.Payload.DependsOn)
	assert.Equal(t, uint64(6), got.Payload.DependsOn.Block)
	assert.True(t, want.BlockTime.Equal(got.BlockTime))
}

func TestDecodeUnixTimestampAndCapitalisedType(t *testing.T) {
	raw := []byte(`{"block":1,"tx_index":0,"log_index":0,
		"actor":"0x0000000000000000000000000000000000000001",
		"target":"0x0000000000000000000000000000000000000002",
		"type":"Sign","block_timestamp":1704067212}`)
	a, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, chain.ActionSign, a.Type)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 12, 0, time.UTC), a.BlockTime)
}

func TestDecodeRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"block":`},
		{"missing actor", `{"block":1,"tx_index":0,"log_index":0,"target":"0x0000000000000000000000000000000000000002","type":"sign","block_timestamp":1}`},
		{"bad address", `{"block":1,"tx_index":0,"log_index":0,"actor":"0x01","target":"0x0000000000000000000000000000000000000002","type":"sign","block_timestamp":1}`},
		{"unknown type", `{"block":1,"tx_index":0,"log_index":0,"actor":"0x0000000000000000000000000000000000000001","target":"0x0000000000000000000000000000000000000002","type":"mint","block_timestamp":1}`},
		{"negative block", `{"block":-1,"tx_index":0,"log_index":0,"actor":"0x0000000000000000000000000000000000000001","target":"0x0000000000000000000000000000000000000002","type":"sign","block_timestamp":1}`},
		{"tip without amount", `{"block":1,"tx_index":0,"log_index":0,"actor":"0x0000000000000000000000000000000000000001","target":"0x0000000000000000000000000000000000000002","type":"tip","block_timestamp":1}`},
		{"bad timestamp", `{"block":1,"tx_index":0,"log_index":0,"actor":"0x0000000000000000000000000000000000000001","target":"0x0000000000000000000000000000000000000002","type":"sign","block_timestamp":"yesterday"}`},
		{"unknown payload field", `{"block":1,"tx_index":0,"log_index":0,"actor":"0x0000000000000000000000000000000000000001","target":"0x0000000000000000000000000000000000000002","type":"sign","block_timestamp":1,"payload":{"color":"red"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.ErrorIs(t, err, chain.ErrInvalid)
		})
	}
}

func TestDecodeBatch(t *testing.T) {
	one := line(t, testutil.Sign(1, testutil.Addr(1), testutil.Addr(2)))
	items, err := DecodeBatch(one)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NoError(t, items[0].Err)

	batch := []byte("[" + string(one) + `,{"block":2}]`)
	items, err = DecodeBatch(batch)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.NoError(t, items[0].Err)
	assert.ErrorIs(t, items[1].Err, chain.ErrInvalid)

	_, err = DecodeBatch([]byte("  "))
	assert.ErrorIs(t, err, chain.ErrInvalid)
}
