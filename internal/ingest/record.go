// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ingest decodes action records and feeds them to the engine.
package ingest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noldarim/rankledger/internal/chain"
)

//go:embed action.schema.json
var actionSchema string

const actionSchemaURL = "action.schema.json"

var (
	schema     *jsonschema.Schema
	schemaErr  error
	schemaOnce sync.Once
)

// Schema returns the compiled action schema.
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat = true
		if err := c.AddResource(actionSchemaURL, strings.NewReader(actionSchema)); err != nil {
			schemaErr = fmt.Errorf("load action schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(actionSchemaURL)
	})
	return schema, schemaErr
}

// Record is the wire form of one action.
type Record struct {
	Block          uint64          `json:"block"`
	TxIndex        uint32          `json:"tx_index"`
	LogIndex       uint32          `json:"log_index"`
	Actor          string          `json:"actor"`
	Target         string          `json:"target"`
	Type           string          `json:"type"`
	Payload        chain.Payload   `json:"payload"`
	BlockTimestamp json.RawMessage `json:"block_timestamp"`
}

// RecordOf renders a as a Record, with the timestamp in RFC 3339.
func RecordOf(a chain.Action) Record {
	ts, _ := json.Marshal(a.BlockTime.UTC().Format(time.RFC3339))
	return Record{
		Block:          a.Ref.Block,
		TxIndex:        a.Ref.TxIndex,
		LogIndex:       a.Ref.LogIndex,
		Actor:          string(a.Actor),
		Target:         string(a.Target),
		Type:           string(a.Type),
		Payload:        a.Payload,
		BlockTimestamp: ts,
	}
}

// Action converts r. Semantic checks beyond the schema are left to the
// engine's admission.
func (r Record) Action() (chain.Action, error) {
	typ, err := chain.ParseActionType(r.Type)
	if err != nil {
		return chain.Action{}, err
	}
	at, err := parseTimestamp(r.BlockTimestamp)
	if err != nil {
		return chain.Action{}, err
	}
	return chain.Action{
		Ref:       chain.ChainRef{Block: r.Block, TxIndex: r.TxIndex, LogIndex: r.LogIndex},
		Actor:     chain.Address(r.Actor),
		Target:    chain.Address(r.Target),
		Type:      typ,
		Payload:   r.Payload,
		BlockTime: at,
	}, nil
}

// parseTimestamp accepts RFC 3339 strings and unix seconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("%w: missing block_timestamp", chain.ErrInvalid)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: block_timestamp: %v", chain.ErrInvalid, err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: block_timestamp: %v", chain.ErrInvalid, err)
		}
		return t.UTC(), nil
	}
	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: block_timestamp %s", chain.ErrInvalid, raw)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Decode validates one JSON object against the action schema and converts
// it. Every failure wraps chain.ErrInvalid.
func Decode(raw []byte) (chain.Action, error) {
	s, err := Schema()
	if err != nil {
		return chain.Action{}, err
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return chain.Action{}, err
	}
	if err := s.Validate(doc); err != nil {
		return chain.Action{}, fmt.Errorf("%w: %v", chain.ErrInvalid, err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return chain.Action{}, fmt.Errorf("%w: %v", chain.ErrInvalid, err)
	}
	return r.Action()
}

// DecodeBatch decodes either one object or an array of objects. The
// result has one entry per element; elements that fail carry their error.
func DecodeBatch(raw []byte) ([]Decoded, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", chain.ErrInvalid)
	}
	if raw[0] != '[' {
		a, err := Decode(raw)
		return []Decoded{{Action: a, Err: err}}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalid, err)
	}
	out := make([]Decoded, len(items))
	for i, item := range items {
		out[i].Action, out[i].Err = Decode(item)
	}
	return out, nil
}

// Decoded is one element of a batch.
type Decoded struct {
	Action chain.Action
	Err    error
}

func decodeDoc(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalid, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", chain.ErrInvalid)
	}
	return doc, nil
}
