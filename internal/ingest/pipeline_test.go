// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine"
	"github.com/noldarim/rankledger/internal/engine/enginetest"
	"github.com/noldarim/rankledger/test/testutil"
)

func jsonl(t *testing.T, builders ...*testutil.ActionBuilder) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, b := range builders {
		buf.Write(line(t, b))
		buf.WriteByte('\n')
	}
	return &buf
}

func TestPipelineMatchesSequentialAppend(t *testing.T) {
	var stream []*testutil.ActionBuilder
	for i := 0; i < 60; i++ {
		actor := testutil.Addr(int64(1 + i%7))
		target := testutil.Addr(int64(1 + (i+3)%7))
		day := i / 10
		if i%4 == 0 {
			stream = append(stream, testutil.React(uint64(i+1), actor, target).OnDay(day))
		} else {
			stream = append(stream, testutil.Sign(uint64(i+1), actor, target).OnDay(day))
		}
	}

	parallel := enginetest.New(t)
	sum, err := NewPipeline(parallel.Engine, config.IngestConfig{Workers: 8}).Run(context.Background(), jsonl(t, stream...))
	require.NoError(t, err)
	assert.Equal(t, 60, sum.Lines)
	assert.Equal(t, 60, sum.Accepted)
	assert.Empty(t, sum.Rejected)

	sequential := enginetest.New(t)
	sequential.Apply(t, stream...)

	want, err := sequential.Engine.Digest()
	require.NoError(t, err)
	got, err := parallel.Engine.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPipelineCountsOutcomes(t *testing.T) {
	env := enginetest.New(t)
	a, b := testutil.Addr(1), testutil.Addr(2)

	input := jsonl(t,
		testutil.Sign(5, a, b),
		testutil.Sign(5, a, b),
		testutil.Sign(3, a, b),
		testutil.Sign(9, b, a).DependsOn(testutil.Ref(8, 0, 0)),
	)
	input.WriteString("\n{\"block\":\"x\"}\n")

	sum, err := NewPipeline(env.Engine, config.IngestConfig{Workers: 2, RatePerSec: 1000, Burst: 10}).Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Lines)
	assert.Equal(t, 1, sum.Accepted)
	assert.Equal(t, 1, sum.Duplicates)
	assert.Equal(t, 1, sum.Buffered[engine.ReasonAwaitingDependency])
	assert.Equal(t, 1, sum.Rejected[engine.ReasonOutOfOrder])
	assert.Equal(t, 1, sum.Rejected[engine.ReasonInvalid])
	require.Len(t, sum.Errors, 2)
	assert.Equal(t, 3, sum.Errors[0].Line)
	assert.Equal(t, 6, sum.Errors[1].Line)
}

func TestPipelineStopsOnCancel(t *testing.T) {
	env := enginetest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(env.Engine, config.IngestConfig{Workers: 1}).Run(ctx,
		strings.NewReader(string(line(t, testutil.Sign(1, testutil.Addr(1), testutil.Addr(2))))+"\n"))
	assert.ErrorIs(t, err, context.Canceled)
}
