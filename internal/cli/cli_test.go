// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/rankledger/internal/engine/enginetest"
	"github.com/noldarim/rankledger/internal/ingest"
	"github.com/noldarim/rankledger/internal/server"
	"github.com/noldarim/rankledger/test/testutil"
)

var (
	alice = testutil.Addr(1)
	bob   = testutil.Addr(2)
	carol = testutil.Addr(3)
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`database:
  driver: sqlite
  database: %s
checkpoint:
  path: %s
log:
  level: ERROR
engine:
  lanes: 4
  buffer_sweep: 0s
leaderboard:
  rebuild_interval: 0s
`, filepath.Join(dir, "rank.db"), filepath.Join(dir, "checkpoints"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func writeJSONL(t *testing.T, builders ...*testutil.ActionBuilder) string {
	t.Helper()
	var buf bytes.Buffer
	for _, b := range builders {
		raw, err := json.Marshal(ingest.RecordOf(b.Build()))
		require.NoError(t, err)
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "actions.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestIngestThenVerify(t *testing.T) {
	cfg := writeConfig(t)
	input := writeJSONL(t,
		testutil.Sign(1, alice, bob),
		testutil.Sign(2, carol, bob),
		testutil.Sign(2, carol, bob),
		testutil.React(3, bob, alice),
	)

	var out bytes.Buffer
	require.NoError(t, run([]string{"ingest", "--config", cfg, "--workers", "2", input}, &out))
	assert.Contains(t, out.String(), "Accepted:    3")
	assert.Contains(t, out.String(), "Duplicates:  1")

	out.Reset()
	require.NoError(t, run([]string{"verify", "--config", cfg}, &out))
	assert.Contains(t, out.String(), "Actions:        3")
	assert.Contains(t, out.String(), "OK")

	// a second run over the same file only finds duplicates
	out.Reset()
	require.NoError(t, run([]string{"ingest", "--config", cfg, input}, &out))
	assert.Contains(t, out.String(), "Accepted:    0")
	assert.Contains(t, out.String(), "Duplicates:  4")
}

func TestIngestReportsRejectedLines(t *testing.T) {
	cfg := writeConfig(t)
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"block\":1}\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"ingest", "--config", cfg, path}, &out))
	assert.Contains(t, out.String(), "invalid")
	assert.Contains(t, out.String(), "LINE")
}

func TestIngestRequiresOneFile(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"ingest", "--config", writeConfig(t)}, &out)
	assert.ErrorContains(t, err, "exactly one input file")
}

func newRemote(t *testing.T) (*enginetest.Env, string) {
	t.Helper()
	env := enginetest.New(t)
	ts := httptest.NewServer(server.New(env.Config, env.Engine, nil).Handler())
	t.Cleanup(ts.Close)
	return env, ts.URL
}

func TestRemoteStatsAndLeaderboard(t *testing.T) {
	env, api := newRemote(t)
	env.Apply(t,
		testutil.Sign(1, alice, bob),
		testutil.Sign(2, carol, bob),
	)

	var out bytes.Buffer
	require.NoError(t, run([]string{"stats", "--api", api, string(alice)}, &out))
	assert.Contains(t, out.String(), "Points:              15")
	assert.Contains(t, out.String(), "Rank (all time):     1")
	assert.Contains(t, out.String(), "FIRST_SIGN")

	out.Reset()
	require.NoError(t, run([]string{"leaderboard", "--api", api, "--limit", "2", "all"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, out.String(), "3 ranked")
	assert.True(t, strings.HasPrefix(lines[len(lines)-2], "1 "), lines[len(lines)-2])

	err := run([]string{"stats", "--api", api, string(testutil.Addr(9))}, &out)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestRemoteReorgAndStatus(t *testing.T) {
	env, api := newRemote(t)
	env.Apply(t,
		testutil.Sign(90, alice, bob),
		testutil.Sign(100, carol, bob),
	)
	canonical := writeJSONL(t, testutil.Sign(101, carol, alice))

	var out bytes.Buffer
	require.NoError(t, run([]string{"reorg", "start", "--api", api, "--fork", "100", canonical}, &out))
	assert.Contains(t, out.String(), "Fork block:   100")
	id := strings.TrimSpace(strings.TrimPrefix(strings.Split(out.String(), "\n")[0], "Job:"))
	require.NotEmpty(t, id)

	out.Reset()
	require.NoError(t, run([]string{"reorg", "status", "--api", api, id}, &out))
	assert.Contains(t, out.String(), "Status:       completed")

	err := run([]string{"reorg", "retry", "--api", api, id}, &out)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)

	out.Reset()
	require.NoError(t, run([]string{"status", "--api", api}, &out))
	assert.Contains(t, out.String(), "Digest:")

	out.Reset()
	require.NoError(t, run([]string{"resume", "--api", api}, &out))
	assert.Contains(t, out.String(), "No halted partitions.")
}

func TestReadCanonicalRejectsInvalidLines(t *testing.T) {
	_, err := readCanonical(strings.NewReader("\n{\"block\":1}\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestUnknownCommandPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"help"}, &out))
	assert.Contains(t, out.String(), "rankctl <command>")
	require.NoError(t, run([]string{"version"}, &out))
	assert.Contains(t, out.String(), appVersion)
	assert.Error(t, run([]string{"reorg", "rewind"}, &out))
}
