// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/engine"
	"github.com/noldarim/rankledger/internal/engine/models"
	"github.com/noldarim/rankledger/internal/ingest"
	"github.com/noldarim/rankledger/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// Engine is the write and admin surface the handlers need.
type Engine interface {
	query.Reader
	Append(ctx context.Context, a chain.Action) (engine.Outcome, error)
	StartReorg(ctx context.Context, fork uint64, canonical []chain.Action) (*models.ReorgJob, error)
	ReorgJob(ctx context.Context, id string) (*models.ReorgJob, error)
	RetryReorg(ctx context.Context, id string) (*models.ReorgJob, error)
	ActiveReorg() (string, bool)
	SetFlag(ctx context.Context, actor chain.Address, flag string, setAt time.Time) (*models.ActorFlag, error)
	Verify(ctx context.Context) (*engine.VerifyReport, error)
	ResumePartitions(ctx context.Context) ([]int, error)
	RebuildLeaderboard(ctx context.Context) (*engine.RebuildResult, error)
	Now() time.Time
	Seq() uint64
	Digest() (string, error)
	Halted() map[int]string
	BufferLen() int
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   Engine
	query    *query.Service
	maxBatch int
}

// NewHandlers creates the handler set. maxBatch caps POST /actions; zero
// leaves it uncapped.
func NewHandlers(e Engine, q *query.Service, maxBatch int) *Handlers {
	return &Handlers{engine: e, query: q, maxBatch: maxBatch}
}

// --- helpers ---

type errorBody struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// statusOf maps engine errors to HTTP statuses.
func statusOf(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, engine.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrReorgInProgress), errors.Is(err, engine.ErrReorgNotFailed):
		return http.StatusConflict
	case errors.Is(err, engine.ErrPartitionHalted), errors.Is(err, engine.ErrLedgerCorruption):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, msg string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		getLog().Error().Err(err).Msg(msg)
	}
	writeJSON(w, status, errorBody{Error: msg, Context: err.Error()})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", engine.ErrInvalidAction, name)
	}
	return n, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: %v", engine.ErrInvalidAction, err)
	}
	return nil
}

// --- reads ---

// GetUserStats handles GET /api/v1/users/{actor}/stats
func (h *Handlers) GetUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.GetUserStats(chi.URLParam(r, "actor"), h.engine.Now())
	if err != nil {
		writeError(w, "Failed to load user stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetUserBadges handles GET /api/v1/users/{actor}/badges
func (h *Handlers) GetUserBadges(w http.ResponseWriter, r *http.Request) {
	actor := chi.URLParam(r, "actor")
	held, err := h.query.GetUserBadges(actor)
	if err != nil {
		writeError(w, "Failed to load user badges", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor": actor, "badges": held})
}

// GetUserRank handles GET /api/v1/users/{actor}/rank?window=
func (h *Handlers) GetUserRank(w http.ResponseWriter, r *http.Request) {
	actor := chi.URLParam(r, "actor")
	window := r.URL.Query().Get("window")
	if window == "" {
		window = "all"
	}
	rank, err := h.query.GetUserRank(actor, window, h.engine.Now())
	if err != nil {
		writeError(w, "Failed to load user rank", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor": actor, "window": window, "rank": rank})
}

// GetUserHistory handles GET /api/v1/users/{actor}/history?cursor=&limit=
func (h *Handlers) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, "Invalid limit", err)
		return
	}
	page, err := h.query.History(chi.URLParam(r, "actor"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, "Failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetLeaderboard handles GET /api/v1/leaderboard/{window}?offset=&limit=
func (h *Handlers) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, "Invalid offset", err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, "Invalid limit", err)
		return
	}
	page, err := h.query.GetLeaderboard(chi.URLParam(r, "window"), offset, limit, h.engine.Now())
	if err != nil {
		writeError(w, "Failed to load leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type badgeInfo struct {
	Type    string `json:"type"`
	Rarity  string `json:"rarity"`
	Holders int    `json:"holders"`
}

// GetBadges handles GET /api/v1/badges
func (h *Handlers) GetBadges(w http.ResponseWriter, r *http.Request) {
	defs := h.query.BadgeDefinitions()
	out := make([]badgeInfo, 0, len(defs))
	for _, d := range defs {
		holders, _ := h.query.GetBadgeHolders(d.Type)
		out = append(out, badgeInfo{Type: d.Type, Rarity: string(d.Rarity), Holders: holders})
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges": out})
}

// GetBadgeHolders handles GET /api/v1/badges/{type}/holders
func (h *Handlers) GetBadgeHolders(w http.ResponseWriter, r *http.Request) {
	badgeType := chi.URLParam(r, "type")
	holders, err := h.query.GetBadgeHolders(badgeType)
	if err != nil {
		writeError(w, "Failed to count badge holders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"badge_type": badgeType, "holders": holders})
}

// GetReorg handles GET /api/v1/reorgs/{id}
func (h *Handlers) GetReorg(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.ReorgJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Failed to load reorg", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// --- writes ---

// ActionsResponse lists one outcome per submitted action, in order.
type ActionsResponse struct {
	Outcomes []engine.Outcome `json:"outcomes"`
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
}

// PostActions handles POST /api/v1/actions. The body is one action record
// or an array of them. Actions are appended in body order.
func (h *Handlers) PostActions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, "Failed to read body", err)
		return
	}
	batch, err := ingest.DecodeBatch(body)
	if err != nil {
		writeError(w, "Invalid action batch", err)
		return
	}
	if h.maxBatch > 0 && len(batch) > h.maxBatch {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			Error:   "Batch too large",
			Context: fmt.Sprintf("%d actions, limit %d", len(batch), h.maxBatch),
		})
		return
	}

	resp := ActionsResponse{Outcomes: make([]engine.Outcome, 0, len(batch))}
	for _, d := range batch {
		if d.Err != nil {
			resp.Outcomes = append(resp.Outcomes, engine.Outcome{
				Ref:    d.Action.Ref,
				Status: engine.Rejected,
				Reason: engine.ReasonInvalid,
				Detail: d.Err.Error(),
			})
			continue
		}
		out, err := h.engine.Append(r.Context(), d.Action)
		if err != nil {
			if !errors.Is(err, engine.ErrPartitionHalted) && !errors.Is(err, engine.ErrLedgerCorruption) {
				writeError(w, "Failed to append action", err)
				return
			}
			out.Status = engine.Rejected
			out.Reason = engine.ReasonPartitionHalted
			out.Detail = err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	resp.Accepted = lo.CountBy(resp.Outcomes, func(o engine.Outcome) bool { return o.Status == engine.Accepted })
	resp.Rejected = lo.CountBy(resp.Outcomes, func(o engine.Outcome) bool { return o.Status == engine.Rejected })
	writeJSON(w, http.StatusOK, resp)
}

// ReorgRequest is the body of POST /api/v1/reorgs. Canonical holds the
// canonical chain's actions from ForkBlock on, in the action wire format.
type ReorgRequest struct {
	ForkBlock uint64            `json:"fork_block"`
	Canonical []json.RawMessage `json:"canonical"`
}

// PostReorg handles POST /api/v1/reorgs
func (h *Handlers) PostReorg(w http.ResponseWriter, r *http.Request) {
	var req ReorgRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid reorg request", err)
		return
	}
	canonical := make([]chain.Action, 0, len(req.Canonical))
	for i, raw := range req.Canonical {
		a, err := ingest.Decode(raw)
		if err != nil {
			writeError(w, "Invalid canonical action", fmt.Errorf("canonical[%d]: %w", i, err))
			return
		}
		canonical = append(canonical, a)
	}
	job, err := h.engine.StartReorg(r.Context(), req.ForkBlock, canonical)
	if err != nil {
		writeError(w, "Failed to start reorg", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// RetryReorg handles POST /api/v1/reorgs/{id}/retry
func (h *Handlers) RetryReorg(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.RetryReorg(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Failed to retry reorg", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// FlagRequest is the body of POST /api/v1/actors/{actor}/flags.
type FlagRequest struct {
	Flag  string     `json:"flag"`
	SetAt *time.Time `json:"set_at,omitempty"`
}

// PostFlag handles POST /api/v1/actors/{actor}/flags
func (h *Handlers) PostFlag(w http.ResponseWriter, r *http.Request) {
	var req FlagRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid flag request", err)
		return
	}
	var setAt time.Time
	if req.SetAt != nil {
		setAt = *req.SetAt
	}
	flag, err := h.engine.SetFlag(r.Context(), chain.Address(chi.URLParam(r, "actor")), req.Flag, setAt)
	if err != nil {
		writeError(w, "Failed to set flag", err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

// --- admin ---

// Verify handles POST /api/v1/admin/verify. A failed comparison still
// answers 200; the report's ok field carries the verdict.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Verify(r.Context())
	if err != nil {
		writeError(w, "Verification failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": report.OK(), "report": report})
}

// ResumePartitions handles POST /api/v1/admin/partitions/resume
func (h *Handlers) ResumePartitions(w http.ResponseWriter, r *http.Request) {
	lanes, err := h.engine.ResumePartitions(r.Context())
	if err != nil {
		writeError(w, "Failed to resume partitions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resumed": lanes})
}

// RebuildLeaderboard handles POST /api/v1/admin/leaderboard/rebuild
func (h *Handlers) RebuildLeaderboard(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RebuildLeaderboard(r.Context())
	if err != nil {
		writeError(w, "Failed to rebuild leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StatusResponse is the engine's state summary.
type StatusResponse struct {
	Seq         uint64         `json:"seq"`
	Digest      string         `json:"digest"`
	Buffered    int            `json:"buffered"`
	Halted      map[int]string `json:"halted,omitempty"`
	ActiveReorg string         `json:"active_reorg,omitempty"`
}

// GetStatus handles GET /api/v1/admin/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	digest, err := h.engine.Digest()
	if err != nil {
		writeError(w, "Failed to compute digest", err)
		return
	}
	job, _ := h.engine.ActiveReorg()
	writeJSON(w, http.StatusOK, StatusResponse{
		Seq:         h.engine.Seq(),
		Digest:      digest,
		Buffered:    h.engine.BufferLen(),
		Halted:      h.engine.Halted(),
		ActiveReorg: job,
	})
}

// Healthz handles GET /healthz. Halted partitions degrade the answer
// without failing it; reads still work.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	halted := h.engine.Halted()
	status := "ok"
	if len(halted) > 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "halted_partitions": len(halted)})
}
