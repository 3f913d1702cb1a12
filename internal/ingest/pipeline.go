// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/noldarim/rankledger/internal/chain"
	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine"
	"github.com/noldarim/rankledger/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetIngestLogger()
		log = &l
	})
	return log
}

// maxLine bounds one JSONL record.
const maxLine = 1 << 20

// maxErrors bounds the line errors kept in a Summary.
const maxErrors = 100

// Admitter is the engine's admission entry point.
type Admitter interface {
	Admit(ctx context.Context, a chain.Action) (*engine.Admission, error)
}

// LineError reports a record that could not be applied.
type LineError struct {
	Line   int    `json:"line"`
	Ref    string `json:"ref,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Summary counts what one ingest run did.
type Summary struct {
	Lines      int            `json:"lines"`
	Accepted   int            `json:"accepted"`
	Duplicates int            `json:"duplicates"`
	Buffered   map[string]int `json:"buffered"`
	Rejected   map[string]int `json:"rejected"`
	Errors     []LineError    `json:"errors,omitempty"`
	Elapsed    time.Duration  `json:"elapsed"`
}

func newSummary() *Summary {
	return &Summary{Buffered: make(map[string]int), Rejected: make(map[string]int)}
}

func (s *Summary) fail(e LineError) {
	s.Rejected[e.Reason]++
	if len(s.Errors) < maxErrors {
		s.Errors = append(s.Errors, e)
	}
}

func (s *Summary) count(line int, out engine.Outcome) {
	switch out.Status {
	case engine.Accepted:
		s.Accepted++
	case engine.DuplicateIgnored:
		s.Duplicates++
	case engine.Buffered:
		s.Buffered[out.Reason]++
	case engine.Rejected:
		s.fail(LineError{Line: line, Ref: out.Ref.String(), Reason: out.Reason, Detail: out.Detail})
	}
}

// Pipeline admits records in stream order and runs their cascades on a
// bounded pool. Admission chains each action behind earlier actions on the
// lanes it touches, so conflicting actions still apply in seq order.
type Pipeline struct {
	engine  Admitter
	workers int
	limiter *rate.Limiter
}

// NewPipeline builds a pipeline from the ingest config. A zero rate
// disables throttling.
func NewPipeline(e Admitter, cfg config.IngestConfig) *Pipeline {
	p := &Pipeline{engine: e, workers: cfg.Workers}
	if p.workers <= 0 {
		p.workers = 1
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return p
}

// Run ingests newline-delimited JSON records from r. Records that fail
// validation or are rejected by the engine are counted and skipped. Run
// stops on a read error, a cancelled ctx or an engine failure other than a
// halted partition.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (*Summary, error) {
	start := time.Now()
	sum := newSummary()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	line := 0
	var dispatchErr error
	for sc.Scan() {
		line++
		if gctx.Err() != nil {
			break
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(gctx); err != nil {
				dispatchErr = err
				break
			}
		}

		mu.Lock()
		sum.Lines++
		mu.Unlock()

		a, err := Decode(raw)
		if err != nil {
			mu.Lock()
			sum.fail(LineError{Line: line, Reason: engine.ReasonInvalid, Detail: err.Error()})
			mu.Unlock()
			continue
		}

		ad, err := p.engine.Admit(gctx, a)
		if err != nil && !errors.Is(err, engine.ErrPartitionHalted) {
			dispatchErr = fmt.Errorf("line %d: %w", line, err)
			break
		}
		if ad.Outcome.Status != engine.Accepted {
			mu.Lock()
			sum.count(line, ad.Outcome)
			mu.Unlock()
			continue
		}

		n := line
		g.Go(func() error {
			err := ad.Wait(gctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sum.count(n, ad.Outcome)
				return nil
			case errors.Is(err, engine.ErrPartitionHalted), errors.Is(err, engine.ErrLedgerCorruption):
				sum.fail(LineError{Line: n, Ref: ad.Outcome.Ref.String(), Reason: engine.ReasonPartitionHalted, Detail: err.Error()})
				return nil
			default:
				return fmt.Errorf("line %d: %w", n, err)
			}
		})
	}
	if dispatchErr == nil {
		if err := sc.Err(); err != nil {
			dispatchErr = fmt.Errorf("read records: %w", err)
		} else if err := ctx.Err(); err != nil {
			dispatchErr = err
		}
	}

	err := g.Wait()
	sum.Elapsed = time.Since(start)
	if dispatchErr != nil {
		err = dispatchErr
	}
	getLog().Info().
		Int("lines", sum.Lines).
		Int("accepted", sum.Accepted).
		Int("duplicates", sum.Duplicates).
		Interface("rejected", sum.Rejected).
		Dur("elapsed", sum.Elapsed).
		Err(err).
		Msg("Ingest finished")
	return sum, err
}
