package gapfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketsync/internal/models"
	"ticketsync/internal/zendesk"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Fetcher loads one ticket by id; a missing ticket is (nil, nil).
type Fetcher interface {
	FetchByID(ctx context.Context, id int64) (*models.Ticket, error)
}

// ProgressFunc receives the number of candidates handled so far.
type ProgressFunc func(done, total int)

// Result summarizes one scan.
type Result struct {
	// Candidates are the ids that were scheduled, ascending.
	Candidates []int64
	// Total is the uncapped number of missing ids.
	Total     int
	Truncated bool
	Recovered []models.Ticket
	NotFound  int
	Failed    int
	Skipped   int
	// StoppedBy is set when the ticketing API asked us to back off.
	StoppedBy error
}

// Scanner looks for holes in the observed id range and backfills them one by one.
type Scanner struct {
	fetcher  Fetcher
	ceiling  int
	limiter  *rate.Limiter
	progress ProgressFunc
	logger   *zerolog.Logger
}

// NewScanner returns a scanner that tries at most ceiling ids, one every delay.
func NewScanner(fetcher Fetcher, ceiling int, delay time.Duration, logger *zerolog.Logger) *Scanner {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Scanner{
		fetcher: fetcher,
		ceiling: ceiling,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// OnProgress registers a callback invoked every GapProgressEvery candidates.
func (s *Scanner) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// Missing returns {1..max(observed)} minus observed and known, ascending and capped at ceiling.
// total is the uncapped count.
//
// Ids in known are already in the canonical dataset and are not fetched again. As a
// consequence a ticket kept locally but deleted upstream is never re-checked by a gap scan;
// its row stays until a later pull overwrites it.
func Missing(observed, known map[int64]struct{}, ceiling int) (ids []int64, total int) {
	var highest int64
	for id := range observed {
		if id > highest {
			highest = id
		}
	}

	for id := int64(1); id < highest; id++ {
		if _, ok := observed[id]; ok {
			continue
		}
		if _, ok := known[id]; ok {
			continue
		}
		total++
		if ceiling <= 0 || len(ids) < ceiling {
			ids = append(ids, id)
		}
	}
	return ids, total
}

// Scan fetches every missing id. Per-id failures are counted and skipped; a rate limit stops the scan.
func (s *Scanner) Scan(ctx context.Context, observed, known map[int64]struct{}) (*Result, error) {
	candidates, total := Missing(observed, known, s.ceiling)
	res := &Result{
		Candidates: candidates,
		Total:      total,
		Truncated:  total > len(candidates),
	}

	if res.Truncated {
		s.logger.Warn().
			Int("total", total).
			Int("ceiling", s.ceiling).
			Msg("gap scan truncated")
	}
	if len(candidates) == 0 {
		return res, nil
	}

	s.logger.Info().Int("candidates", len(candidates)).Msg("gap scan started")

	for i, id := range candidates {
		if err := s.limiter.Wait(ctx); err != nil {
			res.Skipped += len(candidates) - i
			return res, fmt.Errorf("gap scan interrupted: %w", err)
		}

		ticket, err := s.fetcher.FetchByID(ctx, id)
		switch {
		case errors.Is(err, zendesk.ErrRateLimited):
			res.Failed++
			res.Skipped += len(candidates) - i - 1
			res.StoppedBy = err
			s.logger.Warn().Err(err).Int64("ticket_id", id).Msg("gap scan stopped by rate limit")
			return res, nil
		case err != nil:
			res.Failed++
			s.logger.Warn().Err(err).Int64("ticket_id", id).Msg("gap fetch failed")
		case ticket == nil:
			res.NotFound++
		default:
			res.Recovered = append(res.Recovered, *ticket)
		}

		if done := i + 1; s.progress != nil && (done%models.GapProgressEvery == 0 || done == len(candidates)) {
			s.progress(done, len(candidates))
		}
	}

	s.logger.Info().
		Int("recovered", len(res.Recovered)).
		Int("not_found", res.NotFound).
		Int("failed", res.Failed).
		Msg("gap scan finished")

	return res, nil
}
