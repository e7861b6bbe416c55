package worker

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"ticketsync/internal/config"

	"google.golang.org/api/googleapi"
)

// RetryPolicy controls how failed sheet mirrors are rescheduled.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// MirrorRetryPolicy builds the mirror worker policy from the google section.
func MirrorRetryPolicy(cfg config.GoogleConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MirrorMaxRetries,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
}

// NextDelay is the exponential delay for a 1-based attempt, capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// DelayFor is NextDelay, stretched to the Retry-After hint when the Sheets API
// answered 429.
func (r RetryPolicy) DelayFor(attempt int, cause error) time.Duration {
	d := r.NextDelay(attempt)
	var apiErr *googleapi.Error
	if !errors.As(cause, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
		return d
	}
	secs, err := strconv.Atoi(apiErr.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return d
	}
	if hint := time.Duration(secs) * time.Second; hint > d {
		return hint
	}
	return d
}
