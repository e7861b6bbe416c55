package zendesk

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error classes of the ticketing API. Callers test them with errors.Is.
var (
	// ErrTransient covers network failures, timeouts and 5xx answers. The single call may be retried.
	ErrTransient = errors.New("zendesk: transient failure")
	// ErrRateLimited is returned for HTTP 429. Callers should stop issuing requests.
	ErrRateLimited = errors.New("zendesk: rate limited")
	// ErrFatal covers bad credentials, other 4xx answers and malformed bodies.
	ErrFatal = errors.New("zendesk: fatal error")
)

// APIError describes a non-2xx answer of the ticketing API.
type APIError struct {
	StatusCode int
	URL        string
	RetryAfter time.Duration
	Body       string

	class error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("zendesk: GET %s: status %d", e.URL, e.StatusCode)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.class
}

func newAPIError(resp *http.Response, url string, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		URL:        url,
		Body:       truncateBody(body),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.class = ErrRateLimited
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		apiErr.class = ErrTransient
	default:
		apiErr.class = ErrFatal
	}
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncateBody(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// Recoverable reports whether a paging run may keep what it collected and stop
// cleanly instead of failing.
func Recoverable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
