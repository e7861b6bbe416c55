package zendesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ticketsync/internal/config"
	"ticketsync/internal/metrics"
	"ticketsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// SortField selects the ordering of a ticket listing.
type SortField string

const (
	SortCreated SortField = "created_at"
	SortUpdated SortField = "updated_at"
)

// PageQuery describes the first page of a listing. Later pages follow Page.Next.
type PageQuery struct {
	SortBy   SortField
	Since    time.Time
	PageSize int
}

// Page is one decoded listing page.
type Page struct {
	Tickets []models.Ticket
	Users   map[int64]string
	Groups  map[int64]string
	// Next is the opaque continuation URL; empty when the listing is exhausted.
	Next string
}

// Client talks to the ticketing REST API.
type Client struct {
	base     *url.URL
	http     *http.Client
	email    string
	apiToken string
	pageSize int
	logger   *zerolog.Logger
}

// Option tweaks a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient builds a client from the zendesk config section.
func NewClient(ctx context.Context, cfg config.ZendeskConfig, logger *zerolog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.APIBase())
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base %q must be an absolute url", cfg.APIBase())
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > models.MaxPageSize {
		pageSize = models.MaxPageSize
	}

	c := &Client{
		base:     base,
		pageSize: pageSize,
		logger:   logger,
	}

	if cfg.Email != "" {
		c.email = cfg.Email
		c.apiToken = cfg.APIToken
		c.http = &http.Client{Timeout: timeout}
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken})
		c.http = oauth2.NewClient(ctx, ts)
		c.http.Timeout = timeout
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		nop := zerolog.Nop()
		c.logger = &nop
	}

	return c, nil
}

// PageSize is the effective page size after capping.
func (c *Client) PageSize() int {
	return c.pageSize
}

// FetchPage returns one page of tickets. An empty cursor starts a new listing described by q.
func (c *Client) FetchPage(ctx context.Context, q PageQuery, cursor string) (*Page, error) {
	target := cursor
	if target == "" {
		target = c.firstPageURL(q)
	} else {
		resolved, err := c.resolve(cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: bad continuation %q: %w", ErrFatal, cursor, err)
		}
		target = resolved
	}

	var resp listResponse
	if err := c.getJSON(ctx, "list", target, &resp); err != nil {
		return nil, err
	}

	refs := newLookups(resp.sideloaded)
	page := &Page{
		Tickets: make([]models.Ticket, 0, len(resp.Tickets)),
		Users:   refs.users,
		Groups:  refs.groups,
		Next:    resp.next(),
	}
	for i := range resp.Tickets {
		t, err := normalize(&resp.Tickets[i], refs)
		if err != nil {
			c.logger.Warn().Err(err).Int64("ticket_id", resp.Tickets[i].ID).Msg("skipping malformed ticket")
			continue
		}
		page.Tickets = append(page.Tickets, t)
	}
	if len(page.Tickets) == 0 && len(resp.Tickets) == 0 {
		page.Next = ""
	}

	c.logger.Debug().
		Int("tickets", len(page.Tickets)).
		Bool("has_next", page.Next != "").
		Msg("fetched ticket page")

	return page, nil
}

// FetchByID loads a single ticket. A missing ticket yields (nil, nil).
func (c *Client) FetchByID(ctx context.Context, id int64) (*models.Ticket, error) {
	u := c.endpoint(fmt.Sprintf("/api/v2/tickets/%d.json", id), url.Values{"include": {sideloads}})

	var resp showResponse
	err := c.getJSON(ctx, "show", u, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if resp.Ticket == nil {
		return nil, nil
	}

	t, err := normalize(resp.Ticket, newLookups(resp.sideloaded))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	return &t, nil
}

// Count returns the total number of tickets the account reports.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var cr countResponse
	err := c.getJSON(ctx, "count", c.endpoint("/api/v2/tickets/count.json", nil), &cr)
	if err == nil {
		return cr.Count.Value, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		return 0, err
	}

	var lr listResponse
	if err := c.getJSON(ctx, "count", c.endpoint("/api/v2/tickets.json", url.Values{"per_page": {"1"}}), &lr); err != nil {
		return 0, err
	}
	if lr.Count == nil {
		return 0, fmt.Errorf("%w: listing carries no count", ErrFatal)
	}
	return *lr.Count, nil
}

// TestConnection issues a one-ticket listing to verify the credentials.
func (c *Client) TestConnection(ctx context.Context) error {
	var lr listResponse
	if err := c.getJSON(ctx, "ping", c.endpoint("/api/v2/tickets.json", url.Values{"per_page": {"1"}}), &lr); err != nil {
		return fmt.Errorf("ticketing api unreachable: %w", err)
	}
	return nil
}

func (c *Client) firstPageURL(q PageQuery) string {
	size := q.PageSize
	if size <= 0 || size > c.pageSize {
		size = c.pageSize
	}
	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = SortCreated
	}

	v := url.Values{}
	v.Set("per_page", strconv.Itoa(size))
	v.Set("sort_by", string(sortBy))
	v.Set("sort_order", "desc")
	v.Set("include", sideloads)
	if !q.Since.IsZero() {
		v.Set("start_time", strconv.FormatInt(q.Since.Unix(), 10))
	}
	return c.endpoint("/api/v2/tickets.json", v)
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = ""
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// resolve accepts absolute continuation URLs as-is and anchors relative ones at the base.
func (c *Client) resolve(cursor string) (string, error) {
	u, err := url.Parse(cursor)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return cursor, nil
	}
	return c.base.ResolveReference(u).String(), nil
}

func (c *Client) getJSON(ctx context.Context, op, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrFatal, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.email != "" {
		req.SetBasicAuth(c.email+"/token", c.apiToken)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveSourceRequest(op, 0, time.Since(started))
		return fmt.Errorf("%w: GET %s: %w", ErrTransient, target, err)
	}
	defer resp.Body.Close()
	metrics.ObserveSourceRequest(op, resp.StatusCode, time.Since(started))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body of %s: %w", ErrTransient, target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp, target, body)
		c.logger.Debug().
			Str("op", op).
			Int("status", resp.StatusCode).
			Dur("retry_after", apiErr.RetryAfter).
			Msg("ticketing api returned an error")
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrFatal, target, err)
	}
	return nil
}
