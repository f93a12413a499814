// Package wiki provides paginated, rate-limited read-only access to the
// upstream wiki API: spaces, pages, and updated-pages discovery.
package wiki

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"wikirag/internal/config"
	"wikirag/internal/domain"
	"wikirag/internal/logging"
)

// RawPage is a page as returned by the upstream API, before normalization.
type RawPage struct {
	PageID    string
	SpaceKey  string
	Title     string
	URL       string
	BodyHTML  string
	Version   int64
	UpdatedAt time.Time
}

// Client is the contract consumed by the sync orchestrator. All List*
// operations are lazy: pagination happens as the sequence is iterated.
type Client interface {
	ListSpaces(ctx context.Context) iter.Seq2[domain.Space, error]
	ListPages(ctx context.Context, spaceKey string, updatedSince *time.Time) iter.Seq2[RawPage, error]
	GetPage(ctx context.Context, pageID string) (RawPage, error)
	ListUpdatedPages(ctx context.Context, since time.Time) iter.Seq2[RawPage, error]
	Health(ctx context.Context) bool
}

// ErrPageNotFound is returned by GetPage when the upstream reports a 404.
var ErrPageNotFound = errors.New("wiki: page not found")

const (
	minRequestSpacing = 100 * time.Millisecond
	maxAttempts       = 3
	defaultTimeout    = 30 * time.Second
	pageSizeMax       = 100
)

// rateLimiter is the subset of *rate.Limiter the client depends on, so
// tests can swap in a no-op and avoid paying minRequestSpacing per call.
type rateLimiter interface {
	Wait(ctx context.Context) error
}

// HTTPClient talks to a Confluence-shaped REST API over HTTP Basic auth
// (email + API token).
type HTTPClient struct {
	cfg     config.WikiConfig
	http    *http.Client
	limiter rateLimiter
}

// NewHTTPClient builds a Client bound to the given wiki configuration.
func NewHTTPClient(cfg config.WikiConfig) *HTTPClient {
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Every(minRequestSpacing), 1),
	}
}

// Health performs a lightweight reachability check against the space
// listing endpoint.
func (c *HTTPClient) Health(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, err := range c.ListSpaces(cctx) {
		return err == nil
	}
	return true
}

// GetPage fetches a single page by id with storage-format body, version,
// timestamps, and web URL.
func (c *HTTPClient) GetPage(ctx context.Context, pageID string) (RawPage, error) {
	var page RawPage
	err := c.doWithRetry(ctx, func(cctx context.Context) error {
		p, ferr := c.fetchPage(cctx, pageID)
		if ferr != nil {
			return ferr
		}
		page = p
		return nil
	})
	return page, err
}

// ListSpaces returns a lazy sequence of active spaces.
func (c *HTTPClient) ListSpaces(ctx context.Context) iter.Seq2[domain.Space, error] {
	return func(yield func(domain.Space, error) bool) {
		cursor := ""
		for {
			spaces, next, err := c.fetchSpacesPage(ctx, cursor)
			if err != nil {
				yield(domain.Space{}, err)
				return
			}
			for _, s := range spaces {
				if !yield(s, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// ListPages returns a lazy sequence of pages in a space, optionally
// filtered to those modified since updatedSince. The primary listing
// endpoint is attempted first; on failure it falls back to the
// query-language endpoint.
func (c *HTTPClient) ListPages(ctx context.Context, spaceKey string, updatedSince *time.Time) iter.Seq2[RawPage, error] {
	return func(yield func(RawPage, error) bool) {
		cursor := ""
		useFallback := false
		for {
			var (
				pages []RawPage
				next  string
				err   error
			)
			if !useFallback {
				pages, next, err = c.fetchPagesPrimary(ctx, spaceKey, updatedSince, cursor)
				if err != nil {
					logging.Log.WithError(err).WithField("space_key", spaceKey).
						Warn("primary page listing failed, falling back to CQL")
					useFallback = true
					cursor = ""
					continue
				}
			} else {
				pages, next, err = c.fetchPagesCQL(ctx, spaceKey, updatedSince, cursor)
				if err != nil {
					yield(RawPage{}, err)
					return
				}
			}
			for _, p := range pages {
				if !yield(p, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// ListUpdatedPages returns a lazy sequence of pages modified since the
// given time, across all spaces, via the CQL endpoint directly.
func (c *HTTPClient) ListUpdatedPages(ctx context.Context, since time.Time) iter.Seq2[RawPage, error] {
	return func(yield func(RawPage, error) bool) {
		cursor := ""
		for {
			pages, next, err := c.fetchPagesCQL(ctx, "", &since, cursor)
			if err != nil {
				yield(RawPage{}, err)
				return
			}
			for _, p := range pages {
				if !yield(p, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// doWithRetry enforces the minimum inter-request spacing and the retry
// policy: 429 honors Retry-After without consuming an attempt,
// 5xx/transport errors back off exponentially up to maxAttempts, any
// other 4xx fails fast.
func (c *HTTPClient) doWithRetry(ctx context.Context, call func(context.Context) error) error {
	attempt := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := call(ctx)
		if err == nil {
			return nil
		}
		var re *retryableError
		if errors.As(err, &re) {
			if re.retryAfter > 0 {
				select {
				case <-time.After(re.retryAfter):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue // Retry-After does not consume an attempt.
			}
			attempt++
			if attempt >= maxAttempts {
				return fmt.Errorf("wiki: exhausted retries: %w", re.cause)
			}
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return err
	}
}

// retryableError wraps a transient-upstream failure (429/5xx/transport)
// so doWithRetry can distinguish it from a fail-fast 4xx.
type retryableError struct {
	cause      error
	retryAfter time.Duration
}

func (e *retryableError) Error() string { return e.cause.Error() }
func (e *retryableError) Unwrap() error { return e.cause }
