package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pfrederiksen/city-events/internal/logger"
)

// ErrNoContent is returned by Chain.Fetch when every strategy failed or
// returned a page without event links.
var ErrNoContent = errors.New("no strategy returned usable content")

// StatusError reports a non-2xx HTTP response
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Request describes a single page fetch
type Request struct {
	URL     string
	Header  http.Header
	Timeout time.Duration
}

// Strategy retrieves the raw body of a page
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Attempt records the outcome of one strategy
type Attempt struct {
	Strategy   string
	OK         bool
	StatusCode int // last HTTP status seen, 0 if none
	Links      int
	Bytes      int
	Err        error
	Duration   time.Duration
}

// Result is the outcome of a chain fetch
type Result struct {
	Content  []byte
	Strategy string // strategy that produced Content
	Attempts []Attempt
}

// Reached reports whether any strategy got a response body at all,
// which separates "site unreachable" from "site reachable but no events".
func (r *Result) Reached() bool {
	if r == nil {
		return false
	}
	for _, a := range r.Attempts {
		if a.Bytes > 0 {
			return true
		}
	}
	return false
}

// LinkCounter counts candidate event links in a payload
type LinkCounter func(content []byte) int

// Chain tries strategies in priority order until one returns a page with
// at least MinLinks event links.
type Chain struct {
	strategies []Strategy
	header     http.Header
	timeout    time.Duration
	count      LinkCounter
	minLinks   int
	log        *logger.Logger
}

// NewChain creates a chain over strategies. A nil counter accepts any
// non-empty body.
func NewChain(strategies []Strategy, header http.Header, timeout time.Duration, count LinkCounter, minLinks int, log *logger.Logger) *Chain {
	if count == nil {
		count = func(content []byte) int { return len(content) }
	}
	if minLinks < 1 {
		minLinks = 1
	}
	if log == nil {
		log = logger.Default()
	}
	return &Chain{
		strategies: strategies,
		header:     header,
		timeout:    timeout,
		count:      count,
		minLinks:   minLinks,
		log:        log,
	}
}

// Strategies returns the strategy names in priority order
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Fetch retrieves url with the first strategy that yields usable content.
//
// Strategy failures never escape: they are recorded in Result.Attempts and the
// next strategy is tried. When all strategies are exhausted the error is
// ErrNoContent. A cancelled ctx stops the chain and returns ctx.Err().
func (c *Chain) Fetch(ctx context.Context, url string) (*Result, error) {
	result := &Result{Attempts: make([]Attempt, 0, len(c.strategies))}

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		content, attempt := c.try(ctx, s, url)
		result.Attempts = append(result.Attempts, attempt)

		fields := logger.Fields{
			"strategy":    attempt.Strategy,
			"status_code": attempt.StatusCode,
			"bytes":       attempt.Bytes,
			"links":       attempt.Links,
			"duration_ms": attempt.Duration.Milliseconds(),
		}
		if attempt.OK {
			c.log.Info("Fetch strategy succeeded", fields)
			result.Content = content
			result.Strategy = attempt.Strategy
			return result, nil
		}
		c.log.Warn("Fetch strategy failed", fields, attempt.Err)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, ErrNoContent
}

func (c *Chain) try(ctx context.Context, s Strategy, url string) ([]byte, Attempt) {
	attempt := Attempt{Strategy: s.Name()}
	start := time.Now()

	sctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	content, err := safeFetch(sctx, s, Request{
		URL:     url,
		Header:  c.header.Clone(),
		Timeout: c.timeout,
	})
	attempt.Duration = time.Since(start)
	attempt.Bytes = len(content)

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		attempt.StatusCode = statusErr.Code
	}
	if err != nil {
		attempt.Err = err
		return nil, attempt
	}
	if attempt.StatusCode == 0 {
		attempt.StatusCode = http.StatusOK
	}

	attempt.Links = c.count(content)
	if attempt.Links < c.minLinks {
		attempt.Err = fmt.Errorf("found %d event links, need %d", attempt.Links, c.minLinks)
		return nil, attempt
	}

	attempt.OK = true
	return content, attempt
}

// safeFetch converts a strategy panic into an error so the chain can move on
func safeFetch(ctx context.Context, s Strategy, req Request) (content []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			content = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Fetch(ctx, req)
}
