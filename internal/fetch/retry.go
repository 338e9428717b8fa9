package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxBodyBytes bounds how much of a listing page is read
const maxBodyBytes = 16 << 20

// retryableStatus are the statuses worth asking again for
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Retry is a plain HTTP GET with exponential backoff on transient failures
type Retry struct {
	client    *http.Client
	attempts  int
	baseDelay time.Duration
	timer     backoff.Timer // nil waits on a real timer
}

// NewRetry creates the retry strategy. attempts is the total number of
// requests, so 3 means one initial request and two retries.
func NewRetry(attempts int, baseDelay time.Duration) *Retry {
	if attempts < 1 {
		attempts = 1
	}
	return &Retry{
		client:    &http.Client{},
		attempts:  attempts,
		baseDelay: baseDelay,
	}
}

func (r *Retry) Name() string { return NameRetry }

func (r *Retry) Fetch(ctx context.Context, req Request) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.baseDelay << r.attempts
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.attempts-1)), ctx)

	var body []byte
	operation := func() error {
		content, err := get(ctx, r.client, req)
		if err == nil {
			body = content
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !retryableStatus[statusErr.Code] {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	if err := backoff.RetryNotifyWithTimer(operation, policy, nil, r.timer); err != nil {
		return nil, err
	}
	return body, nil
}

// get performs one GET with the request headers and returns the body of a 2xx response
func get(ctx context.Context, client *http.Client, req Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}
