// Package fetcher retrieves source pages and probes giveaway pages for expiry.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps how much of a page is read.
const maxBodyBytes = 5 << 20

// FetchError is a per-source retrieval failure. It is never fatal to a scan.
type FetchError struct {
	Source     string
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Options configures a Fetcher.
type Options struct {
	Timeout   time.Duration
	Attempts  uint
	UserAgent string
	Delay     time.Duration // base delay between attempts
}

// Fetcher downloads pages over HTTP.
type Fetcher struct {
	client *http.Client
	opts   Options
	logger zerolog.Logger
}

// New creates a fetcher. A nil client gets one with opts.Timeout.
func New(client *http.Client, opts Options, logger zerolog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "giveaway-bot/1.0"
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{client: client, opts: opts, logger: logger.With().Str("module", "fetcher").Logger()}
}

// Fetch returns the body of sourceURL. Non-2xx responses and transport errors are
// reported as *FetchError; 4xx responses are not retried.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	var body []byte
	var lastErr *FetchError

	err := retry.Do(
		func() error {
			b, status, err := f.get(ctx, sourceURL)
			if err != nil {
				lastErr = &FetchError{Source: sourceURL, Err: err}
				return lastErr
			}
			if status < 200 || status > 299 {
				lastErr = &FetchError{Source: sourceURL, StatusCode: status}
				if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
					return retry.Unrecoverable(lastErr)
				}
				return lastErr
			}
			body = b
			return nil
		},
		retry.Attempts(f.opts.Attempts),
		retry.Delay(f.opts.Delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(f.opts.Delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Info().Uint("attempt", n).Err(err).Str("url", sourceURL).Msg("Retrying fetch after error")
		}),
	)
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &FetchError{Source: sourceURL, Err: err}
	}
	return body, nil
}

// get performs a single request and returns the (capped) body and status code.
func (f *Fetcher) get(ctx context.Context, pageURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn().Str("url", pageURL).Dur("took", time.Since(start)).Err(err).Msg("HTTP request failed")
		return nil, 0, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Warn().Err(cerr).Msg("Failed to close response body")
		}
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	f.logger.Debug().
		Str("url", pageURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(b)).
		Dur("took", time.Since(start)).
		Msg("HTTP request completed")
	return b, resp.StatusCode, nil
}
