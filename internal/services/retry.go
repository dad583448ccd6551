package services

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

	"github.com/cenkalti/backoff/v4"
	"github.com/desertthunder/libmirror/internal/shared"
)

// get performs an authenticated GET and decodes the JSON body into out.
//
// Transient failures are retried on an exponential schedule up to maxAttempts.
// A 429 waits out Retry-After once. A 401 refreshes the token once, and a second 401 is returned.
func (c *CatalogClient) get(ctx context.Context, tokens Tokens, endpoint string, query url.Values, out any) error {
	endpointURL := c.baseURL + endpoint
	if len(query) > 0 {
		endpointURL += "?" + query.Encode()
	}

	var (
		refreshed  bool
		rateWaited bool
		policy     = c.newRetryPolicy()
	)

	operation := func() error {
		access, _ := tokens.Current()
		retryAfter, err := c.do(ctx, access, endpoint, endpointURL, out)

		if shared.IsProviderKind(err, shared.Unauthorized) && !refreshed {
			refreshed = true
			if _, rerr := tokens.Refresh(ctx, access); rerr != nil {
				if errors.Is(rerr, errNotRefreshable) {
					return backoff.Permanent(err)
				}
				return backoff.Permanent(rerr)
			}
			c.logger.Warn("access token rejected, refreshed", "endpoint", endpoint)
			access, _ = tokens.Current()
			retryAfter, err = c.do(ctx, access, endpoint, endpointURL, out)
		}
		if err == nil {
			return nil
		}

		var pe *shared.ProviderError
		if !errors.As(err, &pe) {
			return backoff.Permanent(err)
		}

		switch {
		case pe.Kind == shared.RateLimited:
			if rateWaited || retryAfter > c.maxRetryAfter {
				return backoff.Permanent(err)
			}
			rateWaited = true
			policy.retryAfter = retryAfter
			return err
		case pe.Retryable():
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	notify := func(err error, delay time.Duration) {
		if shared.IsProviderKind(err, shared.RateLimited) {
			c.logger.Warn("rate limited, waiting", "endpoint", endpoint, "retry_after", delay)
			return
		}
		c.logger.Warn("retrying request", "endpoint", endpoint, "delay", delay, "err", err)
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxAttempts-1)), ctx)
	return backoff.RetryNotify(operation, schedule, notify)
}

// retryPolicy is the exponential schedule of one call. A pending Retry-After replaces the next delay.
type retryPolicy struct {
	*backoff.ExponentialBackOff
	retryAfter time.Duration
}

func (c *CatalogClient) newRetryPolicy() *retryPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	b.MaxInterval = c.backoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &retryPolicy{ExponentialBackOff: b}
}

func (p *retryPolicy) NextBackOff() time.Duration {
	if d := p.retryAfter; d > 0 {
		p.retryAfter = 0
		return d
	}
	return p.ExponentialBackOff.NextBackOff()
}

func (p *retryPolicy) Reset() {
	p.retryAfter = 0
	p.ExponentialBackOff.Reset()
}

// do sends one request bounded by the per-call timeout and classifies the outcome.
//
// For a 429 it also returns the parsed Retry-After delay, zero if absent.
func (c *CatalogClient) do(ctx context.Context, access, endpoint, endpointURL string, out any) (time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &shared.ProviderError{Kind: shared.Transient, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &shared.ProviderError{Kind: shared.Transient, Status: resp.StatusCode, Endpoint: endpoint, Err: err}
	}

	if kind, failed := classifyStatus(resp.StatusCode); failed {
		var retryAfter time.Duration
		if kind == shared.RateLimited {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return retryAfter, &shared.ProviderError{
			Kind:     kind,
			Status:   resp.StatusCode,
			Endpoint: endpoint,
			Err:      errorMessage(body),
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return 0, &shared.ProviderError{
				Kind:     shared.Malformed,
				Status:   resp.StatusCode,
				Endpoint: endpoint,
				Err:      fmt.Errorf("failed to decode response: %w", err),
			}
		}
	}
	return 0, nil
}

// classifyStatus maps an HTTP status to an error kind. failed is false for 2xx.
func classifyStatus(status int) (kind shared.ProviderErrorKind, failed bool) {
	switch {
	case status >= 200 && status < 300:
		return 0, false
	case status == http.StatusTooManyRequests:
		return shared.RateLimited, true
	case status == http.StatusUnauthorized:
		return shared.Unauthorized, true
	case status == http.StatusForbidden:
		return shared.Forbidden, true
	case status >= 500:
		return shared.Transient, true
	default:
		return shared.Malformed, true
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage extracts the message from a Spotify error object, if the body is one.
func errorMessage(body []byte) error {
	var payload struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return nil
	}
	return errors.New(payload.Error.Message)
}
