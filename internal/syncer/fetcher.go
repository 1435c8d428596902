// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package syncer keeps a storage.Storage up to date: an HTTP fetcher for
// conditional-GET polling, a cron-scheduled poller, an SSE streaming
// client, and the sync manager state machine that arbitrates between them.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/internal/telemetry"
	"github.com/flagkit/go-client/pkg/log"
)

// StatusError reports a non-2xx sync-API response, classified per §4.6:
// 5xx, 408 and 429 are transient and worth retrying with backoff; any
// other 4xx means the request itself is wrong (bad API key, malformed
// query) and retrying it unchanged will never succeed.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("syncer: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether this status warrants an exponential-backoff
// retry rather than being treated as fatal for the current poll cycle.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// retryable reports whether err should be retried with backoff: any
// *StatusError defers to its own classification, anything else (a
// transport-level error: timeout, connection refused, DNS failure) is
// always worth retrying.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// Fetcher performs conditional-GET requests against the sync API,
// paced by a rate limiter so a misbehaving poll cadence can never hammer
// the backend.
type Fetcher struct {
	BaseURL    string
	AuthHeader string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Stats      *telemetry.Stats
}

// NewFetcher builds a Fetcher with sane defaults: a client whose timeout is
// connectTimeout (the factory passes ConnectionTimeout, 1.5s by default) and
// a limiter that permits a burst of 5 requests, refilling at 10/s - well
// above any legitimate poll cadence, just a backstop against pathological
// config.
func NewFetcher(baseURL, apiKey string, connectTimeout time.Duration) *Fetcher {
	return &Fetcher{
		BaseURL:    baseURL,
		AuthHeader: "Bearer " + apiKey,
		HTTPClient: &http.Client{Timeout: connectTimeout},
		Limiter:    rate.NewLimiter(10, 5),
	}
}

// FetchSplitChanges conditionally fetches the feature-flag delta since cn.
func (f *Fetcher) FetchSplitChanges(ctx context.Context, cn int64) (dto.SplitChanges, error) {
	var out dto.SplitChanges
	url := fmt.Sprintf("%s/api/splitChanges?since=%d", f.BaseURL, cn)
	err := f.getJSON(ctx, "splitChanges", url, &out)
	return out, err
}

// FetchSegmentChanges conditionally fetches a single segment's delta.
func (f *Fetcher) FetchSegmentChanges(ctx context.Context, name string, cn int64) (dto.SegmentChanges, error) {
	var out dto.SegmentChanges
	url := fmt.Sprintf("%s/api/segmentChanges/%s?since=%d", f.BaseURL, name, cn)
	err := f.getJSON(ctx, "segmentChanges", url, &out)
	return out, err
}

func (f *Fetcher) getJSON(ctx context.Context, endpoint, url string, out interface{}) error {
	if err := f.Limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", f.AuthHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if f.Stats != nil {
			f.Stats.IncHTTPError(endpoint)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("syncer: decoding %s response: %w", endpoint, err)
	}
	return nil
}

// FetchWithBackoff retries fn with exponential backoff, capped at max,
// until it succeeds, ctx is done, or fn fails with a non-retryable error
// (§4.6: a 4xx other than 408/429 means the request is wrong, not
// transient, so retrying it unchanged would just spin). Used by the
// poller, bounding its backoff at the poll interval; the sync manager's
// catch-up fetches go through the poller and so use it too.
func FetchWithBackoff(ctx context.Context, base, max time.Duration, fn func(ctx context.Context) error) error {
	wait := base
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			log.Warnf("syncer: fetch attempt failed fatally, not retrying: %v", err)
			return err
		}
		log.Warnf("syncer: fetch attempt failed, retrying in %s: %v", wait, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > max {
			wait = max
		}
	}
}
