// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flagkit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/flagkit/go-client/internal/lifecycle"
	"github.com/flagkit/go-client/internal/telemetry"
	"github.com/flagkit/go-client/pkg/log"
)

// startFlushLoops registers the background tasks that batch-deliver
// impressions, events, and the telemetry config echo (§4.10-4.12), plus
// the NONE-mode unique-keys flush when applicable. Every loop attempts one
// final flush on shutdown before returning.
func startFlushLoops(supervisor *lifecycle.Supervisor, cfg Config, impressions *telemetry.ImpressionPipeline, events *telemetry.EventsPipeline, stats *telemetry.Stats, apiKey string) {
	client := &http.Client{Timeout: time.Duration(cfg.ReadTimeout)}

	supervisor.Go("impressions-flush", func(ctx context.Context) {
		runFlushLoop(ctx, time.Duration(cfg.ImpressionsRefreshRate), func() {
			flushImpressions(ctx, client, cfg.SDKAPIBaseURL, apiKey, impressions, stats)
		})
	})

	supervisor.Go("events-flush", func(ctx context.Context) {
		runFlushLoop(ctx, time.Duration(cfg.EventsPushRate), func() {
			flushEvents(ctx, client, cfg.EventsAPIBaseURL, apiKey, events, stats)
		})
	})

	supervisor.Go("telemetry-flush", func(ctx context.Context) {
		runFlushLoop(ctx, time.Duration(cfg.MetricsRefreshRate), func() {
			flushTelemetry(ctx, client, cfg.SDKAPIBaseURL, apiKey, stats)
		})
	})

	if cfg.ImpressionsMode == telemetry.ImpressionsNone {
		supervisor.Go("unique-keys-flush", func(ctx context.Context) {
			runFlushLoop(ctx, time.Duration(cfg.ImpressionsRefreshRate), func() {
				flushUniqueKeys(ctx, client, cfg.SDKAPIBaseURL, apiKey, impressions, stats)
			})
		})
	}

	if cfg.ImpressionsMode == telemetry.ImpressionsOptimized {
		supervisor.Go("impression-counts-flush", func(ctx context.Context) {
			runFlushLoop(ctx, time.Duration(cfg.ImpressionsRefreshRate), func() {
				flushImpressionCounts(ctx, client, cfg.SDKAPIBaseURL, apiKey, impressions, stats)
			})
		})
	}
}

// runFlushLoop ticks flush at every interval until ctx is cancelled, then
// gives flush one last best-effort call before returning.
func runFlushLoop(ctx context.Context, every time.Duration, flush func()) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

func flushImpressions(ctx context.Context, client *http.Client, baseURL, apiKey string, pipeline *telemetry.ImpressionPipeline, stats *telemetry.Stats) {
	batch := pipeline.Drain(0)
	if len(batch) == 0 {
		return
	}
	status, err := postJSON(ctx, client, baseURL+"/api/testImpressions/bulk", apiKey, batch)
	if err != nil {
		log.Warnf("flagkit: flushing impressions failed: %v", err)
		stats.IncHTTPError("impressions")
		return
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		log.Warnf("flagkit: impressions endpoint returned %d, batch dropped", status)
		stats.IncHTTPError("impressions")
	}
}

func flushEvents(ctx context.Context, client *http.Client, baseURL, apiKey string, pipeline *telemetry.EventsPipeline, stats *telemetry.Stats) {
	batch := pipeline.Drain(0)
	if len(batch) == 0 {
		return
	}
	status, err := postJSON(ctx, client, baseURL+"/api/events/bulk", apiKey, batch)
	if err != nil {
		log.Warnf("flagkit: flushing events failed, requeueing: %v", err)
		stats.IncHTTPError("events")
		pipeline.Requeue(batch)
		return
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		log.Warnf("flagkit: events endpoint returned %d, requeueing", status)
		stats.IncHTTPError("events")
		pipeline.Requeue(batch)
	}
	// 4xx: the batch is malformed from the backend's perspective and is
	// dropped rather than requeued, per §4.11.
}

// flushImpressionCounts ships OPTIMIZED mode's hour-bucketed suppressed-
// impression counts (§4.10) - a payload distinct from the impression queue
// itself, sent from its own loop at the same ImpressionsRefreshRate.
func flushImpressionCounts(ctx context.Context, client *http.Client, baseURL, apiKey string, pipeline *telemetry.ImpressionPipeline, stats *telemetry.Stats) {
	counts := pipeline.FlushSuppressedCounts()
	if len(counts) == 0 {
		return
	}
	status, err := postJSON(ctx, client, baseURL+"/api/testImpressions/count", apiKey, counts)
	if err != nil {
		log.Warnf("flagkit: flushing impression counts failed: %v", err)
		stats.IncHTTPError("impressionCounts")
		return
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		log.Warnf("flagkit: impression counts endpoint returned %d", status)
		stats.IncHTTPError("impressionCounts")
	}
}

func flushUniqueKeys(ctx context.Context, client *http.Client, baseURL, apiKey string, pipeline *telemetry.ImpressionPipeline, stats *telemetry.Stats) {
	windows := pipeline.FlushUniqueKeys()
	if len(windows) == 0 {
		return
	}
	status, err := postJSON(ctx, client, baseURL+"/api/keys/cs", apiKey, windows)
	if err != nil {
		log.Warnf("flagkit: flushing unique keys failed: %v", err)
		stats.IncHTTPError("uniqueKeys")
		return
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		log.Warnf("flagkit: unique keys endpoint returned %d", status)
		stats.IncHTTPError("uniqueKeys")
	}
}

// flushTelemetry ships the one-time config echo (§4.12); the counters and
// histograms it is echoed alongside are otherwise served live from the
// Stats registry via /debug/metrics rather than re-serialized here.
func flushTelemetry(ctx context.Context, client *http.Client, baseURL, apiKey string, stats *telemetry.Stats) {
	echo := stats.ConfigEcho()
	if echo == nil {
		return
	}
	status, err := postJSON(ctx, client, baseURL+"/api/metrics/config", apiKey, echo)
	if err != nil {
		log.Warnf("flagkit: flushing telemetry config echo failed: %v", err)
		stats.IncHTTPError("telemetry")
		return
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		log.Warnf("flagkit: telemetry endpoint returned %d", status)
		stats.IncHTTPError("telemetry")
	}
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body interface{}) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	// The final flush runs after the supervisor context is cancelled; keep
	// its values but drop the cancellation so that last request can still be
	// sent, bounded by the client's own timeout.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
