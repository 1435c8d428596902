// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry owns everything produced as a side effect of
// evaluation and tracking: impressions, events and runtime stats. None of
// it does network I/O on the evaluation path - Evaluator callers hand
// results to a Pipeline, which enqueues, calls the impression listener if
// one is set, and returns.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/flagkit/go-client/pkg/lrucache"
)

// ImpressionMode controls how much impression data the pipeline actually
// queues for delivery.
type ImpressionMode string

const (
	ImpressionsDebug     ImpressionMode = "DEBUG"
	ImpressionsOptimized ImpressionMode = "OPTIMIZED"
	ImpressionsNone      ImpressionMode = "NONE"
)

// Impression is one evaluation outcome worth reporting upstream.
type Impression struct {
	Feature      string
	Key          string
	BucketingKey string
	Treatment    string
	Label        string
	ChangeNumber int64
	Timestamp    int64
	PreviousTime int64 // set only on suppressed OPTIMIZED impressions (never queued); 0 on queued ones
}

// ImpressionListener is an optional host-supplied hook invoked for every
// emitted impression, synchronously from Record on the evaluating
// goroutine; there is no separate worker. A panicking listener is
// recovered and counted, never allowed to affect evaluation.
type ImpressionListener interface {
	Log(Impression)
}

const dedupTTL = time.Hour

// ImpressionPipeline queues impressions for batched delivery, with the
// DEBUG/OPTIMIZED/NONE behavior from the SDK's impression modes.
type ImpressionPipeline struct {
	mode ImpressionMode

	mu       sync.Mutex
	queue    []Impression
	capacity int

	dedup *lrucache.Cache // keyed by feature|key|treatment|changeNumber, OPTIMIZED mode only

	counters *Stats
	listener ImpressionListener

	uniqueKeys *uniqueKeyTracker       // NONE mode only
	suppressed *suppressedCountTracker // OPTIMIZED mode only
}

// NewImpressionPipeline builds a pipeline in the given mode. capacity
// bounds the queue; overflow drops the oldest entry and increments a
// telemetry counter instead of blocking the caller.
func NewImpressionPipeline(mode ImpressionMode, capacity int, stats *Stats, listener ImpressionListener) *ImpressionPipeline {
	p := &ImpressionPipeline{
		mode:     mode,
		capacity: capacity,
		counters: stats,
		listener: listener,
	}
	if mode == ImpressionsOptimized {
		p.dedup = lrucache.New(1 << 20) // count-bounded: 1 unit per entry
		p.suppressed = newSuppressedCountTracker()
	}
	if mode == ImpressionsNone {
		p.uniqueKeys = newUniqueKeyTracker()
	}
	return p
}

// Record is called once per evaluation that produced an impression
// (Result.Impression == true). now is injected so tests are deterministic.
func (p *ImpressionPipeline) Record(imp Impression, now time.Time) {
	imp.Timestamp = now.UnixMilli()

	switch p.mode {
	case ImpressionsNone:
		p.uniqueKeys.add(imp.Feature, imp.Key, now)
		return

	case ImpressionsOptimized:
		dedupKey := fmt.Sprintf("%s|%s|%s|%d", imp.Feature, imp.Key, imp.Treatment, imp.ChangeNumber)
		prev := p.dedup.Get(dedupKey, nil)
		p.counters.IncEvaluation(imp.Feature)
		if prev != nil {
			imp.PreviousTime = prev.(int64)
			p.suppressed.add(imp.Feature, now)
			return // suppressed: counted, not queued
		}
		p.dedup.Put(dedupKey, imp.Timestamp, 1, dedupTTL)

	case ImpressionsDebug:
		p.counters.IncEvaluation(imp.Feature)
	}

	p.enqueue(imp)
	p.notifyListener(imp)
}

func (p *ImpressionPipeline) enqueue(imp Impression) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) >= p.capacity {
		p.queue = p.queue[1:]
		p.counters.IncQueueOverflow("impressions")
	}
	p.queue = append(p.queue, imp)
}

func (p *ImpressionPipeline) notifyListener(imp Impression) {
	if p.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.counters.IncListenerPanic()
		}
	}()
	p.listener.Log(imp)
}

// Drain removes and returns up to max queued impressions, for the flusher
// to batch into a POST. It never blocks.
func (p *ImpressionPipeline) Drain(max int) []Impression {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max <= 0 || max > len(p.queue) {
		max = len(p.queue)
	}
	batch := p.queue[:max]
	p.queue = p.queue[max:]
	return batch
}

// Len reports the current queue depth, for debug introspection.
func (p *ImpressionPipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// uniqueKeyTracker records, per feature, the set of matching-keys seen in
// the current flush window - NONE mode's replacement for full impressions.
type uniqueKeyTracker struct {
	mu      sync.Mutex
	windows map[string]*lrucache.Cache // feature -> keys seen this window
}

func newUniqueKeyTracker() *uniqueKeyTracker {
	return &uniqueKeyTracker{windows: map[string]*lrucache.Cache{}}
}

func (u *uniqueKeyTracker) add(feature, key string, now time.Time) {
	u.mu.Lock()
	c, ok := u.windows[feature]
	if !ok {
		c = lrucache.New(1 << 20)
		u.windows[feature] = c
	}
	u.mu.Unlock()

	c.Put(key, true, 1, 24*time.Hour)
}

// Flush returns the per-feature unique key sets accumulated so far and
// resets the tracker for the next window.
func (u *uniqueKeyTracker) Flush() map[string][]string {
	u.mu.Lock()
	windows := u.windows
	u.windows = map[string]*lrucache.Cache{}
	u.mu.Unlock()

	out := make(map[string][]string, len(windows))
	for feature, c := range windows {
		var keys []string
		c.Keys(func(k string, _ interface{}) {
			keys = append(keys, k)
		})
		out[feature] = keys
	}
	return out
}

// FlushUniqueKeys exposes the unique-keys tracker for NONE mode; a no-op
// returning nil in DEBUG/OPTIMIZED mode.
func (p *ImpressionPipeline) FlushUniqueKeys() map[string][]string {
	if p.uniqueKeys == nil {
		return nil
	}
	return p.uniqueKeys.Flush()
}

// SuppressedCount is one {feature, hour-bucket, count} entry, reporting how
// many impressions OPTIMIZED-mode dedup suppressed in that hour.
type SuppressedCount struct {
	Feature string `json:"feature"`
	Hour    int64  `json:"hour"` // Unix seconds, truncated to the hour
	Count   int64  `json:"count"`
}

type suppressedKey struct {
	feature string
	hour    int64
}

// suppressedCountTracker accumulates §4.10's per-feature, hour-bucketed
// suppressed-impression counts - a payload distinct from, and flushed
// separately from, the impression queue itself.
type suppressedCountTracker struct {
	mu     sync.Mutex
	counts map[suppressedKey]int64
}

func newSuppressedCountTracker() *suppressedCountTracker {
	return &suppressedCountTracker{counts: map[suppressedKey]int64{}}
}

func (s *suppressedCountTracker) add(feature string, now time.Time) {
	key := suppressedKey{feature: feature, hour: now.Truncate(time.Hour).Unix()}
	s.mu.Lock()
	s.counts[key]++
	s.mu.Unlock()
}

// Flush returns the accumulated counts and resets the tracker for the next
// window.
func (s *suppressedCountTracker) Flush() []SuppressedCount {
	s.mu.Lock()
	counts := s.counts
	s.counts = map[suppressedKey]int64{}
	s.mu.Unlock()

	out := make([]SuppressedCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, SuppressedCount{Feature: k.feature, Hour: k.hour, Count: c})
	}
	return out
}

// FlushSuppressedCounts exposes the suppressed-count tracker for OPTIMIZED
// mode; a no-op returning nil in DEBUG/NONE mode.
func (p *ImpressionPipeline) FlushSuppressedCounts() []SuppressedCount {
	if p.suppressed == nil {
		return nil
	}
	return p.suppressed.Flush()
}
