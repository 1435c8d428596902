// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flagkit

import (
	"sync/atomic"
	"time"

	"github.com/flagkit/go-client/internal/engine"
	"github.com/flagkit/go-client/internal/storage"
	"github.com/flagkit/go-client/internal/telemetry"
)

// TreatmentResult pairs a treatment name with its opaque configuration
// payload, returned by every *WithConfig variant.
type TreatmentResult struct {
	Treatment string
	Config    *string
}

// Client is the evaluation and tracking surface the host application
// actually calls. It is obtained from a Factory, never constructed
// directly - evaluation needs a synced Storage, an impression pipeline and
// an events pipeline all wired together first.
type Client struct {
	store       *storage.Storage
	impressions *telemetry.ImpressionPipeline
	events      *telemetry.EventsPipeline
	stats       *telemetry.Stats
	destroyed   *atomic.Bool
}

func newClient(store *storage.Storage, impressions *telemetry.ImpressionPipeline, events *telemetry.EventsPipeline, stats *telemetry.Stats, destroyed *atomic.Bool) *Client {
	return &Client{store: store, impressions: impressions, events: events, stats: stats, destroyed: destroyed}
}

// Treatment evaluates a single feature flag for key, ignoring its
// configuration payload.
func (c *Client) Treatment(key, feature string, attrs map[string]interface{}) string {
	return c.TreatmentWithConfig(key, feature, attrs).Treatment
}

// TreatmentWithConfig evaluates a single feature flag for key, including
// its configuration payload if one is set for the winning treatment.
func (c *Client) TreatmentWithConfig(key, feature string, attrs map[string]interface{}) TreatmentResult {
	if c.destroyed.Load() {
		return TreatmentResult{Treatment: engine.ControlTreatment}
	}
	if key == "" {
		c.stats.IncException()
		return TreatmentResult{Treatment: engine.ControlTreatment}
	}
	if !c.store.Ready() {
		return TreatmentResult{Treatment: engine.ControlTreatment}
	}

	snap := c.store.Snapshot()
	eval := engine.Evaluator{Source: snap}
	return c.evaluate(eval, key, key, feature, attrs)
}

// Treatments evaluates every named feature for key against a single
// storage snapshot, so the whole batch is atomic with respect to concurrent
// sync updates.
func (c *Client) Treatments(key string, features []string, attrs map[string]interface{}) map[string]string {
	full := c.TreatmentsWithConfig(key, features, attrs)
	out := make(map[string]string, len(full))
	for name, r := range full {
		out[name] = r.Treatment
	}
	return out
}

// TreatmentsWithConfig is Treatments, including configuration payloads.
func (c *Client) TreatmentsWithConfig(key string, features []string, attrs map[string]interface{}) map[string]TreatmentResult {
	out := make(map[string]TreatmentResult, len(features))
	if c.destroyed.Load() {
		for _, f := range features {
			out[f] = TreatmentResult{Treatment: engine.ControlTreatment}
		}
		return out
	}
	if key == "" {
		c.stats.IncException()
		for _, f := range features {
			out[f] = TreatmentResult{Treatment: engine.ControlTreatment}
		}
		return out
	}
	if !c.store.Ready() {
		for _, f := range features {
			out[f] = TreatmentResult{Treatment: engine.ControlTreatment}
		}
		return out
	}

	snap := c.store.Snapshot()
	eval := engine.Evaluator{Source: snap}
	for _, f := range features {
		out[f] = c.evaluate(eval, key, key, f, attrs)
	}
	return out
}

// TreatmentsByFlagSet evaluates every feature tagged with set.
func (c *Client) TreatmentsByFlagSet(key, set string, attrs map[string]interface{}) map[string]string {
	return c.Treatments(key, c.store.FlagNamesInSet(set), attrs)
}

// TreatmentsByFlagSetWithConfig is TreatmentsByFlagSet, including
// configuration payloads.
func (c *Client) TreatmentsByFlagSetWithConfig(key, set string, attrs map[string]interface{}) map[string]TreatmentResult {
	return c.TreatmentsWithConfig(key, c.store.FlagNamesInSet(set), attrs)
}

// TreatmentsByFlagSets evaluates every feature tagged with any of sets, a
// flag named under more than one requested set is evaluated once.
func (c *Client) TreatmentsByFlagSets(key string, sets []string, attrs map[string]interface{}) map[string]string {
	return c.Treatments(key, c.unionFlagSets(sets), attrs)
}

// TreatmentsByFlagSetsWithConfig is TreatmentsByFlagSets, including
// configuration payloads.
func (c *Client) TreatmentsByFlagSetsWithConfig(key string, sets []string, attrs map[string]interface{}) map[string]TreatmentResult {
	return c.TreatmentsWithConfig(key, c.unionFlagSets(sets), attrs)
}

func (c *Client) unionFlagSets(sets []string) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, set := range sets {
		for _, name := range c.store.FlagNamesInSet(set) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

func (c *Client) evaluate(eval engine.Evaluator, key, bucketingKey, feature string, attrs map[string]interface{}) TreatmentResult {
	defer c.stats.Time("evaluate")()

	res := eval.Evaluate(key, bucketingKey, feature, attrs)
	if res.Impression {
		c.impressions.Record(telemetry.Impression{
			Feature:      feature,
			Key:          key,
			BucketingKey: bucketingKey,
			Treatment:    res.Treatment,
			Label:        res.Label,
			ChangeNumber: res.ChangeNumber,
		}, time.Now())
	}
	return TreatmentResult{Treatment: res.Treatment, Config: res.Config}
}

// Track queues a business event for later batched delivery. It returns
// false (without queuing) if the event fails validation, or if the client
// has been destroyed.
func (c *Client) Track(key, trafficType, eventType string, value *float64, properties map[string]interface{}) bool {
	if c.destroyed.Load() {
		return false
	}
	return c.events.Track(telemetry.Event{
		Key:         key,
		TrafficType: trafficType,
		EventType:   eventType,
		Value:       value,
		Properties:  properties,
		Timestamp:   time.Now().UnixMilli(),
	})
}
