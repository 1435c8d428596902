// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var eventTypeRe = regexp.MustCompile(`^[a-zA-Z0-9][-_.:a-zA-Z0-9]{0,79}$`)

const (
	maxEventProperties    = 300
	maxPropertiesSerBytes = 32 * 1024
)

// Event is a host-tracked business event, queued for batched delivery to
// the events endpoint.
type Event struct {
	Key          string                 `json:"key" validate:"required"`
	TrafficType  string                 `json:"trafficTypeName" validate:"required"`
	EventType    string                 `json:"eventTypeId" validate:"required"`
	Value        *float64               `json:"value,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	Timestamp    int64                  `json:"timestamp"`
}

var eventValidator = validator.New()

// ValidateEvent applies the Track() input rules from the sync protocol:
// event-type pattern, property count and serialized size, and disallowed
// property value types (only nil, bool, string and numeric scalars are
// accepted; slices and maps are rejected).
func ValidateEvent(e Event) error {
	if err := eventValidator.Struct(e); err != nil {
		return err
	}
	if !eventTypeRe.MatchString(e.EventType) {
		return fmt.Errorf("telemetry: invalid event type %q", e.EventType)
	}
	if len(e.Properties) > maxEventProperties {
		return fmt.Errorf("telemetry: too many properties (%d > %d)", len(e.Properties), maxEventProperties)
	}
	for k, v := range e.Properties {
		if !isJSONSafeValue(v) {
			return fmt.Errorf("telemetry: property %q has an unsupported value type %T", k, v)
		}
	}
	if e.Properties != nil {
		raw, err := json.Marshal(e.Properties)
		if err != nil {
			return fmt.Errorf("telemetry: properties not serializable: %w", err)
		}
		if len(raw) > maxPropertiesSerBytes {
			return fmt.Errorf("telemetry: serialized properties too large (%d > %d bytes)", len(raw), maxPropertiesSerBytes)
		}
	}
	return nil
}

func isJSONSafeValue(v interface{}) bool {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// EventsPipeline is the Track() queue: bounded, validated, batch-flushed.
type EventsPipeline struct {
	mu       sync.Mutex
	queue    []Event
	capacity int
	counters *Stats
}

func NewEventsPipeline(capacity int, stats *Stats) *EventsPipeline {
	return &EventsPipeline{capacity: capacity, counters: stats}
}

// Track validates and enqueues an event, returning false if validation
// fails (the event is never queued in that case).
func (p *EventsPipeline) Track(e Event) bool {
	if err := ValidateEvent(e); err != nil {
		p.counters.IncValidationError()
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= p.capacity {
		p.queue = p.queue[1:]
		p.counters.IncQueueOverflow("events")
	}
	p.queue = append(p.queue, e)
	return true
}

// Drain removes and returns up to max queued events.
func (p *EventsPipeline) Drain(max int) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max <= 0 || max > len(p.queue) {
		max = len(p.queue)
	}
	batch := p.queue[:max]
	p.queue = p.queue[max:]
	return batch
}

// Requeue puts a previously drained batch back at the front of the queue,
// used when a 5xx/network error means the POST should be retried.
func (p *EventsPipeline) Requeue(batch []Event) {
	if len(batch) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(batch, p.queue...)
}

func (p *EventsPipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
