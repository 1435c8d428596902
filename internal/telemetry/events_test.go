// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEventRejectsBadEventType(t *testing.T) {
	err := ValidateEvent(Event{Key: "k1", TrafficType: "user", EventType: "-bad-start"})
	assert.Error(t, err)
}

func TestValidateEventAcceptsGoodEventType(t *testing.T) {
	err := ValidateEvent(Event{Key: "k1", TrafficType: "user", EventType: "purchase.completed"})
	assert.NoError(t, err)
}

func TestValidateEventRejectsTooManyProperties(t *testing.T) {
	props := make(map[string]interface{}, maxEventProperties+1)
	for i := 0; i < maxEventProperties+1; i++ {
		props[string(rune('a'+i%26))+string(rune(i))] = i
	}
	err := ValidateEvent(Event{Key: "k1", TrafficType: "user", EventType: "e", Properties: props})
	assert.Error(t, err)
}

func TestValidateEventRejectsUnsupportedPropertyType(t *testing.T) {
	err := ValidateEvent(Event{
		Key: "k1", TrafficType: "user", EventType: "e",
		Properties: map[string]interface{}{"bad": struct{ X int }{1}},
	})
	assert.Error(t, err)
}

func TestValidateEventRejectsOversizedProperties(t *testing.T) {
	props := map[string]interface{}{"blob": strings.Repeat("x", maxPropertiesSerBytes+1)}
	err := ValidateEvent(Event{Key: "k1", TrafficType: "user", EventType: "e", Properties: props})
	assert.Error(t, err)
}

func TestEventsPipelineTrackAndDrain(t *testing.T) {
	stats := NewStats()
	p := NewEventsPipeline(10, stats)

	ok := p.Track(Event{Key: "k1", TrafficType: "user", EventType: "purchase"})
	assert.True(t, ok)
	assert.Equal(t, 1, p.Len())

	batch := p.Drain(10)
	require.Len(t, batch, 1)
	assert.Equal(t, 0, p.Len())
}

func TestEventsPipelineTrackRejectsInvalid(t *testing.T) {
	stats := NewStats()
	p := NewEventsPipeline(10, stats)

	ok := p.Track(Event{Key: "k1", TrafficType: "user", EventType: "!!invalid"})
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
}

func TestEventsPipelineOverflowDropsOldest(t *testing.T) {
	stats := NewStats()
	p := NewEventsPipeline(1, stats)

	p.Track(Event{Key: "k1", TrafficType: "user", EventType: "a"})
	p.Track(Event{Key: "k2", TrafficType: "user", EventType: "b"})

	batch := p.Drain(10)
	require.Len(t, batch, 1)
	assert.Equal(t, "k2", batch[0].Key)
}

func TestEventsPipelineRequeuePrependsBatch(t *testing.T) {
	stats := NewStats()
	p := NewEventsPipeline(10, stats)

	p.Track(Event{Key: "k2", TrafficType: "user", EventType: "b"})
	batch := p.Drain(10)
	p.Track(Event{Key: "k3", TrafficType: "user", EventType: "c"})
	p.Requeue(batch)

	all := p.Drain(10)
	require.Len(t, all, 2)
	assert.Equal(t, "k2", all[0].Key, "requeued batch must come back at the front")
}
