// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.Storage) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dto.SplitChanges{})
	}))
	t.Cleanup(srv.Close)

	store := storage.New()
	f := NewFetcher(srv.URL, "key", time.Second)
	p, err := NewPoller(f, store)
	require.NoError(t, err)
	t.Cleanup(func() { p.Stop() })
	require.NoError(t, p.Start(context.Background(), time.Hour, time.Hour))

	bus := NewBus()
	return NewManager(p, bus, store, true, time.Minute), store
}

func TestManagerStartsIdleAndMovesToStreamingStarting(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, StateIdle, m.State())

	m.OnInitialSyncSuccess()
	assert.Equal(t, StateStreamingStarting, m.State())
}

func TestManagerPollingOnlyWhenStreamingDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dto.SplitChanges{})
	}))
	defer srv.Close()

	store := storage.New()
	f := NewFetcher(srv.URL, "key", time.Second)
	p, err := NewPoller(f, store)
	require.NoError(t, err)
	defer p.Stop()
	require.NoError(t, p.Start(context.Background(), time.Hour, time.Hour))

	m := NewManager(p, NewBus(), store, false, time.Minute)
	m.OnInitialSyncSuccess()
	assert.Equal(t, StatePolling, m.State())
}

func TestManagerStreamingReadyThenLost(t *testing.T) {
	m, _ := newTestManager(t)
	m.OnInitialSyncSuccess()
	m.OnStreamingReady(context.Background())
	assert.Equal(t, StateStreamingReady, m.State())

	m.OnStreamingLost(context.Background(), time.Hour)
	assert.Equal(t, StateFallbackPolling, m.State())
}

func TestManagerApplySplitUpdateAndKill(t *testing.T) {
	m, store := newTestManager(t)

	m.apply(context.Background(), dto.Notification{
		Type:         dto.NotificationSplitUpdate,
		ChangeNumber: 5,
		Definition:   &dto.Flag{Name: "feature_a", Status: dto.StatusActive, DefaultTreatment: "off"},
	}, time.Hour)

	snap := store.Snapshot()
	f, ok := snap.Flag("feature_a")
	require.True(t, ok)
	assert.Equal(t, "off", f.DefaultTreatment)

	m.apply(context.Background(), dto.Notification{
		Type:             dto.NotificationSplitKill,
		FeatureName:      "feature_a",
		DefaultTreatment: "on",
		ChangeNumber:     6,
	}, time.Hour)

	snap = store.Snapshot()
	f, _ = snap.Flag("feature_a")
	assert.Equal(t, dto.StatusKilled, f.Status)
	assert.Equal(t, "on", f.DefaultTreatment)
}

func TestManagerApplySplitUpdateGapTriggersCatchUpFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.RawQuery {
		case "since=-1":
			json.NewEncoder(w).Encode(dto.SplitChanges{
				FeatureFlags: dto.FeatureFlagsPayload{Till: 5},
			})
		case "since=5":
			json.NewEncoder(w).Encode(dto.SplitChanges{
				FeatureFlags: dto.FeatureFlagsPayload{
					Delta: []dto.Flag{{Name: "feature_x", Status: dto.StatusActive, DefaultTreatment: "catchup"}},
					Till:  10,
				},
			})
		default:
			json.NewEncoder(w).Encode(dto.SplitChanges{})
		}
	}))
	defer srv.Close()

	store := storage.New()
	f := NewFetcher(srv.URL, "key", time.Second)
	p, err := NewPoller(f, store)
	require.NoError(t, err)
	defer p.Stop()
	require.NoError(t, p.Start(context.Background(), time.Hour, time.Hour))
	require.Equal(t, int64(5), store.FlagChangeNumber())

	m := NewManager(p, NewBus(), store, true, time.Minute)

	// pcn (9) doesn't match storage's current cn (5): a gap exists, so the
	// pushed Definition must be discarded in favor of a catch-up fetch.
	m.apply(context.Background(), dto.Notification{
		Type:             dto.NotificationSplitUpdate,
		ChangeNumber:     10,
		PreviousChangeNo: 9,
		Definition:       &dto.Flag{Name: "feature_x", Status: dto.StatusActive, DefaultTreatment: "direct"},
	}, time.Hour)

	assert.Equal(t, int64(10), store.FlagChangeNumber())
	snap := store.Snapshot()
	flag, ok := snap.Flag("feature_x")
	require.True(t, ok)
	assert.Equal(t, "catchup", flag.DefaultTreatment, "gap must force a catch-up fetch instead of applying the pushed definition")
}

func TestManagerApplySplitUpdateNoGapAppliesDirectly(t *testing.T) {
	m, store := newTestManager(t)
	require.Equal(t, int64(0), store.FlagChangeNumber())

	m.apply(context.Background(), dto.Notification{
		Type:             dto.NotificationSplitUpdate,
		ChangeNumber:     1,
		PreviousChangeNo: 0,
		Definition:       &dto.Flag{Name: "feature_a", Status: dto.StatusActive, DefaultTreatment: "on"},
	}, time.Hour)

	snap := store.Snapshot()
	flag, ok := snap.Flag("feature_a")
	require.True(t, ok)
	assert.Equal(t, "on", flag.DefaultTreatment)
}

func TestManagerApplyOccupancyZeroTriggersFallback(t *testing.T) {
	m, _ := newTestManager(t)
	m.OnInitialSyncSuccess()
	m.OnStreamingReady(context.Background())

	m.apply(context.Background(), dto.Notification{Type: dto.NotificationOccupancy, Publishers: 0}, time.Hour)
	assert.Equal(t, StateFallbackPolling, m.State())
}
