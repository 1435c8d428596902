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
)

func TestFetchSplitChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/splitChanges", r.URL.Path)
		assert.Equal(t, "since=5", r.URL.RawQuery)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(dto.SplitChanges{
			FeatureFlags: dto.FeatureFlagsPayload{
				Delta: []dto.Flag{{Name: "feature_a"}},
				Since: 5,
				Till:  6,
			},
		})
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, "api-key", time.Second)
	changes, err := f.FetchSplitChanges(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), changes.FeatureFlags.Till)
	require.Len(t, changes.FeatureFlags.Delta, 1)
	assert.Equal(t, "feature_a", changes.FeatureFlags.Delta[0].Name)
}

func TestFetchSplitChangesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, "api-key", time.Second)
	_, err := f.FetchSplitChanges(context.Background(), 0)
	assert.Error(t, err)
}

func TestFetchWithBackoffRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := FetchWithBackoff(context.Background(), time.Millisecond, 10*time.Millisecond, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return assertErr
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestFetchWithBackoffStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := FetchWithBackoff(ctx, time.Millisecond, 10*time.Millisecond, func(ctx context.Context) error {
		return assertErr
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchWithBackoffStopsOnFatalStatus(t *testing.T) {
	attempts := 0
	err := FetchWithBackoff(context.Background(), time.Millisecond, 10*time.Millisecond, func(ctx context.Context) error {
		attempts++
		return &StatusError{Endpoint: "splitChanges", StatusCode: http.StatusUnauthorized}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "a fatal 4xx must not be retried")
}

func TestStatusErrorRetryableClassification(t *testing.T) {
	retry := []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable}
	for _, code := range retry {
		e := &StatusError{StatusCode: code}
		assert.True(t, e.Retryable(), "status %d should be retryable", code)
	}

	fatal := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound}
	for _, code := range fatal {
		e := &StatusError{StatusCode: code}
		assert.False(t, e.Retryable(), "status %d should be fatal", code)
	}
}
