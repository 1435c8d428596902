// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package debugsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/internal/storage"
	"github.com/flagkit/go-client/internal/telemetry"
)

func TestWriteSplitsHandler(t *testing.T) {
	store := storage.New()
	store.ApplyFlagChanges([]dto.Flag{
		{Name: "feature_a", Status: dto.StatusActive, ChangeNumber: 5, TrafficAllocation: 100},
	}, 5)

	rec := httptest.NewRecorder()
	writeSplits(rec, store)

	require.Equal(t, http.StatusOK, rec.Code)
	var views []splitView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "feature_a", views[0].Name)
	assert.Equal(t, int64(5), views[0].ChangeNumber)
}

func TestWriteHealthHandler(t *testing.T) {
	store := storage.New()
	store.SetReady()

	rec := httptest.NewRecorder()
	writeHealth(rec, store, nil, time.Now().Add(-time.Minute))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
}

func TestNewServerServesMetrics(t *testing.T) {
	store := storage.New()
	stats := telemetry.NewStats()
	srv := New("127.0.0.1:0", store, nil, stats, time.Now())
	require.NotNil(t, srv)

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
