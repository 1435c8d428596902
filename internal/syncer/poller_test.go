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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/internal/storage"
)

func TestPollerStartIssuesImmediateFetchAndSetsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "splitChanges"):
			json.NewEncoder(w).Encode(dto.SplitChanges{
				FeatureFlags: dto.FeatureFlagsPayload{
					Delta: []dto.Flag{{Name: "feature_a", Status: dto.StatusActive}},
					Till:  1,
				},
			})
		case strings.Contains(r.URL.Path, "segmentChanges"):
			json.NewEncoder(w).Encode(dto.SegmentChanges{Till: 1})
		}
	}))
	defer srv.Close()

	store := storage.New()
	f := NewFetcher(srv.URL, "key", time.Second)
	p, err := NewPoller(f, store)
	require.NoError(t, err)
	defer p.Stop()

	err = p.Start(context.Background(), time.Hour, time.Hour)
	require.NoError(t, err)

	assert.True(t, store.Ready())
	assert.Equal(t, int64(1), store.FlagChangeNumber())
}
