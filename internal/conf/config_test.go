// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/go-client/internal/telemetry"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, Duration(1500*time.Millisecond), cfg.ConnectionTimeout)
	assert.Equal(t, Duration(30*time.Second), cfg.FeaturesRefreshRate)
	assert.Equal(t, telemetry.ImpressionsOptimized, cfg.ImpressionsMode)
	assert.True(t, cfg.StreamingEnabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"featuresRefreshRate": "10s",
		"impressionsMode": "DEBUG",
		"streamingEnabled": false
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Duration(10*time.Second), cfg.FeaturesRefreshRate)
	assert.Equal(t, telemetry.ImpressionsDebug, cfg.ImpressionsMode)
	assert.False(t, cfg.StreamingEnabled)
}

func TestLoadRejectsInvalidSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"impressionsMode": "NOT_A_MODE"}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrideWins(t *testing.T) {
	t.Setenv("FLAGKIT_STREAMING_ENABLED", "false")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.StreamingEnabled)
}

func TestDurationUnmarshalsFromString(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, Duration(90*time.Second), d)
}

func TestDurationUnmarshalsFromNumber(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, Duration(time.Second), d)
}
