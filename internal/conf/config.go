// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package conf defines the SDK's Config struct, its defaults, and the
// JSON-schema + environment-override loading the teacher's own config
// package uses (santhosh-tekuri/jsonschema for validation, godotenv for
// local environment overrides layered on top of whatever was loaded from
// file).
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/flagkit/go-client/internal/telemetry"
)

// Config is every tunable the public API exposes, with the defaults from
// the sync protocol baked in via Defaults().
type Config struct {
	ConnectionTimeout Duration `json:"connectionTimeout"`
	ReadTimeout       Duration `json:"readTimeout"`

	FeaturesRefreshRate    Duration `json:"featuresRefreshRate"`
	SegmentsRefreshRate    Duration `json:"segmentsRefreshRate"`
	ImpressionsRefreshRate Duration `json:"impressionsRefreshRate"`
	EventsPushRate         Duration `json:"eventsPushRate"`
	MetricsRefreshRate     Duration `json:"metricsRefreshRate"`
	RandomizeIntervals     bool     `json:"randomizeIntervals"`

	Ready Duration `json:"ready"`

	ImpressionsMode     telemetry.ImpressionMode `json:"impressionsMode"`
	ImpressionsQueueSize int                     `json:"impressionsQueueSize"`
	EventsQueueSize     int                      `json:"eventsQueueSize"`

	StreamingEnabled   bool     `json:"streamingEnabled"`
	IPAddressesEnabled bool     `json:"ipAddressesEnabled"`
	FlagSetsFilter     []string `json:"flagSetsFilter"`

	SDKAPIBaseURL       string `json:"sdkApiBaseUrl"`
	EventsAPIBaseURL    string `json:"eventsApiBaseUrl"`
	AuthAPIBaseURL      string `json:"authApiBaseUrl"`
	StreamingAPIBaseURL string `json:"streamingApiBaseUrl"`

	ImpressionListener telemetry.ImpressionListener `json:"-"`

	NATSBusAddress  string `json:"natsBusAddress"`
	DebugServerAddr string `json:"debugServerAddr"`
	GopsEnabled     bool   `json:"gopsEnabled"`

	// LocalhostFile overrides the default $HOME/.split path used in
	// localhost mode (apiKey == "localhost"). Accepts the flat-file
	// format or a .json/.yaml file of full flag definitions, selected by
	// extension.
	LocalhostFile string `json:"localhostFile"`
}

// Defaults returns the configuration the spec's external-interfaces
// section names as defaults (§6).
func Defaults() Config {
	return Config{
		ConnectionTimeout:      Duration(1500 * time.Millisecond),
		ReadTimeout:            Duration(1500 * time.Millisecond),
		FeaturesRefreshRate:    Duration(30 * time.Second),
		SegmentsRefreshRate:    Duration(60 * time.Second),
		ImpressionsRefreshRate: Duration(60 * time.Second),
		EventsPushRate:         Duration(60 * time.Second),
		MetricsRefreshRate:     Duration(time.Hour),
		RandomizeIntervals:     false,
		Ready:                  0,
		ImpressionsMode:        telemetry.ImpressionsOptimized,
		ImpressionsQueueSize:   5000,
		EventsQueueSize:        10000,
		StreamingEnabled:       true,
		IPAddressesEnabled:     true,
		SDKAPIBaseURL:          "https://sdk.split.io",
		EventsAPIBaseURL:       "https://events.split.io",
		AuthAPIBaseURL:         "https://auth.split.io",
		StreamingAPIBaseURL:    "https://streaming.split.io",
		GopsEnabled:            false,
	}
}

// Load starts from Defaults(), validates a JSON config file against
// configSchema and overlays it if path is non-empty, then applies any
// FLAGKIT_-prefixed environment overrides (loaded from a .env file via
// godotenv if present, then read from the process environment either way).
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("conf: reading config file: %w", err)
		}
		if err := Validate(raw); err != nil {
			return cfg, fmt.Errorf("conf: validating config file: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("conf: decoding config file: %w", err)
		}
	}

	_ = godotenv.Load() // optional; absence of a .env file is not an error

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("FLAGKIT_STREAMING_ENABLED"); ok {
		cfg.StreamingEnabled = v == "true" || v == "1"
	}
	if v, ok := os.LookupEnv("FLAGKIT_IMPRESSIONS_MODE"); ok {
		cfg.ImpressionsMode = telemetry.ImpressionMode(v)
	}
	if v, ok := os.LookupEnv("FLAGKIT_DEBUG_SERVER_ADDR"); ok {
		cfg.DebugServerAddr = v
	}
	if v, ok := os.LookupEnv("FLAGKIT_GOPS_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.GopsEnabled = b
		}
	}
	if v, ok := os.LookupEnv("FLAGKIT_NATS_BUS_ADDRESS"); ok {
		cfg.NATSBusAddress = v
	}
}
