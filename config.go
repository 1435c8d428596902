// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flagkit

import (
	"github.com/flagkit/go-client/internal/conf"
	"github.com/flagkit/go-client/internal/telemetry"
)

// Config is every tunable BuildFactory accepts. It is a plain alias of the
// internal conf package's type so callers never need to import an internal
// path just to construct one.
type Config = conf.Config

// DefaultConfig returns the configuration the external-interfaces section
// names as defaults: 30s flag polling, OPTIMIZED impressions, streaming on.
func DefaultConfig() Config {
	return conf.Defaults()
}

// LoadConfig loads a Config from a JSON file, applying schema validation
// and FLAGKIT_-prefixed environment overrides on top. An empty path
// returns Defaults() with only the environment overrides applied.
func LoadConfig(path string) (Config, error) {
	return conf.Load(path)
}

// ImpressionMode selects how much impression data Client.Treatment calls
// actually queue for delivery. See ImpressionsDebug/Optimized/None.
type ImpressionMode = telemetry.ImpressionMode

const (
	ImpressionsDebug     = telemetry.ImpressionsDebug
	ImpressionsOptimized = telemetry.ImpressionsOptimized
	ImpressionsNone      = telemetry.ImpressionsNone
)

// ImpressionListener is an optional host-supplied hook invoked for every
// emitted impression. A panicking listener is recovered and counted rather
// than allowed to affect evaluation.
type ImpressionListener = telemetry.ImpressionListener
