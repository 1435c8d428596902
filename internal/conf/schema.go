// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package conf

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema mirrors the shape of Config, loosely - only fields worth
// rejecting early (wrong type, unknown impressions mode) are constrained;
// everything else is left open so new fields don't require a schema bump
// in lockstep.
var configSchema = `
{
  "type": "object",
  "properties": {
    "connectionTimeout": {},
    "readTimeout": {},
    "featuresRefreshRate": {},
    "segmentsRefreshRate": {},
    "impressionsRefreshRate": {},
    "eventsPushRate": {},
    "metricsRefreshRate": {},
    "randomizeIntervals": { "type": "boolean" },
    "ready": {},
    "impressionsMode": {
      "type": "string",
      "enum": ["DEBUG", "OPTIMIZED", "NONE"]
    },
    "impressionsQueueSize": { "type": "integer", "minimum": 1 },
    "eventsQueueSize": { "type": "integer", "minimum": 1 },
    "streamingEnabled": { "type": "boolean" },
    "ipAddressesEnabled": { "type": "boolean" },
    "flagSetsFilter": {
      "type": "array",
      "items": { "type": "string" }
    },
    "sdkApiBaseUrl": { "type": "string" },
    "eventsApiBaseUrl": { "type": "string" },
    "authApiBaseUrl": { "type": "string" },
    "streamingApiBaseUrl": { "type": "string" },
    "natsBusAddress": { "type": "string" },
    "debugServerAddr": { "type": "string" },
    "gopsEnabled": { "type": "boolean" },
    "localhostFile": { "type": "string" }
  }
}
`

// Validate checks a raw config document against configSchema.
func Validate(raw json.RawMessage) error {
	sch, err := jsonschema.CompileString("flagkit-config.json", configSchema)
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}
