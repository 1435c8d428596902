// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lifecycle

import (
	"sync"

	"github.com/flagkit/go-client/pkg/log"
)

// keyRegistry tracks which API keys currently have a live factory instance,
// so a second BuildFactory call with the same key can warn instead of
// silently doubling the SDK's background work against the same account.
var keyRegistry = struct {
	mu     sync.Mutex
	active map[string]int
}{active: map[string]int{}}

// RegisterKey records a new factory instance for apiKey and reports whether
// this is a duplicate (a factory for this key already existed).
func RegisterKey(apiKey string) (duplicate bool) {
	keyRegistry.mu.Lock()
	defer keyRegistry.mu.Unlock()

	count := keyRegistry.active[apiKey]
	keyRegistry.active[apiKey] = count + 1
	if count > 0 {
		log.Warnf("flagkit: a factory for this API key already exists in this process; creating another one duplicates all background sync and telemetry traffic")
		return true
	}
	return false
}

// UnregisterKey releases one instance slot for apiKey, called from
// Factory.Destroy.
func UnregisterKey(apiKey string) {
	keyRegistry.mu.Lock()
	defer keyRegistry.mu.Unlock()

	if keyRegistry.active[apiKey] <= 1 {
		delete(keyRegistry.active, apiKey)
		return
	}
	keyRegistry.active[apiKey]--
}
