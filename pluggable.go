// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flagkit

import "github.com/flagkit/go-client/internal/dto"

// PluggableStorage is the interface an external, non-in-process storage
// backend (Redis, per §6) would need to satisfy to replace this SDK's
// default in-memory storage.Storage. It is specified here at the interface
// level only: the Redis-backed implementation is an external collaborator
// this repo does not build. When a PluggableStorage is wired in, the sync
// pollers are disabled entirely - an external synchronizer process is
// expected to own writing flag/segment deltas into the shared backend, and
// this SDK instance only ever reads from it.
type PluggableStorage interface {
	Flag(name string) (dto.Flag, bool)
	FlagNames() []string
	FlagNamesInSet(set string) []string

	InSegment(name, key string) bool
	InLargeSegment(name, key string) bool

	// UnsupportedMatcher/MarkUnsupportedMatcher mirror storage.Snapshot:
	// a Redis-backed implementation would key these off a per-flag hash
	// field rather than an in-process map, but the contract is the same.
	UnsupportedMatcher(name string) bool
	MarkUnsupportedMatcher(name string)

	// RecordImpression and RecordEvent replace the in-process queues:
	// a Redis adapter would HINCRBY a per-feature/treatment counter and
	// RPUSH the full impression payload, per the wire format in §6.
	RecordImpression(feature, key, treatment, label string, changeNumber int64)
	RecordEvent(key, trafficType, eventType string, value *float64, properties map[string]interface{})

	Ready() bool
}
