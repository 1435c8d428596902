// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"github.com/flagkit/go-client/internal/dto"
)

// Snapshot is a read-only view into a Storage taken at one instant. It
// implements engine.FlagSource so an Evaluator never has to know storage
// exists. Segment membership reads and new unsupported-matcher marks still
// go through to the live store: segment sets can be large, so copying them
// on every evaluation would be wasteful, and the mark is itself a write.
// Reading the mark uses the copy taken when the Snapshot was created.
type Snapshot struct {
	store       *Storage
	flags       map[string]dto.Flag
	unsupported map[string]struct{}
}

// Flag looks up a flag definition by name.
func (s *Snapshot) Flag(name string) (dto.Flag, bool) {
	f, ok := s.flags[name]
	return f, ok
}

// UnsupportedMatcher reports whether this flag was previously marked as
// using a matcher type this SDK version doesn't understand.
func (s *Snapshot) UnsupportedMatcher(name string) bool {
	_, ok := s.unsupported[name]
	return ok
}

// MarkUnsupportedMatcher records that a flag's conditions reference a
// matcher type this SDK can't evaluate, so future evaluations short-circuit
// straight to the default treatment instead of re-walking every condition.
func (s *Snapshot) MarkUnsupportedMatcher(name string) {
	s.store.mu.Lock()
	s.store.unsupported[name] = struct{}{}
	s.store.mu.Unlock()
}

// InSegment reports standard segment membership.
func (s *Snapshot) InSegment(name, key string) bool {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	set, ok := s.store.segments[name]
	if !ok {
		return false
	}
	_, in := set[key]
	return in
}

// InLargeSegment reports large-segment membership. Large segments are
// synced and stored identically to regular segments in this SDK - the
// distinction upstream is purely a server-side delivery optimization
// (bloom-filter backed sync instead of an added/removed delta), which this
// client does not need to care about once the set is in memory.
func (s *Snapshot) InLargeSegment(name, key string) bool {
	return s.InSegment(name, key)
}
