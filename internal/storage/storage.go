// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package storage holds the SDK's in-memory view of flags and segments. A
// single Storage instance is shared by the syncer (which mutates it as
// updates arrive) and every evaluation call (which only ever reads through
// a Snapshot). Readers never block on a writer for longer than a map copy.
package storage

import (
	"sync"

	"github.com/flagkit/go-client/internal/dto"
)

// Storage is the mutable, RW-locked store a syncer writes into. Reads go
// through Snapshot, which is handed a shallow, already-immutable view of the
// flags under the read lock; its segment lookups and unsupported-matcher
// marks still take the store's lock per call.
type Storage struct {
	mu sync.RWMutex

	flags    map[string]dto.Flag
	segments map[string]map[string]struct{}

	flagChangeNumber    int64
	segmentChangeNumber map[string]int64

	flagSets map[string]map[string]struct{} // set name -> flag names

	unsupported map[string]struct{} // flags flagged as using an unsupported matcher

	ready bool
}

// New returns an empty Storage. It is not ready until the first sync
// completes (see SetReady).
func New() *Storage {
	return &Storage{
		flags:                map[string]dto.Flag{},
		segments:             map[string]map[string]struct{}{},
		segmentChangeNumber:  map[string]int64{},
		flagSets:             map[string]map[string]struct{}{},
		unsupported:          map[string]struct{}{},
		flagChangeNumber:     -1,
	}
}

// FlagChangeNumber returns the last applied feature-flag change number, or
// -1 if nothing has synced yet.
func (s *Storage) FlagChangeNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flagChangeNumber
}

// SegmentChangeNumber returns the last applied change number for a named
// segment, or -1 if the segment is unknown.
func (s *Storage) SegmentChangeNumber(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cn, ok := s.segmentChangeNumber[name]
	if !ok {
		return -1
	}
	return cn
}

// SegmentNames lists every segment this store has ever been told about,
// needed by the poller to fan out /segmentChanges requests.
func (s *Storage) SegmentNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.segments))
	for n := range s.segments {
		names = append(names, n)
	}
	return names
}

// SetReady marks the store as having completed at least one full sync.
func (s *Storage) SetReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Ready reports whether the store has completed at least one sync cycle.
func (s *Storage) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// ApplyFlagChanges upserts/deletes feature flags from a delta and advances
// the flag change number. Deletion is signalled by a flag in ARCHIVED
// status, matching the sync protocol.
func (s *Storage) ApplyFlagChanges(delta []dto.Flag, till int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags := cloneFlags(s.flags)
	for _, f := range delta {
		if f.Status == dto.StatusArchived {
			delete(flags, f.Name)
			s.removeFromSets(f.Name)
			delete(s.unsupported, f.Name)
			continue
		}
		flags[f.Name] = f
		delete(s.unsupported, f.Name) // new definition gets a fresh evaluation
		s.indexSets(f)
		s.registerReferencedSegments(f)
	}
	s.flags = flags
	if till > s.flagChangeNumber {
		s.flagChangeNumber = till
	}
}

// cloneFlags shallow-copies the flag map itself, not each dto.Flag's nested
// slices/maps: a Flag value is never mutated in place once it lands in the
// map (KillFlag and ApplyFlagChanges both replace the whole entry), so the
// only aliasing that matters is the map header - copying that is enough to
// let a concurrent Snapshot keep reading the old version safely.
func cloneFlags(m map[string]dto.Flag) map[string]dto.Flag {
	out := make(map[string]dto.Flag, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// registerReferencedSegments ensures every IN_SEGMENT/IN_LARGE_SEGMENT name
// a flag's conditions mention has an entry in s.segments (even if empty),
// so the poller's segment fan-out and the readiness gate know it exists
// before its own /segmentChanges delta has ever arrived.
func (s *Storage) registerReferencedSegments(f dto.Flag) {
	for _, cond := range f.Conditions {
		for _, m := range cond.Matchers {
			if m.Type != dto.MatcherInSegment && m.Type != dto.MatcherInLargeSegment {
				continue
			}
			if _, ok := s.segments[m.SegmentName]; !ok {
				s.segments[m.SegmentName] = map[string]struct{}{}
				s.segmentChangeNumber[m.SegmentName] = -1
			}
		}
	}
}

// KillFlag applies an in-place SPLIT_KILL push without waiting for the next
// /splitChanges delta: marks the flag killed and swaps in the new default
// treatment, bumping its change number.
func (s *Storage) KillFlag(name, defaultTreatment string, changeNumber int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[name]
	if !ok {
		return
	}
	f.Status = dto.StatusKilled
	f.Killed = true
	f.DefaultTreatment = defaultTreatment
	f.ChangeNumber = changeNumber

	flags := cloneFlags(s.flags)
	flags[name] = f
	s.flags = flags
	if changeNumber > s.flagChangeNumber {
		s.flagChangeNumber = changeNumber
	}
}

// ApplySegmentChanges merges an added/removed delta into a named segment.
func (s *Storage) ApplySegmentChanges(name string, added, removed []string, till int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.segments[name]
	if !ok {
		set = map[string]struct{}{}
		s.segments[name] = set
	}
	for _, k := range added {
		set[k] = struct{}{}
	}
	for _, k := range removed {
		delete(set, k)
	}
	s.segmentChangeNumber[name] = till
}

func (s *Storage) indexSets(f dto.Flag) {
	s.removeFromSets(f.Name)
	for _, set := range f.Sets {
		idx, ok := s.flagSets[set]
		if !ok {
			idx = map[string]struct{}{}
			s.flagSets[set] = idx
		}
		idx[f.Name] = struct{}{}
	}
}

func (s *Storage) removeFromSets(name string) {
	for _, idx := range s.flagSets {
		delete(idx, name)
	}
}

// Snapshot takes a point-in-time read view suitable for an evaluation call
// to walk without holding the store's lock. It hands out the live flags
// map directly rather than deep-copying it: ApplyFlagChanges and KillFlag
// are copy-on-write (cloneFlags), so the map a Snapshot captured here is
// never mutated after the fact - only ever superseded by a new one - which
// makes a per-evaluation deep copy unnecessary.
func (s *Storage) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unsupported := make(map[string]struct{}, len(s.unsupported))
	for k := range s.unsupported {
		unsupported[k] = struct{}{}
	}

	return &Snapshot{
		store:       s,
		flags:       s.flags,
		unsupported: unsupported,
	}
}

// FlagNames lists every flag currently stored, used by Manager.SplitNames.
func (s *Storage) FlagNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.flags))
	for n := range s.flags {
		names = append(names, n)
	}
	return names
}

// FlagNamesInSet lists flags tagged with a given flag set.
func (s *Storage) FlagNamesInSet(set string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.flagSets[set]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(idx))
	for n := range idx {
		names = append(names, n)
	}
	return names
}
