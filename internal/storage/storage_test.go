// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/go-client/internal/dto"
)

func TestApplyFlagChangesUpsertAndArchive(t *testing.T) {
	s := New()
	s.ApplyFlagChanges([]dto.Flag{
		{Name: "feature_a", Status: dto.StatusActive, DefaultTreatment: "off", Sets: []string{"team_x"}},
	}, 10)

	snap := s.Snapshot()
	f, ok := snap.Flag("feature_a")
	require.True(t, ok)
	assert.Equal(t, "off", f.DefaultTreatment)
	assert.Equal(t, int64(10), s.FlagChangeNumber())
	assert.Contains(t, s.FlagNamesInSet("team_x"), "feature_a")

	s.ApplyFlagChanges([]dto.Flag{
		{Name: "feature_a", Status: dto.StatusArchived},
	}, 20)

	snap = s.Snapshot()
	_, ok = snap.Flag("feature_a")
	assert.False(t, ok)
	assert.Empty(t, s.FlagNamesInSet("team_x"))
}

func TestApplyFlagChangesChangeNumberMonotonic(t *testing.T) {
	s := New()
	s.ApplyFlagChanges([]dto.Flag{{Name: "a", Status: dto.StatusActive}}, 50)
	s.ApplyFlagChanges([]dto.Flag{{Name: "b", Status: dto.StatusActive}}, 10)
	assert.Equal(t, int64(50), s.FlagChangeNumber(), "change number must never move backwards")
}

func TestKillFlag(t *testing.T) {
	s := New()
	s.ApplyFlagChanges([]dto.Flag{
		{Name: "feature_a", Status: dto.StatusActive, DefaultTreatment: "on"},
	}, 1)

	s.KillFlag("feature_a", "off", 2)

	snap := s.Snapshot()
	f, ok := snap.Flag("feature_a")
	require.True(t, ok)
	assert.Equal(t, dto.StatusKilled, f.Status)
	assert.True(t, f.Killed)
	assert.Equal(t, "off", f.DefaultTreatment)
	assert.Equal(t, int64(2), f.ChangeNumber)
}

func TestSegmentChanges(t *testing.T) {
	s := New()
	s.ApplySegmentChanges("beta_users", []string{"alice", "bob"}, nil, 1)
	snap := s.Snapshot()
	assert.True(t, snap.InSegment("beta_users", "alice"))
	assert.False(t, snap.InSegment("beta_users", "carol"))

	s.ApplySegmentChanges("beta_users", nil, []string{"alice"}, 2)
	snap = s.Snapshot()
	assert.False(t, snap.InSegment("beta_users", "alice"))
	assert.Equal(t, int64(2), s.SegmentChangeNumber("beta_users"))
}

func TestMarkUnsupportedMatcherPersistsAcrossSnapshots(t *testing.T) {
	s := New()
	s.ApplyFlagChanges([]dto.Flag{{Name: "feature_a", Status: dto.StatusActive}}, 1)

	snap := s.Snapshot()
	assert.False(t, snap.UnsupportedMatcher("feature_a"))
	snap.MarkUnsupportedMatcher("feature_a")

	snap2 := s.Snapshot()
	assert.True(t, snap2.UnsupportedMatcher("feature_a"))
}

func TestApplyFlagChangesRegistersReferencedSegments(t *testing.T) {
	s := New()
	s.ApplyFlagChanges([]dto.Flag{
		{
			Name:   "feature_a",
			Status: dto.StatusActive,
			Conditions: []dto.Condition{
				{Matchers: []dto.Matcher{{Type: dto.MatcherInSegment, SegmentName: "beta_users"}}},
			},
		},
	}, 1)

	assert.Contains(t, s.SegmentNames(), "beta_users")
	assert.Equal(t, int64(-1), s.SegmentChangeNumber("beta_users"))
}

func TestSnapshotIsolatedFromConcurrentWrites(t *testing.T) {
	s := New()
	s.ApplyFlagChanges([]dto.Flag{
		{Name: "feature_a", Status: dto.StatusActive, Conditions: []dto.Condition{
			{Label: "default rule"},
		}},
	}, 1)

	snap := s.Snapshot()
	s.ApplyFlagChanges([]dto.Flag{
		{Name: "feature_a", Status: dto.StatusActive, Conditions: []dto.Condition{
			{Label: "changed"}, {Label: "changed2"},
		}},
	}, 2)

	f, _ := snap.Flag("feature_a")
	require.Len(t, f.Conditions, 1, "snapshot must not see a later write")
	assert.Equal(t, "default rule", f.Conditions[0].Label)
}
