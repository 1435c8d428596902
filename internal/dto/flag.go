// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dto holds the wire representation of flags and segments as the
// backend serves them over the splitChanges/segmentChanges endpoints and
// the SSE SPLIT_UPDATE payload. These structs are decoded straight from
// JSON; the engine package turns them into the types it evaluates against.
package dto

// Status is a feature flag's lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
	StatusKilled   Status = "KILLED"
)

// Algo selects the hashing algorithm used to compute a condition's bucket.
type Algo int

const (
	AlgoLegacy Algo = 1
	AlgoMurmur Algo = 2
)

// Flag is one feature-flag definition as received from the backend.
type Flag struct {
	Name                  string          `json:"name"`
	Status                Status          `json:"status"`
	Killed                bool            `json:"killed"`
	DefaultTreatment      string          `json:"defaultTreatment"`
	TrafficAllocation     int             `json:"trafficAllocation"`
	TrafficAllocationSeed int64           `json:"trafficAllocationSeed"`
	Algo                  Algo            `json:"algo"`
	Seed                  int64           `json:"seed"`
	ChangeNumber          int64           `json:"changeNumber"`
	Sets                  []string        `json:"sets"`
	Conditions            []Condition     `json:"conditions"`
	Configurations        map[string]string `json:"configurations"`
}

// Condition is evaluated in the order it appears in Flag.Conditions; the
// first one whose Matchers all succeed picks the treatment via Partitions.
type Condition struct {
	Label      string      `json:"label"`
	Combiner   string      `json:"combiner"` // only "AND" is defined
	Matchers   []Matcher   `json:"matchers"`
	Partitions []Partition `json:"partitions"`
}

// Partition is a (treatment, weight) pair; weights of all partitions in a
// condition must sum to 100.
type Partition struct {
	Treatment string `json:"treatment"`
	Size      int    `json:"size"`
}

// MatcherType enumerates every matcher variant the evaluator understands.
// A tag the evaluator does not recognize degrades the owning flag to
// "unsupported matcher" rather than erroring.
type MatcherType string

const (
	MatcherAllKeys          MatcherType = "ALL_KEYS"
	MatcherInSegment        MatcherType = "IN_SEGMENT"
	MatcherInLargeSegment   MatcherType = "IN_LARGE_SEGMENT"
	MatcherWhitelist        MatcherType = "WHITELIST"
	MatcherEqualTo          MatcherType = "EQUAL_TO"
	MatcherGreaterEqual     MatcherType = "GREATER_THAN_OR_EQUAL_TO"
	MatcherLessEqual        MatcherType = "LESS_THAN_OR_EQUAL_TO"
	MatcherBetween          MatcherType = "BETWEEN"
	MatcherBetweenSemver    MatcherType = "BETWEEN_SEMVER"
	MatcherInSemverList     MatcherType = "IN_LIST_SEMVER"
	MatcherEqualToSemver    MatcherType = "EQUAL_TO_SEMVER"
	MatcherGreaterEqSemver  MatcherType = "GREATER_THAN_OR_EQUAL_TO_SEMVER"
	MatcherLessThanSemver   MatcherType = "LESS_THAN_SEMVER"
	MatcherStartsWith       MatcherType = "STARTS_WITH"
	MatcherEndsWith         MatcherType = "ENDS_WITH"
	MatcherContainsAnyOf    MatcherType = "CONTAINS_ANY_OF_SET"
	MatcherContainsAllOf    MatcherType = "CONTAINS_ALL_OF_SET"
	MatcherEqualToSet       MatcherType = "EQUAL_TO_SET"
	MatcherPartOfSet        MatcherType = "PART_OF_SET"
	MatcherContainsString   MatcherType = "CONTAINS_STRING"
	MatcherMatchesRegex     MatcherType = "MATCHES_STRING"
	MatcherEqualToBoolean   MatcherType = "EQUAL_TO_BOOLEAN"
	MatcherInSplitTreatment MatcherType = "IN_SPLIT_TREATMENT"
)

// KeySelector tells the evaluator which input to read: the key itself
// (Attribute == "") or a named attribute.
type KeySelector struct {
	Attribute string `json:"attribute"`
}

// Matcher is a single predicate within a condition. Exactly one of the
// *Data fields is populated, selected by Type. Negate is applied after the
// matcher's own evaluation.
type Matcher struct {
	Type        MatcherType  `json:"type"`
	Negate      bool         `json:"negate"`
	KeySelector *KeySelector `json:"keySelector"`

	Whitelist       []string `json:"whitelist,omitempty"`
	Strings         []string `json:"strings,omitempty"`
	SegmentName     string   `json:"segmentName,omitempty"`
	NumberValue     int64    `json:"value,omitempty"`
	BetweenStart    int64    `json:"start,omitempty"`
	BetweenEnd      int64    `json:"end,omitempty"`
	DataType        string   `json:"dataType,omitempty"` // NUMBER | DATETIME
	SemverValue     string   `json:"semver,omitempty"`
	SemverStart     string   `json:"semverStart,omitempty"`
	SemverEnd       string   `json:"semverEnd,omitempty"`
	Semvers         []string `json:"semvers,omitempty"`
	Regex           string   `json:"regex,omitempty"`
	BooleanValue    bool     `json:"booleanValue,omitempty"`
	DependencyFlag  string   `json:"split,omitempty"`
	DependencyTreat []string `json:"treatments,omitempty"`
}

// Attribute reports the key a matcher reads, or "" for the matching key
// itself.
func (m Matcher) Attribute() string {
	if m.KeySelector == nil {
		return ""
	}
	return m.KeySelector.Attribute
}
