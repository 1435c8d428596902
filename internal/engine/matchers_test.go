// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flagkit/go-client/internal/dto"
)

type fakeResolver struct {
	segments map[string]map[string]bool
	depTreat string
	depFound bool
}

func (f fakeResolver) InSegment(name, key string) bool {
	return f.segments[name][key]
}

func (f fakeResolver) InLargeSegment(name, key string) bool {
	return f.InSegment(name, key)
}

func (f fakeResolver) EvaluateDependency(ctx MatchContext, feature string) (string, bool) {
	return f.depTreat, f.depFound
}

func ctxWithAttrs(attrs map[string]interface{}) MatchContext {
	return MatchContext{
		Key:        "key-1",
		Attributes: attrs,
		Now:        time.Now(),
		Resolver:   fakeResolver{},
	}
}

func TestEvaluateAllKeys(t *testing.T) {
	ok, warn := Evaluate(dto.Matcher{Type: dto.MatcherAllKeys}, ctxWithAttrs(nil))
	assert.True(t, ok)
	assert.False(t, warn)
}

func TestEvaluateWhitelist(t *testing.T) {
	m := dto.Matcher{Type: dto.MatcherWhitelist, Whitelist: []string{"a", "b"}}
	ok, _ := Evaluate(m, ctxWithAttrs(nil))
	assert.False(t, ok, "default attribute is the key, which is not in the whitelist")

	ctx := ctxWithAttrs(nil)
	ctx.Key = "a"
	ok, _ = Evaluate(m, ctx)
	assert.True(t, ok)
}

func TestEvaluateNegate(t *testing.T) {
	m := dto.Matcher{Type: dto.MatcherAllKeys, Negate: true}
	ok, _ := Evaluate(m, ctxWithAttrs(nil))
	assert.False(t, ok)
}

func TestEvaluateNumberComparisons(t *testing.T) {
	attr := &dto.KeySelector{Attribute: "age"}
	between := dto.Matcher{Type: dto.MatcherBetween, KeySelector: attr, BetweenStart: 18, BetweenEnd: 65}
	ok, _ := Evaluate(between, ctxWithAttrs(map[string]interface{}{"age": 30}))
	assert.True(t, ok)

	ok, _ = Evaluate(between, ctxWithAttrs(map[string]interface{}{"age": 90}))
	assert.False(t, ok)

	ge := dto.Matcher{Type: dto.MatcherGreaterEqual, KeySelector: attr, NumberValue: 18}
	ok, _ = Evaluate(ge, ctxWithAttrs(map[string]interface{}{"age": int64(18)}))
	assert.True(t, ok)
}

func TestEvaluateDatetimeTruncatesToMinute(t *testing.T) {
	attr := &dto.KeySelector{Attribute: "ts"}
	m := dto.Matcher{Type: dto.MatcherEqualTo, KeySelector: attr, DataType: "DATETIME", NumberValue: 60000}
	ok, _ := Evaluate(m, ctxWithAttrs(map[string]interface{}{"ts": int64(60999)}))
	assert.True(t, ok, "60999ms truncates down to the 60000ms minute boundary")
}

func TestEvaluateStringMatchers(t *testing.T) {
	attr := &dto.KeySelector{Attribute: "email"}
	sw := dto.Matcher{Type: dto.MatcherStartsWith, KeySelector: attr, Strings: []string{"admin-"}}
	ok, _ := Evaluate(sw, ctxWithAttrs(map[string]interface{}{"email": "admin-bob@example.com"}))
	assert.True(t, ok)

	re := dto.Matcher{Type: dto.MatcherMatchesRegex, KeySelector: attr, Regex: `^[a-z]+@example\.com$`}
	ok, _ = Evaluate(re, ctxWithAttrs(map[string]interface{}{"email": "bob@example.com"}))
	assert.True(t, ok)

	reInvalid := dto.Matcher{Type: dto.MatcherMatchesRegex, KeySelector: attr, Regex: `(unterminated`}
	ok, _ = Evaluate(reInvalid, ctxWithAttrs(map[string]interface{}{"email": "bob@example.com"}))
	assert.False(t, ok, "unparseable regex degrades to false rather than panicking")
}

func TestEvaluateSetMatchers(t *testing.T) {
	attr := &dto.KeySelector{Attribute: "roles"}
	m := dto.Matcher{Type: dto.MatcherContainsAnyOf, KeySelector: attr, Strings: []string{"admin", "ops"}}
	ok, _ := Evaluate(m, ctxWithAttrs(map[string]interface{}{"roles": []string{"viewer", "ops"}}))
	assert.True(t, ok)

	eq := dto.Matcher{Type: dto.MatcherEqualToSet, KeySelector: attr, Strings: []string{"ops", "admin"}}
	ok, _ = Evaluate(eq, ctxWithAttrs(map[string]interface{}{"roles": []string{"admin", "ops"}}))
	assert.True(t, ok, "set equality ignores order")
}

func TestEvaluateSemverMatchers(t *testing.T) {
	attr := &dto.KeySelector{Attribute: "version"}
	m := dto.Matcher{Type: dto.MatcherGreaterEqSemver, KeySelector: attr, SemverValue: "1.2.0"}
	ok, _ := Evaluate(m, ctxWithAttrs(map[string]interface{}{"version": "1.5.0"}))
	assert.True(t, ok)

	ok, _ = Evaluate(m, ctxWithAttrs(map[string]interface{}{"version": "1.1.0"}))
	assert.False(t, ok)

	between := dto.Matcher{Type: dto.MatcherBetweenSemver, KeySelector: attr, SemverStart: "1.0.0", SemverEnd: "2.0.0"}
	ok, _ = Evaluate(between, ctxWithAttrs(map[string]interface{}{"version": "1.9.9"}))
	assert.True(t, ok)
}

func TestEvaluateSegmentMatchers(t *testing.T) {
	ctx := ctxWithAttrs(nil)
	ctx.Key = "alice"
	ctx.Resolver = fakeResolver{segments: map[string]map[string]bool{"beta": {"alice": true}}}
	m := dto.Matcher{Type: dto.MatcherInSegment, SegmentName: "beta"}
	ok, _ := Evaluate(m, ctx)
	assert.True(t, ok)
}

func TestEvaluateDependencyMatcher(t *testing.T) {
	ctx := ctxWithAttrs(nil)
	ctx.Resolver = fakeResolver{depTreat: "on", depFound: true}
	m := dto.Matcher{Type: dto.MatcherInSplitTreatment, DependencyFlag: "parent_flag", DependencyTreat: []string{"on"}}
	ok, _ := Evaluate(m, ctx)
	assert.True(t, ok)

	ctx.Resolver = fakeResolver{depTreat: "off", depFound: true}
	ok, _ = Evaluate(m, ctx)
	assert.False(t, ok)
}

func TestEvaluateDependencyMatcherAtMaxDepth(t *testing.T) {
	ctx := ctxWithAttrs(nil)
	ctx.Depth = maxDependencyDepth
	ctx.Resolver = fakeResolver{depTreat: "on", depFound: true}
	m := dto.Matcher{Type: dto.MatcherInSplitTreatment, DependencyFlag: "parent_flag", DependencyTreat: []string{"on"}}
	ok, _ := Evaluate(m, ctx)
	assert.False(t, ok, "recursion depth cap must stop evaluation before delegating")
}

func TestEvaluateUnknownMatcherIsUnsupported(t *testing.T) {
	ok, warn := Evaluate(dto.Matcher{Type: "SOME_FUTURE_MATCHER"}, ctxWithAttrs(nil))
	assert.False(t, ok)
	assert.True(t, warn)
}
