// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/pkg/log"
)

// errUnparseableRegex is returned for a pattern already known to fail
// compilation, so repeated evaluations skip straight to "no match" without
// re-logging the same warning every time.
var errUnparseableRegex = errors.New("engine: unparseable regex matcher pattern")

// Resolver is the callback surface a matcher needs into the rest of the
// system: segment membership (owned by storage) and dependency-flag
// evaluation (owned by the Evaluator, which is what creates MatchContext
// in the first place - this indirection is what breaks the import cycle
// between "evaluating a condition" and "a condition that references
// another flag's evaluation").
type Resolver interface {
	InSegment(name, key string) bool
	InLargeSegment(name, key string) bool
	EvaluateDependency(ctx MatchContext, feature string) (treatment string, found bool)
}

// MatchContext carries everything a matcher needs to evaluate, plus
// recursion-depth tracking for the dependency matcher.
type MatchContext struct {
	Key          string
	BucketingKey string
	Attributes   map[string]interface{}
	Now          time.Time
	Resolver     Resolver
	Depth        int
}

// maxDependencyDepth bounds in-split-treatment recursion; beyond this the
// matcher degrades to false rather than risking a cycle.
const maxDependencyDepth = 50

var (
	regexCacheMu sync.RWMutex
)

func (c MatchContext) attr(name string) (interface{}, bool) {
	if name == "" {
		return c.Key, true
	}
	v, ok := c.Attributes[name]
	return v, ok
}

// Evaluate runs a single matcher and applies its Negate flag. Unknown
// matcher types return false with warnUnsupported=true so the evaluator
// can degrade the owning flag.
func Evaluate(m dto.Matcher, ctx MatchContext) (result bool, warnUnsupported bool) {
	result, warnUnsupported = evaluateRaw(m, ctx)
	if m.Negate {
		result = !result
	}
	return result, warnUnsupported
}

func evaluateRaw(m dto.Matcher, ctx MatchContext) (bool, bool) {
	switch m.Type {
	case dto.MatcherAllKeys:
		return true, false

	case dto.MatcherWhitelist:
		v, ok := ctx.attr(m.Attribute())
		s, isStr := v.(string)
		if !ok || !isStr {
			return false, false
		}
		for _, w := range m.Whitelist {
			if w == s {
				return true, false
			}
		}
		return false, false

	case dto.MatcherInSegment:
		return ctx.Resolver.InSegment(m.SegmentName, ctx.Key), false

	case dto.MatcherInLargeSegment:
		return ctx.Resolver.InLargeSegment(m.SegmentName, ctx.Key), false

	case dto.MatcherEqualTo:
		n, ok := attrNumber(ctx, m)
		if !ok {
			return false, false
		}
		return n == float64(m.NumberValue), false

	case dto.MatcherGreaterEqual:
		n, ok := attrNumber(ctx, m)
		if !ok {
			return false, false
		}
		return n >= float64(m.NumberValue), false

	case dto.MatcherLessEqual:
		n, ok := attrNumber(ctx, m)
		if !ok {
			return false, false
		}
		return n <= float64(m.NumberValue), false

	case dto.MatcherBetween:
		n, ok := attrNumber(ctx, m)
		if !ok {
			return false, false
		}
		return n >= float64(m.BetweenStart) && n <= float64(m.BetweenEnd), false

	case dto.MatcherEqualToBoolean:
		v, ok := ctx.attr(m.Attribute())
		b, isBool := v.(bool)
		if !ok || !isBool {
			return false, false
		}
		return b == m.BooleanValue, false

	case dto.MatcherStartsWith:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		return matchesAny(s, m.Strings, strings.HasPrefix), false

	case dto.MatcherEndsWith:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		return matchesAny(s, m.Strings, strings.HasSuffix), false

	case dto.MatcherContainsString:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		return matchesAny(s, m.Strings, strings.Contains), false

	case dto.MatcherMatchesRegex:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		re, err := compileRegex(m.Regex)
		if err != nil {
			return false, false
		}
		return re.MatchString(s), false

	case dto.MatcherContainsAnyOf:
		set, ok := attrStringSet(ctx, m)
		if !ok {
			return false, false
		}
		return setIntersects(set, m.Strings), false

	case dto.MatcherContainsAllOf:
		set, ok := attrStringSet(ctx, m)
		if !ok {
			return false, false
		}
		return setContainsAll(set, m.Strings), false

	case dto.MatcherEqualToSet:
		set, ok := attrStringSet(ctx, m)
		if !ok {
			return false, false
		}
		return setEquals(set, m.Strings), false

	case dto.MatcherPartOfSet:
		set, ok := attrStringSet(ctx, m)
		if !ok {
			return false, false
		}
		return setSubsetOf(set, m.Strings), false

	case dto.MatcherEqualToSemver:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		a, b, err := parseSemverPair(s, m.SemverValue)
		if err != nil {
			return false, false
		}
		return a.Equal(b), false

	case dto.MatcherGreaterEqSemver:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		a, b, err := parseSemverPair(s, m.SemverValue)
		if err != nil {
			return false, false
		}
		return a.Compare(b) >= 0, false

	case dto.MatcherLessThanSemver:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		a, b, err := parseSemverPair(s, m.SemverValue)
		if err != nil {
			return false, false
		}
		return a.Compare(b) < 0, false

	case dto.MatcherBetweenSemver:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return false, false
		}
		start, err := semver.NewVersion(m.SemverStart)
		if err != nil {
			return false, false
		}
		end, err := semver.NewVersion(m.SemverEnd)
		if err != nil {
			return false, false
		}
		return v.Compare(start) >= 0 && v.Compare(end) <= 0, false

	case dto.MatcherInSemverList:
		s, ok := attrString(ctx, m)
		if !ok {
			return false, false
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return false, false
		}
		for _, raw := range m.Semvers {
			other, err := semver.NewVersion(raw)
			if err == nil && v.Equal(other) {
				return true, false
			}
		}
		return false, false

	case dto.MatcherInSplitTreatment:
		if ctx.Depth >= maxDependencyDepth {
			return false, false
		}
		treatment, found := ctx.Resolver.EvaluateDependency(ctx, m.DependencyFlag)
		if !found {
			return false, false
		}
		for _, t := range m.DependencyTreat {
			if t == treatment {
				return true, false
			}
		}
		return false, false

	default:
		return false, true
	}
}

func parseSemverPair(a, b string) (*semver.Version, *semver.Version, error) {
	va, err := semver.NewVersion(a)
	if err != nil {
		return nil, nil, err
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return nil, nil, err
	}
	return va, vb, nil
}

// attrNumber coerces an attribute to a float64, truncating date-as-millis
// attributes to minute boundaries first when DataType == "DATETIME".
func attrNumber(ctx MatchContext, m dto.Matcher) (float64, bool) {
	v, ok := ctx.attr(m.Attribute())
	if !ok {
		return 0, false
	}

	n, isNum := toFloat(v)
	if !isNum {
		return 0, false
	}

	if m.DataType == "DATETIME" {
		const minuteMillis = 60 * 1000
		n = float64(int64(n/minuteMillis) * minuteMillis)
	}
	return n, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case time.Time:
		return float64(n.UnixMilli()), true
	default:
		return 0, false
	}
}

func attrString(ctx MatchContext, m dto.Matcher) (string, bool) {
	v, ok := ctx.attr(m.Attribute())
	if !ok {
		return "", false
	}
	s, isStr := v.(string)
	return s, isStr
}

func attrStringSet(ctx MatchContext, m dto.Matcher) ([]string, bool) {
	v, ok := ctx.attr(m.Attribute())
	if !ok {
		return nil, false
	}
	switch set := v.(type) {
	case []string:
		return set, true
	case []interface{}:
		out := make([]string, 0, len(set))
		for _, e := range set {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func matchesAny(s string, candidates []string, pred func(string, string) bool) bool {
	for _, c := range candidates {
		if pred(s, c) {
			return true
		}
	}
	return false
}

func setIntersects(have, want []string) bool {
	idx := toSet(want)
	for _, h := range have {
		if idx[h] {
			return true
		}
	}
	return false
}

func setContainsAll(have, want []string) bool {
	idx := toSet(have)
	for _, w := range want {
		if !idx[w] {
			return false
		}
	}
	return true
}

func setSubsetOf(have, want []string) bool {
	idx := toSet(want)
	for _, h := range have {
		if !idx[h] {
			return false
		}
	}
	return true
}

func setEquals(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]string{}, a...), append([]string{}, b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func toSet(s []string) map[string]bool {
	m := make(map[string]bool, len(s))
	for _, v := range s {
		m[v] = true
	}
	return m
}

var (
	regexCache      = map[string]*regexp.Regexp{}
	regexFailedOnce = map[string]bool{}
)

// compileRegex compiles pattern as a POSIX extended regular expression
// (leftmost-longest match, per §4.2) rather than Go's default RE2 syntax,
// and caches both successes and failures so a matcher evaluated on every
// request only pays the compile cost - and only logs a parse failure -
// once per distinct pattern.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.RLock()
	if re, ok := regexCache[pattern]; ok {
		regexCacheMu.RUnlock()
		return re, nil
	}
	failed := regexFailedOnce[pattern]
	regexCacheMu.RUnlock()
	if failed {
		return nil, errUnparseableRegex
	}

	re, err := regexp.CompilePOSIX(pattern)
	if err != nil {
		regexCacheMu.Lock()
		regexFailedOnce[pattern] = true
		regexCacheMu.Unlock()
		log.Warnf("engine: unparseable regex matcher pattern %q: %v", pattern, err)
		return nil, err
	}

	regexCacheMu.Lock()
	regexCache[pattern] = re
	regexCacheMu.Unlock()
	return re, nil
}
