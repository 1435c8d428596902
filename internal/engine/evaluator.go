// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"time"

	"github.com/flagkit/go-client/internal/dto"
)

// Labels attached to an evaluation result, shown verbatim in impressions.
const (
	LabelKilled               = "killed"
	LabelDefaultRule          = "default rule"
	LabelNotInSplit           = "not in split"
	LabelDefinitionNotFound   = "definition not found"
	LabelException            = "exception"
	LabelUnsupportedMatcher   = "targeting rule type unsupported by sdk"
	LabelSDKDestroyed         = "sdk destroyed"

	ControlTreatment = "control"
)

// Result is what evaluating one flag against one key produces.
type Result struct {
	Treatment    string
	Label        string
	ChangeNumber int64
	Config       *string
	// Impression reports whether the caller must emit an impression for
	// this result (false only for the definition-not-found and
	// not-ready outcomes).
	Impression bool
}

// FlagSource is the read-only view into storage an Evaluator needs: flag
// lookup plus the segment-membership checks matchers need. It deliberately
// only covers Resolver's InSegment/InLargeSegment, not EvaluateDependency -
// that one is supplied by dependencyResolver, which wraps the Evaluator
// itself rather than the storage-backed Source, since resolving a
// dependency means invoking the evaluator recursively. storage.Snapshot
// implements this.
type FlagSource interface {
	InSegment(name, key string) bool
	InLargeSegment(name, key string) bool
	Flag(name string) (dto.Flag, bool)
	UnsupportedMatcher(name string) bool
	MarkUnsupportedMatcher(name string)
}

// Evaluator walks a flag's conditions against a key and attribute set. It
// holds no mutable state of its own; all state lives in the FlagSource it
// is handed per call.
type Evaluator struct {
	Source FlagSource
}

// Evaluate implements step 1-5 of the algorithm: absent flag, killed flag,
// traffic allocation, condition walk, default rule.
func (e Evaluator) Evaluate(key, bucketingKey, feature string, attrs map[string]interface{}) Result {
	return e.evaluateDepth(key, bucketingKey, feature, attrs, 0)
}

func (e Evaluator) evaluateDepth(key, bucketingKey, feature string, attrs map[string]interface{}, depth int) Result {
	flag, ok := e.Source.Flag(feature)
	if !ok {
		return Result{Treatment: ControlTreatment, Label: LabelDefinitionNotFound, ChangeNumber: -1}
	}

	if e.Source.UnsupportedMatcher(feature) {
		return Result{
			Treatment:    flag.DefaultTreatment,
			Label:        LabelUnsupportedMatcher,
			ChangeNumber: flag.ChangeNumber,
			Config:       configFor(flag, flag.DefaultTreatment),
			Impression:   true,
		}
	}

	if flag.Status == dto.StatusKilled {
		return Result{
			Treatment:    flag.DefaultTreatment,
			Label:        LabelKilled,
			ChangeNumber: flag.ChangeNumber,
			Config:       configFor(flag, flag.DefaultTreatment),
			Impression:   true,
		}
	}

	if flag.TrafficAllocation < 100 && flag.TrafficAllocation > 0 {
		taBucket := Bucket(bucketingKey, flag.TrafficAllocationSeed, dto.AlgoMurmur)
		if taBucket > flag.TrafficAllocation {
			return Result{
				Treatment:    flag.DefaultTreatment,
				Label:        LabelNotInSplit,
				ChangeNumber: flag.ChangeNumber,
				Config:       configFor(flag, flag.DefaultTreatment),
				Impression:   true,
			}
		}
	}

	ctx := MatchContext{
		Key:          key,
		BucketingKey: bucketingKey,
		Attributes:   attrs,
		Now:          time.Now(),
		Depth:        depth,
		Resolver:     dependencyResolver{e: e, depth: depth},
	}

	for _, cond := range flag.Conditions {
		matched := true
		unsupported := false
		for _, m := range cond.Matchers {
			ok, warn := Evaluate(m, ctx)
			if warn {
				unsupported = true
			}
			if !ok {
				matched = false
				break
			}
		}

		if unsupported {
			e.Source.MarkUnsupportedMatcher(feature)
			return Result{
				Treatment:    flag.DefaultTreatment,
				Label:        LabelUnsupportedMatcher,
				ChangeNumber: flag.ChangeNumber,
				Config:       configFor(flag, flag.DefaultTreatment),
				Impression:   true,
			}
		}

		if matched {
			bucket := Bucket(bucketingKey, flag.Seed, flag.Algo)
			treatment := Split(bucket, cond.Partitions)
			return Result{
				Treatment:    treatment,
				Label:        cond.Label,
				ChangeNumber: flag.ChangeNumber,
				Config:       configFor(flag, treatment),
				Impression:   true,
			}
		}
	}

	return Result{
		Treatment:    flag.DefaultTreatment,
		Label:        LabelDefaultRule,
		ChangeNumber: flag.ChangeNumber,
		Config:       configFor(flag, flag.DefaultTreatment),
		Impression:   true,
	}
}

// configFor looks up the opaque configuration payload for a treatment,
// returning nil (not a pointer to an empty string) when none is set.
func configFor(flag dto.Flag, treatment string) *string {
	v, ok := flag.Configurations[treatment]
	if !ok || v == "" {
		return nil
	}
	return &v
}

// dependencyResolver adapts Evaluator into the Resolver interface
// matchers need for IN_SPLIT_TREATMENT, tracking recursion depth and
// delegating segment lookups straight to the FlagSource.
type dependencyResolver struct {
	e     Evaluator
	depth int
}

func (d dependencyResolver) InSegment(name, key string) bool {
	return d.e.Source.InSegment(name, key)
}

func (d dependencyResolver) InLargeSegment(name, key string) bool {
	return d.e.Source.InLargeSegment(name, key)
}

func (d dependencyResolver) EvaluateDependency(ctx MatchContext, feature string) (string, bool) {
	if d.depth+1 >= maxDependencyDepth {
		return "", false
	}
	res := d.e.evaluateDepth(ctx.Key, ctx.BucketingKey, feature, ctx.Attributes, d.depth+1)
	if res.Label == LabelDefinitionNotFound {
		return "", false
	}
	return res.Treatment, true
}
