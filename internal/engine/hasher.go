// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine implements the deterministic rule-evaluation interpreter:
// hashing, matchers, partition splitting and the flag evaluator itself. It
// reads from a storage.Snapshot and never performs I/O - every function
// here is a pure function of its inputs, which is what keeps evaluation
// off any blocking path.
package engine

import (
	"github.com/spaolacci/murmur3"

	"github.com/flagkit/go-client/internal/dto"
)

// Bucket computes the 1..100 bucket a bucketing key falls into for a given
// hashing algorithm and seed. It is used both for a condition's own
// partition split and for the traffic-allocation check, which always uses
// murmur3 regardless of the flag's configured algorithm.
func Bucket(key string, seed int64, algo dto.Algo) int {
	h := Hash(key, seed, algo)
	if h < 0 {
		h = -h
	}
	return int(h%100) + 1
}

// Hash dispatches to the legacy or murmur3 hashing function. The result is
// a signed 32-bit value widened to int64 so callers can safely negate it
// without overflow (abs(math.MinInt32) doesn't fit back into int32).
func Hash(key string, seed int64, algo dto.Algo) int64 {
	switch algo {
	case dto.AlgoLegacy:
		return int64(legacyHash(key, int32(seed)))
	default:
		return int64(murmur3Hash(key, uint32(seed)))
	}
}

// murmur3Hash is murmur3_32 with the flag's seed, interpreted as a signed
// 32-bit integer the same way every other language SDK does.
func murmur3Hash(key string, seed uint32) int32 {
	return int32(murmur3.Sum32WithSeed([]byte(key), seed))
}

// legacyHash reproduces the pre-murmur3 hashing algorithm: a running
// Java-style `31*h + c` accumulator over the key's characters (with 32-bit
// signed wraparound), one character per step, then XORed with the seed at
// the end. Kept compatible with the older SDK generations still running on
// flags that predate the murmur3 rollout, and with every other language
// SDK's legacy implementation.
func legacyHash(key string, seed int32) int32 {
	var h int32
	for _, c := range key {
		h = 31*h + int32(c)
	}
	return h ^ seed
}
