// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import "github.com/flagkit/go-client/internal/dto"

// Split returns the treatment partitions assigns bucket b to: the smallest
// prefix of partitions whose cumulative weight is >= b. Partition order is
// whatever order the flag definition stored them in.
func Split(bucket int, partitions []dto.Partition) string {
	acc := 0
	for _, p := range partitions {
		acc += p.Size
		if acc >= bucket {
			return p.Treatment
		}
	}
	// Weights are invariant to sum to 100 and bucket is in [1,100], so this
	// is only reached if the definition is malformed.
	if len(partitions) > 0 {
		return partitions[len(partitions)-1].Treatment
	}
	return ""
}
