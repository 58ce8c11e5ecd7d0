// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// Shard represents a genomic interval on one reference. [Start, End) is a
// half-open, 0-based interval. An iterator for a shard returns the records
// whose alignment span overlaps [Start, End), so a read that crosses a shard
// boundary is seen by both neighbouring shards; each shard is responsible
// only for the positions inside its own interval.
//
// Shards produced by SplitRange are ordered by position. ShardIdx is an index
// into that ordering: the first Shard has index 0, and subsequent shards
// increment the ShardIdx by one each.
type Shard struct {
	Ref   *sam.Reference
	Start int
	End   int

	ShardIdx int
}

// Len returns the number of positions covered by s.
func (s *Shard) Len() int {
	return s.End - s.Start
}

// RecordOverlapsShard returns true if the reference span of r, i.e.
// [r.Pos, r.End()), intersects s.
func (s *Shard) RecordOverlapsShard(r *sam.Record) bool {
	if r.Ref == nil || r.Ref.ID() != s.Ref.ID() {
		return false
	}
	return r.Pos < s.End && r.End() > s.Start
}

// String returns a debug string for s.
func (s *Shard) String() string {
	return fmt.Sprintf("%d:%s[%d]:%d-%d", s.ShardIdx, s.Ref.Name(), s.Ref.ID(), s.Start, s.End)
}

// SplitRange partitions [start, end) of ref into min(n, end-start)
// contiguous, non-overlapping shards ordered by position. Shard lengths
// differ by at most one; the leading shards take the extra bases. The same
// arguments always produce the same shards.
func SplitRange(ref *sam.Reference, start, end, n int) ([]Shard, error) {
	if ref == nil {
		return nil, errors.E(errors.Invalid, "bam.SplitRange: nil reference")
	}
	if start < 0 || start >= end || end > ref.Len() {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("bam.SplitRange: range [%d,%d) invalid for %s (length %d)", start, end, ref.Name(), ref.Len()))
	}
	if n < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bam.SplitRange: shard count %d must be positive", n))
	}
	length := end - start
	if n > length {
		n = length
	}
	base, extra := length/n, length%n
	shards := make([]Shard, 0, n)
	pos := start
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		shards = append(shards, Shard{
			Ref:      ref,
			Start:    pos,
			End:      pos + size,
			ShardIdx: i,
		})
		pos += size
	}
	ValidateShardList(shards, start, end)
	return shards, nil
}

// ValidateShardList validates that shardList tiles [start, end) without gaps
// or overlaps. Exposed only for testing.
func ValidateShardList(shardList []Shard, start, end int) {
	if len(shardList) == 0 {
		vlog.Panicf("Empty shard list for [%d,%d)", start, end)
	}
	for i, shard := range shardList {
		if shard.Start >= shard.End {
			vlog.Panicf("Shard start must precede end for ref %s: %d, %d", shard.Ref.Name(), shard.Start, shard.End)
		}
		if shard.ShardIdx != i {
			vlog.Panicf("Shard %v has index %d, expected %d", shard.String(), shard.ShardIdx, i)
		}
		if i == 0 {
			if shard.Start != start {
				vlog.Panicf("First shard of ref %s should start at %d, not %d", shard.Ref.Name(), start, shard.Start)
			}
		} else {
			if shard.Ref != shardList[i-1].Ref {
				vlog.Panicf("Shards %d and %d are on different references", i-1, i)
			}
			if shard.Start != shardList[i-1].End {
				vlog.Panicf("Shard gap for ref %s between %d and %d", shard.Ref.Name(), shardList[i-1].End, shard.Start)
			}
		}
	}
	if last := shardList[len(shardList)-1]; last.End != end {
		vlog.Panicf("Last shard of %s should end at %d, not %d", last.Ref.Name(), end, last.End)
	}
}
