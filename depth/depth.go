// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package depth

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/bamdepth/encoding/bamprovider"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"v.io/x/lib/vlog"
)

// Result is a depth series. Positions are 1-based and ascending; Depths[i]
// is the depth at Positions[i].
type Result struct {
	Positions []int
	Depths    []uint32
}

// Len returns the number of positions in r.
func (r Result) Len() int { return len(r.Positions) }

// GetDepths computes the depth of every Opts.Step'th position of
// chrom:[start, end] (1-based, inclusive) in the indexed BAM file at bamPath.
// bamPath may be any path supported by github.com/grailbio/base/file.
func GetDepths(ctx context.Context, bamPath, chrom string, start, end int, opts Opts) (res Result, err error) {
	if err = opts.validate(start, end); err != nil {
		return
	}
	p := bamprovider.NewProvider(bamPath, bamprovider.ProviderOpts{Index: opts.BamIndexPath})
	defer func() {
		if e := p.Close(); e != nil && err == nil {
			err = e
		}
	}()
	res, err = Compute(ctx, p, chrom, start, end, opts)
	return
}

// Compute is GetDepths over an existing provider. The caller still owns p.
//
// The interval is split into at most opts.Parallelism shards, which are
// processed by at most opts.Parallelism concurrent workers. The first
// failing shard aborts the computation; no partial result is returned.
func Compute(ctx context.Context, p bamprovider.Provider, chrom string, start, end int, opts Opts) (Result, error) {
	if err := opts.validate(start, end); err != nil {
		return Result{}, err
	}
	header, err := p.GetHeader()
	if err != nil {
		return Result{}, err
	}
	ref := bamprovider.RefByName(header, chrom)
	if ref == nil {
		return Result{}, errors.E(errors.NotExist, fmt.Sprintf("depth: reference %q not in BAM header", chrom))
	}
	if end > ref.Len() {
		return Result{}, invalidf("depth: end %d is past the end of %s (length %d)", end, chrom, ref.Len())
	}

	shards, err := p.GenerateShards(bamprovider.GenerateShardsOpts{
		RefName:   chrom,
		Start:     start - 1,
		End:       end,
		NumShards: opts.Parallelism,
	})
	if err != nil {
		return Result{}, err
	}

	startTime := time.Now()
	f := newFilter(opts)
	buffers := make([][]uint32, len(shards))
	err = traverse.Limit(opts.Parallelism).Each(len(shards), func(i int) error {
		counts, err := accumulateShard(ctx, p, shards[i], f, opts.MaxDepth)
		if err != nil {
			return err
		}
		buffers[i] = counts
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	log.Debug.Printf("depth: %s:%d-%d: %d shards done in %v", chrom, start, end, len(shards), time.Since(startTime))

	n := end - start + 1
	full := Result{
		Positions: make([]int, n),
		Depths:    make([]uint32, 0, n),
	}
	for i := range full.Positions {
		full.Positions[i] = start + i
	}
	for _, counts := range buffers {
		full.Depths = append(full.Depths, counts...)
	}
	if len(full.Depths) != n {
		// SplitRange covers the interval exactly.
		vlog.Panicf("depth: merged %d depths for %d positions", len(full.Depths), n)
	}
	return Sample(full, opts.Step)
}
