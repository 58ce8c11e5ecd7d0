package depth

import (
	"context"
	"fmt"
	"math"

	gbam "github.com/grailbio/bamdepth/encoding/bam"
	"github.com/grailbio/bamdepth/encoding/bamprovider"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// ctxCheckInterval is the number of records scanned between context checks.
const ctxCheckInterval = 4096

// shardBuffer counts depth for positions [start, start+len(counts)), 0-based.
// It is owned by a single worker.
type shardBuffer struct {
	start    int
	counts   []uint32
	maxDepth uint32
}

func newShardBuffer(start, n, maxDepth int) *shardBuffer {
	b := &shardBuffer{start: start, counts: make([]uint32, n)}
	if uint64(maxDepth) > math.MaxUint32 {
		b.maxDepth = math.MaxUint32
	} else {
		b.maxDepth = uint32(maxDepth)
	}
	return b
}

// add counts the bases of r that are aligned to a position in the buffer and
// pass f. A slot stops growing once it reaches maxDepth. r must already have
// passed f.admitRecord.
func (b *shardBuffer) add(r *sam.Record, f filter) error {
	_, queryLen := r.Cigar.Lengths()
	qual := r.Qual
	if len(qual) != 0 && len(qual) != queryLen {
		return errors.E(errors.Integrity,
			fmt.Sprintf("depth: record %s: CIGAR %v consumes %d bases, but it has %d qualities", r.Name, r.Cigar, queryLen, len(qual)))
	}
	end := b.start + len(b.counts)
	refPos, queryPos := r.Pos, 0
	for _, op := range r.Cigar {
		if refPos >= end {
			break
		}
		n := op.Len()
		consumes := op.Type().Consumes()
		// Only M, = and X align a read base to a reference base.
		if consumes.Query == 1 && consumes.Reference == 1 {
			lo, hi := 0, n
			if refPos < b.start {
				lo = b.start - refPos
			}
			if refPos+n > end {
				hi = end - refPos
			}
			for k := lo; k < hi; k++ {
				q := byte(missingQual)
				if len(qual) > 0 {
					q = qual[queryPos+k]
				}
				if !f.admitBase(q) {
					continue
				}
				if slot := &b.counts[refPos+k-b.start]; *slot < b.maxDepth {
					*slot++
				}
			}
		}
		refPos += n * consumes.Reference
		queryPos += n * consumes.Query
	}
	return nil
}

// scan adds every admitted record produced by iter.
func (b *shardBuffer) scan(ctx context.Context, iter bamprovider.Iterator, f filter) error {
	for n := 1; iter.Scan(); n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec := iter.Record()
		if !f.admitRecord(rec) {
			continue
		}
		if err := b.add(rec, f); err != nil {
			return err
		}
	}
	return nil
}

// accumulateShard returns the capped depth of every position in shard.
func accumulateShard(ctx context.Context, p bamprovider.Provider, shard gbam.Shard, f filter, maxDepth int) (counts []uint32, err error) {
	b := newShardBuffer(shard.Start, shard.Len(), maxDepth)
	iter := p.NewIterator(shard)
	err = b.scan(ctx, iter, f)
	if e := iter.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, err
	}
	return b.counts, nil
}
