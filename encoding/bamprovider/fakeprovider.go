package bamprovider

import (
	gbam "github.com/grailbio/bamdepth/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// fakeProvider is only for unittests. It yields the given records.
type fakeProvider struct {
	header *sam.Header
	recs   []*sam.Record

	// If failShard >= 0, iterators for the shard with that index yield
	// failErr after their records.
	failShard int
	failErr   error
}

type fakeIterator struct {
	recs  []*sam.Record
	rec   *sam.Record
	shard gbam.Shard
	err   error
}

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader() call, and recs by GenerateShards+NewIterator calls. recs must
// be sorted by coordinate.
func NewFakeProvider(header *sam.Header, recs []*sam.Record) Provider {
	return &fakeProvider{header: header, recs: recs, failShard: -1}
}

// NewFailingFakeProvider is like NewFakeProvider, but the iterator for the
// shard whose ShardIdx is failShard reports err after yielding its records.
func NewFailingFakeProvider(header *sam.Header, recs []*sam.Record, failShard int, err error) Provider {
	return &fakeProvider{header: header, recs: recs, failShard: failShard, failErr: err}
}

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *fakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Close implements the Provider interface.
func (b *fakeProvider) Close() error {
	return nil
}

// GenerateShards implements the Provider interface.
func (b *fakeProvider) GenerateShards(opts GenerateShardsOpts) ([]gbam.Shard, error) {
	return generateShards(b.header, opts)
}

// NewIterator implements the Provider interface.
func (b *fakeProvider) NewIterator(shard gbam.Shard) Iterator {
	iter := &fakeIterator{recs: b.recs, shard: shard}
	if b.failShard >= 0 && shard.ShardIdx == b.failShard {
		iter.err = b.failErr
	}
	return iter
}

// Err implements the Iterator interface.
func (i *fakeIterator) Err() error {
	if len(i.recs) > 0 {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *fakeIterator) Close() error {
	return i.Err()
}

func (i *fakeIterator) Scan() bool {
	for {
		if len(i.recs) == 0 {
			return false
		}
		i.rec = i.recs[0]
		i.recs = i.recs[1:]
		if i.shard.RecordOverlapsShard(i.rec) {
			return true
		}
	}
}

func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	copy := sam.GetFromFreePool()
	*copy = *i.rec
	return copy
}
