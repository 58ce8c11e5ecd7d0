package bamprovider

import (
	"fmt"
	"io"
	"sync"

	gbam "github.com/grailbio/bamdepth/encoding/bam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// BAMProvider implements Provider for BAM files.  Both BAM and the index
// filenames are allowed to be S3 URLs, in which case the data will be read from
// S3. Otherwise the data will be read from the local filesystem.
//
// The header and the index are loaded once, on first use, and shared by all
// iterators. Each iterator owns its own file handle and BGZF cursor.
type BAMProvider struct {
	// Path of the *.bam file. Must be nonempty.
	Path string
	// Index is the pathname of *.bam.bai file. If "", Path + ".bai"
	Index string
	err   errors.Once

	mu        sync.Mutex
	nActive   int
	freeIters []*bamIterator
	header    *sam.Header
	index     *gbam.Index
}

type bamIterator struct {
	provider *BAMProvider
	in       file.File
	reader   *gbam.Reader
	shard    gbam.Shard

	active bool
	err    error
	next   *sam.Record
}

func (b *BAMProvider) indexPath() string {
	index := b.Index
	if index == "" {
		index = b.Path + ".bai"
	}
	return index
}

// load reads the header and the index. REQUIRES: b.mu is held.
func (b *BAMProvider) load() error {
	if b.header != nil {
		return nil
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		return err
	}
	defer in.Close(ctx) // nolint: errcheck
	reader, err := gbam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return err
	}
	header := reader.Header()
	if err := reader.Close(); err != nil {
		return errors.E(errors.Integrity, fmt.Sprintf("bamprovider: closing %s", b.Path), err)
	}

	indexIn, err := file.Open(ctx, b.indexPath())
	if err != nil {
		return errors.E(errors.Precondition, fmt.Sprintf("bamprovider: index %s for %s", b.indexPath(), b.Path), err)
	}
	defer indexIn.Close(ctx) // nolint: errcheck
	index, err := gbam.ReadIndex(indexIn.Reader(ctx))
	if err != nil {
		return err
	}
	// Some indexers omit trailing references without reads.
	if got, want := len(index.Refs), len(header.Refs()); got > want {
		return errors.E(errors.Precondition,
			fmt.Sprintf("bamprovider: index %s has %d references, but %s has %d", b.indexPath(), got, b.Path, want))
	}
	log.Debug.Printf("bamprovider: loaded %s (%d refs) and index %s", b.Path, len(header.Refs()), b.indexPath())
	b.header = header
	b.index = index
	return nil
}

// GetHeader implements the Provider interface.
func (b *BAMProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.load(); err != nil {
		b.err.Set(err)
		return nil, err
	}
	return b.header, nil
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	if b.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", b.nActive, b)
	}
	for _, iter := range b.freeIters {
		iter.internalClose()
	}
	b.freeIters = nil
	return b.err.Err()
}

func (b *BAMProvider) freeIterator(i *bamIterator) {
	if !i.active {
		vlog.Fatal(i)
	}
	i.active = false
	if i.Err() != nil || i.reader == nil {
		// The iter may be invalid. Don't reuse it.
		i.internalClose() // Will set b.err
		i = nil
	}
	b.mu.Lock()
	if i != nil {
		b.freeIters = append(b.freeIters, i)
	}
	b.nActive--
	if b.nActive < 0 {
		vlog.Fatalf("Negative active count for %+v", b)
	}
	b.mu.Unlock()
}

// Return an unused iterator. If b.freeIters is nonempty, this function returns
// one from freeIters. Else, it opens the BAM file, creates a BAM reader and
// returns an iterator containing them. On error, returns an iterator with
// non-nil err field.
func (b *BAMProvider) allocateIterator() *bamIterator {
	b.mu.Lock()
	if err := b.load(); err != nil {
		b.nActive++
		b.mu.Unlock()
		return &bamIterator{provider: b, active: true, err: err}
	}
	b.nActive++
	if len(b.freeIters) > 0 {
		iter := b.freeIters[len(b.freeIters)-1]
		iter.active = true
		iter.err = nil
		iter.next = nil
		b.freeIters = b.freeIters[:len(b.freeIters)-1]
		b.mu.Unlock()
		return iter
	}
	b.mu.Unlock()

	iter := bamIterator{
		provider: b,
		active:   true,
	}
	ctx := vcontext.Background()
	if iter.in, iter.err = file.Open(ctx, b.Path); iter.err != nil {
		return &iter
	}
	iter.reader, iter.err = gbam.NewReader(iter.in.Reader(ctx), 1)
	return &iter
}

// GenerateShards implements the Provider interface.
func (b *BAMProvider) GenerateShards(opts GenerateShardsOpts) ([]gbam.Shard, error) {
	header, err := b.GetHeader()
	if err != nil {
		return nil, err
	}
	return generateShards(header, opts)
}

// NewIterator implements the Provider interface.
func (b *BAMProvider) NewIterator(shard gbam.Shard) Iterator {
	iter := b.allocateIterator()
	if iter.err != nil {
		return iter
	}
	if shard.Ref == nil {
		iter.err = errors.E(errors.Invalid, "bamprovider: shard has no reference")
		return iter
	}
	iter.reset(shard)
	return iter
}

// Reset the iterator to read records overlapping shard.
func (i *bamIterator) reset(shard gbam.Shard) {
	i.shard = shard
	if shard.Start >= shard.End {
		i.err = errors.E(errors.Invalid, fmt.Sprintf("bamprovider: empty shard %v", shard.String()))
		return
	}
	// The index is immutable once loaded, so it is read without b.mu.
	index := i.provider.index
	if shard.Ref.ID() >= len(index.Refs) {
		i.err = io.EOF
		return
	}
	chunks, err := index.Chunks(shard.Ref.ID(), shard.Start, shard.End)
	if err != nil {
		i.err = err
		return
	}
	if len(chunks) == 0 {
		// No record overlaps the shard.
		i.err = io.EOF
		return
	}
	if err := i.reader.Seek(chunks[0].Begin); err != nil {
		i.err = errors.E(errors.Integrity,
			fmt.Sprintf("bamprovider: seeking %s to %d:%d", i.provider.Path, chunks[0].Begin.File, chunks[0].Begin.Block), err)
	}
}

// Err implements the Iterator interface.
func (i *bamIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *bamIterator) Close() error {
	err := i.Err()
	i.provider.freeIterator(i)
	return err
}

// Scan implements the Iterator interface. Records come back in file order;
// the scan stops at the first record on a later reference or at or past
// shard.End.
func (i *bamIterator) Scan() bool {
	if !i.active {
		vlog.Fatal("Reusing iterator")
	}
	if i.err != nil {
		return false
	}
	refID := i.shard.Ref.ID()
	for {
		i.next, i.err = i.reader.Read()
		if i.err != nil {
			return false
		}
		if i.next.Ref == nil || i.next.Ref.ID() > refID || (i.next.Ref.ID() == refID && i.next.Pos >= i.shard.End) {
			i.err = io.EOF
			return false
		}
		if i.shard.RecordOverlapsShard(i.next) {
			return true
		}
	}
}

// Record implements the Iterator interface.
func (i *bamIterator) Record() *sam.Record {
	return i.next
}

func (i *bamIterator) internalClose() {
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.err.Set(i.Err())
}
