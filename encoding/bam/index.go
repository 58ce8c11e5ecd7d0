package bam

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bgzf"
)

const (
	// metadataBin is the pseudo-bin that stores per-reference read counts.
	metadataBin = 37450
	// linearShift is log2 of the linear index window (16kbp).
	linearShift = 14
	// maxIndexedPos is the largest coordinate addressable by the .bai binning
	// scheme (2^29).
	maxIndexedPos = 1 << 29
)

// Index represents the content of a .bai index file (for use with a .bam file).
type Index struct {
	Magic         [4]byte
	Refs          []Reference
	UnmappedCount *uint64
}

// Reference represents the reference data within a .bai file.
type Reference struct {
	Bins      []Bin
	Intervals []bgzf.Offset
	Meta      Metadata
}

// Bin represents the bin data within a .bai file.
type Bin struct {
	BinNum uint32
	Chunks []Chunk
}

// Chunk represents the Chunk data within a .bai file.
type Chunk struct {
	Begin bgzf.Offset
	End   bgzf.Offset
}

// Metadata represents the Metadata data within a .bai file.
type Metadata struct {
	UnmappedBegin uint64
	UnmappedEnd   uint64
	MappedCount   uint64
	UnmappedCount uint64
}

// indexDecoder reads little-endian fields and remembers the first error.
type indexDecoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *indexDecoder) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	if _, d.err = io.ReadFull(d.r, d.buf[:n]); d.err != nil {
		return nil
	}
	return d.buf[:n]
}

func (d *indexDecoder) int32() int32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (d *indexDecoder) uint32() uint32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *indexDecoder) uint64() uint64 {
	b := d.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// count reads an int32 element count and rejects negative values.
func (d *indexDecoder) count(what string) int {
	n := d.int32()
	if d.err == nil && n < 0 {
		d.err = fmt.Errorf("negative %s count %d", what, n)
	}
	return int(n)
}

// ReadIndex parses the content of r and returns an Index or nil and an
// error. Any malformed content is reported with errors.Precondition, since
// the index is a prerequisite of every region query.
func ReadIndex(r io.Reader) (*Index, error) {
	i := &Index{}
	d := &indexDecoder{r: r}

	copy(i.Magic[:], d.read(4))
	if d.err != nil {
		return nil, errors.E(errors.Precondition, "bam index: reading magic", d.err)
	}
	if i.Magic != [4]byte{'B', 'A', 'I', 0x1} {
		return nil, errors.E(errors.Precondition, fmt.Sprintf("bam index: invalid magic %v", i.Magic))
	}

	refCount := d.count("reference")
	if d.err != nil {
		return nil, errors.E(errors.Precondition, "bam index: reading reference count", d.err)
	}
	i.Refs = make([]Reference, 0, minInt(refCount, 1<<16))

	for refID := 0; refID < refCount; refID++ {
		var ref Reference
		binCount := d.count("bin")
		for b := 0; b < binCount && d.err == nil; b++ {
			binNum := d.uint32()
			chunkCount := d.count("chunk")
			if d.err != nil {
				break
			}
			bin := Bin{BinNum: binNum, Chunks: make([]Chunk, 0, minInt(chunkCount, 1<<10))}
			for c := 0; c < chunkCount && d.err == nil; c++ {
				begin := d.uint64()
				end := d.uint64()
				bin.Chunks = append(bin.Chunks, Chunk{Begin: toOffset(begin), End: toOffset(end)})
			}
			if d.err != nil {
				break
			}
			if binNum == metadataBin {
				// If we have a metadata chunk, put it in ref.Meta instead of ref.Bins.
				if len(bin.Chunks) != 2 {
					return nil, errors.E(errors.Precondition,
						fmt.Sprintf("bam index: metadata bin of reference %d has %d chunks, should have 2", refID, len(bin.Chunks)))
				}
				ref.Meta = Metadata{
					UnmappedBegin: fromOffset(bin.Chunks[0].Begin),
					UnmappedEnd:   fromOffset(bin.Chunks[0].End),
					MappedCount:   fromOffset(bin.Chunks[1].Begin),
					UnmappedCount: fromOffset(bin.Chunks[1].End),
				}
			} else {
				ref.Bins = append(ref.Bins, bin)
			}
		}

		intervalCount := d.count("interval")
		for inv := 0; inv < intervalCount && d.err == nil; inv++ {
			ref.Intervals = append(ref.Intervals, toOffset(d.uint64()))
		}
		if d.err != nil {
			return nil, errors.E(errors.Precondition, fmt.Sprintf("bam index: reading reference %d", refID), d.err)
		}
		i.Refs = append(i.Refs, ref)
	}

	unmappedCount := d.uint64()
	switch d.err {
	case nil:
		i.UnmappedCount = &unmappedCount
	case io.EOF:
	default:
		return nil, errors.E(errors.Precondition, "bam index: reading unmapped count", d.err)
	}
	return i, nil
}

// regionBins returns the numbers of all bins that may hold records
// overlapping the 0-based half-open range [beg, end).
func regionBins(beg, end int) []uint32 {
	if end > maxIndexedPos {
		end = maxIndexedPos
	}
	if beg >= end {
		return nil
	}
	end--
	bins := []uint32{0}
	for _, level := range []struct {
		offset uint32
		shift  uint
	}{{1, 26}, {9, 23}, {73, 20}, {585, 17}, {4681, 14}} {
		for k := level.offset + uint32(beg>>level.shift); k <= level.offset+uint32(end>>level.shift); k++ {
			bins = append(bins, k)
		}
	}
	return bins
}

// Chunks returns the file chunks that may contain records of reference refID
// overlapping the 0-based half-open range [beg, end). Chunks that end before
// the linear-index offset of beg are dropped. The result is sorted by Begin,
// and overlapping or adjacent chunks are merged. It returns an empty list if
// the reference has no indexed records in the range.
func (i *Index) Chunks(refID, beg, end int) ([]Chunk, error) {
	if refID < 0 || refID >= len(i.Refs) {
		return nil, errors.E(errors.Precondition, fmt.Sprintf("bam index: reference id %d not in index (%d references)", refID, len(i.Refs)))
	}
	ref := &i.Refs[refID]

	var minOffset bgzf.Offset
	if n := len(ref.Intervals); n > 0 {
		w := beg >> linearShift
		if w >= n {
			w = n - 1
		}
		minOffset = ref.Intervals[w]
	}

	wanted := map[uint32]bool{}
	for _, b := range regionBins(beg, end) {
		wanted[b] = true
	}
	var chunks []Chunk
	for _, bin := range ref.Bins {
		if !wanted[bin.BinNum] {
			continue
		}
		for _, c := range bin.Chunks {
			if OffsetLess(minOffset, c.End) {
				chunks = append(chunks, c)
			}
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	sort.Slice(chunks, func(a, b int) bool { return OffsetLess(chunks[a].Begin, chunks[b].Begin) })

	merged := chunks[:1]
	for _, c := range chunks[1:] {
		last := &merged[len(merged)-1]
		if OffsetLess(last.End, c.Begin) {
			merged = append(merged, c)
			continue
		}
		if OffsetLess(last.End, c.End) {
			last.End = c.End
		}
	}
	return merged, nil
}

// OffsetLess reports whether virtual offset a precedes b.
func OffsetLess(a, b bgzf.Offset) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	return a.Block < b.Block
}

func toOffset(voffset uint64) bgzf.Offset {
	return bgzf.Offset{
		File:  int64(voffset >> 16),
		Block: uint16(voffset),
	}
}

func fromOffset(offset bgzf.Offset) uint64 {
	return uint64(offset.File<<16) | uint64(offset.Block)
}

func minInt(x, y int) int {
	if y < x {
		return y
	}
	return x
}
