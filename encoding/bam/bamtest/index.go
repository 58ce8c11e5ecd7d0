package bamtest

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"

	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
)

const (
	// metadataBin is the pseudo-bin holding per-reference offsets and counts.
	metadataBin = 37450
	// linearShift is log2 of the linear index window (16kbp).
	linearShift = 14
)

// indexBuilder accumulates the .bai content of a coordinate-sorted BAM file,
// one record at a time.
type indexBuilder struct {
	refs     []refIndex
	unplaced uint64
}

type refIndex struct {
	nRecs     int
	bins      map[uint32][]bgzf.Chunk
	intervals []bgzf.Offset
	set       []bool

	first, last      bgzf.Offset
	mapped, unmapped uint64
}

func newIndexBuilder(nRefs int) *indexBuilder {
	return &indexBuilder{refs: make([]refIndex, nRefs)}
}

// reg2bin returns the smallest bin that contains [beg, end).
func reg2bin(beg, end int) uint32 {
	end--
	switch {
	case beg>>14 == end>>14:
		return uint32(4681 + beg>>14)
	case beg>>17 == end>>17:
		return uint32(585 + beg>>17)
	case beg>>20 == end>>20:
		return uint32(73 + beg>>20)
	case beg>>23 == end>>23:
		return uint32(9 + beg>>23)
	case beg>>26 == end>>26:
		return uint32(1 + beg>>26)
	}
	return 0
}

// add records that rec occupies chunk of the BAM file. Records must arrive
// in file order.
func (b *indexBuilder) add(rec *sam.Record, chunk bgzf.Chunk) {
	if rec.Ref == nil {
		b.unplaced++
		return
	}
	ref := &b.refs[rec.Ref.ID()]
	if ref.nRecs == 0 {
		ref.bins = map[uint32][]bgzf.Chunk{}
		ref.first = chunk.Begin
	}
	ref.nRecs++
	ref.last = chunk.End
	if rec.Flags&sam.Unmapped != 0 {
		ref.unmapped++
	} else {
		ref.mapped++
	}

	beg, end := rec.Pos, rec.End()
	if end <= beg {
		end = beg + 1
	}
	bin := reg2bin(beg, end)
	chunks := ref.bins[bin]
	if n := len(chunks); n > 0 && chunks[n-1].End == chunk.Begin {
		chunks[n-1].End = chunk.End
	} else {
		chunks = append(chunks, chunk)
	}
	ref.bins[bin] = chunks

	// Each window remembers the first record that overlaps it.
	for w := beg >> linearShift; w <= (end-1)>>linearShift; w++ {
		for len(ref.intervals) <= w {
			ref.intervals = append(ref.intervals, bgzf.Offset{})
			ref.set = append(ref.set, false)
		}
		if !ref.set[w] {
			ref.intervals[w] = chunk.Begin
			ref.set[w] = true
		}
	}
}

func voffset(o bgzf.Offset) uint64 {
	return uint64(o.File)<<16 | uint64(o.Block)
}

// write serializes the index in .bai format. Windows that no record overlaps
// inherit the offset of the preceding window.
func (b *indexBuilder) write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var err error
	put := func(v interface{}) {
		if err == nil {
			err = binary.Write(bw, binary.LittleEndian, v)
		}
	}
	put([4]byte{'B', 'A', 'I', 0x1})
	put(int32(len(b.refs)))
	for _, ref := range b.refs {
		if ref.nRecs == 0 {
			put(int32(0)) // bins
			put(int32(0)) // intervals
			continue
		}
		binNums := make([]uint32, 0, len(ref.bins))
		for bin := range ref.bins {
			binNums = append(binNums, bin)
		}
		sort.Slice(binNums, func(i, j int) bool { return binNums[i] < binNums[j] })

		put(int32(len(binNums) + 1))
		for _, bin := range binNums {
			chunks := ref.bins[bin]
			put(bin)
			put(int32(len(chunks)))
			for _, c := range chunks {
				put(voffset(c.Begin))
				put(voffset(c.End))
			}
		}
		put(uint32(metadataBin))
		put(int32(2))
		put(voffset(ref.first))
		put(voffset(ref.last))
		put(ref.mapped)
		put(ref.unmapped)

		put(int32(len(ref.intervals)))
		var prev bgzf.Offset
		for i, off := range ref.intervals {
			if !ref.set[i] {
				off = prev
			}
			put(voffset(off))
			prev = off
		}
	}
	put(b.unplaced)
	if err != nil {
		return err
	}
	return bw.Flush()
}
