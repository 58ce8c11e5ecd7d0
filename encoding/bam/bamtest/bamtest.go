// Package bamtest writes small coordinate-sorted BAM files and their .bai
// indexes for unittests.
package bamtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"

	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Write sorts recs by (reference, position), writes them to path as BAM, and
// writes a matching index to path+".bai".
func Write(ctx context.Context, path string, header *sam.Header, recs []*sam.Record) error {
	if err := WriteBAM(ctx, path, header, recs); err != nil {
		return err
	}
	return WriteIndex(ctx, path, path+".bai")
}

// WriteBAM sorts recs by (reference, position) and writes them to path
// without an index.
func WriteBAM(ctx context.Context, path string, header *sam.Header, recs []*sam.Record) (err error) {
	sorted := append([]*sam.Record(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Ref.ID(), sorted[j].Ref.ID()
		if ri != rj {
			// Unmapped reads (ID -1) go last.
			if ri < 0 || rj < 0 {
				return rj < 0 && ri >= 0
			}
			return ri < rj
		}
		return sorted[i].Pos < sorted[j].Pos
	})

	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w, err := bam.NewWriter(out.Writer(ctx), header, 1)
	if err != nil {
		return err
	}
	for _, rec := range sorted {
		if err = w.Write(rec); err != nil {
			return err
		}
	}
	return w.Close()
}

// WriteIndex builds a .bai index for the sorted BAM file at bamPath and
// writes it to indexPath. The index lists every reference in the header,
// including those without records, and carries the metadata pseudo-bin.
func WriteIndex(ctx context.Context, bamPath, indexPath string) (err error) {
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return err
	}
	defer r.Close()

	idx := newIndexBuilder(len(r.Header().Refs()))
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		idx.add(rec, r.LastChunk())
	}

	out, err := file.Create(ctx, indexPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	return idx.write(out.Writer(ctx))
}

// NewHeader creates a header with one reference per (name, length) pair.
// It panics on invalid input.
func NewHeader(refs ...RefSpec) *sam.Header {
	var samRefs []*sam.Reference
	for _, spec := range refs {
		ref, err := sam.NewReference(spec.Name, "", "", spec.Len, nil, nil)
		if err != nil {
			panic(err)
		}
		samRefs = append(samRefs, ref)
	}
	header, err := sam.NewHeader(nil, samRefs)
	if err != nil {
		panic(err)
	}
	header.SortOrder = sam.Coordinate
	return header
}

// RefSpec names a reference for NewHeader.
type RefSpec struct {
	Name string
	Len  int
}

// NewRecord creates a mapped, unpaired record at 0-based position pos with
// the given CIGAR and per-base qualities. The sequence is all 'A' and has the
// length implied by the CIGAR. It panics on invalid input.
func NewRecord(name string, ref *sam.Reference, pos int, mapq byte, cigar sam.Cigar, qual []byte) *sam.Record {
	_, readLen := cigar.Lengths()
	seq := make([]byte, readLen)
	for i := range seq {
		seq[i] = 'A'
	}
	if qual == nil {
		qual = make([]byte, readLen)
		for i := range qual {
			qual[i] = 30
		}
	}
	rec, err := sam.NewRecord(name, ref, nil, pos, -1, 0, mapq, cigar, seq, qual, nil)
	if err != nil {
		panic(err)
	}
	return rec
}

// ParseCigar parses a CIGAR string such as "10S40M2D50M". It panics on
// invalid input.
func ParseCigar(s string) sam.Cigar {
	cigar, err := sam.ParseCigar([]byte(s))
	if err != nil {
		panic(err)
	}
	return cigar
}

// RandomCigar generates a CIGAR with one to three aligned blocks joined by
// insertions, deletions, or skips, optionally flanked by clips. Its reference
// span never exceeds maxSpan.
func RandomCigar(r *rand.Rand, maxSpan int) sam.Cigar {
	var cigar sam.Cigar
	if r.Intn(4) == 0 {
		cigar = append(cigar, sam.NewCigarOp(sam.CigarHardClipped, 1+r.Intn(5)))
	}
	if r.Intn(3) == 0 {
		cigar = append(cigar, sam.NewCigarOp(sam.CigarSoftClipped, 1+r.Intn(5)))
	}
	span := 0
	matchOps := []sam.CigarOpType{sam.CigarMatch, sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch}
	for block, nBlocks := 0, 1+r.Intn(3); block < nBlocks; block++ {
		if block > 0 {
			switch r.Intn(3) {
			case 0:
				cigar = append(cigar, sam.NewCigarOp(sam.CigarInsertion, 1+r.Intn(5)))
			case 1:
				n := 1 + r.Intn(5)
				cigar = append(cigar, sam.NewCigarOp(sam.CigarDeletion, n))
				span += n
			default:
				n := 10 + r.Intn(100)
				cigar = append(cigar, sam.NewCigarOp(sam.CigarSkipped, n))
				span += n
			}
		}
		n := 5 + r.Intn(60)
		cigar = append(cigar, sam.NewCigarOp(matchOps[r.Intn(len(matchOps))], n))
		span += n
		if span >= maxSpan/2 {
			break
		}
	}
	if r.Intn(3) == 0 {
		cigar = append(cigar, sam.NewCigarOp(sam.CigarSoftClipped, 1+r.Intn(5)))
	}
	return cigar
}

// RandomRecords generates n records spread over refs with random CIGARs,
// mapping qualities, base qualities, and flags. About one record in twenty
// has missing base qualities (all 0xff). Records are not sorted. Every
// reference must be at least 512 bases long.
func RandomRecords(r *rand.Rand, refs []*sam.Reference, n int) []*sam.Record {
	flagChoices := []sam.Flags{0, 0, 0, 0, sam.Reverse, sam.Paired | sam.Read1, sam.Duplicate, sam.Secondary, sam.Supplementary, sam.QCFail}
	recs := make([]*sam.Record, 0, n)
	for i := 0; i < n; i++ {
		ref := refs[r.Intn(len(refs))]
		cigar := RandomCigar(r, ref.Len())
		refLen, readLen := cigar.Lengths()
		qual := make([]byte, readLen)
		if r.Intn(20) == 0 {
			for j := range qual {
				qual[j] = 0xff
			}
		} else {
			for j := range qual {
				qual[j] = byte(r.Intn(42))
			}
		}
		rec := NewRecord(fmt.Sprintf("r%d", i), ref, r.Intn(ref.Len()-refLen+1), byte(r.Intn(61)), cigar, qual)
		rec.Flags = flagChoices[r.Intn(len(flagChoices))]
		recs = append(recs, rec)
	}
	return recs
}
