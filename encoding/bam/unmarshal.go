package bam

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

const bamFixedBytes = 32

var jumps = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
	'Z': -1,
	'H': -1,
	'B': -1,
}

// corrupt builds an errors.Integrity error for an undecodable record.
func corrupt(format string, args ...interface{}) error {
	return errors.E(errors.Integrity, "bam: corrupt record: "+fmt.Sprintf(format, args...))
}

// splitAux examines the data of a SAM record's OPT fields, returning a slice
// of sam.Aux that are backed by aux.
func splitAux(aux []byte) ([]sam.Aux, error) {
	var fields []sam.Aux
	for i := 0; i < len(aux); {
		if i+3 > len(aux) {
			return nil, corrupt("truncated aux field at byte %d", i)
		}
		t := aux[i+2]
		var n int
		switch j := jumps[t]; {
		case j > 0:
			n = j + 3
		case t == 'Z' || t == 'H':
			end := bytes.IndexByte(aux[i+3:], 0)
			if end < 0 {
				return nil, corrupt("unterminated %c aux field", t)
			}
			// The terminating NUL is consumed but not kept.
			fields = append(fields, sam.Aux(aux[i:i+3+end:i+3+end]))
			i += 3 + end + 1
			continue
		case t == 'B':
			if i+8 > len(aux) {
				return nil, corrupt("truncated B aux field")
			}
			elem := jumps[aux[i+3]]
			if elem <= 0 {
				return nil, corrupt("bad B aux element type %q", aux[i+3])
			}
			length := int(binary.LittleEndian.Uint32(aux[i+4 : i+8]))
			n = 8 + length*elem
		default:
			return nil, corrupt("unrecognised aux field type %q", t)
		}
		if n <= 0 || i+n > len(aux) {
			return nil, corrupt("aux field overruns record")
		}
		fields = append(fields, sam.Aux(aux[i:i+n:i+n]))
		i += n
	}
	return fields, nil
}

// Unmarshal decodes one serialized BAM record (without the leading
// block_size field). Every variable-length section is bounds-checked against
// len(b); any inconsistency is reported as errors.Integrity. The returned
// record does not alias b.
func Unmarshal(b []byte, header *sam.Header) (*sam.Record, error) {
	if len(b) < bamFixedBytes {
		return nil, corrupt("record has %d bytes, need at least %d", len(b), bamFixedBytes)
	}
	// Need to use int(int32(uint32)) to ensure 2's complement extension of -1.
	refID := int(int32(binary.LittleEndian.Uint32(b)))
	rec := &sam.Record{
		Pos:     int(int32(binary.LittleEndian.Uint32(b[4:]))),
		MapQ:    b[9],
		Flags:   sam.Flags(binary.LittleEndian.Uint16(b[14:])),
		MatePos: int(int32(binary.LittleEndian.Uint32(b[24:]))),
		TempLen: int(int32(binary.LittleEndian.Uint32(b[28:]))),
	}
	nLen := int(b[8])
	nCigar := int(binary.LittleEndian.Uint16(b[12:]))
	lSeq := int(int32(binary.LittleEndian.Uint32(b[16:])))
	nextRefID := int(int32(binary.LittleEndian.Uint32(b[20:])))
	if lSeq < 0 {
		return nil, corrupt("negative sequence length %d", lSeq)
	}
	if nLen == 0 {
		return nil, corrupt("empty read name")
	}

	nDoubletBytes := (lSeq + 1) >> 1
	auxOffset := bamFixedBytes + nLen + nCigar*4 + nDoubletBytes + lSeq
	if len(b) < auxOffset {
		return nil, corrupt("record has %d bytes, variable fields need %d", len(b), auxOffset)
	}

	off := bamFixedBytes
	name := b[off : off+nLen]
	if name[nLen-1] != 0 {
		return nil, corrupt("read name is not NUL-terminated")
	}
	rec.Name = string(name[:nLen-1])
	off += nLen

	if nCigar > 0 {
		rec.Cigar = make(sam.Cigar, nCigar)
		for i := range rec.Cigar {
			rec.Cigar[i] = sam.CigarOp(binary.LittleEndian.Uint32(b[off:]))
			off += 4
		}
	}

	rec.Seq.Length = lSeq
	rec.Seq.Seq = make([]sam.Doublet, nDoubletBytes)
	for i := range rec.Seq.Seq {
		rec.Seq.Seq[i] = sam.Doublet(b[off+i])
	}
	off += nDoubletBytes

	rec.Qual = append([]byte(nil), b[off:off+lSeq]...)
	off += lSeq

	if off < len(b) {
		aux, err := splitAux(append([]byte(nil), b[off:]...))
		if err != nil {
			return nil, err
		}
		rec.AuxFields = aux
	}

	refs := header.Refs()
	if refID != -1 {
		if refID < -1 || refID >= len(refs) {
			return nil, corrupt("reference id %d out of range", refID)
		}
		rec.Ref = refs[refID]
	}
	if nextRefID != -1 {
		if nextRefID < -1 || nextRefID >= len(refs) {
			return nil, corrupt("mate reference id %d out of range", nextRefID)
		}
		rec.MateRef = refs[nextRefID]
	}
	return rec, nil
}
