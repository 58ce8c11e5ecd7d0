package bam

import (
	"encoding/binary"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
)

// maxRecordBytes bounds the block_size field of a single record. Anything
// larger is treated as corruption rather than allocated.
const maxRecordBytes = 1 << 28

// Reader decodes BAM records from a BGZF stream. It is thread compatible: a
// Reader owns its cursor, so concurrent readers of one file must each create
// their own Reader over their own file handle.
type Reader struct {
	bg     *bgzf.Reader
	header *sam.Header
	buf    []byte
}

// NewReader creates a Reader over r and decodes the BAM header. rd is the
// number of BGZF decompression goroutines. To use Seek, r must implement
// io.ReadSeeker.
func NewReader(r io.Reader, rd int) (*Reader, error) {
	bg, err := bgzf.NewReader(r, rd)
	if err != nil {
		return nil, errors.E(errors.Integrity, "bam: opening bgzf stream", err)
	}
	header, err := sam.NewHeader(nil, nil)
	if err != nil {
		bg.Close()
		return nil, err
	}
	if err := header.DecodeBinary(bg); err != nil {
		bg.Close()
		return nil, errors.E(errors.Integrity, "bam: decoding header", err)
	}
	return &Reader{bg: bg, header: header}, nil
}

// Header returns the header decoded by NewReader.
func (r *Reader) Header() *sam.Header {
	return r.header
}

// Seek moves the cursor to the given virtual file offset, which must point at
// the start of a record.
func (r *Reader) Seek(off bgzf.Offset) error {
	return r.bg.Seek(off)
}

// Read decodes the next record. It returns io.EOF when the stream ends
// cleanly at a record boundary. A record cut short by the end of the stream
// or failing to decode is reported as errors.Integrity.
func (r *Reader) Read() (*sam.Record, error) {
	var sizeBuf [4]byte
	n, err := io.ReadFull(r.bg, sizeBuf[:])
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.E(errors.Integrity, "bam: reading block size", err)
	}
	blockSize := int(int32(binary.LittleEndian.Uint32(sizeBuf[:])))
	if blockSize < bamFixedBytes || blockSize > maxRecordBytes {
		return nil, corrupt("block size %d out of range", blockSize)
	}
	if cap(r.buf) < blockSize {
		r.buf = make([]byte, blockSize)
	}
	r.buf = r.buf[:blockSize]
	if _, err := io.ReadFull(r.bg, r.buf); err != nil {
		return nil, errors.E(errors.Integrity, "bam: reading record body", err)
	}
	return Unmarshal(r.buf, r.header)
}

// Close releases the BGZF decompressor. It does not close the underlying
// reader.
func (r *Reader) Close() error {
	return r.bg.Close()
}
