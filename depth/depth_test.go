package depth_test

import (
	"context"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/bamdepth/depth"
	"github.com/grailbio/bamdepth/encoding/bam/bamtest"
	"github.com/grailbio/bamdepth/encoding/bamprovider"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	status := m.Run()
	shutdown()
	os.Exit(status)
}

const (
	chr1Len = 20000
	chr2Len = 5000
)

type fixture struct {
	path   string
	header *sam.Header
	recs   []*sam.Record
}

func newFixture(t *testing.T, dir string, seed int64, nRecs int) fixture {
	header := bamtest.NewHeader(
		bamtest.RefSpec{Name: "chr1", Len: chr1Len},
		bamtest.RefSpec{Name: "chr2", Len: chr2Len})
	recs := bamtest.RandomRecords(rand.New(rand.NewSource(seed)), header.Refs(), nRecs)
	path := filepath.Join(dir, "depth.bam")
	require.NoError(t, bamtest.Write(context.Background(), path, header, recs))
	return fixture{path: path, header: header, recs: recs}
}

// bruteDepths computes depths for chrom:[start,end] by expanding every CIGAR
// into its aligned (reference, query) pairs.
func bruteDepths(f fixture, chrom string, start, end int, opts depth.Opts) []uint32 {
	depths := make([]uint32, end-start+1)
	for _, r := range f.recs {
		if r.Ref.Name() != chrom || int(r.Flags)&opts.FlagExclude != 0 || int(r.MapQ) < opts.MinMapq {
			continue
		}
		refPos, queryPos := r.Pos, 0
		for _, op := range r.Cigar {
			for k := 0; k < op.Len(); k++ {
				switch op.Type() {
				case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
					q := r.Qual[queryPos]
					pos1 := refPos + 1
					if pos1 >= start && pos1 <= end && (q == 0xff || int(q) >= opts.MinBaseQual) {
						depths[pos1-start]++
					}
					refPos++
					queryPos++
				case sam.CigarInsertion, sam.CigarSoftClipped:
					queryPos++
				case sam.CigarDeletion, sam.CigarSkipped:
					refPos++
				}
			}
		}
	}
	for i, d := range depths {
		if d > uint32(opts.MaxDepth) {
			depths[i] = uint32(opts.MaxDepth)
		}
	}
	return depths
}

func positions(start, end, step int) []int {
	var p []int
	for i := start; i <= end; i += step {
		p = append(p, i)
	}
	return p
}

func TestThreadInvariance(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	f := newFixture(t, tmpDir, 0, 4000)

	for _, region := range []struct {
		chrom      string
		start, end int
	}{
		{"chr1", 1, chr1Len},
		{"chr1", 9990, 10010},
		{"chr2", 2500, 2500},
		{"chr2", 4000, chr2Len},
	} {
		opts := depth.DefaultOpts
		want := bruteDepths(f, region.chrom, region.start, region.end, opts)
		var first depth.Result
		for n := 1; n <= 47; n++ {
			opts.Parallelism = n
			got, err := depth.GetDepths(ctx, f.path, region.chrom, region.start, region.end, opts)
			require.NoError(t, err)
			require.Equal(t, want, got.Depths, "%s:%d-%d, %d threads", region.chrom, region.start, region.end, n)
			require.Equal(t, positions(region.start, region.end, 1), got.Positions)
			if n == 1 {
				first = got
			} else {
				require.Equal(t, first, got)
			}
		}
	}
}

func TestMaxDepth(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	f := newFixture(t, tmpDir, 1, 4000)

	opts := depth.DefaultOpts
	opts.MaxDepth = 1 << 30
	uncapped, err := depth.GetDepths(ctx, f.path, "chr1", 1, chr1Len, opts)
	require.NoError(t, err)
	require.Equal(t, bruteDepths(f, "chr1", 1, chr1Len, opts), uncapped.Depths)

	for _, maxDepth := range []int{0, 1, 3, 10, 8000} {
		opts.MaxDepth = maxDepth
		for _, threads := range []int{1, 5, 12} {
			opts.Parallelism = threads
			got, err := depth.GetDepths(ctx, f.path, "chr1", 1, chr1Len, opts)
			require.NoError(t, err)
			for i, d := range uncapped.Depths {
				if int(d) >= maxDepth {
					expect.EQ(t, int(got.Depths[i]), maxDepth, "pos %d", got.Positions[i])
				} else {
					expect.EQ(t, got.Depths[i], d, "pos %d", got.Positions[i])
				}
			}
		}
	}
}

func TestStep(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	f := newFixture(t, tmpDir, 2, 3000)

	opts := depth.DefaultOpts
	full, err := depth.GetDepths(ctx, f.path, "chr1", 101, 5100, opts)
	require.NoError(t, err)
	for _, step := range []int{1, 2, 3, 7, 100, 4999, 5000, 100000} {
		opts.Step = step
		got, err := depth.GetDepths(ctx, f.path, "chr1", 101, 5100, opts)
		require.NoError(t, err)
		want, err := depth.Sample(full, step)
		require.NoError(t, err)
		require.Equal(t, want, got, "step %d", step)
		require.Equal(t, positions(101, 5100, step), got.Positions)
		require.Equal(t, got.Len(), len(got.Depths))
	}
}

func TestMonotoneFilters(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	f := newFixture(t, tmpDir, 3, 3000)

	check := func(prev, cur depth.Result, what string) {
		for i := range cur.Depths {
			require.True(t, cur.Depths[i] <= prev.Depths[i], "%s: pos %d: %d > %d", what, cur.Positions[i], cur.Depths[i], prev.Depths[i])
		}
	}
	opts := depth.DefaultOpts
	opts.MinBaseQual = 0
	var prev depth.Result
	for i, mapq := range []int{0, 1, 10, 30, 59, 60, 61, 255} {
		opts.MinMapq = mapq
		cur, err := depth.GetDepths(ctx, f.path, "chr1", 1, chr1Len, opts)
		require.NoError(t, err)
		if i > 0 {
			check(prev, cur, "mapq")
		}
		prev = cur
	}
	opts.MinMapq = 0
	for i, bq := range []int{0, 1, 13, 20, 41, 42, 255, 256} {
		opts.MinBaseQual = bq
		cur, err := depth.GetDepths(ctx, f.path, "chr1", 1, chr1Len, opts)
		require.NoError(t, err)
		require.Equal(t, bruteDepths(f, "chr1", 1, chr1Len, opts), cur.Depths, "min_bq %d", bq)
		if i > 0 {
			check(prev, cur, "bq")
		}
		prev = cur
	}
}

func TestKnownDepths(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	header := bamtest.NewHeader(bamtest.RefSpec{Name: "chr1", Len: 100})
	ref := header.Refs()[0]
	low := []byte{30, 30, 12, 13, 30, 30, 30, 30}
	recs := []*sam.Record{
		// Covers 1-based 11..18.
		bamtest.NewRecord("a", ref, 10, 60, bamtest.ParseCigar("8M"), nil),
		// Soft clip, then 3M at 11..13, 2D at 14..15, 3M at 16..18.
		bamtest.NewRecord("b", ref, 10, 60, bamtest.ParseCigar("2S3M2D3M"), low),
		// Insertions add no positions: 4M at 13..16, 2M at 17..18.
		bamtest.NewRecord("c", ref, 12, 5, bamtest.ParseCigar("4M2I2M"), nil),
	}
	dup := bamtest.NewRecord("d", ref, 10, 60, bamtest.ParseCigar("8M"), nil)
	dup.Flags = sam.Duplicate
	recs = append(recs, dup)
	path := filepath.Join(tmpDir, "known.bam")
	require.NoError(t, bamtest.Write(ctx, path, header, recs))

	opts := depth.DefaultOpts
	got, err := depth.GetDepths(ctx, path, "chr1", 10, 19, opts)
	require.NoError(t, err)
	// "b" has quality 12 at 1-based 11 and 13 at 12.
	//                                  10 11 12 13 14 15 16 17 18 19
	assert.Equal(t, []uint32{0, 1, 2, 3, 2, 2, 3, 3, 3, 0}, got.Depths)
	assert.Equal(t, positions(10, 19, 1), got.Positions)

	opts.MinMapq = 6
	got, err = depth.GetDepths(ctx, path, "chr1", 10, 19, opts)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 2, 1, 1, 2, 2, 2, 0}, got.Depths)

	opts.FlagExclude = 0
	got, err = depth.GetDepths(ctx, path, "chr1", 10, 19, opts)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 3, 3, 2, 2, 3, 3, 3, 0}, got.Depths)

	opts = depth.DefaultOpts
	opts.MaxDepth = 1
	got, err = depth.GetDepths(ctx, path, "chr1", 10, 19, opts)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 1, 1, 1, 1, 1, 1, 1, 0}, got.Depths)
}

func TestParameterErrors(t *testing.T) {
	ctx := context.Background()
	// The file does not exist: parameter checks must come first.
	path := "/nonexistent/file.bam"
	for _, test := range []struct {
		name       string
		start, end int
		mod        func(*depth.Opts)
	}{
		{"step0", 1, 10, func(o *depth.Opts) { o.Step = 0 }},
		{"stepneg", 1, 10, func(o *depth.Opts) { o.Step = -3 }},
		{"threads0", 1, 10, func(o *depth.Opts) { o.Parallelism = 0 }},
		{"maxdepthneg", 1, 10, func(o *depth.Opts) { o.MaxDepth = -1 }},
		{"mapqneg", 1, 10, func(o *depth.Opts) { o.MinMapq = -1 }},
		{"bqneg", 1, 10, func(o *depth.Opts) { o.MinBaseQual = -1 }},
		{"start0", 0, 10, func(o *depth.Opts) {}},
		{"reversed", 10, 9, func(o *depth.Opts) {}},
	} {
		opts := depth.DefaultOpts
		test.mod(&opts)
		_, err := depth.GetDepths(ctx, path, "chr1", test.start, test.end, opts)
		expect.True(t, depth.IsInvalidParameter(err), "%s: %v", test.name, err)
	}

	_, err := depth.Sample(depth.Result{}, 0)
	expect.True(t, depth.IsInvalidParameter(err), "%v", err)
}

func TestFileErrors(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	f := newFixture(t, tmpDir, 4, 2000)
	opts := depth.DefaultOpts

	_, err := depth.GetDepths(ctx, f.path, "chrX", 1, 10, opts)
	expect.True(t, depth.IsUnknownReference(err), "%v", err)

	_, err = depth.GetDepths(ctx, f.path, "chr2", 1, chr2Len+1, opts)
	expect.True(t, depth.IsInvalidParameter(err), "%v", err)

	opts.BamIndexPath = filepath.Join(tmpDir, "missing.bai")
	_, err = depth.GetDepths(ctx, f.path, "chr1", 1, 10, opts)
	expect.True(t, depth.IsInvalidIndex(err), "%v", err)

	opts.BamIndexPath = filepath.Join(tmpDir, "garbage.bai")
	require.NoError(t, ioutil.WriteFile(opts.BamIndexPath, []byte("not an index"), 0644))
	_, err = depth.GetDepths(ctx, f.path, "chr1", 1, 10, opts)
	expect.True(t, depth.IsInvalidIndex(err), "%v", err)
}

func TestCorruptRecord(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	header := bamtest.NewHeader(bamtest.RefSpec{Name: "chr1", Len: chr1Len})
	recs := bamtest.RandomRecords(rand.New(rand.NewSource(5)), header.Refs(), 8000)
	path := filepath.Join(tmpDir, "corrupt.bam")
	require.NoError(t, bamtest.Write(ctx, path, header, recs))
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	for i := len(data) / 2; i < len(data)/2+256; i++ {
		data[i] ^= 0xff
	}
	require.NoError(t, ioutil.WriteFile(path, data, 0644))

	for _, threads := range []int{1, 4, 12} {
		opts := depth.DefaultOpts
		opts.Parallelism = threads
		res, err := depth.GetDepths(ctx, path, "chr1", 1, chr1Len, opts)
		expect.True(t, depth.IsCorruptRecord(err), "%d threads: %v", threads, err)
		expect.EQ(t, res.Len(), 0)
	}
}

func TestComputeShardFailure(t *testing.T) {
	ctx := context.Background()
	header := bamtest.NewHeader(bamtest.RefSpec{Name: "chr1", Len: 1000})
	ref := header.Refs()[0]
	var recs []*sam.Record
	for pos := 0; pos < 900; pos += 50 {
		recs = append(recs, bamtest.NewRecord("r", ref, pos, 60, bamtest.ParseCigar("100M"), nil))
	}

	opts := depth.DefaultOpts
	opts.Parallelism = 4
	p := bamprovider.NewFakeProvider(header, recs)
	res, err := depth.Compute(ctx, p, "chr1", 1, 1000, opts)
	require.NoError(t, err)
	require.Equal(t, 1000, res.Len())
	expect.EQ(t, res.Depths[0], uint32(1))
	expect.EQ(t, res.Depths[60], uint32(2))

	injected := errors.E(errors.Integrity, "injected failure")
	p = bamprovider.NewFailingFakeProvider(header, recs, 2, injected)
	res, err = depth.Compute(ctx, p, "chr1", 1, 1000, opts)
	expect.True(t, depth.IsCorruptRecord(err), "%v", err)
	expect.EQ(t, res.Len(), 0)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	header := bamtest.NewHeader(bamtest.RefSpec{Name: "chr1", Len: 100000})
	recs := bamtest.RandomRecords(rand.New(rand.NewSource(6)), header.Refs(), 10000)
	p := bamprovider.NewFakeProvider(header, recs)
	opts := depth.DefaultOpts
	opts.Parallelism = 1
	_, err := depth.Compute(ctx, p, "chr1", 1, 100000, opts)
	require.Error(t, err)
	require.Contains(t, err.Error(), "canceled")
}
