package depth

import "github.com/grailbio/hts/sam"

// missingQual is the base quality stored when a record has no qualities.
const missingQual = 0xff

// filter decides which records, and which of their bases, count toward
// depth.
type filter struct {
	minMapq     int
	minBaseQual int
	flagExclude sam.Flags
}

func newFilter(opts Opts) filter {
	return filter{
		minMapq:     opts.MinMapq,
		minBaseQual: opts.MinBaseQual,
		flagExclude: sam.Flags(opts.FlagExclude),
	}
}

// admitRecord reports whether any base of r may count.
func (f filter) admitRecord(r *sam.Record) bool {
	return r.Flags&f.flagExclude == 0 && len(r.Cigar) > 0 && int(r.MapQ) >= f.minMapq
}

// admitBase reports whether a base with quality q counts. A base without
// quality counts.
func (f filter) admitBase(q byte) bool {
	return q == missingQual || int(q) >= f.minBaseQual
}
