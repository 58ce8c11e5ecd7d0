package depth

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Opts controls GetDepths and Compute. The zero value is not useful; start
// from DefaultOpts.
type Opts struct {
	// Step selects every Step'th position of the interval, starting at the
	// first one. Must be >= 1.
	Step int
	// MinMapq is the minimum mapping quality of a counted read (inclusive).
	MinMapq int
	// MinBaseQual is the minimum base quality of a counted base (inclusive).
	MinBaseQual int
	// MaxDepth caps the depth reported for every position. Must be >= 0.
	MaxDepth int
	// Parallelism is the number of shards and the worker pool size. Must be
	// >= 1.
	Parallelism int
	// FlagExclude drops reads with any of these SAM flag bits set.
	FlagExclude int
	// BamIndexPath is the .bai path used by GetDepths. If empty, the BAM path
	// + ".bai".
	BamIndexPath string
}

// DefaultOpts holds the defaults of the bio-depth command.
var DefaultOpts = Opts{
	Step:        1,
	MinMapq:     0,
	MinBaseQual: 13,
	MaxDepth:    8000,
	Parallelism: 12,
	// unmapped | secondary | qcfail | duplicate | supplementary
	FlagExclude: 0xf04,
}

func invalidf(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf(format, args...))
}

// validate checks the options and the 1-based inclusive interval
// [start, end]. It performs no I/O.
func (o *Opts) validate(start, end int) error {
	switch {
	case o.Step < 1:
		return invalidf("depth: step must be >= 1, got %d", o.Step)
	case o.Parallelism < 1:
		return invalidf("depth: parallelism must be >= 1, got %d", o.Parallelism)
	case o.MaxDepth < 0:
		return invalidf("depth: max depth must be >= 0, got %d", o.MaxDepth)
	case o.MinMapq < 0:
		return invalidf("depth: min mapq must be >= 0, got %d", o.MinMapq)
	case o.MinBaseQual < 0:
		return invalidf("depth: min base quality must be >= 0, got %d", o.MinBaseQual)
	case o.FlagExclude < 0 || o.FlagExclude > 0xffff:
		return invalidf("depth: flag exclude mask %#x out of range", o.FlagExclude)
	case start < 1:
		return invalidf("depth: start must be >= 1, got %d", start)
	case end < start:
		return invalidf("depth: end %d precedes start %d", end, start)
	}
	return nil
}
