package depth

import "github.com/grailbio/base/errors"

// IsInvalidIndex reports whether err means the BAM index is missing, is
// malformed, or does not match the BAM file.
func IsInvalidIndex(err error) bool { return errors.Is(errors.Precondition, err) }

// IsUnknownReference reports whether err means the requested chromosome is
// absent from the BAM header. A missing BAM file is reported the same way.
func IsUnknownReference(err error) bool { return errors.Is(errors.NotExist, err) }

// IsCorruptRecord reports whether err means a BAM record or block could not
// be decoded.
func IsCorruptRecord(err error) bool { return errors.Is(errors.Integrity, err) }

// IsInvalidParameter reports whether err means the request was rejected
// before reading: a bad step, thread count, depth cap, or interval.
func IsInvalidParameter(err error) bool { return errors.Is(errors.Invalid, err) }
