package bamprovider

import (
	"fmt"

	gbam "github.com/grailbio/bamdepth/encoding/bam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// RefByName finds a sam.Reference with the given name. It returns nil if a
// reference is not found.
func RefByName(h *sam.Header, refName string) *sam.Reference {
	for _, ref := range h.Refs() {
		if ref.Name() == refName {
			return ref
		}
	}
	return nil
}

// generateShards resolves opts.RefName in header and splits the requested
// range. An unknown reference is reported as errors.NotExist.
func generateShards(header *sam.Header, opts GenerateShardsOpts) ([]gbam.Shard, error) {
	ref := RefByName(header, opts.RefName)
	if ref == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("bamprovider: reference '%s' not found", opts.RefName))
	}
	return gbam.SplitRange(ref, opts.Start, opts.End, opts.NumShards)
}
