// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bam reads indexed BAM files: it decodes .bai indexes, answers
// region-to-chunk queries, decodes BAM records from a BGZF stream, and splits
// genomic ranges into shards for parallel processing. Compression and the
// SAM data model come from github.com/grailbio/hts.
package bam
