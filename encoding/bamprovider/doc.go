// Package bamprovider provides utilities for scanning an indexed BAM file in
// parallel.
//
// The Provider loads the BAM header and the .bai index once, splits a
// reference range into shards, and hands out one independent Iterator per
// shard. Each iterator seeks with the index and then decodes records
// sequentially until it passes the end of its shard.
package bamprovider
