// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package depth computes per-position read depth over one interval of one
// reference in an indexed BAM file.
//
// The interval is split into contiguous shards, one per worker. Each worker
// opens its own iterator over the records overlapping its shard, walks their
// CIGARs, and counts the positions where an aligned base passes the mapping
// and base quality thresholds. Counts saturate at Opts.MaxDepth. The
// per-shard buffers are concatenated in shard order, so the result does not
// depend on Opts.Parallelism.
package depth
