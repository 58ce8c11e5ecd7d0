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

/*
bio-depth reports the read depth at each position of one interval of one
reference in an indexed BAM file. It is similar to "samtools depth -a -r".

Sample usage:
bio-depth my.bam chr1 1000000 1000020

bio-depth -Q 20 -q 13 -d 500 -n 8 -t 10 -j my.bam chr1 1000000 1001000

Positions are 1-based and the interval is inclusive. A read counts at a
position when its MAPQ is at least -min_mapq, its FLAG has no bit in
-flag-exclude, and the base aligned there (M, = or X) has quality at least
-min_bq. Deletions, skips, and clipped bases never count. Depths are capped
at -max_depth.

The default output has one "position<TAB>depth" line per position. With -j,
a JSON object maps each position to its depth. Every -step'th position is
reported, starting with the first. The result does not depend on
-num_threads.

The BAM and index paths may be local or s3:// paths.
*/
package main
