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
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/bamdepth/depth"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

var (
	step         = depth.DefaultOpts.Step
	minMapq      = depth.DefaultOpts.MinMapq
	minBaseQual  = depth.DefaultOpts.MinBaseQual
	maxDepth     = depth.DefaultOpts.MaxDepth
	numThreads   = depth.DefaultOpts.Parallelism
	jsonOutput   = false
	bamIndexPath = flag.String("index", depth.DefaultOpts.BamIndexPath, "Input BAM index path. Defaults to bampath + .bai")
	flagExclude  = flag.Int("flag-exclude", depth.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	outPath      = flag.String("out", "", "Output path; stdout if empty. A .gz suffix compresses the output")
)

func init() {
	// Short and long spellings share one variable.
	for _, name := range []string{"t", "step"} {
		flag.IntVar(&step, name, step, "Step size for sampling positions")
	}
	for _, name := range []string{"Q", "min_mapq"} {
		flag.IntVar(&minMapq, name, minMapq, "Minimum mapping quality")
	}
	for _, name := range []string{"q", "min_bq"} {
		flag.IntVar(&minBaseQual, name, minBaseQual, "Minimum base quality")
	}
	for _, name := range []string{"d", "max_depth"} {
		flag.IntVar(&maxDepth, name, maxDepth, "Maximum depth reported at a position")
	}
	for _, name := range []string{"n", "num_threads"} {
		flag.IntVar(&numThreads, name, numThreads, "Number of threads")
	}
	for _, name := range []string{"j", "json"} {
		flag.BoolVar(&jsonOutput, name, jsonOutput, "Output results in JSON format")
	}
}

func bioDepthUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath chromosome start end\n", os.Args[0])
	fmt.Printf("start and end are 1-based and inclusive.\nOther options:\n")
	flag.PrintDefaults()
}

func parsePos(name, s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("%s: %q is not an integer", name, s)
	}
	return v
}

func main() {
	flag.Usage = bioDepthUsage
	shutdown := grail.Init()
	defer shutdown()
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})

	positionalArgs := flag.Args()
	if len(positionalArgs) != 4 {
		log.Fatalf("Expected 4 positional arguments (bampath chromosome start end), got %d; please check flag syntax: '%s'",
			len(positionalArgs), strings.Join(positionalArgs, " "))
	}
	ctx := vcontext.Background()
	opts := depth.Opts{
		Step:         step,
		MinMapq:      minMapq,
		MinBaseQual:  minBaseQual,
		MaxDepth:     maxDepth,
		Parallelism:  numThreads,
		FlagExclude:  *flagExclude,
		BamIndexPath: *bamIndexPath,
	}
	start := parsePos("start", positionalArgs[2])
	end := parsePos("end", positionalArgs[3])
	res, err := depth.GetDepths(ctx, positionalArgs[0], positionalArgs[1], start, end, opts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	format := formatTSV
	if jsonOutput {
		format = formatJSON
	}
	if err := writeResult(ctx, *outPath, format, res); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
