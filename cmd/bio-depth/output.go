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
	"bufio"
	"context"
	"io"
	"os"
	"strconv"

	"github.com/grailbio/bamdepth/depth"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

type outputFormat int

const (
	formatTSV outputFormat = iota
	formatJSON
)

// writeResult writes res to path, or to stdout if path is empty. Paths
// ending in .gz are gzip-compressed.
func writeResult(ctx context.Context, path string, format outputFormat, res depth.Result) (err error) {
	if path == "" {
		return writeFormatted(os.Stdout, format, res)
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "%v: failed to create output", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := out.Writer(ctx)
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		gz := gzip.NewWriter(w)
		if err = writeFormatted(gz, format, res); err != nil {
			gz.Close() // nolint: errcheck
			return errors.Wrapf(err, "%v: write failed", path)
		}
		return errors.Wrapf(gz.Close(), "%v: failed to finish gzip stream", path)
	}
	return errors.Wrapf(writeFormatted(w, format, res), "%v: write failed", path)
}

func writeFormatted(w io.Writer, format outputFormat, res depth.Result) error {
	if format == formatJSON {
		return writeJSON(w, res)
	}
	return writeTSV(w, res)
}

// writeTSV writes one "position<TAB>depth" line per entry, without a header.
func writeTSV(w io.Writer, res depth.Result) error {
	outTSV := tsv.NewWriter(w)
	for i, pos := range res.Positions {
		outTSV.WriteUint32(uint32(pos))
		outTSV.WriteUint32(res.Depths[i])
		if err := outTSV.EndLine(); err != nil {
			return err
		}
	}
	return outTSV.Flush()
}

// writeJSON writes a JSON object mapping each position to its depth, in
// position order, indented by four spaces.
func writeJSON(w io.Writer, res depth.Result) error {
	bw := bufio.NewWriter(w)
	if res.Len() == 0 {
		bw.WriteString("{}\n") // nolint: errcheck
		return bw.Flush()
	}
	bw.WriteString("{\n") // nolint: errcheck
	var buf []byte
	for i, pos := range res.Positions {
		buf = buf[:0]
		if i > 0 {
			buf = append(buf, ",\n"...)
		}
		buf = append(buf, `    "`...)
		buf = strconv.AppendInt(buf, int64(pos), 10)
		buf = append(buf, `": `...)
		buf = strconv.AppendUint(buf, uint64(res.Depths[i]), 10)
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	bw.WriteString("\n}\n") // nolint: errcheck
	return bw.Flush()
}
