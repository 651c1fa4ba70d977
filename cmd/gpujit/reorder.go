// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/core/layouts"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
	"github.com/gomlx/gpujit/pkg/gpu/reorder"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// allocElems allocates registers for elems elements of dtype.
func allocElems(scope *regalloc.Scope, elems int, dtype dtypes.DType) isa.RegBufData {
	bytes := xmath.DivUp(max(elems, 1)*dtype.Bits(), 8)
	return scope.AllocRegBufData(xmath.DivUp(bytes, scope.Info().GRFBytes), dtype)
}

func runReorder(dev *hw.Info) {
	srcType := must.M1(dtypes.FromName(*flagSrc))
	dstType := must.M1(dtypes.FromName(*flagDst))
	width, ss, ds := *flagWidth, *flagSrcStride, *flagDstStride
	strategy := reorder.Strategy(dev, srcType, dstType, width, ss, ds)
	if strategy == "" {
		klog.Exitf("Conversion from %s to %s is not supported.", srcType, dstType)
	}

	alloc := regalloc.NewAllocator(dev)
	scope := regalloc.NewScope(alloc)
	defer scope.Release()
	src := allocElems(scope, width*max(ss, 1), srcType)
	dst := allocElems(scope, width*max(ds, 1), dstType)
	prog := isa.NewProgram(dev)
	reorder.Emit1D(prog, scope, width, src, ss, dst, ds)

	printSummary(fmt.Sprintf("Reorder %s(%d) -> %s(%d) x %d", srcType, ss, dstType, ds, width),
		"strategy", strategy,
		"source", fmt.Sprintf("r%d", src.Range().Base),
		"destination", fmt.Sprintf("r%d", dst.Range().Base),
		"# instructions", humanize.Comma(int64(prog.Len())),
		"peak registers", fmt.Sprintf("%d (%s)", alloc.Peak(), humanize.Bytes(uint64(alloc.Peak()*dev.GRFBytes))))
	fmt.Print(prog.String())
}

// parseShapes parses "MxN,...".
func parseShapes(s string) ([][2]int64, error) {
	var shapes [][2]int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mStr, nStr, found := strings.Cut(part, "x")
		if !found {
			return nil, errors.Errorf("invalid shape %q, expected MxN", part)
		}
		m, err := strconv.ParseInt(mStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid shape %q", part)
		}
		n, err := strconv.ParseInt(nStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid shape %q", part)
		}
		if m <= 0 || n <= 0 {
			return nil, errors.Errorf("invalid shape %q, dimensions must be positive", part)
		}
		shapes = append(shapes, [2]int64{m, n})
	}
	return shapes, nil
}

// transposeJobs returns the jobs that transpose dense (row-major) tensors of the shapes to column-major.
func transposeJobs(dtype dtypes.DType, shapes [][2]int64) []reorder.Job {
	jobs := make([]reorder.Job, 0, len(shapes))
	for _, shape := range shapes {
		m, n := shape[0], shape[1]
		jobs = append(jobs, reorder.Job{
			Name: fmt.Sprintf("%dx%d", m, n),
			Src:  layouts.MakeDense(dtype, m, n),
			Dst:  layouts.New(dtype, 2, 0, []layouts.Block{{Dim: 0, Size: m, Stride: 1}, {Dim: 1, Size: n, Stride: m}}),
		})
	}
	return jobs
}

func runTranspose(dev *hw.Info) {
	dtype := must.M1(dtypes.FromName(*flagSrc))
	shapes := must.M1(parseShapes(*flagTranspose))
	batch := reorder.NewBatch(dev, nil).SetMaxParallelism(*flagParallelism)
	results := batch.Generate(transposeJobs(dtype, shapes))
	if len(results) == 0 {
		return
	}

	table := newReport(fmt.Sprintf("Transposes of %s (session %s)", dtype, results[0].Session),
		[]string{"Job", "Source", "Destination", "# instructions", "Peak registers", "Error"},
		lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	for _, r := range results {
		if r.Err != nil {
			table.Row(rowFailure, r.Job.Name, r.Job.Src.String(), r.Job.Dst.String(), "-", "-", r.Err.Error())
			continue
		}
		table.Row(rowPlain, r.Job.Name, r.Job.Src.String(), r.Job.Dst.String(), humanize.Comma(int64(r.Program.Len())),
			fmt.Sprintf("%d (%s)", r.PeakGRFs, humanize.Bytes(uint64(r.PeakGRFs*dev.GRFBytes))), "")
	}
	table.Print()
	if n := table.Count(rowFailure); n > 0 {
		klog.Errorf("%d of %d transposes failed.", n, table.Len())
	}
}
