// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/internal/workerspool"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/emulator"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
	"github.com/gomlx/gpujit/pkg/gpu/reorder"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// auditWidth is the number of elements converted per run: enough for full and tail steps.
const auditWidth = 24

// auditSeed seeds the random bit patterns, so audits are reproducible.
const auditSeed = 0x5eed

// auditValues are converted to the source type (rounding and clamping) and checked before the bit patterns.
var auditValues = []float64{0, 1, -1, 0.5, 1.5, 3, -2.5, 100, -100, 1e-3, 448, 65504, 1e30,
	math.Inf(1), math.Inf(-1), math.NaN()}

// strideClasses are the (source, destination) strides audited for each pair.
var strideClasses = [][2]int{{1, 1}, {2, 1}, {1, 2}}

type auditCase struct {
	src, dst dtypes.DType
	ss, ds   int
}

type auditResult struct {
	auditCase
	strategy     string
	instructions int
	inputs       int
	mismatches   int
	firstMiss    string
	deviation    string
	err          error
}

// ok returns whether the pair is unsupported, or matches the reference except for a known deviation.
func (r auditResult) ok() bool {
	return r.strategy == "" || (r.err == nil && (r.mismatches == 0 || r.deviation != ""))
}

// smallExactInHF returns whether every value of t is exactly representable in hf.
func smallExactInHF(t dtypes.DType) bool {
	return t == dtypes.Float16 || t.IsFP8() || t.IsFP4() || (t.IsInt() && t.Bits() <= 8)
}

// knownDeviation returns why the generated conversion from src to dst may differ from a single rounding,
// or "" if it must match exactly. These routes go through an intermediate type, rounding twice.
func knownDeviation(src, dst dtypes.DType) string {
	switch {
	case src == dst:
		return ""
	case dst.IsFP8() && !smallExactInHF(src):
		return "rounds twice, through hf"
	case src == dtypes.Float64 && dst.IsFloat() && dst.Bits() < 32:
		return "rounds twice, through f"
	case dst == dtypes.BFloat16 && src.IsInt() && src.Bits() > 24:
		return "rounds twice, through f"
	case dst.IsFP4() && (src == dtypes.Float16 || src == dtypes.Float32 || src == dtypes.BFloat16):
		return "denormals round twice"
	}
	return ""
}

// auditInputs returns the raw source values checked for src: the curated values first, then the bit
// patterns of the type (every code for small types, and samples random ones for the others).
func auditInputs(src dtypes.DType, samples int) []uint64 {
	inputs := make([]uint64, 0, len(auditValues))
	for _, x := range auditValues {
		inputs = append(inputs, emulator.Convert(dtypes.Float64, src, math.Float64bits(x)))
	}
	return append(inputs, emulator.BitPatterns(src, samples, auditSeed)...)
}

func auditCases() []auditCase {
	var cases []auditCase
	for _, src := range dtypes.All {
		for _, dst := range dtypes.All {
			for _, strides := range strideClasses {
				cases = append(cases, auditCase{src: src, dst: dst, ss: strides[0], ds: strides[1]})
			}
		}
	}
	return cases
}

// sameValue compares raw bits of dtype: floats by value, with all NaNs equal.
func sameValue(dtype dtypes.DType, a, b uint64) bool {
	if !dtype.IsFloat() {
		return a == b
	}
	x := math.Float64frombits(emulator.Convert(dtype, dtypes.Float64, a))
	y := math.Float64frombits(emulator.Convert(dtype, dtypes.Float64, b))
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.IsNaN(x) && math.IsNaN(y)
	}
	return x == y
}

// auditPair generates the conversion once, runs it on the emulator over the inputs, auditWidth at a time,
// and compares each result to the reference.
func auditPair(dev *hw.Info, c auditCase, inputs []uint64) (res auditResult) {
	res.auditCase = c
	res.strategy = reorder.Strategy(dev, c.src, c.dst, auditWidth, c.ss, c.ds)
	if res.strategy == "" || len(inputs) == 0 {
		return
	}
	res.deviation = knownDeviation(c.src, c.dst)
	exception := exceptions.Try(func() {
		alloc := regalloc.NewAllocator(dev)
		scope := regalloc.NewScope(alloc)
		defer scope.Release()
		src := allocElems(scope, auditWidth*c.ss, c.src)
		dst := allocElems(scope, auditWidth*c.ds, c.dst)
		prog := isa.NewProgram(dev)
		reorder.Emit1D(prog, scope, auditWidth, src, c.ss, dst, c.ds)
		res.instructions = prog.Len()

		m := emulator.New(dev)
		for start := 0; start < len(inputs); start += auditWidth {
			// The last chunk wraps around to the first inputs.
			for ii := range auditWidth {
				m.SetElem(src, ii*c.ss, inputs[(start+ii)%len(inputs)])
			}
			m.Run(prog)
			for ii := range min(auditWidth, len(inputs)-start) {
				v := inputs[start+ii]
				want := emulator.Convert(c.src, c.dst, v)
				got := m.Elem(dst, ii*c.ds)
				res.inputs++
				if sameValue(c.dst, want, got) {
					continue
				}
				if res.mismatches == 0 {
					res.firstMiss = fmt.Sprintf("0x%x -> want 0x%x, got 0x%x", v, want, got)
				}
				res.mismatches++
			}
		}
	})
	if exception != nil {
		if err, ok := exception.(error); ok {
			res.err = err
		} else {
			res.err = errors.Errorf("%v", exception)
		}
	}
	return
}

func runAudit(dev *hw.Info) {
	cases := auditCases()
	inputs := make(map[dtypes.DType][]uint64, len(dtypes.All))
	for _, dtype := range dtypes.All {
		inputs[dtype] = auditInputs(dtype, *flagAuditSamples)
	}
	results := make([]auditResult, len(cases))
	bar := progressbar.NewOptions(len(cases),
		progressbar.OptionSetDescription("audit"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	pool := workerspool.New()
	pool.SetMaxParallelism(*flagParallelism)
	pool.ForEach(len(cases), func(i int) {
		results[i] = auditPair(dev, cases[i], inputs[cases[i].src])
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	var supported, checked, instructions int
	pairs := newReport("", []string{"Conversion", "Strides", "Strategy", "# instructions", "# inputs", "Result"},
		lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	for _, r := range results {
		if r.strategy == "" {
			continue
		}
		supported++
		instructions += r.instructions
		checked += r.inputs
		status, result := rowPlain, "ok"
		switch {
		case r.err != nil:
			status, result = rowFailure, r.err.Error()
		case r.mismatches > 0 && r.deviation != "":
			status = rowWarning
			result = fmt.Sprintf("%d mismatches (%s), first %s", r.mismatches, r.deviation, r.firstMiss)
		case r.mismatches > 0:
			status = rowFailure
			result = fmt.Sprintf("%d mismatches, first %s", r.mismatches, r.firstMiss)
		}
		if *flagAuditAll || status != rowPlain {
			pairs.Row(status, fmt.Sprintf("%s -> %s", r.src.ShortName(), r.dst.ShortName()),
				fmt.Sprintf("%d, %d", r.ss, r.ds), r.strategy, humanize.Comma(int64(r.instructions)),
				humanize.Comma(int64(r.inputs)), result)
		}
	}

	printSummary("Audit",
		"# pairs", humanize.Comma(int64(len(cases))),
		"# supported", humanize.Comma(int64(supported)),
		"# failed", humanize.Comma(int64(pairs.Count(rowFailure))),
		"# known deviations", humanize.Comma(int64(pairs.Count(rowWarning))),
		"# inputs checked", humanize.Comma(int64(checked)),
		"# instructions", humanize.Comma(int64(instructions)))
	pairs.Print()
	if pairs.Count(rowFailure) > 0 {
		klog.Errorf("Audit failed%s.", pairs.statusSuffix())
		os.Exit(1)
	}
}
