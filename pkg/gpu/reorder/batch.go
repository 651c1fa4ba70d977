// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/internal/workerspool"
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/layouts"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Job is one reorder to generate in a Batch.
type Job struct {
	Name     string
	Src, Dst layouts.Layout
}

// Result of one Job.
type Result struct {
	// Session identifies the Batch.Generate call that produced the result.
	Session uuid.UUID

	Job Job

	// Program holds the generated instructions. The source tensor is expected at register SrcGRF, and the
	// destination tensor is written at register DstGRF.
	Program        *isa.Program
	SrcGRF, DstGRF int

	// PeakGRFs is the largest number of registers in use during the generation, including source and
	// destination.
	PeakGRFs int

	// Err is set if the generation failed, e.g. for an unsupported conversion.
	Err error
}

// Batch generates independent reorders in parallel, each one with its own program and register allocator.
type Batch struct {
	info *hw.Info
	cfg  *Config
	pool *workerspool.Pool
}

// NewBatch creates a Batch for the device. The configuration is shared (read-only) by all jobs.
func NewBatch(info *hw.Info, cfg *Config) *Batch {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Batch{info: info, cfg: cfg, pool: workerspool.New()}
}

// SetMaxParallelism sets the maximum number of jobs generated concurrently. 0 generates them inline, in
// order. It must not be called during Generate.
func (b *Batch) SetMaxParallelism(n int) *Batch {
	b.pool.SetMaxParallelism(n)
	return b
}

// Generate generates all jobs and returns their results, in the same order. Failures are reported per job,
// in Result.Err.
func (b *Batch) Generate(jobs []Job) []Result {
	session := uuid.New()
	results := make([]Result, len(jobs))
	b.pool.ForEach(len(jobs), func(i int) {
		results[i] = b.generate(session, jobs[i])
	})
	if klog.V(1).Enabled() {
		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		klog.Infof("reorder batch %s: %d jobs, %d failed", session, len(jobs), failed)
	}
	return results
}

func (b *Batch) generate(session uuid.UUID, job Job) (res Result) {
	res = Result{Session: session, Job: job, Program: isa.NewProgram(b.info)}
	grf := int64(b.info.GRFBytes)
	err := exceptions.TryCatch[error](func() {
		alloc := regalloc.NewAllocator(b.info)
		scope := regalloc.NewScope(alloc)
		srcRange := scope.AllocRange(int(xmath.DivUp(job.Src.Size(), grf)))
		dstRange := scope.AllocRange(int(xmath.DivUp(job.Dst.Size(), grf)))
		res.SrcGRF, res.DstGRF = srcRange.Base, dstRange.Base
		r := New(b.info, job.Src, job.Dst, WithConfig(b.cfg))
		r.Emit(res.Program, scope, isa.NewRegBufData(srcRange, job.Src.DType()),
			isa.NewRegBufData(dstRange, job.Dst.DType()))
		res.PeakGRFs = alloc.Peak()
	})
	if err != nil {
		res.Err = errors.WithMessagef(err, "reorder job %q", job.Name)
	}
	return
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: failed: %v", r.Job.Name, r.Err)
	}
	return fmt.Sprintf("%s: %s -> %s, %d instructions", r.Job.Name, r.Job.Src, r.Job.Dst, r.Program.Len())
}
