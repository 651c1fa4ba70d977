// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gpujit/pkg/gpu/compute"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// dimSpec is one dimension of -dims.
type dimSpec struct {
	name        string
	size, block int64
}

// parseDims parses "name=size[:block],...".
func parseDims(s string) ([]dimSpec, error) {
	var specs []dimSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || name == "" {
			return nil, errors.Errorf("invalid dimension %q, expected name=size or name=size:block", part)
		}
		sizeStr, blockStr, hasBlock := strings.Cut(value, ":")
		spec := dimSpec{name: name}
		var err error
		spec.size, err = strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid size for dimension %q", name)
		}
		if hasBlock {
			spec.block, err = strconv.ParseInt(blockStr, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid block for dimension %q", name)
			}
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, errors.New("no dimensions given")
	}
	return specs, nil
}

// parseVec parses "name=vector_size".
func parseVec(s string) (name string, vsize int, err error) {
	name, value, found := strings.Cut(s, "=")
	if !found || name == "" {
		return "", 0, errors.Errorf("invalid vectorized dimension %q, expected name=vector_size", s)
	}
	vsize, err = strconv.Atoi(value)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid vector size for dimension %q", name)
	}
	return name, vsize, nil
}

func runDispatch(dev *hw.Info) {
	specs := must.M1(parseDims(*flagDims))
	d := compute.New(dev, nil)
	for _, spec := range specs {
		must.M(d.DefineDimWithBlock(spec.name, spec.size, spec.block))
	}
	if *flagVec != "" {
		name, vsize := must.M2(parseVec(*flagVec))
		must.M(d.VectorizeDim(name, vsize))
	}
	d.Generate(*flagLWS)
	klog.V(1).Infof("dispatch:\n%s", d)

	r := d.NDRange()
	var elems int64 = 1
	for _, dim := range d.Dims() {
		elems *= dim.Size
	}
	printSummary("Dispatch",
		"global", r.Global.String(),
		"local", r.Local.String(),
		"# work items", humanize.Comma(r.Global.NElems()),
		"# elements", humanize.Comma(elems))

	dims := newReport("", []string{"#", "Name", "Size", "Block", "Nesting", "Vector", "GWS index", "GWS stride"},
		lipgloss.Right, lipgloss.Left, lipgloss.Right)
	for ii, dim := range d.Dims() {
		// Padded dimensions are flagged: their last block reads past the logical size.
		status := rowPlain
		if dim.Block > 0 && dim.Size%dim.Block != 0 {
			status = rowWarning
		}
		dims.Row(status, strconv.Itoa(ii), dim.Name, humanize.Comma(dim.Size), strconv.FormatInt(dim.Block, 10),
			strconv.Itoa(dim.NestingLevel), strconv.Itoa(dim.VectorSize), strconv.Itoa(dim.GWSIndex),
			strconv.FormatInt(d.GWSStride(ii), 10))
	}
	dims.Print()

	ctx := compute.NewKernelCtx()
	d.DefKernelMacros(ctx)
	macros := newReport("Kernel macros", []string{"Compiler option"}, lipgloss.Left)
	for _, option := range ctx.CompilerOptions() {
		macros.Row(rowPlain, option)
	}
	macros.Print()
}
