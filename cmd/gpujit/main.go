// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gpujit inspects the generators of the module: work-size dispatches, register reorders and the audit
// of every supported conversion against the reference (a single saturating mov).
//
// The device is taken from -device, or the GPUJIT_DEVICE environment variable, e.g.:
//
//	gpujit -device=xehpc -dispatch -dims=oc=64,mb=16
//	gpujit -device=xelp -reorder -src=f -dst=bf -width=16
//	gpujit -transpose=4x8,16x16 -src=hf
//	GPUJIT_DEVICE=xelp gpujit -audit
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagDevice = flag.String("device", "", fmt.Sprintf("Device configuration, e.g. \"xehpc\" or \"xelp:eus=32\". "+
		"If empty it uses $%s, or %q.", hw.ConfigEnvVar, hw.DefaultConfig))

	flagDispatch = flag.Bool("dispatch", false, "Generate a dispatch for the dimensions in -dims and print it "+
		"with its kernel macros.")
	flagDims = flag.String("dims", "oc=64,mb=16", "Comma-separated dimensions of the dispatch, innermost first, "+
		"as name=size or name=size:block. A block of 0 lets the dispatcher choose.")
	flagVec = flag.String("vec", "", "Dimension to vectorize, as name=vector_size.")
	flagLWS = flag.Bool("lws", true, "Generate the local work size of the dispatch.")

	flagReorder   = flag.Bool("reorder", false, "Print the instructions of a 1D reorder of -width elements from -src to -dst.")
	flagSrc       = flag.String("src", "f", "Source type, e.g. \"f\", \"bf\", \"hf8\", \"Int4\".")
	flagDst       = flag.String("dst", "bf", "Destination type.")
	flagWidth     = flag.Int("width", 16, "Number of elements of the 1D reorder.")
	flagSrcStride = flag.Int("src_stride", 1, "Stride of the source elements.")
	flagDstStride = flag.Int("dst_stride", 1, "Stride of the destination elements.")

	flagTranspose = flag.String("transpose", "", "Comma-separated list of MxN shapes: generates the transposes "+
		"of dense tensors of type -src in parallel and reports them.")

	flagAudit    = flag.Bool("audit", false, "Check every pair of types and stride classes against the reference.")
	flagAuditAll = flag.Bool("audit_all", false, "With -audit, list every pair, not only the failing ones "+
		"and the known deviations.")
	flagAuditSamples = flag.Int("audit_samples", 4096, "With -audit, number of random bit patterns checked "+
		"for source types wider than 16 bits. Narrower types are checked for every encoding.")

	flagParallelism = flag.Int("parallelism", -1, "Maximum number of generations running in parallel. "+
		"0 runs them sequentially, -1 uses all cores.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'gpujit -help'.", flag.Args())
		os.Exit(1)
	}
	if !*flagDispatch && !*flagReorder && *flagTranspose == "" && !*flagAudit {
		klog.Errorf("Nothing to do: select one of -dispatch, -reorder, -transpose or -audit. See 'gpujit -help'.")
		os.Exit(1)
	}

	var dev *hw.Info
	if *flagDevice != "" {
		dev = must.M1(hw.NewWithConfig(*flagDevice))
	} else {
		dev = must.M1(hw.New())
	}
	fmt.Println(titleStyle.Render("Device: " + dev.String()))

	if *flagDispatch {
		runDispatch(dev)
	}
	if *flagReorder {
		runReorder(dev)
	}
	if *flagTranspose != "" {
		runTranspose(dev)
	}
	if *flagAudit {
		runAudit(dev)
	}
}
