// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compute

import (
	"math"

	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
)

// NoVecAxis is passed to GetOptimalLWS when no axis holds a vectorized dimension.
const NoVecAxis = -1

// MaxWorkGroupSize is the largest number of work items in one work-group considered.
const MaxWorkGroupSize = 256

// maxUint32 is the hardware limit for a work size along one axis, in units of work-groups.
const maxUint32 = int64(math.MaxUint32)

var (
	// Candidate sizes, preferred first.
	optimalLWSValues    = []int64{256, 224, 192, 160, 128, 96, 64, 32, 16, 8, 7, 6, 5, 4, 3, 2, 1}
	optimalVectorValues = []int64{256, 128, 64, 32, 16, 8, 4, 2, 1}
)

// matchLWS returns the first candidate that is <= maxLWS and divides gws, but at least minLWS.
func matchLWS(values []int64, gws, maxLWS, minLWS int64) int64 {
	idx := 0
	for idx < len(values)-1 && values[idx] > maxLWS {
		idx++
	}
	for idx < len(values)-1 && gws%values[idx] != 0 {
		idx++
	}
	if values[idx] < minLWS {
		return minLWS
	}
	return values[idx]
}

// GetOptimalLWS returns a local work size for gws: the largest candidate work-group that divides the
// global size, at most MaxWorkGroupSize work items in total.
//
// vecAxis is the axis holding the vectorized dimension (or NoVecAxis): from XeHP on, sub-groups must be
// contained in that axis, so only power-of-2 sizes are considered for it.
//
// gws is modified in place: each axis is rounded up to a multiple of the returned local size.
func GetOptimalLWS(gws Range, vecAxis int, gen hw.Gen) Range {
	ndims := gws.NDims()

	// Each axis, in units of work-groups, must fit in 32 bits.
	lwsMin := Empty(ndims)
	for ii := range ndims {
		lwsMin[ii] = xmath.DivUp(gws[ii], maxUint32)
	}
	lwsMax := Empty(ndims)
	minSoFar := int64(1)
	for ii := ndims - 1; ii >= 0; ii-- {
		lwsMax[ii] = max(MaxWorkGroupSize/minSoFar, 1)
		minSoFar *= lwsMin[ii]
	}

	// Strategy 1: whole work-group on the first axis.
	lws1D := One(ndims)
	if ndims > 0 && lwsMin.NElems() == lwsMin[0] {
		lws1D[0] = matchLWS(optimalLWSValues, gws[0], lwsMax[0], lwsMin[0])
	}

	// Strategy 2: greedy over all axes.
	lwsND := One(ndims)
	total := int64(1)
	for ii := range ndims {
		rest := max(lwsMax[ii]/total, 1)
		var lws int64
		if ii == vecAxis && gen >= hw.XeHP {
			lws = matchLWS(optimalVectorValues, gws[ii], rest, xmath.RndUpPow2(lwsMin[ii]))
		} else {
			lws = matchLWS(optimalLWSValues, gws[ii], rest, lwsMin[ii])
		}
		lwsND[ii] = lws
		total *= lws
	}

	lws := lws1D
	if lwsND.NElems() >= lws1D.NElems() {
		lws = lwsND
	}
	for ii := range ndims {
		gws[ii] = xmath.RndUp(gws[ii], lws[ii])
	}
	return lws
}
