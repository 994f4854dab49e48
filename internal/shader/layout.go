// Package shader synthesizes WGSL compute-shader source for tensor programs.
//
// It is split into three pure pieces: dispatch-geometry helpers (this file),
// uniform-buffer packing (uniforms.go) and the source preprocessor that
// assembles the final shader text (preprocessor.go). Nothing in this package
// touches the device; everything is deterministic given its inputs.
package shader

import (
	"errors"
	"fmt"

	"github.com/warpml/warp/internal/tensor"
)

// ErrUnsupportedRank is returned for tensors with more than 4 dimensions.
var ErrUnsupportedRank = errors.New("shader: tensor rank > 4 is not supported")

// DispatchLayout assigns output-tensor dimension indices to the three
// hardware dispatch axes. A dimension listed under X/Y/Z is parallelized on
// that axis; dimensions listed nowhere are dropped from dispatch geometry
// and must be covered by loops inside the shader body.
type DispatchLayout struct {
	X []int
	Y []int
	Z []int
}

// FlattenLayout maps every dimension of a rank-n output onto the x axis.
// This is the layout used by all element-wise programs.
func FlattenLayout(rank int) DispatchLayout {
	dims := make([]int, rank)
	for i := range dims {
		dims[i] = i
	}
	return DispatchLayout{X: dims}
}

// axes returns the per-axis dimension lists in x, y, z order.
func (l DispatchLayout) axes() [3][]int {
	return [3][]int{l.X, l.Y, l.Z}
}

// Covers reports whether dim is assigned to any dispatch axis.
func (l DispatchLayout) Covers(dim int) bool {
	for _, axis := range l.axes() {
		for _, d := range axis {
			if d == dim {
				return true
			}
		}
	}
	return false
}

// CoordType returns the WGSL type used for coordinates of the given rank:
// a scalar i32 for rank 0 or 1, an integer vector otherwise.
func CoordType(rank int) (string, error) {
	switch {
	case rank <= 1:
		return "i32", nil
	case rank <= 4:
		return fmt.Sprintf("vec%d<i32>", rank), nil
	default:
		return "", fmt.Errorf("%w: rank %d", ErrUnsupportedRank, rank)
	}
}

// workGroupThresholds is the descending ladder ComputeWorkGroupSize picks
// the x dimension from.
var workGroupThresholds = []int{512, 256, 128, 64, 32, 16}

// ComputeWorkGroupSize picks a 1-D workgroup size for an output shape:
// the largest ladder entry not exceeding the total element count, or 16.
func ComputeWorkGroupSize(outputShape tensor.Shape) [3]int {
	size := outputShape.NumElements()
	for _, t := range workGroupThresholds {
		if size >= t {
			return [3]int{t, 1, 1}
		}
	}
	return [3]int{16, 1, 1}
}

// ComputeDispatch maps an output shape and a dispatch layout to workgroup
// counts. For each axis the sizes of its assigned dimensions are multiplied
// together and divided (rounding up) by workGroupSize*elementsPerThread for
// that axis. An axis with no assigned dimensions contributes a single
// workgroup.
func ComputeDispatch(layout DispatchLayout, outputShape tensor.Shape, workGroupSize, elementsPerThread [3]int) [3]uint32 {
	var counts [3]uint32
	for axis, dims := range layout.axes() {
		size := 1
		for _, d := range dims {
			size *= outputShape[d]
		}
		perGroup := workGroupSize[axis] * elementsPerThread[axis]
		counts[axis] = uint32((size + perGroup - 1) / perGroup) //nolint:gosec // counts are small and non-negative
	}
	return counts
}

// FlatIndex computes the row-major flat offset of coords within shape.
// It is the Go-side mirror of the generated getFlatIndex WGSL helpers.
func FlatIndex(coords []int, shape tensor.Shape) int {
	index := 0
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		index += coords[i] * stride
		stride *= shape[i]
	}
	return index
}

// DecomposeIndex splits a flat index into row-major coordinates over shape,
// most-significant dimension first. It mirrors the stride decomposition the
// generated getOutputCoords performs for multi-dimension dispatch axes.
func DecomposeIndex(index int, shape tensor.Shape) []int {
	coords := make([]int, len(shape))
	strides := shape.ComputeStrides()
	for i := range shape {
		coords[i] = index / strides[i]
		index -= coords[i] * strides[i]
	}
	return coords
}
