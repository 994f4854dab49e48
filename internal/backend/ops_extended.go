package backend

import (
	"fmt"

	"github.com/warpml/warp/internal/program"
	"github.com/warpml/warp/internal/tensor"
)

// BatchMatMul multiplies [B,M,K] x [B,K,N] -> [B,M,N]. Rank-2 inputs are
// treated as batch 1 and the batch dimension is dropped from the result.
// When M, K and N are all divisible by 4 the register-blocked vec4 variant
// runs instead of the plain tiled kernel.
func (b *Backend) BatchMatMul(a, x Handle) (Handle, error) {
	aInfo, err := b.lookup(a)
	if err != nil {
		return 0, err
	}
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}

	a3, drop2D, err := asBatched3D(aInfo.Shape)
	if err != nil {
		return 0, err
	}
	x3, xDrop, err := asBatched3D(xInfo.Shape)
	if err != nil {
		return 0, err
	}
	drop2D = drop2D && xDrop

	var d *program.Descriptor
	if a3[1]%4 == 0 && a3[2]%4 == 0 && x3[2]%4 == 0 {
		d, err = program.MatMulPacked(a3, x3)
	} else {
		d, err = program.MatMul(a3, x3)
	}
	if err != nil {
		return 0, err
	}

	out, err := b.compileAndRun(d, []Handle{a, x}, []tensor.Shape{a3, x3})
	if err != nil {
		return 0, err
	}
	if !drop2D {
		return out, nil
	}
	flat, err := b.Reshape(out, tensor.Shape{d.OutputShape[1], d.OutputShape[2]})
	if err != nil {
		return 0, err
	}
	return flat, b.DisposeData(out)
}

// asBatched3D views a rank-2 or rank-3 shape as [B,M,N], reporting whether
// the batch dimension was synthesized.
func asBatched3D(s tensor.Shape) (tensor.Shape, bool, error) {
	switch len(s) {
	case 2:
		return tensor.Shape{1, s[0], s[1]}, true, nil
	case 3:
		return s, false, nil
	default:
		return nil, false, fmt.Errorf("backend: matmul expects rank 2 or 3, got %v", s)
	}
}

// Conv2D convolves an NHWC input with an HWIO filter.
func (b *Backend) Conv2D(x, w Handle, params program.Conv2DParams) (Handle, error) {
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	wInfo, err := b.lookup(w)
	if err != nil {
		return 0, err
	}
	d, err := program.Conv2DMM(xInfo.Shape, wInfo.Shape, params)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{x, w}, nil)
}

// DepthwiseConv2D convolves each input channel with its own filter stack.
func (b *Backend) DepthwiseConv2D(x, w Handle, params program.Conv2DParams) (Handle, error) {
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	wInfo, err := b.lookup(w)
	if err != nil {
		return 0, err
	}
	d, err := program.DepthwiseConv2D(xInfo.Shape, wInfo.Shape, params)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{x, w}, nil)
}

// MaxPool runs 2D max pooling over an NHWC input.
func (b *Backend) MaxPool(x Handle, filterH, filterW int, params program.Conv2DParams) (Handle, error) {
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	d, err := program.MaxPool(xInfo.Shape, filterH, filterW, params)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{x}, nil)
}

// Transpose permutes dimensions: output dim i takes input dim perm[i].
func (b *Backend) Transpose(x Handle, perm []int) (Handle, error) {
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	d, err := program.Transpose(xInfo.Shape, perm)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{x}, nil)
}

// Pad surrounds x with a constant value; paddings[i] is the (before, after)
// pair for dimension i.
func (b *Backend) Pad(x Handle, paddings [][2]int, value float32) (Handle, error) {
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	d, err := program.Pad(xInfo.Shape, paddings, value)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{x}, nil)
}

// ResizeBilinear resamples an NHWC input to the given spatial extent.
func (b *Backend) ResizeBilinear(x Handle, newHeight, newWidth int, alignCorners bool) (Handle, error) {
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	d, err := program.ResizeBilinear(xInfo.Shape, newHeight, newWidth, alignCorners)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{x}, nil)
}

// argReduce validates the innermost-axis precondition shared by ArgMin and
// ArgMax. axis may be negative to count from the end.
func (b *Backend) argReduce(x Handle, axis int, build func(tensor.Shape) (*program.Descriptor, error)) (Handle, error) {
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	rank := len(xInfo.Shape)
	if axis < 0 {
		axis += rank
	}
	if axis != rank-1 {
		return 0, fmt.Errorf("backend: arg reduction supports only the innermost axis, got axis %d of rank %d", axis, rank)
	}
	d, err := build(xInfo.Shape)
	if err != nil {
		return 0, err
	}
	return b.compileAndRun(d, []Handle{x}, nil)
}

// ArgMax returns int32 indices of the maxima along the innermost axis.
func (b *Backend) ArgMax(x Handle, axis int) (Handle, error) {
	return b.argReduce(x, axis, program.ArgMax)
}

// ArgMin returns int32 indices of the minima along the innermost axis.
func (b *Backend) ArgMin(x Handle, axis int) (Handle, error) {
	return b.argReduce(x, axis, program.ArgMin)
}

// Concat joins tensors along axis. Every input must match the first in
// rank and in every dimension except axis. The inputs are viewed as rank-2
// [pre-axis product, axis*post-axis product] matrices so a single
// column-concatenation program covers any rank and axis.
func (b *Backend) Concat(handles []Handle, axis int) (Handle, error) {
	if len(handles) == 0 {
		return 0, fmt.Errorf("backend: concat of zero tensors")
	}
	infos := make([]*TensorInfo, len(handles))
	for i, h := range handles {
		info, err := b.lookup(h)
		if err != nil {
			return 0, err
		}
		infos[i] = info
	}
	first := infos[0].Shape
	rank := len(first)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("backend: concat axis %d out of range for rank %d", axis, rank)
	}

	outShape := first.Clone()
	outShape[axis] = 0
	views := make([]tensor.Shape, len(infos))
	for i, info := range infos {
		s := info.Shape
		if len(s) != rank {
			return 0, fmt.Errorf("backend: concat rank mismatch: %v vs %v", s, first)
		}
		for dim := 0; dim < rank; dim++ {
			if dim != axis && s[dim] != first[dim] {
				return 0, fmt.Errorf("backend: concat shape mismatch on dimension %d: %v vs %v", dim, s, first)
			}
		}
		outShape[axis] += s[axis]

		rows, cols := 1, 1
		for dim := 0; dim < axis; dim++ {
			rows *= s[dim]
		}
		for dim := axis; dim < rank; dim++ {
			cols *= s[dim]
		}
		views[i] = tensor.Shape{rows, cols}
	}

	if len(handles) == 1 {
		// Nothing to join; alias the input.
		return b.Reshape(handles[0], first)
	}

	d, err := program.Concat2D(views)
	if err != nil {
		return 0, err
	}
	out, err := b.compileAndRun(d, handles, views)
	if err != nil {
		return 0, err
	}
	full, err := b.Reshape(out, outShape)
	if err != nil {
		return 0, err
	}
	return full, b.DisposeData(out)
}
