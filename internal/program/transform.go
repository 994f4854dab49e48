package program

import (
	"fmt"
	"strings"

	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

var comps = [4]string{"x", "y", "z", "w"}

// Transpose builds a dimension permutation: output dimension i takes input
// dimension perm[i]. The inverse index map is baked into the body text;
// since the body participates in the cache key this stays cache-safe.
func Transpose(xShape tensor.Shape, perm []int) (*Descriptor, error) {
	if err := checkRank(xShape); err != nil {
		return nil, err
	}
	rank := len(xShape)
	if rank < 2 {
		return nil, fmt.Errorf("program: transpose expects rank >= 2, got %v", xShape)
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("program: transpose permutation %v does not match rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	for _, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("program: invalid transpose permutation %v", perm)
		}
		seen[p] = true
	}

	outShape := make(tensor.Shape, rank)
	for i, p := range perm {
		outShape[i] = xShape[p]
	}

	// Input coordinate perm[i] equals output coordinate i.
	inParts := make([]string, rank)
	for i, p := range perm {
		inParts[p] = "coords." + comps[i]
	}
	ct, _ := shader.CoordType(rank)
	body := fmt.Sprintf(`
@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>) {
  let index = i32(globalId.x);
  if (index >= outSize()) {
    return;
  }
  let coords = getOutputCoords(globalId);
  let inCoords = %s(%s);
  setOutputFlat(index, x[getFlatIndex%dD(inCoords, uniforms.xShape)]);
}
`, ct, strings.Join(inParts, ", "), rank)

	d := &Descriptor{
		Name:          "transpose",
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.FlattenLayout(rank),
		WorkGroupSize: shader.ComputeWorkGroupSize(outShape),
		Variables:     []string{"x"},
		Source:        body,
	}
	return d.finalize(), nil
}

// Pad builds a constant-value padding: paddings[i] is the (before, after)
// pair for dimension i. The offsets and fill value are baked into the body.
func Pad(xShape tensor.Shape, paddings [][2]int, value float32) (*Descriptor, error) {
	if err := checkRank(xShape); err != nil {
		return nil, err
	}
	rank := len(xShape)
	if rank == 0 || len(paddings) != rank {
		return nil, fmt.Errorf("program: pad expects one (before, after) pair per dimension, got %d for rank %d",
			len(paddings), rank)
	}
	outShape := make(tensor.Shape, rank)
	for i, p := range paddings {
		if p[0] < 0 || p[1] < 0 {
			return nil, fmt.Errorf("program: negative padding %v on dimension %d", p, i)
		}
		outShape[i] = xShape[i] + p[0] + p[1]
	}

	var shift, inBounds string
	if rank == 1 {
		shift = fmt.Sprintf("coords - %d", paddings[0][0])
		inBounds = "inCoords >= 0 && inCoords < uniforms.xShape"
	} else {
		offsets := make([]string, rank)
		for i, p := range paddings {
			offsets[i] = fmt.Sprintf("%d", p[0])
		}
		ct, _ := shader.CoordType(rank)
		shift = fmt.Sprintf("coords - %s(%s)", ct, strings.Join(offsets, ", "))
		inBounds = fmt.Sprintf("all(inCoords >= %s(0)) && all(inCoords < uniforms.xShape)", ct)
	}
	body := fmt.Sprintf(`
@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>) {
  let index = i32(globalId.x);
  if (index >= outSize()) {
    return;
  }
  let coords = getOutputCoords(globalId);
  let inCoords = %s;
  if (%s) {
    setOutputFlat(index, x[getFlatIndex%dD(inCoords, uniforms.xShape)]);
  } else {
    setOutputFlat(index, f32(%v));
  }
}
`, shift, inBounds, rank, value)

	d := &Descriptor{
		Name:          "pad",
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.FlattenLayout(rank),
		WorkGroupSize: shader.ComputeWorkGroupSize(outShape),
		Variables:     []string{"x"},
		Source:        body,
	}
	return d.finalize(), nil
}

// resizeBilinearBody samples four neighbors around the scaled source
// position and blends them. Scale factors arrive as f32 uniforms so one
// compiled program serves every extent pair of the same rank.
const resizeBilinearBody = `
@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>) {
  let index = i32(globalId.x);
  if (index >= outSize()) {
    return;
  }
  let coords = getOutputCoords(globalId);
  let batch = coords.x;
  let depth = coords.w;

  let srcR = f32(coords.y) * uniforms.scaleH;
  let srcC = f32(coords.z) * uniforms.scaleW;
  let r0 = i32(floor(srcR));
  let c0 = i32(floor(srcC));
  let r1 = min(r0 + 1, uniforms.xShape.y - 1);
  let c1 = min(c0 + 1, uniforms.xShape.z - 1);
  let fracR = srcR - f32(r0);
  let fracC = srcC - f32(c0);

  let topLeft = x[getFlatIndex4D(vec4<i32>(batch, r0, c0, depth), uniforms.xShape)];
  let topRight = x[getFlatIndex4D(vec4<i32>(batch, r0, c1, depth), uniforms.xShape)];
  let bottomLeft = x[getFlatIndex4D(vec4<i32>(batch, r1, c0, depth), uniforms.xShape)];
  let bottomRight = x[getFlatIndex4D(vec4<i32>(batch, r1, c1, depth), uniforms.xShape)];

  let top = topLeft + (topRight - topLeft) * fracC;
  let bottom = bottomLeft + (bottomRight - bottomLeft) * fracC;
  setOutputFlat(index, top + (bottom - top) * fracR);
}
`

// ResizeBilinear builds a bilinear resampling of an NHWC input to
// [batch, newHeight, newWidth, channels]. With alignCorners the corner
// pixels of input and output coincide.
func ResizeBilinear(xShape tensor.Shape, newHeight, newWidth int, alignCorners bool) (*Descriptor, error) {
	if len(xShape) != 4 {
		return nil, fmt.Errorf("program: resizeBilinear expects NHWC input, got %v", xShape)
	}
	if newHeight <= 0 || newWidth <= 0 {
		return nil, fmt.Errorf("program: resizeBilinear target %dx%d must be positive", newHeight, newWidth)
	}
	outShape := tensor.Shape{xShape[0], newHeight, newWidth, xShape[3]}

	scale := func(in, out int) float32 {
		if alignCorners && out > 1 {
			return float32(in-1) / float32(out-1)
		}
		return float32(in) / float32(out)
	}

	d := &Descriptor{
		Name:          "resize_bilinear",
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.FlattenLayout(4),
		WorkGroupSize: shader.ComputeWorkGroupSize(outShape),
		Variables:     []string{"x"},
		UniformFields: []shader.UniformField{
			{Name: "scaleH", Type: "f32"},
			{Name: "scaleW", Type: "f32"},
		},
		UniformValues: []uint32{
			floatBits(scale(xShape[1], newHeight)),
			floatBits(scale(xShape[2], newWidth)),
		},
		Source: resizeBilinearBody,
	}
	return d.finalize(), nil
}
