package program

import (
	"fmt"

	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

// Conv2DParams carries the spatial parameters of a convolution or pooling
// window. Tensors are NHWC; filters are [filterH, filterW, inChannels,
// outChannels] (or channel-multiplier for depthwise).
type Conv2DParams struct {
	StrideH, StrideW     int
	PadTop, PadBottom    int
	PadLeft, PadRight    int
	DilationH, DilationW int
}

// withDefaults fills zero strides/dilations with 1.
func (p Conv2DParams) withDefaults() Conv2DParams {
	if p.StrideH == 0 {
		p.StrideH = 1
	}
	if p.StrideW == 0 {
		p.StrideW = 1
	}
	if p.DilationH == 0 {
		p.DilationH = 1
	}
	if p.DilationW == 0 {
		p.DilationW = 1
	}
	return p
}

// outSpatial computes one output extent of a windowed op.
func outSpatial(in, filter, padBefore, padAfter, stride, dilation int) int {
	effective := dilation*(filter-1) + 1
	return (in+padBefore+padAfter-effective)/stride + 1
}

// uniformValues returns the packed scalar parameters shared by the
// convolution-family programs, matching convUniformFields order.
func (p Conv2DParams) uniformValues() []uint32 {
	return []uint32{
		uint32(p.PadTop), uint32(p.PadLeft), //nolint:gosec // small non-negative params
		uint32(p.StrideH), uint32(p.StrideW), //nolint:gosec
		uint32(p.DilationH), uint32(p.DilationW), //nolint:gosec
	}
}

var convUniformFields = []shader.UniformField{
	{Name: "padTop", Type: "i32"},
	{Name: "padLeft", Type: "i32"},
	{Name: "strideH", Type: "i32"},
	{Name: "strideW", Type: "i32"},
	{Name: "dilationH", Type: "i32"},
	{Name: "dilationW", Type: "i32"},
}

// conv2DMMReaders redefines the matmul readers with implicit im2col index
// translation: virtual matrix A is [outHeight*outWidth, filterH*filterW*
// inChannels] sampled from the padded input, virtual matrix B is the filter
// flattened to [filterH*filterW*inChannels, outChannels]. Out-of-bounds
// (padding) positions read as zero, so the shared matmul core needs no
// special cases.
const conv2DMMReaders = `
fn mm_dimInner() -> i32 {
  return uniforms.wShape.x * uniforms.wShape.y * uniforms.wShape.z;
}
fn mm_readA(batch : i32, row : i32, col : i32) -> f32 {
  let outWidth = uniforms.outShape.z;
  let inChannels = uniforms.wShape.z;
  let filterWidth = uniforms.wShape.y;
  let oh = row / outWidth;
  let ow = row % outWidth;
  let fr = col / (filterWidth * inChannels);
  let rem = col % (filterWidth * inChannels);
  let fc = rem / inChannels;
  let ci = rem % inChannels;
  let ih = oh * uniforms.strideH - uniforms.padTop + fr * uniforms.dilationH;
  let iw = ow * uniforms.strideW - uniforms.padLeft + fc * uniforms.dilationW;
  if (row < uniforms.outShape.y * uniforms.outShape.z && col < mm_dimInner() &&
      ih >= 0 && ih < uniforms.xShape.y && iw >= 0 && iw < uniforms.xShape.z) {
    return x[getFlatIndex4D(vec4<i32>(batch, ih, iw, ci), uniforms.xShape)];
  }
  return 0.0;
}
fn mm_readB(batch : i32, row : i32, col : i32) -> f32 {
  if (row < mm_dimInner() && col < uniforms.wShape.w) {
    return W[row * uniforms.wShape.w + col];
  }
  return 0.0;
}
fn mm_write(batch : i32, row : i32, col : i32, value : f32) {
  if (row < uniforms.outShape.y * uniforms.outShape.z && col < uniforms.outShape.w) {
    let outWidth = uniforms.outShape.z;
    setOutput(batch, row / outWidth, row % outWidth, col, value);
  }
}
`

// Conv2DMM builds a 2D convolution expressed as an implicit matrix multiply
// over the NHWC output [batch, outH, outW, outChannels]: columns (output
// channels) dispatch on x, the fused outH*outW row space on y, batch on z.
// The body reuses the tiled matmul core unchanged.
func Conv2DMM(xShape, wShape tensor.Shape, params Conv2DParams) (*Descriptor, error) {
	if len(xShape) != 4 || len(wShape) != 4 {
		return nil, fmt.Errorf("program: conv2d expects NHWC input and HWIO filter, got %v and %v", xShape, wShape)
	}
	if xShape[3] != wShape[2] {
		return nil, fmt.Errorf("program: conv2d channel mismatch: input has %d, filter expects %d", xShape[3], wShape[2])
	}
	p := params.withDefaults()
	outShape := tensor.Shape{
		xShape[0],
		outSpatial(xShape[1], wShape[0], p.PadTop, p.PadBottom, p.StrideH, p.DilationH),
		outSpatial(xShape[2], wShape[1], p.PadLeft, p.PadRight, p.StrideW, p.DilationW),
		wShape[3],
	}
	if err := outShape.Validate(); err != nil {
		return nil, fmt.Errorf("program: conv2d produces empty output: %w", err)
	}

	d := &Descriptor{
		Name:          "conv2d_mm",
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.DispatchLayout{X: []int{3}, Y: []int{1, 2}, Z: []int{0}},
		WorkGroupSize: [3]int{matMulTileSize, matMulTileSize, 1},
		Variables:     []string{"x", "W"},
		UniformFields: convUniformFields,
		UniformValues: p.uniformValues(),
		Source:        conv2DMMReaders + matMulCore,
	}
	return d.finalize(), nil
}

// depthwiseBody loops directly over the filter window per output element.
// Output channel d2 decomposes into (inChannel, multiplier) against the
// [filterH, filterW, inChannels, multiplier] filter.
const depthwiseBody = `
@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>) {
  let index = i32(globalId.x);
  if (index >= outSize()) {
    return;
  }
  let coords = getOutputCoords(globalId);
  let batch = coords.x;
  let multiplier = uniforms.wShape.w;
  let ci = coords.w / multiplier;
  let q = coords.w % multiplier;

  var acc = 0.0;
  for (var fr = 0; fr < uniforms.wShape.x; fr = fr + 1) {
    let ih = coords.y * uniforms.strideH - uniforms.padTop + fr * uniforms.dilationH;
    if (ih < 0 || ih >= uniforms.xShape.y) {
      continue;
    }
    for (var fc = 0; fc < uniforms.wShape.y; fc = fc + 1) {
      let iw = coords.z * uniforms.strideW - uniforms.padLeft + fc * uniforms.dilationW;
      if (iw < 0 || iw >= uniforms.xShape.z) {
        continue;
      }
      acc = acc + x[getFlatIndex4D(vec4<i32>(batch, ih, iw, ci), uniforms.xShape)] *
                  W[getFlatIndex4D(vec4<i32>(fr, fc, ci, q), uniforms.wShape)];
    }
  }
  setOutputFlat(index, acc);
}
`

// DepthwiseConv2D builds a depthwise convolution: NHWC input, filter
// [filterH, filterW, inChannels, channelMultiplier], output
// [batch, outH, outW, inChannels*channelMultiplier].
func DepthwiseConv2D(xShape, wShape tensor.Shape, params Conv2DParams) (*Descriptor, error) {
	if len(xShape) != 4 || len(wShape) != 4 {
		return nil, fmt.Errorf("program: depthwise conv2d expects NHWC input and HWCM filter, got %v and %v", xShape, wShape)
	}
	if xShape[3] != wShape[2] {
		return nil, fmt.Errorf("program: depthwise conv2d channel mismatch: input has %d, filter expects %d", xShape[3], wShape[2])
	}
	p := params.withDefaults()
	outShape := tensor.Shape{
		xShape[0],
		outSpatial(xShape[1], wShape[0], p.PadTop, p.PadBottom, p.StrideH, p.DilationH),
		outSpatial(xShape[2], wShape[1], p.PadLeft, p.PadRight, p.StrideW, p.DilationW),
		xShape[3] * wShape[3],
	}
	if err := outShape.Validate(); err != nil {
		return nil, fmt.Errorf("program: depthwise conv2d produces empty output: %w", err)
	}

	d := &Descriptor{
		Name:          "depthwise_conv2d",
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.FlattenLayout(4),
		WorkGroupSize: shader.ComputeWorkGroupSize(outShape),
		Variables:     []string{"x", "W"},
		UniformFields: convUniformFields,
		UniformValues: p.uniformValues(),
		Source:        depthwiseBody,
	}
	return d.finalize(), nil
}
