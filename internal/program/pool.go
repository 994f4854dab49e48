package program

import (
	"fmt"

	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

// maxPoolBody reduces each filter window to its maximum. Padding positions
// are skipped rather than zero-filled so negative activations survive.
const maxPoolBody = `
@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>) {
  let index = i32(globalId.x);
  if (index >= outSize()) {
    return;
  }
  let coords = getOutputCoords(globalId);
  let batch = coords.x;
  let channel = coords.w;

  var best = -3.402823e+38;
  for (var fr = 0; fr < uniforms.filterH; fr = fr + 1) {
    let ih = coords.y * uniforms.strideH - uniforms.padTop + fr * uniforms.dilationH;
    if (ih < 0 || ih >= uniforms.xShape.y) {
      continue;
    }
    for (var fc = 0; fc < uniforms.filterW; fc = fc + 1) {
      let iw = coords.z * uniforms.strideW - uniforms.padLeft + fc * uniforms.dilationW;
      if (iw < 0 || iw >= uniforms.xShape.z) {
        continue;
      }
      best = max(best, x[getFlatIndex4D(vec4<i32>(batch, ih, iw, channel), uniforms.xShape)]);
    }
  }
  setOutputFlat(index, best);
}
`

// MaxPool builds a 2D max pooling over an NHWC input with the given window
// extent and Conv2DParams stride/pad/dilation.
func MaxPool(xShape tensor.Shape, filterH, filterW int, params Conv2DParams) (*Descriptor, error) {
	if len(xShape) != 4 {
		return nil, fmt.Errorf("program: maxpool expects NHWC input, got %v", xShape)
	}
	if filterH <= 0 || filterW <= 0 {
		return nil, fmt.Errorf("program: maxpool filter must be positive, got %dx%d", filterH, filterW)
	}
	p := params.withDefaults()
	outShape := tensor.Shape{
		xShape[0],
		outSpatial(xShape[1], filterH, p.PadTop, p.PadBottom, p.StrideH, p.DilationH),
		outSpatial(xShape[2], filterW, p.PadLeft, p.PadRight, p.StrideW, p.DilationW),
		xShape[3],
	}
	if err := outShape.Validate(); err != nil {
		return nil, fmt.Errorf("program: maxpool produces empty output: %w", err)
	}

	fields := append([]shader.UniformField{
		{Name: "filterH", Type: "i32"},
		{Name: "filterW", Type: "i32"},
	}, convUniformFields...)
	values := append([]uint32{uint32(filterH), uint32(filterW)}, p.uniformValues()...) //nolint:gosec // validated positive

	d := &Descriptor{
		Name:          "maxpool",
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.FlattenLayout(4),
		WorkGroupSize: shader.ComputeWorkGroupSize(outShape),
		Variables:     []string{"x"},
		UniformFields: fields,
		UniformValues: values,
		Source:        maxPoolBody,
	}
	return d.finalize(), nil
}
