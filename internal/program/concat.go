package program

import (
	"fmt"
	"strings"

	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

// Concat2D builds a column-wise concatenation of rank-2 inputs sharing a row
// count. Higher-rank concatenations collapse to this form on the host: the
// dimensions before the concat axis fuse into rows and the rest into columns.
// Column widths are read from the shape uniforms, so the generated source
// depends only on the input count and one compiled program serves every
// width combination.
func Concat2D(shapes []tensor.Shape) (*Descriptor, error) {
	if len(shapes) < 2 {
		return nil, fmt.Errorf("program: concat expects at least 2 inputs, got %d", len(shapes))
	}
	rows, cols := 0, 0
	variables := make([]string, len(shapes))
	for i, s := range shapes {
		if len(s) != 2 {
			return nil, fmt.Errorf("program: concat input %d is not rank 2: %v", i, s)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("program: concat input %d: %w", i, err)
		}
		if i == 0 {
			rows = s[0]
		} else if s[0] != rows {
			return nil, fmt.Errorf("program: concat row mismatch: input %d has %d rows, want %d", i, s[0], rows)
		}
		cols += s[1]
		variables[i] = fmt.Sprintf("T%d", i)
	}
	outShape := tensor.Shape{rows, cols}

	var body strings.Builder
	body.WriteString(`
@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>) {
  let index = i32(globalId.x);
  if (index >= outSize()) {
    return;
  }
  let coords = getOutputCoords(globalId);
  var col = coords.y;
`)
	for i := range shapes {
		field := fmt.Sprintf("uniforms.t%dShape", i)
		if i < len(shapes)-1 {
			fmt.Fprintf(&body, `  if (col < %s.y) {
    setOutputFlat(index, T%d[getFlatIndex2D(vec2<i32>(coords.x, col), %s)]);
    return;
  }
  col = col - %s.y;
`, field, i, field, field)
		} else {
			fmt.Fprintf(&body, "  setOutputFlat(index, T%d[getFlatIndex2D(vec2<i32>(coords.x, col), %s)]);\n",
				i, field)
		}
	}
	body.WriteString("}\n")

	d := &Descriptor{
		Name:          "concat",
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.FlattenLayout(2),
		WorkGroupSize: shader.ComputeWorkGroupSize(outShape),
		Variables:     variables,
		Source:        body.String(),
	}
	return d.finalize(), nil
}
