package program

import (
	"fmt"

	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

// binaryOps maps operation names to the WGSL expression applied per element.
var binaryOps = map[string]string{
	"add":     "return a + b;",
	"sub":     "return a - b;",
	"mul":     "return a * b;",
	"div":     "return a / b;",
	"maximum": "return max(a, b);",
	"minimum": "return min(a, b);",
}

// unaryOps maps operation names to the WGSL expression applied per element.
var unaryOps = map[string]string{
	"relu":    "return max(a, 0.0);",
	"neg":     "return -a;",
	"exp":     "return exp(a);",
	"log":     "return log(a);",
	"sqrt":    "return sqrt(a);",
	"sigmoid": "return 1.0 / (1.0 + exp(-a));",
	"tanh":    "return tanh(a);",
	"abs":     "return abs(a);",
}

const binaryBody = `
fn binaryOperation(a : f32, b : f32) -> f32 {
  %s
}

@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>) {
  let index = i32(globalId.x);
  if (index >= outSize()) {
    return;
  }
  let coords = getOutputCoords(globalId);
  setOutputFlat(index, binaryOperation(getAAtOutCoords(coords), getBAtOutCoords(coords)));
}
`

const unaryBody = `
fn unaryOperation(a : f32) -> f32 {
  %s
}

@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>) {
  let index = i32(globalId.x);
  if (index >= outSize()) {
    return;
  }
  let coords = getOutputCoords(globalId);
  setOutputFlat(index, unaryOperation(getAAtOutCoords(coords)));
}
`

// BinaryOp builds an element-wise binary program over the broadcast-resolved
// output shape. Every output dimension is flattened onto the x axis; the
// generated accessors take care of broadcast reads.
func BinaryOp(op string, aShape, bShape tensor.Shape) (*Descriptor, error) {
	snippet, ok := binaryOps[op]
	if !ok {
		return nil, fmt.Errorf("program: unknown binary op %q", op)
	}
	if err := checkRank(aShape); err != nil {
		return nil, err
	}
	if err := checkRank(bShape); err != nil {
		return nil, err
	}
	outShape, err := tensor.BroadcastShapes(aShape, bShape)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		Name:          op,
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.FlattenLayout(len(outShape)),
		WorkGroupSize: shader.ComputeWorkGroupSize(outShape),
		Variables:     []string{"A", "B"},
		Source:        fmt.Sprintf(binaryBody, snippet),
	}
	return d.finalize(), nil
}

// UnaryOp builds an element-wise unary program.
func UnaryOp(op string, aShape tensor.Shape) (*Descriptor, error) {
	snippet, ok := unaryOps[op]
	if !ok {
		return nil, fmt.Errorf("program: unknown unary op %q", op)
	}
	if err := checkRank(aShape); err != nil {
		return nil, err
	}

	d := &Descriptor{
		Name:          op,
		OutputShape:   aShape.Clone(),
		OutputDType:   tensor.Float32,
		Layout:        shader.FlattenLayout(len(aShape)),
		WorkGroupSize: shader.ComputeWorkGroupSize(aShape),
		Variables:     []string{"A"},
		Source:        fmt.Sprintf(unaryBody, snippet),
	}
	return d.finalize(), nil
}
