package program

import (
	"fmt"

	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

// argReduceSize is the thread count cooperating on one reduced row.
const argReduceSize = 32

// argMinMaxBody reduces the innermost axis of x to the index of its extreme
// element. One workgroup owns one output element: each of the 32 threads
// scans a contiguous stripe of the axis, then a shared-memory tree reduction
// combines the per-thread winners. NaN candidates fail the self-equality
// check and are skipped; ties resolve to the lowest index. The first %s is
// the axis-size expression, the others the comparison operator.
const argMinMaxBody = `
var<workgroup> bestValues : array<f32, 32>;
var<workgroup> bestIndices : array<i32, 32>;

const ReduceSize = 32;

@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(workgroup_id) workgroupId : vec3<u32>,
        @builtin(local_invocation_id) localId : vec3<u32>) {
  let outIndex = i32(workgroupId.x);
  if (outIndex >= outSize()) {
    return;
  }
  let tid = i32(localId.x);
  let axisSize = %s;
  let base = outIndex * axisSize;
  let stripe = (axisSize + ReduceSize - 1) / ReduceSize;

  var bestValue = 0.0;
  var bestIndex = -1;
  let end = min((tid + 1) * stripe, axisSize);
  for (var i = tid * stripe; i < end; i = i + 1) {
    let candidate = x[base + i];
    if (candidate == candidate && (bestIndex < 0 || candidate %s bestValue)) {
      bestValue = candidate;
      bestIndex = i;
    }
  }
  bestValues[tid] = bestValue;
  bestIndices[tid] = bestIndex;
  workgroupBarrier();

  for (var s = ReduceSize / 2; s > 0; s = s / 2) {
    if (tid < s) {
      let otherIndex = bestIndices[tid + s];
      let otherValue = bestValues[tid + s];
      if (otherIndex >= 0 &&
          (bestIndices[tid] < 0 || otherValue %s bestValues[tid] ||
           (otherValue == bestValues[tid] && otherIndex < bestIndices[tid]))) {
        bestValues[tid] = otherValue;
        bestIndices[tid] = otherIndex;
      }
    }
    workgroupBarrier();
  }

  if (tid == 0) {
    setOutputFlat(outIndex, max(bestIndices[0], 0));
  }
}
`

// argMinMax builds the index-of-extreme reduction over the innermost axis of
// x. The output drops that axis and holds int32 indices.
func argMinMax(name, cmp string, xShape tensor.Shape) (*Descriptor, error) {
	if err := checkRank(xShape); err != nil {
		return nil, err
	}
	rank := len(xShape)
	if rank == 0 {
		return nil, fmt.Errorf("program: %s expects rank >= 1, got a scalar", name)
	}
	outShape := xShape[:rank-1].Clone()

	axisSize := "uniforms.xShape"
	if rank > 1 {
		axisSize += "." + comps[rank-1]
	}

	d := &Descriptor{
		Name:          name,
		OutputShape:   outShape,
		OutputDType:   tensor.Int32,
		Layout:        shader.FlattenLayout(len(outShape)),
		WorkGroupSize: [3]int{argReduceSize, 1, 1},
		Variables:     []string{"x"},
		Source:        fmt.Sprintf(argMinMaxBody, axisSize, cmp, cmp),
	}
	d.finalize()
	// One workgroup per output element; the 32 threads split the reduced
	// axis, not the output space.
	d.Dispatch = shader.ComputeDispatch(d.Layout, outShape, [3]int{1, 1, 1}, [3]int{1, 1, 1})
	return d, nil
}

// ArgMax builds the innermost-axis argmax program.
func ArgMax(xShape tensor.Shape) (*Descriptor, error) {
	return argMinMax("argmax", ">", xShape)
}

// ArgMin builds the innermost-axis argmin program.
func ArgMin(xShape tensor.Shape) (*Descriptor, error) {
	return argMinMax("argmin", "<", xShape)
}
