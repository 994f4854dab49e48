package program

import (
	"fmt"

	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

// matMulTileSize is the square shared-memory tile of the naive tiled kernel.
const matMulTileSize = 16

// matMulCore is the tiled matrix-multiply body shared by batchMatMul and the
// implicit-matmul convolution. It is parameterized purely through the
// mm_dimInner/mm_readA/mm_readB/mm_write functions its host prepends: each
// workgroup owns one TileSize x TileSize output tile, loops over K tiles,
// cooperatively stages A and B tiles in workgroup memory with barriers
// around the multiply-accumulate loop, and relies on the readers returning
// zero outside the true bounds.
const matMulCore = `
var<workgroup> mm_Asub : array<array<f32, 16>, 16>;
var<workgroup> mm_Bsub : array<array<f32, 16>, 16>;

const TileSize = 16;

@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(global_invocation_id) globalId : vec3<u32>,
        @builtin(local_invocation_id) localId : vec3<u32>) {
  let batch = i32(globalId.z);
  let row = i32(globalId.y);
  let col = i32(globalId.x);
  let localRow = i32(localId.y);
  let localCol = i32(localId.x);
  let dimInner = mm_dimInner();
  let numTiles = (dimInner + TileSize - 1) / TileSize;

  var acc = 0.0;
  for (var t = 0; t < numTiles; t = t + 1) {
    mm_Asub[localRow][localCol] = mm_readA(batch, row, t * TileSize + localCol);
    mm_Bsub[localRow][localCol] = mm_readB(batch, t * TileSize + localRow, col);
    workgroupBarrier();
    for (var k = 0; k < TileSize; k = k + 1) {
      acc = acc + mm_Asub[localRow][k] * mm_Bsub[k][localCol];
    }
    workgroupBarrier();
  }
  mm_write(batch, row, col, acc);
}
`

// matMulReaders implements the mm_* functions for a plain [B,M,K]x[B,K,N]
// multiply with bounds-guarded, zero-padded reads.
const matMulReaders = `
fn mm_dimInner() -> i32 {
  return uniforms.aShape.z;
}
fn mm_readA(batch : i32, row : i32, col : i32) -> f32 {
  if (row < uniforms.aShape.y && col < uniforms.aShape.z) {
    return A[getFlatIndex3D(vec3<i32>(batch, row, col), uniforms.aShape)];
  }
  return 0.0;
}
fn mm_readB(batch : i32, row : i32, col : i32) -> f32 {
  if (row < uniforms.bShape.y && col < uniforms.bShape.z) {
    return B[getFlatIndex3D(vec3<i32>(batch, row, col), uniforms.bShape)];
  }
  return 0.0;
}
fn mm_write(batch : i32, row : i32, col : i32, value : f32) {
  if (row < uniforms.outShape.y && col < uniforms.outShape.z) {
    setOutput(batch, row, col, value);
  }
}
`

// validateMatMulShapes checks [B,M,K] x [B,K,N] compatibility.
func validateMatMulShapes(aShape, bShape tensor.Shape) error {
	if len(aShape) != 3 || len(bShape) != 3 {
		return fmt.Errorf("program: matmul expects rank-3 inputs, got %v and %v", aShape, bShape)
	}
	if aShape[0] != bShape[0] {
		return fmt.Errorf("program: matmul batch mismatch: %d vs %d", aShape[0], bShape[0])
	}
	if aShape[2] != bShape[1] {
		return fmt.Errorf("program: matmul inner-dimension mismatch: [%d,%d,%d] x [%d,%d,%d]",
			aShape[0], aShape[1], aShape[2], bShape[0], bShape[1], bShape[2])
	}
	return nil
}

// MatMul builds the tiled batched matrix multiply:
// [B,M,K] x [B,K,N] -> [B,M,N]. Columns dispatch on x, rows on y, batch
// on z, one 16x16 shared-memory tile per workgroup.
func MatMul(aShape, bShape tensor.Shape) (*Descriptor, error) {
	if err := validateMatMulShapes(aShape, bShape); err != nil {
		return nil, err
	}
	outShape := tensor.Shape{aShape[0], aShape[1], bShape[2]}

	d := &Descriptor{
		Name:          "matmul",
		OutputShape:   outShape,
		OutputDType:   tensor.Float32,
		Layout:        shader.DispatchLayout{X: []int{2}, Y: []int{1}, Z: []int{0}},
		WorkGroupSize: [3]int{matMulTileSize, matMulTileSize, 1},
		Variables:     []string{"A", "B"},
		Source:        matMulReaders + matMulCore,
	}
	return d.finalize(), nil
}

// matMulPackedBody is the register-blocked variant: buffers are vec4-packed,
// each 8x8 workgroup owns a 32x32 output tile and each thread accumulates a
// 4-row x 4-column register tile (one vec4 per row).
const matMulPackedBody = `
fn mm_readA(batch : i32, row : i32, col4 : i32) -> vec4<f32> {
  let k4 = uniforms.aShape.z / 4;
  if (row < uniforms.aShape.y && col4 < k4) {
    return A[(batch * uniforms.aShape.y + row) * k4 + col4];
  }
  return vec4<f32>(0.0);
}
fn mm_readB(batch : i32, row : i32, col4 : i32) -> vec4<f32> {
  let n4 = uniforms.bShape.z / 4;
  if (row < uniforms.bShape.y && col4 < n4) {
    return B[(batch * uniforms.bShape.y + row) * n4 + col4];
  }
  return vec4<f32>(0.0);
}
fn mm_write(batch : i32, row : i32, col4 : i32, value : vec4<f32>) {
  let n4 = uniforms.outShape.z / 4;
  if (row < uniforms.outShape.y && col4 < n4) {
    setOutputFlat((batch * uniforms.outShape.y + row) * n4 + col4, value);
  }
}

var<workgroup> mm_Asub : array<array<vec4<f32>, 8>, 32>;
var<workgroup> mm_Bsub : array<array<vec4<f32>, 8>, 32>;

const TileSize = 32;
const WorkPerThread = 4;

@compute @workgroup_size(WGSX, WGSY, WGSZ)
fn main(@builtin(local_invocation_id) localId : vec3<u32>,
        @builtin(workgroup_id) workgroupId : vec3<u32>) {
  let batch = i32(workgroupId.z);
  let tileRow = i32(localId.y) * WorkPerThread;
  let tileCol4 = i32(localId.x);
  let globalRowBase = i32(workgroupId.y) * TileSize;
  let globalCol4Base = i32(workgroupId.x) * (TileSize / 4);

  let dimInner = uniforms.aShape.z;
  let numTiles = (dimInner + TileSize - 1) / TileSize;

  var acc : array<vec4<f32>, 4>;

  for (var t = 0; t < numTiles; t = t + 1) {
    for (var i = 0; i < WorkPerThread; i = i + 1) {
      mm_Asub[tileRow + i][tileCol4] = mm_readA(batch, globalRowBase + tileRow + i, t * (TileSize / 4) + tileCol4);
      mm_Bsub[tileRow + i][tileCol4] = mm_readB(batch, t * TileSize + tileRow + i, globalCol4Base + tileCol4);
    }
    workgroupBarrier();

    for (var k = 0; k < TileSize / 4; k = k + 1) {
      for (var i = 0; i < WorkPerThread; i = i + 1) {
        let aCached = mm_Asub[tileRow + i][k];
        acc[i] = acc[i] + aCached.x * mm_Bsub[k * 4 + 0][tileCol4];
        acc[i] = acc[i] + aCached.y * mm_Bsub[k * 4 + 1][tileCol4];
        acc[i] = acc[i] + aCached.z * mm_Bsub[k * 4 + 2][tileCol4];
        acc[i] = acc[i] + aCached.w * mm_Bsub[k * 4 + 3][tileCol4];
      }
    }
    workgroupBarrier();
  }

  for (var i = 0; i < WorkPerThread; i = i + 1) {
    mm_write(batch, globalRowBase + tileRow + i, globalCol4Base + tileCol4, acc[i]);
  }
}
`

// MatMulPacked builds the register-blocked batched multiply. All of M, K and
// N must be divisible by 4 so buffers can be addressed as vec4 elements;
// callers fall back to MatMul otherwise.
func MatMulPacked(aShape, bShape tensor.Shape) (*Descriptor, error) {
	if err := validateMatMulShapes(aShape, bShape); err != nil {
		return nil, err
	}
	if aShape[1]%4 != 0 || aShape[2]%4 != 0 || bShape[2]%4 != 0 {
		return nil, fmt.Errorf("program: packed matmul needs M, K, N divisible by 4, got M=%d K=%d N=%d",
			aShape[1], aShape[2], bShape[2])
	}
	outShape := tensor.Shape{aShape[0], aShape[1], bShape[2]}

	d := &Descriptor{
		Name:              "matmul_packed",
		OutputShape:       outShape,
		OutputDType:       tensor.Float32,
		Layout:            shader.DispatchLayout{X: []int{2}, Y: []int{1}, Z: []int{0}},
		WorkGroupSize:     [3]int{8, 8, 1},
		ElementsPerThread: [3]int{4, 4, 1},
		Variables:         []string{"A", "B"},
		Source:            matMulPackedBody,
		Packed:            true,
	}
	return d.finalize(), nil
}
