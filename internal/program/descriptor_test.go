package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpml/warp/internal/tensor"
)

func TestKeyStableAcrossExtents(t *testing.T) {
	// Same op, same ranks, different extents: one cache entry.
	a, err := BinaryOp("add", tensor.Shape{64}, tensor.Shape{64})
	require.NoError(t, err)
	b, err := BinaryOp("add", tensor.Shape{64}, tensor.Shape{64})
	require.NoError(t, err)
	assert.Equal(t, a.Key([]int{1, 1}), b.Key([]int{1, 1}))
}

func TestKeyVariesWithRankAndOp(t *testing.T) {
	d, err := BinaryOp("add", tensor.Shape{4, 4}, tensor.Shape{4, 4})
	require.NoError(t, err)

	assert.NotEqual(t, d.Key([]int{2, 2}), d.Key([]int{1, 2}))

	mul, err := BinaryOp("mul", tensor.Shape{4, 4}, tensor.Shape{4, 4})
	require.NoError(t, err)
	assert.NotEqual(t, d.Key([]int{2, 2}), mul.Key([]int{2, 2}))
}

func TestKeyVariesWithWorkGroupSize(t *testing.T) {
	small, err := UnaryOp("relu", tensor.Shape{8})
	require.NoError(t, err)
	big, err := UnaryOp("relu", tensor.Shape{4096})
	require.NoError(t, err)
	assert.NotEqual(t, small.Key([]int{1}), big.Key([]int{1}))
}

func TestBinaryOpBroadcastOutput(t *testing.T) {
	d, err := BinaryOp("add", tensor.Shape{4, 1}, tensor.Shape{1, 3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 3}, d.OutputShape)
	assert.Equal(t, []string{"A", "B"}, d.Variables)
	assert.Equal(t, [3]int{1, 1, 1}, d.ElementsPerThread)

	_, err = BinaryOp("add", tensor.Shape{3}, tensor.Shape{4})
	assert.Error(t, err)
	_, err = BinaryOp("nonsense", tensor.Shape{3}, tensor.Shape{3})
	assert.Error(t, err)
}

func TestUnaryOpCatalog(t *testing.T) {
	for op := range unaryOps {
		d, err := UnaryOp(op, tensor.Shape{2, 3})
		require.NoError(t, err, op)
		assert.Equal(t, tensor.Shape{2, 3}, d.OutputShape, op)
		assert.Contains(t, d.Source, "unaryOperation", op)
	}
}

func TestMatMulGeometry(t *testing.T) {
	d, err := MatMul(tensor.Shape{2, 33, 8}, tensor.Shape{2, 8, 17})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 33, 17}, d.OutputShape)
	assert.Equal(t, [3]int{16, 16, 1}, d.WorkGroupSize)
	// ceil(17/16)=2 cols, ceil(33/16)=3 rows, 2 batches.
	assert.Equal(t, [3]uint32{2, 3, 2}, d.Dispatch)

	_, err = MatMul(tensor.Shape{2, 3, 4}, tensor.Shape{2, 5, 6})
	assert.Error(t, err)
	_, err = MatMul(tensor.Shape{1, 3, 4}, tensor.Shape{2, 4, 6})
	assert.Error(t, err)
}

func TestMatMulPackedGeometry(t *testing.T) {
	d, err := MatMulPacked(tensor.Shape{1, 64, 32}, tensor.Shape{1, 32, 64})
	require.NoError(t, err)
	assert.True(t, d.Packed)
	assert.Equal(t, [3]int{8, 8, 1}, d.WorkGroupSize)
	assert.Equal(t, [3]int{4, 4, 1}, d.ElementsPerThread)
	// 32x32 output per workgroup: 64/32 = 2 on both x and y.
	assert.Equal(t, [3]uint32{2, 2, 1}, d.Dispatch)

	_, err = MatMulPacked(tensor.Shape{1, 62, 32}, tensor.Shape{1, 32, 64})
	assert.Error(t, err)
}

func TestConv2DMMOutputShape(t *testing.T) {
	// 1x5x5x2 input, 3x3 filter to 4 channels, stride 1, same padding.
	d, err := Conv2DMM(
		tensor.Shape{1, 5, 5, 2},
		tensor.Shape{3, 3, 2, 4},
		Conv2DParams{PadTop: 1, PadBottom: 1, PadLeft: 1, PadRight: 1})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 5, 5, 4}, d.OutputShape)
	assert.Contains(t, d.Source, "mm_readA")
	assert.Contains(t, d.Source, "workgroupBarrier()")

	_, err = Conv2DMM(tensor.Shape{1, 5, 5, 2}, tensor.Shape{3, 3, 3, 4}, Conv2DParams{})
	assert.Error(t, err)
}

func TestDepthwiseConv2DOutputShape(t *testing.T) {
	d, err := DepthwiseConv2D(
		tensor.Shape{1, 8, 8, 3},
		tensor.Shape{3, 3, 3, 2},
		Conv2DParams{StrideH: 2, StrideW: 2})
	require.NoError(t, err)
	// floor((8-3)/2)+1 = 3 spatial, 3*2 = 6 channels.
	assert.Equal(t, tensor.Shape{1, 3, 3, 6}, d.OutputShape)
}

func TestMaxPoolOutputShape(t *testing.T) {
	d, err := MaxPool(tensor.Shape{1, 4, 4, 1}, 2, 2, Conv2DParams{StrideH: 2, StrideW: 2})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2, 1}, d.OutputShape)
	assert.Equal(t, []uint32{2, 2, 0, 0, 2, 2, 1, 1}, d.UniformValues)
}

func TestTransposeDescriptor(t *testing.T) {
	d, err := Transpose(tensor.Shape{2, 3, 4}, []int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 2, 3}, d.OutputShape)
	assert.Contains(t, d.Source, "getFlatIndex3D(inCoords, uniforms.xShape)")

	_, err = Transpose(tensor.Shape{2, 3}, []int{0, 0})
	assert.Error(t, err)
	_, err = Transpose(tensor.Shape{2, 3}, []int{0})
	assert.Error(t, err)
}

func TestTransposeBakedPermDistinguishesKeys(t *testing.T) {
	a, err := Transpose(tensor.Shape{2, 3, 4}, []int{2, 0, 1})
	require.NoError(t, err)
	b, err := Transpose(tensor.Shape{2, 3, 4}, []int{1, 2, 0})
	require.NoError(t, err)
	assert.NotEqual(t, a.Key([]int{3}), b.Key([]int{3}))
}

func TestPadDescriptor(t *testing.T) {
	d, err := Pad(tensor.Shape{2, 3}, [][2]int{{1, 1}, {0, 2}}, 0)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 5}, d.OutputShape)
	assert.Contains(t, d.Source, "coords - vec2<i32>(1, 0)")

	_, err = Pad(tensor.Shape{2}, [][2]int{{-1, 0}}, 0)
	assert.Error(t, err)
	_, err = Pad(tensor.Shape{2, 2}, [][2]int{{0, 0}}, 0)
	assert.Error(t, err)
}

func TestResizeBilinearScales(t *testing.T) {
	d, err := ResizeBilinear(tensor.Shape{1, 4, 4, 3}, 8, 8, false)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 8, 8, 3}, d.OutputShape)
	assert.Equal(t, []uint32{floatBits(0.5), floatBits(0.5)}, d.UniformValues)

	aligned, err := ResizeBilinear(tensor.Shape{1, 4, 4, 3}, 7, 7, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{floatBits(0.5), floatBits(0.5)}, aligned.UniformValues)
}

func TestConcat2DDescriptor(t *testing.T) {
	d, err := Concat2D([]tensor.Shape{{4, 2}, {4, 3}, {4, 1}})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 6}, d.OutputShape)
	assert.Equal(t, []string{"T0", "T1", "T2"}, d.Variables)
	assert.Contains(t, d.Source, "if (col < uniforms.t0Shape.y)")
	assert.Contains(t, d.Source, "col = col - uniforms.t1Shape.y;")

	_, err = Concat2D([]tensor.Shape{{4, 2}})
	assert.Error(t, err)
	_, err = Concat2D([]tensor.Shape{{4, 2}, {5, 2}})
	assert.Error(t, err)
}

func TestConcat2DKeyDependsOnInputCountOnly(t *testing.T) {
	a, err := Concat2D([]tensor.Shape{{4, 2}, {4, 3}})
	require.NoError(t, err)
	b, err := Concat2D([]tensor.Shape{{9, 1}, {9, 7}})
	require.NoError(t, err)
	assert.Equal(t, a.Key([]int{2, 2}), b.Key([]int{2, 2}))
}

func TestArgMinMaxDescriptor(t *testing.T) {
	d, err := ArgMax(tensor.Shape{3, 100})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3}, d.OutputShape)
	assert.Equal(t, tensor.Int32, d.OutputDType)
	assert.Equal(t, [3]int{argReduceSize, 1, 1}, d.WorkGroupSize)
	// One workgroup per output element, not per 32 elements.
	assert.Equal(t, [3]uint32{3, 1, 1}, d.Dispatch)
	assert.Contains(t, d.Source, "candidate == candidate")
	assert.Contains(t, d.Source, "candidate > bestValue")

	mn, err := ArgMin(tensor.Shape{7})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{}, mn.OutputShape)
	assert.Equal(t, [3]uint32{1, 1, 1}, mn.Dispatch)
	assert.Contains(t, mn.Source, "candidate < bestValue")

	_, err = ArgMax(tensor.Shape{})
	assert.Error(t, err)
}
