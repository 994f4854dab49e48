package shader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpml/warp/internal/tensor"
)

func f32Buf(shape ...int) BufferInfo {
	return BufferInfo{Shape: tensor.Shape(shape), DType: tensor.Float32}
}

func makeTestShader(t *testing.T, inputs []BufferInfo, output BufferInfo, p Program) string {
	t.Helper()
	src, err := MakeShader(inputs, output, p)
	require.NoError(t, err)
	return src
}

func TestMakeShaderStructure(t *testing.T) {
	src := makeTestShader(t,
		[]BufferInfo{f32Buf(4, 3), f32Buf(4, 3)},
		f32Buf(4, 3),
		Program{
			WorkGroupSize: [3]int{64, 1, 1},
			Layout:        FlattenLayout(2),
			Variables:     []string{"A", "B"},
			Body:          "@compute @workgroup_size(WGSX, WGSY, WGSZ)\nfn main() {}\n",
		})

	assert.Contains(t, src, "const WGSX = 64;")
	assert.Contains(t, src, "const WGSY = 1;")
	assert.Contains(t, src, "@group(0) @binding(0) var<storage, read> A : array<f32>;")
	assert.Contains(t, src, "@group(0) @binding(1) var<storage, read> B : array<f32>;")
	assert.Contains(t, src, "@group(0) @binding(2) var<storage, read_write> result : array<f32>;")
	assert.Contains(t, src, "@group(0) @binding(3) var<uniform> uniforms : Uniforms;")
	assert.Contains(t, src, "aShape : vec2<i32>,")
	assert.Contains(t, src, "bShape : vec2<i32>,")
	assert.Contains(t, src, "outShape : vec2<i32>,")
	assert.Contains(t, src, "fn getAAtOutCoords(coords : vec2<i32>) -> f32")
	assert.Contains(t, src, "fn setOutputFlat(flatIndex : i32, value : f32)")
	assert.Contains(t, src, "fn setOutput(d0 : i32, d1 : i32, value : f32)")

	// Declarations precede the body.
	assert.Less(t, strings.Index(src, "struct Uniforms"), strings.Index(src, "fn main"))
}

func TestMakeShaderBroadcastAccessor(t *testing.T) {
	// [1,3] input into a [4,3] output: the accessor must mask coordinates
	// through min(shape-1, 1), never bake the extent 1 into the text.
	src := makeTestShader(t,
		[]BufferInfo{f32Buf(1, 3)},
		f32Buf(4, 3),
		Program{
			WorkGroupSize: [3]int{16, 1, 1},
			Layout:        FlattenLayout(2),
			Variables:     []string{"A"},
			Body:          "fn main() {}\n",
		})

	assert.Contains(t, src, "inCoords = inCoords * min(uniforms.aShape - vec2<i32>(1), vec2<i32>(1));")
	assert.NotContains(t, src, "vec2<i32>(1, 3)")
}

func TestMakeShaderSourceDependsOnRanksOnly(t *testing.T) {
	p := Program{
		WorkGroupSize: [3]int{16, 1, 1},
		Layout:        FlattenLayout(2),
		Variables:     []string{"A"},
		Body:          "fn main() {}\n",
	}
	a := makeTestShader(t, []BufferInfo{f32Buf(1, 3)}, f32Buf(4, 3), p)
	b := makeTestShader(t, []BufferInfo{f32Buf(9, 100)}, f32Buf(9, 100), p)
	assert.Equal(t, a, b)
}

func TestMakeShaderLowerRankInput(t *testing.T) {
	// Rank-1 input into a rank-3 output aligns with the trailing dimension.
	src := makeTestShader(t,
		[]BufferInfo{f32Buf(5)},
		f32Buf(2, 4, 5),
		Program{
			WorkGroupSize: [3]int{16, 1, 1},
			Layout:        FlattenLayout(3),
			Variables:     []string{"bias"},
			Body:          "fn main() {}\n",
		})

	assert.Contains(t, src, "fn getBiasAtOutCoords(coords : vec3<i32>) -> f32")
	assert.Contains(t, src, "let inCoord = coords.z * min(uniforms.biasShape - 1, 1);")
}

func TestMakeShaderMultiDimAxisDecomposition(t *testing.T) {
	// y axis carries dims 1 and 2: getOutputCoords must decompose globalId.y
	// through the stride of dim 2.
	src := makeTestShader(t,
		[]BufferInfo{f32Buf(2, 3, 4, 5)},
		f32Buf(2, 3, 4, 5),
		Program{
			WorkGroupSize: [3]int{16, 16, 1},
			Layout:        DispatchLayout{X: []int{3}, Y: []int{1, 2}, Z: []int{0}},
			Variables:     []string{"x"},
			Body:          "fn main() {}\n",
		})

	assert.Contains(t, src, "var indexY = i32(globalId.y);")
	assert.Contains(t, src, "coords.y = indexY / (uniforms.outShape.z);")
	assert.Contains(t, src, "coords.w = i32(globalId.x);")
	assert.Contains(t, src, "coords.x = i32(globalId.z);")
}

func TestMakeShaderUniformFieldsAppended(t *testing.T) {
	src := makeTestShader(t,
		[]BufferInfo{f32Buf(4, 4)},
		f32Buf(4, 4),
		Program{
			WorkGroupSize: [3]int{16, 1, 1},
			Layout:        FlattenLayout(2),
			Variables:     []string{"x"},
			UniformFields: []UniformField{{Name: "strideH", Type: "i32"}, {Name: "scale", Type: "f32"}},
			Body:          "fn main() {}\n",
		})

	i := strings.Index(src, "outShape : vec2<i32>,")
	j := strings.Index(src, "strideH : i32,")
	k := strings.Index(src, "scale : f32,")
	require.True(t, i >= 0 && j >= 0 && k >= 0)
	assert.Less(t, i, j)
	assert.Less(t, j, k)
}

func TestMakeShaderPacked(t *testing.T) {
	src := makeTestShader(t,
		[]BufferInfo{f32Buf(1, 4, 4), f32Buf(1, 4, 4)},
		f32Buf(1, 4, 4),
		Program{
			WorkGroupSize: [3]int{8, 8, 1},
			Layout:        DispatchLayout{X: []int{2}, Y: []int{1}, Z: []int{0}},
			Variables:     []string{"A", "B"},
			Body:          "fn main() {}\n",
			Packed:        true,
		})

	assert.Contains(t, src, "var<storage, read> A : array<vec4<f32>>;")
	assert.Contains(t, src, "var<storage, read_write> result : array<vec4<f32>>;")
	// Packed programs address buffers themselves; no scalar accessors.
	assert.NotContains(t, src, "AtOutCoords")
}

func TestMakeShaderRejectsBadInput(t *testing.T) {
	_, err := MakeShader(
		[]BufferInfo{f32Buf(2, 2)},
		f32Buf(2, 2),
		Program{Variables: []string{"A", "B"}})
	assert.Error(t, err)

	_, err = MakeShader(
		[]BufferInfo{{Shape: tensor.Shape{2}, DType: tensor.Uint8}},
		f32Buf(2),
		Program{WorkGroupSize: [3]int{16, 1, 1}, Variables: []string{"A"}})
	assert.Error(t, err)

	_, err = MakeShader(
		[]BufferInfo{{Shape: tensor.Shape{1, 1, 1, 1, 1}, DType: tensor.Float32}},
		f32Buf(1),
		Program{WorkGroupSize: [3]int{16, 1, 1}, Variables: []string{"A"}})
	assert.ErrorIs(t, err, ErrUnsupportedRank)
}
