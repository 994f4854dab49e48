package shader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpml/warp/internal/tensor"
)

func TestCoordType(t *testing.T) {
	for rank, want := range map[int]string{
		0: "i32",
		1: "i32",
		2: "vec2<i32>",
		3: "vec3<i32>",
		4: "vec4<i32>",
	} {
		got, err := CoordType(rank)
		require.NoError(t, err)
		assert.Equal(t, want, got, "rank %d", rank)
	}

	_, err := CoordType(5)
	assert.ErrorIs(t, err, ErrUnsupportedRank)
}

func TestComputeWorkGroupSizeLadder(t *testing.T) {
	cases := []struct {
		shape tensor.Shape
		want  int
	}{
		{tensor.Shape{1}, 16},
		{tensor.Shape{16}, 16},
		{tensor.Shape{31}, 16},
		{tensor.Shape{32}, 32},
		{tensor.Shape{600}, 512},
		{tensor.Shape{2, 300}, 512},
		{tensor.Shape{4096}, 512},
		{tensor.Shape{127}, 64},
	}
	for _, c := range cases {
		got := ComputeWorkGroupSize(c.shape)
		assert.Equal(t, [3]int{c.want, 1, 1}, got, "shape %v", c.shape)
	}
}

func TestComputeDispatchCoversOutput(t *testing.T) {
	shape := tensor.Shape{3, 100, 7}
	wg := ComputeWorkGroupSize(shape)
	groups := ComputeDispatch(FlattenLayout(3), shape, wg, [3]int{1, 1, 1})

	// Enough invocations for every element, but never a full extra group.
	total := int(groups[0]) * wg[0]
	assert.GreaterOrEqual(t, total, shape.NumElements())
	assert.Less(t, total-shape.NumElements(), wg[0])
	assert.Equal(t, uint32(1), groups[1])
	assert.Equal(t, uint32(1), groups[2])
}

func TestComputeDispatchPerAxis(t *testing.T) {
	// Matmul-style layout: cols on x, rows on y, batch on z.
	layout := DispatchLayout{X: []int{2}, Y: []int{1}, Z: []int{0}}
	out := tensor.Shape{3, 33, 17}
	groups := ComputeDispatch(layout, out, [3]int{16, 16, 1}, [3]int{1, 1, 1})
	assert.Equal(t, [3]uint32{2, 3, 3}, groups)
}

func TestComputeDispatchElementsPerThread(t *testing.T) {
	layout := DispatchLayout{X: []int{2}, Y: []int{1}, Z: []int{0}}
	out := tensor.Shape{2, 64, 64}
	groups := ComputeDispatch(layout, out, [3]int{8, 8, 1}, [3]int{4, 4, 1})
	assert.Equal(t, [3]uint32{2, 2, 2}, groups)
}

func TestComputeDispatchUncoveredAxis(t *testing.T) {
	// Dimension 0 assigned to no axis: contributes nothing to geometry.
	layout := DispatchLayout{X: []int{1}}
	out := tensor.Shape{999, 32}
	groups := ComputeDispatch(layout, out, [3]int{16, 1, 1}, [3]int{1, 1, 1})
	assert.Equal(t, [3]uint32{2, 1, 1}, groups)
	assert.False(t, layout.Covers(0))
	assert.True(t, layout.Covers(1))
}

func TestFlatIndexRoundTrip(t *testing.T) {
	shape := tensor.Shape{2, 3, 4, 5}
	for i := 0; i < shape.NumElements(); i++ {
		coords := DecomposeIndex(i, shape)
		assert.Equal(t, i, FlatIndex(coords, shape))
	}
}

func TestFlatIndexKnownValues(t *testing.T) {
	shape := tensor.Shape{2, 3, 4}
	assert.Equal(t, 0, FlatIndex([]int{0, 0, 0}, shape))
	assert.Equal(t, 1, FlatIndex([]int{0, 0, 1}, shape))
	assert.Equal(t, 4, FlatIndex([]int{0, 1, 0}, shape))
	assert.Equal(t, 12, FlatIndex([]int{1, 0, 0}, shape))
	assert.Equal(t, 23, FlatIndex([]int{1, 2, 3}, shape))
}
