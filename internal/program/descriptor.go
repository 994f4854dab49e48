// Package program is the catalog of GPU tensor programs. Each constructor
// is a pure function from shapes and operation parameters to a Descriptor:
// the output shape, the dispatch geometry, the uniform layout and the WGSL
// body the shader preprocessor appends to its generated glue.
package program

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

// Descriptor describes one compiled-and-dispatched tensor program. Immutable
// once constructed; many invocations of the same operation shape produce
// structurally identical descriptors, which is what makes the compiled
// program cacheable.
type Descriptor struct {
	Name              string
	OutputShape       tensor.Shape
	OutputDType       tensor.DataType
	Layout            shader.DispatchLayout
	WorkGroupSize     [3]int
	ElementsPerThread [3]int
	Dispatch          [3]uint32 // workgroup counts, computed at construction
	Variables         []string  // input buffer names, in binding order
	UniformFields     []shader.UniformField
	UniformValues     []uint32 // raw 32-bit values for UniformFields, in order
	Source            string   // operation body appended by the preprocessor
	Packed            bool     // buffers hold vec4 elements
}

// Key derives the deterministic cache key for this descriptor given the
// ranks of its inputs. Two descriptors with equal keys generate identical
// shader source and binding layouts: the generated glue depends only on
// ranks and dtypes, the body text is hashed in, and the workgroup size is
// explicit. Concrete extents are never part of the key.
func (d *Descriptor) Key(inputRanks []int) string {
	h := fnv.New64a()
	h.Write([]byte(d.Source)) //nolint:errcheck // fnv never fails
	return fmt.Sprintf("%s|wg=%d,%d,%d|out=%d|in=%v|src=%016x",
		d.Name, d.WorkGroupSize[0], d.WorkGroupSize[1], d.WorkGroupSize[2],
		len(d.OutputShape), inputRanks, h.Sum64())
}

// ShaderProgram adapts the descriptor to the preprocessor's input struct.
func (d *Descriptor) ShaderProgram() shader.Program {
	return shader.Program{
		WorkGroupSize: d.WorkGroupSize,
		Layout:        d.Layout,
		Variables:     d.Variables,
		UniformFields: d.UniformFields,
		Body:          d.Source,
		Packed:        d.Packed,
	}
}

// finalize fills in defaults and the eager dispatch geometry.
func (d *Descriptor) finalize() *Descriptor {
	if d.ElementsPerThread == ([3]int{}) {
		d.ElementsPerThread = [3]int{1, 1, 1}
	}
	d.Dispatch = shader.ComputeDispatch(d.Layout, d.OutputShape, d.WorkGroupSize, d.ElementsPerThread)
	return d
}

// floatBits reinterprets a float32 uniform value as its raw 32-bit word.
func floatBits(f float32) uint32 {
	return math.Float32bits(f)
}

// checkRank validates a shape for shader use.
func checkRank(s tensor.Shape) error {
	if _, err := shader.CoordType(len(s)); err != nil {
		return err
	}
	return s.Validate()
}
