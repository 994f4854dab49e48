package shader

import (
	"fmt"
	"strings"

	"github.com/warpml/warp/internal/tensor"
)

// sourcePrefix is the fixed header every generated shader starts with. The
// WGSL dialect carries no version pragma; the header exists so compiler
// diagnostics are recognizable as coming from generated code.
const sourcePrefix = "// WGSL compute shader generated by warp. Do not edit.\n"

// BufferInfo describes one shader-visible tensor buffer.
type BufferInfo struct {
	Shape tensor.Shape
	DType tensor.DataType
}

// Program carries the descriptor fields the preprocessor needs. The program
// catalog builds these; keeping the struct here avoids a dependency cycle
// between the catalog and the generator.
type Program struct {
	WorkGroupSize [3]int
	Layout        DispatchLayout
	Variables     []string // one buffer name per input, in binding order
	UniformFields []UniformField
	Body          string // operation-specific source, appended last
	Packed        bool   // buffers hold vec4 elements instead of scalars
}

// MakeShader assembles the complete WGSL source for a program: prefix,
// workgroup-size constants, buffer and uniform declarations, generated
// indexing helpers, and the operation body. Pure and deterministic.
func MakeShader(inputs []BufferInfo, output BufferInfo, p Program) (string, error) {
	if len(inputs) != len(p.Variables) {
		return "", fmt.Errorf("shader: %d inputs but %d variable names", len(inputs), len(p.Variables))
	}
	outRank := len(output.Shape)
	if _, err := CoordType(outRank); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(sourcePrefix)
	b.WriteString("\n")

	// Workgroup-size constants; bodies attach them to their own entry point
	// since WGSL workgroup_size attributes accept const expressions.
	fmt.Fprintf(&b, "const WGSX = %d;\nconst WGSY = %d;\nconst WGSZ = %d;\n\n",
		p.WorkGroupSize[0], p.WorkGroupSize[1], p.WorkGroupSize[2])

	// Storage buffers: inputs at bindings 0..n-1, output at n, uniforms at n+1.
	for i, in := range inputs {
		if _, err := CoordType(len(in.Shape)); err != nil {
			return "", err
		}
		elem, err := elemType(in.DType, p.Packed)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> %s : array<%s>;\n", i, p.Variables[i], elem)
	}
	outElem, err := elemType(output.DType, p.Packed)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read_write> result : array<%s>;\n\n", len(inputs), outElem)

	// Packed uniform block: one shape vector per input, the output shape,
	// then the operation's scalar fields. Field alignment follows the WGSL
	// uniform layout rules, mirrored byte-for-byte by PackShapes.
	b.WriteString("struct Uniforms {\n")
	for i, in := range inputs {
		ct, _ := CoordType(len(in.Shape))
		fmt.Fprintf(&b, "  %s : %s,\n", shapeField(p.Variables[i]), ct)
	}
	outCT, _ := CoordType(outRank)
	fmt.Fprintf(&b, "  outShape : %s,\n", outCT)
	for _, f := range p.UniformFields {
		fmt.Fprintf(&b, "  %s : %s,\n", f.Name, f.Type)
	}
	b.WriteString("}\n")
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<uniform> uniforms : Uniforms;\n\n", len(inputs)+1)

	b.WriteString(flatIndexHelpers)
	b.WriteString(genOutSize(outRank))
	b.WriteString(genOutputCoords(p.Layout, outRank))
	if !p.Packed {
		for i, in := range inputs {
			if len(in.Shape) <= outRank {
				b.WriteString(genAccessor(p.Variables[i], len(in.Shape), outRank, inputs[i].DType))
			}
		}
	}
	b.WriteString(genSetOutput(outRank, outElem, p.Packed))

	b.WriteString("\n")
	b.WriteString(strings.TrimLeft(p.Body, "\n"))
	return b.String(), nil
}

// elemType maps a tensor dtype to the WGSL storage-buffer element type.
// Only float32 and int32 tensors can participate in dispatches; uint8 and
// bool tensors are host-side storage formats.
func elemType(dt tensor.DataType, packed bool) (string, error) {
	var scalar string
	switch dt {
	case tensor.Float32:
		scalar = "f32"
	case tensor.Int32:
		scalar = "i32"
	default:
		return "", fmt.Errorf("shader: unsupported dtype for dispatch: %s (only float32 and int32)", dt)
	}
	if packed {
		return "vec4<" + scalar + ">", nil
	}
	return scalar, nil
}

// shapeField names the uniform field holding a variable's shape vector.
func shapeField(variable string) string {
	return strings.ToLower(variable[:1]) + variable[1:] + "Shape"
}

// accessorName names the generated sample-at-output-coordinates function.
func accessorName(variable string) string {
	return "get" + strings.ToUpper(variable[:1]) + variable[1:] + "AtOutCoords"
}

var components = [4]string{"x", "y", "z", "w"}

// flatIndexHelpers computes row-major flat offsets for rank 1-4 coordinate
// vectors. WGSL has no user-function overloading, hence the rank suffix.
const flatIndexHelpers = `fn getFlatIndex1D(coord : i32, shape : i32) -> i32 {
  return coord;
}
fn getFlatIndex2D(coords : vec2<i32>, shape : vec2<i32>) -> i32 {
  return coords.x * shape.y + coords.y;
}
fn getFlatIndex3D(coords : vec3<i32>, shape : vec3<i32>) -> i32 {
  return coords.x * shape.y * shape.z + coords.y * shape.z + coords.z;
}
fn getFlatIndex4D(coords : vec4<i32>, shape : vec4<i32>) -> i32 {
  return coords.x * shape.y * shape.z * shape.w + coords.y * shape.z * shape.w + coords.z * shape.w + coords.w;
}
`

// genOutSize emits a helper returning the output element count.
func genOutSize(outRank int) string {
	if outRank == 0 {
		return "fn outSize() -> i32 {\n  return 1;\n}\n"
	}
	if outRank == 1 {
		return "fn outSize() -> i32 {\n  return uniforms.outShape;\n}\n"
	}
	terms := make([]string, outRank)
	for i := 0; i < outRank; i++ {
		terms[i] = "uniforms.outShape." + components[i]
	}
	return fmt.Sprintf("fn outSize() -> i32 {\n  return %s;\n}\n", strings.Join(terms, " * "))
}

// outShapeComponent returns the WGSL expression for one output dimension size.
func outShapeComponent(dim, outRank int) string {
	if outRank <= 1 {
		return "uniforms.outShape"
	}
	return "uniforms.outShape." + components[dim]
}

// coordRef returns the lvalue for one coordinate component.
func coordRef(dim, outRank int) string {
	if outRank <= 1 {
		return "coords"
	}
	return "coords." + components[dim]
}

// genOutputCoords recovers output-tensor coordinates from the invocation ID.
// Axes with one assigned dimension map directly; axes with several decompose
// their invocation index through row-major strides over the assigned
// dimensions, most significant first. Dimensions assigned to no axis stay
// zero; bodies that need them supply their own loop variables.
func genOutputCoords(layout DispatchLayout, outRank int) string {
	ct, _ := CoordType(outRank)
	var b strings.Builder
	fmt.Fprintf(&b, "fn getOutputCoords(globalId : vec3<u32>) -> %s {\n", ct)
	if outRank == 0 {
		b.WriteString("  return 0;\n}\n")
		return b.String()
	}
	if outRank == 1 {
		b.WriteString("  var coords = 0;\n")
	} else {
		fmt.Fprintf(&b, "  var coords = %s(0);\n", ct)
	}
	for axis, dims := range layout.axes() {
		id := "i32(globalId." + components[axis] + ")"
		switch len(dims) {
		case 0:
		case 1:
			fmt.Fprintf(&b, "  %s = %s;\n", coordRef(dims[0], outRank), id)
		default:
			idx := "index" + strings.ToUpper(components[axis])
			fmt.Fprintf(&b, "  var %s = %s;\n", idx, id)
			for j, d := range dims {
				if j == len(dims)-1 {
					fmt.Fprintf(&b, "  %s = %s;\n", coordRef(d, outRank), idx)
					break
				}
				// Stride over the remaining assigned dimensions.
				strideTerms := make([]string, 0, len(dims)-j-1)
				for _, rest := range dims[j+1:] {
					strideTerms = append(strideTerms, outShapeComponent(rest, outRank))
				}
				stride := strings.Join(strideTerms, " * ")
				fmt.Fprintf(&b, "  %s = %s / (%s);\n", coordRef(d, outRank), idx, stride)
				fmt.Fprintf(&b, "  %s = %s - %s * (%s);\n", idx, idx, coordRef(d, outRank), stride)
			}
		}
	}
	b.WriteString("  return coords;\n}\n")
	return b.String()
}

// genAccessor emits get<Name>AtOutCoords: the output coordinates are mapped
// to input coordinates by dropping leading dimensions the input lacks and
// zeroing broadcast components. The broadcast mask compares each input
// extent against 1 at run time, so the generated text depends only on
// ranks, never on concrete extents - a requirement of the cache-key
// invariant.
func genAccessor(variable string, inRank, outRank int, dt tensor.DataType) string {
	elem, _ := elemType(dt, false)
	field := "uniforms." + shapeField(variable)
	var b strings.Builder
	outCT, _ := CoordType(outRank)
	fmt.Fprintf(&b, "fn %s(coords : %s) -> %s {\n", accessorName(variable), outCT, elem)

	if inRank == 0 {
		fmt.Fprintf(&b, "  return %s[0];\n}\n", variable)
		return b.String()
	}

	// The input aligns with the trailing inRank output dimensions.
	lead := outRank - inRank
	if inRank == 1 {
		src := coordRef(lead, outRank)
		fmt.Fprintf(&b, "  let inCoord = %s * min(%s - 1, 1);\n", src, field)
		fmt.Fprintf(&b, "  return %s[inCoord];\n}\n", variable)
		return b.String()
	}

	inCT, _ := CoordType(inRank)
	parts := make([]string, inRank)
	for i := 0; i < inRank; i++ {
		parts[i] = coordRef(lead+i, outRank)
	}
	fmt.Fprintf(&b, "  var inCoords = %s(%s);\n", inCT, strings.Join(parts, ", "))
	fmt.Fprintf(&b, "  inCoords = inCoords * min(%s - %s(1), %s(1));\n", field, inCT, inCT)
	fmt.Fprintf(&b, "  return %s[getFlatIndex%dD(inCoords, %s)];\n}\n", variable, inRank, field)
	return b.String()
}

// genSetOutput emits the output writers: a flat-index form always, and a
// coordinate form for rank >= 2 that flattens against the output shape.
func genSetOutput(outRank int, elem string, packed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fn setOutputFlat(flatIndex : i32, value : %s) {\n  result[flatIndex] = value;\n}\n", elem)
	if packed || outRank < 2 {
		return b.String()
	}
	params := make([]string, outRank)
	args := make([]string, outRank)
	for i := 0; i < outRank; i++ {
		params[i] = fmt.Sprintf("d%d : i32", i)
		args[i] = fmt.Sprintf("d%d", i)
	}
	ct, _ := CoordType(outRank)
	fmt.Fprintf(&b, "fn setOutput(%s, value : %s) {\n", strings.Join(params, ", "), elem)
	fmt.Fprintf(&b, "  setOutputFlat(getFlatIndex%dD(%s(%s), uniforms.outShape), value);\n}\n",
		outRank, ct, strings.Join(args, ", "))
	return b.String()
}
