package shader

import "encoding/binary"

// UniformField is one operation-specific scalar in the packed uniform block,
// appended after the shape vectors. Type must be a WGSL scalar ("i32",
// "u32" or "f32"); vector parameters are expressed as multiple scalars so
// the "extra scalars are appended unpadded" packing rule stays exact.
type UniformField struct {
	Name string
	Type string
}

// shapeAlignment returns the base alignment, in 4-byte scalar slots, of a
// shape vector of the given rank inside a WGSL uniform struct: scalars
// align to 1 slot, vec2 to 2, vec3 and vec4 to 4. This table mirrors the
// WGSL uniform address-space layout rules, so the bytes produced by
// PackShapes line up with the Uniforms struct the preprocessor declares.
func shapeAlignment(rank int) int {
	switch {
	case rank <= 1:
		return 1
	case rank == 2:
		return 2
	default:
		return 4
	}
}

// PackShapes packs shape vectors and trailing scalar parameters into the
// byte layout of the generated Uniforms struct. Each shape is preceded by
// zero padding up to its base alignment; extra scalars follow unpadded.
// The result is rounded up to 16 bytes, the uniform-buffer granularity.
func PackShapes(shapes [][]int, extra []uint32) []byte {
	var words []uint32
	for _, s := range shapes {
		align := shapeAlignment(len(s))
		for len(words)%align != 0 {
			words = append(words, 0)
		}
		if len(s) == 0 {
			words = append(words, 1) // scalar shape occupies one slot
			continue
		}
		for _, d := range s {
			words = append(words, uint32(d)) //nolint:gosec // dims are validated non-negative
		}
	}
	words = append(words, extra...)

	out := make([]byte, (len(words)*4+15)&^15)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
