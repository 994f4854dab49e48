// Package tensor provides the shape and data-type model shared by the
// shader generator, the program catalog and the execution coordinator.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for device-resident tensors.
const (
	Float32 DataType = iota
	Int32
	Uint8
	Bool
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}
