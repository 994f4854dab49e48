package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ConvertBytes reinterprets raw little-endian tensor bytes from one data type
// to another, element by element. Float-to-int conversions truncate toward
// zero; conversions to Bool map non-zero values to 1.
func ConvertBytes(data []byte, from, to DataType, numElements int) ([]byte, error) {
	if len(data) < numElements*from.Size() {
		return nil, fmt.Errorf("cast: %d elements of %s need %d bytes, got %d",
			numElements, from, numElements*from.Size(), len(data))
	}
	if from == to {
		out := make([]byte, numElements*from.Size())
		copy(out, data)
		return out, nil
	}

	out := make([]byte, numElements*to.Size())
	for i := 0; i < numElements; i++ {
		v := loadElement(data, from, i)
		storeElement(out, to, i, v)
	}
	return out, nil
}

// loadElement reads element i as float64, the widest type needed to round-trip
// every supported dtype.
func loadElement(data []byte, dt DataType, i int) float64 {
	switch dt {
	case Float32:
		bits := binary.LittleEndian.Uint32(data[i*4:])
		return float64(math.Float32frombits(bits))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(data[i*4:]))) //nolint:gosec // intentional reinterpretation
	case Uint8:
		return float64(data[i])
	case Bool:
		if data[i] != 0 {
			return 1
		}
		return 0
	default:
		panic("unknown data type")
	}
}

func storeElement(data []byte, dt DataType, i int, v float64) {
	switch dt {
	case Float32:
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(float32(v)))
	case Int32:
		binary.LittleEndian.PutUint32(data[i*4:], uint32(int32(v))) //nolint:gosec // intentional reinterpretation
	case Uint8:
		data[i] = byte(int64(v))
	case Bool:
		if v != 0 {
			data[i] = 1
		} else {
			data[i] = 0
		}
	default:
		panic("unknown data type")
	}
}
