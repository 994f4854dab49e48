// Copyright 2026 Warp Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/warpml/warp/internal/tensor"

// Shape is a row-major tensor shape, outermost dimension first.
type Shape = tensor.Shape

// DataType identifies a tensor element type.
type DataType = tensor.DataType

// Supported element types. Float32 and Int32 can participate in device
// programs; Uint8 and Bool are host-side storage formats.
const (
	Float32 = tensor.Float32
	Int32   = tensor.Int32
	Uint8   = tensor.Uint8
	Bool    = tensor.Bool
)

// BroadcastShapes resolves the NumPy-style broadcast of two shapes.
func BroadcastShapes(a, b Shape) (Shape, error) {
	return tensor.BroadcastShapes(a, b)
}
