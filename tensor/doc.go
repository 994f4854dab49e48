// Copyright 2026 Warp Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the shape and dtype vocabulary of the warp
// execution layer: row-major shapes, NumPy-style broadcasting and the
// supported data types.
//
// The implementation lives in internal/tensor; this package re-exports the
// pieces user code needs to describe tensors for the webgpu backend:
//
//	import (
//	    "github.com/warpml/warp/backend/webgpu"
//	    "github.com/warpml/warp/tensor"
//	)
//
//	b, err := webgpu.New()
//	h := b.NewHandle()
//	err = b.Register(h, tensor.Shape{2, 3}, tensor.Float32)
package tensor
