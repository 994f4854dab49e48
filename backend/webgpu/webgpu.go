// Copyright 2026 Warp Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu is the public entry point to the WebGPU execution
// backend: shader generation, pipeline caching and dispatch over tensors
// registered with the coordinator.
//
//	b, err := webgpu.New()
//	if err != nil { ... }
//	defer b.Release()
//
//	a := b.NewHandle()
//	_ = b.Register(a, tensor.Shape{3}, tensor.Float32)
//	_ = b.Write(a, bytesOf([]float32{1, 2, 3}))
//	sum, _ := b.Add(a, a)
//	data, _ := b.Read(sum)
package webgpu

import (
	"github.com/warpml/warp/internal/backend"
	"github.com/warpml/warp/internal/device/wgpu"
	"github.com/warpml/warp/internal/program"
)

// Backend is the execution coordinator bound to a WebGPU device.
type Backend = backend.Backend

// Handle identifies a tensor registered with a Backend.
type Handle = backend.Handle

// MemoryStats is a snapshot of device memory accounting.
type MemoryStats = backend.MemoryStats

// Conv2DParams carries stride, padding and dilation for the
// convolution-family operations.
type Conv2DParams = program.Conv2DParams

// ErrNotRegistered is returned for handles the backend does not know.
var ErrNotRegistered = backend.ErrNotRegistered

// New opens the default GPU adapter and returns a coordinator bound to
// it. The caller must Release the backend when done.
func New() (*Backend, error) {
	ctx, err := wgpu.New()
	if err != nil {
		return nil, err
	}
	return backend.New(ctx), nil
}

// IsAvailable reports whether a WebGPU adapter can be opened on this
// system without actually keeping one open.
func IsAvailable() bool {
	return wgpu.IsAvailable()
}
