// Package backend is the execution coordinator: it owns the tensor table,
// the compiled-program cache and a device context, and turns catalog
// descriptors into dispatched GPU work.
package backend

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/warpml/warp/internal/device"
	"github.com/warpml/warp/internal/tensor"
)

// ErrNotRegistered is returned when an operation references a handle the
// coordinator has never seen or has already disposed.
var ErrNotRegistered = errors.New("backend: tensor handle not registered")

// Handle identifies a tensor in the coordinator's table.
type Handle int64

// bufferRef is a ref-counted device buffer. Reshape produces a second
// tensor over the same storage; the buffer is destroyed when the last
// referencing tensor is disposed.
type bufferRef struct {
	buf  device.Buffer
	refs int
}

// TensorInfo is one registered tensor: logical shape and dtype plus the
// shared device buffer.
type TensorInfo struct {
	Shape    tensor.Shape
	DType    tensor.DataType
	ByteSize uint64

	ref *bufferRef
}

// Backend coordinates tensor registration, program compilation and
// dispatch over one device context. Methods are safe for concurrent use;
// the caches follow the usual read-mostly RWMutex pattern.
type Backend struct {
	ctx device.Context

	mu      sync.RWMutex
	tensors map[Handle]*TensorInfo

	progMu   sync.RWMutex
	programs map[string]device.Program

	nextHandle atomic.Int64

	statsMu        sync.Mutex
	allocatedBytes uint64
	peakBytes      uint64
	activeBuffers  int64
}

// New wraps a device context in a coordinator. The coordinator owns the
// context and closes it on Release.
func New(ctx device.Context) *Backend {
	return &Backend{
		ctx:      ctx,
		tensors:  make(map[Handle]*TensorInfo),
		programs: make(map[string]device.Program),
	}
}

// NewHandle reserves a fresh tensor handle. Negative handles are never
// issued, so callers may use them as sentinels.
func (b *Backend) NewHandle() Handle {
	return Handle(b.nextHandle.Add(1))
}

// Register allocates device storage for a handle. Registering an existing
// handle with the same shape and dtype is a no-op; changing either is an
// error.
func (b *Backend) Register(h Handle, shape tensor.Shape, dt tensor.DataType) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if info, ok := b.tensors[h]; ok {
		if !info.Shape.Equal(shape) || info.DType != dt {
			return fmt.Errorf("backend: handle %d already registered as %v %s", h, info.Shape, info.DType)
		}
		return nil
	}
	info, err := b.allocate(shape, dt)
	if err != nil {
		return err
	}
	b.tensors[h] = info
	return nil
}

// allocate builds a TensorInfo with a fresh device buffer. Caller holds mu.
func (b *Backend) allocate(shape tensor.Shape, dt tensor.DataType) (*TensorInfo, error) {
	size := uint64(shape.NumElements()) * uint64(dt.Size()) //nolint:gosec // validated non-negative
	buf, err := b.ctx.CreateBuffer(size,
		device.UsageStorage|device.UsageCopySrc|device.UsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("backend: allocating %v %s: %w", shape, dt, err)
	}
	b.trackAlloc(size)
	return &TensorInfo{
		Shape:    shape.Clone(),
		DType:    dt,
		ByteSize: size,
		ref:      &bufferRef{buf: buf, refs: 1},
	}, nil
}

// lookup returns the info for a handle or ErrNotRegistered.
func (b *Backend) lookup(h Handle) (*TensorInfo, error) {
	b.mu.RLock()
	info, ok := b.tensors[h]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotRegistered, h)
	}
	return info, nil
}

// Write uploads host bytes into a registered tensor.
func (b *Backend) Write(h Handle, data []byte) error {
	info, err := b.lookup(h)
	if err != nil {
		return err
	}
	if uint64(len(data)) != info.ByteSize {
		return fmt.Errorf("backend: write of %d bytes into %v %s tensor (%d bytes)",
			len(data), info.Shape, info.DType, info.ByteSize)
	}
	return b.ctx.Upload(info.ref.buf, data)
}

// Read downloads a tensor's bytes. This is the suspension point: all
// pending device work the tensor depends on completes first.
func (b *Backend) Read(h Handle) ([]byte, error) {
	info, err := b.lookup(h)
	if err != nil {
		return nil, err
	}
	return b.ctx.Download(info.ref.buf, info.ByteSize)
}

// DisposeData drops a handle and releases its buffer once no other handle
// (a reshape view) still references it. Disposing an unknown handle is an
// error, matching the fail-fast handle contract.
func (b *Backend) DisposeData(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.tensors[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotRegistered, h)
	}
	delete(b.tensors, h)
	info.ref.refs--
	if info.ref.refs == 0 {
		b.ctx.DestroyBuffer(info.ref.buf)
		b.trackRelease(info.ByteSize)
	}
	return nil
}

// Reshape registers a new handle viewing the same buffer under a different
// shape. No data moves; element counts must match.
func (b *Backend) Reshape(h Handle, newShape tensor.Shape) (Handle, error) {
	if err := newShape.Validate(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.tensors[h]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNotRegistered, h)
	}
	if newShape.NumElements() != info.Shape.NumElements() {
		return 0, fmt.Errorf("backend: reshape %v -> %v changes element count", info.Shape, newShape)
	}
	out := b.NewHandle()
	info.ref.refs++
	b.tensors[out] = &TensorInfo{
		Shape:    newShape.Clone(),
		DType:    info.DType,
		ByteSize: info.ByteSize,
		ref:      info.ref,
	}
	return out, nil
}

// FloatPrecision reports the float width of device computation.
func (b *Backend) FloatPrecision() int { return 32 }

// MemoryStats is a snapshot of device memory accounting.
type MemoryStats struct {
	AllocatedBytes uint64
	PeakBytes      uint64
	ActiveBuffers  int64
}

// MemoryStats returns the current allocation counters.
func (b *Backend) MemoryStats() MemoryStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return MemoryStats{
		AllocatedBytes: b.allocatedBytes,
		PeakBytes:      b.peakBytes,
		ActiveBuffers:  b.activeBuffers,
	}
}

func (b *Backend) trackAlloc(size uint64) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.allocatedBytes += size
	b.activeBuffers++
	if b.allocatedBytes > b.peakBytes {
		b.peakBytes = b.allocatedBytes
	}
}

func (b *Backend) trackRelease(size uint64) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	if b.allocatedBytes >= size {
		b.allocatedBytes -= size
	}
	b.activeBuffers--
}

// Release destroys every tensor and compiled program and closes the
// device context.
func (b *Backend) Release() {
	b.mu.Lock()
	seen := make(map[*bufferRef]bool)
	for _, info := range b.tensors {
		if !seen[info.ref] {
			seen[info.ref] = true
			b.ctx.DestroyBuffer(info.ref.buf)
		}
	}
	b.tensors = make(map[Handle]*TensorInfo)
	b.mu.Unlock()

	b.progMu.Lock()
	for _, p := range b.programs {
		b.ctx.DestroyProgram(p)
	}
	b.programs = make(map[string]device.Program)
	b.progMu.Unlock()

	stats := b.MemoryStats()
	klog.V(1).Infof("backend: released; peak device memory %s", humanize.IBytes(stats.PeakBytes))
	b.ctx.Close()
}
