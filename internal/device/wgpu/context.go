// Package wgpu implements the device contract on WebGPU through the
// zero-CGO go-webgpu bindings.
package wgpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"k8s.io/klog/v2"

	"github.com/warpml/warp/internal/device"
)

// buffer is a pooled device allocation. capacity may exceed the logical
// size when the pool hands back a larger recycled buffer; bindings always
// use the logical size.
type buffer struct {
	handle   *wgpu.Buffer
	size     uint64
	capacity uint64
	usage    wgpu.BufferUsage
}

func (b *buffer) Size() uint64 { return b.size }

// program pairs a compiled shader module with its compute pipeline.
type program struct {
	label    string
	shader   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
}

func (p *program) Label() string { return p.label }

// Context is the WebGPU implementation of device.Context.
//
// Commands are not submitted one by one: uploads and dispatches append to a
// pending command list that is flushed before any download. Because every
// command passes through the pending list in issue order and the queue
// executes submissions in order, buffer reuse through the pool needs no
// extra synchronization.
type Context struct {
	instance    *wgpu.Instance
	adapter     *wgpu.Adapter
	dev         *wgpu.Device
	queue       *wgpu.Queue
	adapterInfo *wgpu.AdapterInfoGo

	pool *bufferPool

	pendingMu sync.Mutex
	pending   []*wgpu.CommandBuffer
	// Resources referenced by pending commands, released after submission.
	retiredBuffers    []*wgpu.Buffer
	retiredBindGroups []*wgpu.BindGroup
	maxBatchSize      int
}

var _ device.Context = (*Context)(nil)

// New opens the default high-performance adapter. A missing native
// library surfaces as an error, not a panic.
func New() (ctx *Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = fmt.Errorf("wgpu: native library not available: %v", r)
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return nil, fmt.Errorf("wgpu: failed to create instance: %w", instErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("wgpu: failed to request adapter: %w", adapterErr)
	}
	info, infoErr := adapter.GetInfo()
	if infoErr != nil {
		info = nil
	}

	dev, devErr := adapter.RequestDevice(nil)
	if devErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpu: failed to request device: %w", devErr)
	}
	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpu: failed to get queue")
	}

	if info != nil {
		klog.V(1).Infof("wgpu: opened adapter %s %s", info.Device, info.Vendor)
	}
	return &Context{
		instance:    instance,
		adapter:     adapter,
		dev:         dev,
		queue:       queue,
		adapterInfo: info,
		pool:        newBufferPool(dev),
	}, nil
}

// IsAvailable reports whether a WebGPU adapter can be opened on this system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// AdapterName describes the opened adapter.
func (c *Context) AdapterName() string {
	if c.adapterInfo != nil {
		return fmt.Sprintf("%s %s", c.adapterInfo.Device, c.adapterInfo.Vendor)
	}
	return "unknown"
}

// SetMaxBatchSize caps the pending command list; 0 disables auto-flush.
func (c *Context) SetMaxBatchSize(n int) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.maxBatchSize = n
}

func translateUsage(u device.BufferUsage) wgpu.BufferUsage {
	var w wgpu.BufferUsage
	if u&device.UsageStorage != 0 {
		w |= wgpu.BufferUsageStorage
	}
	if u&device.UsageUniform != 0 {
		w |= wgpu.BufferUsageUniform
	}
	if u&device.UsageCopySrc != 0 {
		w |= wgpu.BufferUsageCopySrc
	}
	if u&device.UsageCopyDst != 0 {
		w |= wgpu.BufferUsageCopyDst
	}
	return w
}

// CreateBuffer allocates (or recycles) a device buffer. Uniform buffers are
// rounded up to the 16-byte binding granularity.
func (c *Context) CreateBuffer(size uint64, usage device.BufferUsage) (device.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("wgpu: zero-sized buffer")
	}
	if usage&device.UsageUniform != 0 {
		size = (size + 15) &^ 15
	}
	w := translateUsage(usage)
	handle, capacity := c.pool.acquire(size, w)
	if handle == nil {
		return nil, fmt.Errorf("wgpu: buffer allocation of %d bytes failed", size)
	}
	return &buffer{handle: handle, size: size, capacity: capacity, usage: w}, nil
}

// Upload stages host bytes through a mapped-at-creation buffer and enqueues
// a copy into dst. The staging buffer stays alive until the next flush.
func (c *Context) Upload(dst device.Buffer, data []byte) error {
	b, ok := dst.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer")
	}
	if uint64(len(data)) > b.size {
		return fmt.Errorf("wgpu: upload of %d bytes into %d-byte buffer", len(data), b.size)
	}
	size := uint64(len(data))

	staging := c.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := staging.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size) //nolint:gosec // zero-copy view of the mapped range
	copy(mappedSlice, data)
	staging.Unmap()

	encoder := c.dev.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, b.handle, 0, size)
	cmd := encoder.Finish(nil)

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = append(c.pending, cmd)
	c.retiredBuffers = append(c.retiredBuffers, staging)
	if c.maxBatchSize > 0 && len(c.pending) >= c.maxBatchSize {
		c.flushLocked()
	}
	return nil
}

// Download flushes pending commands, then copies the buffer through a
// map-readable staging buffer.
func (c *Context) Download(src device.Buffer, size uint64) ([]byte, error) {
	b, ok := src.(*buffer)
	if !ok {
		return nil, fmt.Errorf("wgpu: foreign buffer")
	}
	if size > b.size {
		return nil, fmt.Errorf("wgpu: download of %d bytes from %d-byte buffer", size, b.size)
	}
	c.Flush()

	staging := c.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := c.dev.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(b.handle, 0, staging, 0, size)
	cmd := encoder.Finish(nil)
	c.queue.Submit(cmd)

	if err := staging.MapAsync(c.dev, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("wgpu: failed to map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size) //nolint:gosec // zero-copy view of the mapped range
	out := make([]byte, size)
	copy(out, mappedSlice)
	staging.Unmap()
	return out, nil
}

// Compile builds a shader module and its compute pipeline. Validation
// failures in the native layer surface as a *device.CompileError.
func (c *Context) Compile(label, source string) (p device.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = &device.CompileError{Label: label, Source: source, Diagnostic: fmt.Sprint(r)}
		}
	}()

	shader := c.dev.CreateShaderModuleWGSL(source)
	if shader == nil {
		return nil, &device.CompileError{Label: label, Source: source, Diagnostic: "shader module creation failed"}
	}
	pipeline := c.dev.CreateComputePipelineSimple(nil, shader, "main")
	if pipeline == nil {
		shader.Release()
		return nil, &device.CompileError{Label: label, Source: source, Diagnostic: "pipeline creation failed"}
	}
	klog.V(2).Infof("wgpu: compiled %s (%d bytes of WGSL)", label, len(source))
	return &program{label: label, shader: shader, pipeline: pipeline}, nil
}

// Dispatch binds the storage buffers in slot order, the uniform buffer in
// the following slot, and enqueues the workgroup launch.
func (c *Context) Dispatch(dp device.Program, storage []device.Buffer, uniform device.Buffer, groups [3]uint32) error {
	p, ok := dp.(*program)
	if !ok {
		return fmt.Errorf("wgpu: foreign program")
	}
	entries := make([]wgpu.BindGroupEntry, 0, len(storage)+1)
	for i, s := range storage {
		b, ok := s.(*buffer)
		if !ok {
			return fmt.Errorf("wgpu: foreign buffer in slot %d", i)
		}
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), b.handle, 0, b.size)) //nolint:gosec // slot count is tiny
	}
	ub, ok := uniform.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign uniform buffer")
	}
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(storage)), ub.handle, 0, ub.size)) //nolint:gosec

	bindGroupLayout := p.pipeline.GetBindGroupLayout(0)
	bindGroup := c.dev.CreateBindGroupSimple(bindGroupLayout, entries)
	if bindGroup == nil {
		return fmt.Errorf("wgpu: bind group creation failed for %s", p.label)
	}

	encoder := c.dev.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groups[0], groups[1], groups[2])
	pass.End()
	cmd := encoder.Finish(nil)

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = append(c.pending, cmd)
	c.retiredBindGroups = append(c.retiredBindGroups, bindGroup)
	if c.maxBatchSize > 0 && len(c.pending) >= c.maxBatchSize {
		c.flushLocked()
	}
	return nil
}

// Flush submits every pending command buffer and releases the staging
// buffers and bind groups they referenced.
func (c *Context) Flush() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.flushLocked()
}

func (c *Context) flushLocked() {
	if len(c.pending) == 0 {
		return
	}
	c.queue.Submit(c.pending...)
	c.pending = c.pending[:0]
	for _, b := range c.retiredBuffers {
		b.Release()
	}
	c.retiredBuffers = c.retiredBuffers[:0]
	for _, bg := range c.retiredBindGroups {
		bg.Release()
	}
	c.retiredBindGroups = c.retiredBindGroups[:0]
}

// DestroyBuffer returns the buffer to the pool. Safe while commands that
// reference it are still pending: reuse stays behind them in queue order.
func (c *Context) DestroyBuffer(db device.Buffer) {
	b, ok := db.(*buffer)
	if !ok || b.handle == nil {
		return
	}
	c.pool.release(b.handle, b.capacity, b.usage)
	b.handle = nil
}

// DestroyProgram releases the pipeline and shader module.
func (c *Context) DestroyProgram(dp device.Program) {
	p, ok := dp.(*program)
	if !ok {
		return
	}
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.shader != nil {
		p.shader.Release()
		p.shader = nil
	}
}

// PoolStats reports buffer-pool counters for memory accounting.
func (c *Context) PoolStats() (allocated, released, hits, misses uint64, pooled int) {
	return c.pool.stats()
}

// Close flushes pending work and releases the device connection.
func (c *Context) Close() {
	c.Flush()
	c.pool.clear()
	if c.queue != nil {
		c.queue.Release()
		c.queue = nil
	}
	if c.dev != nil {
		c.dev.Release()
		c.dev = nil
	}
	if c.adapter != nil {
		c.adapter.Release()
		c.adapter = nil
	}
	if c.instance != nil {
		c.instance.Release()
		c.instance = nil
	}
}
