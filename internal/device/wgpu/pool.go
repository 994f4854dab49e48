package wgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// bufferPool recycles device buffers to cut allocation churn: tensor
// workloads create and destroy many same-sized buffers per step. Buffers
// are bucketed by size category; a pooled buffer is reused when it is at
// least as large as the request and carries every requested usage bit.
type bufferPool struct {
	device *wgpu.Device

	mu     sync.Mutex
	small  []*pooledBuffer // < 4KB
	medium []*pooledBuffer // 4KB - 1MB
	large  []*pooledBuffer // > 1MB

	allocated uint64
	released  uint64
	hits      uint64
	misses    uint64
}

const (
	smallThreshold  = 4 * 1024
	mediumThreshold = 1024 * 1024
	maxPerCategory  = 100
)

type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
	usage  wgpu.BufferUsage
}

func newBufferPool(device *wgpu.Device) *bufferPool {
	return &bufferPool{
		device: device,
		small:  make([]*pooledBuffer, 0, maxPerCategory),
		medium: make([]*pooledBuffer, 0, maxPerCategory),
		large:  make([]*pooledBuffer, 0, maxPerCategory),
	}
}

// acquire returns a pooled buffer of at least size bytes, or allocates one.
// The returned capacity may exceed the request.
func (p *bufferPool) acquire(size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pool := p.category(size)
	for i, pb := range *pool {
		if pb.size >= size && pb.usage&usage == usage {
			buffer, capacity := pb.buffer, pb.size
			*pool = append((*pool)[:i], (*pool)[i+1:]...)
			p.hits++
			return buffer, capacity
		}
	}

	p.misses++
	p.allocated++
	buffer := p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: usage,
		Size:  size,
	})
	return buffer, size
}

// release returns a buffer to its category, or frees it when the category
// is full.
func (p *bufferPool) release(buffer *wgpu.Buffer, size uint64, usage wgpu.BufferUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.released++
	pool := p.category(size)
	if len(*pool) >= maxPerCategory {
		buffer.Release()
		return
	}
	*pool = append(*pool, &pooledBuffer{buffer: buffer, size: size, usage: usage})
}

// clear frees every pooled buffer.
func (p *bufferPool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pool := range []*[]*pooledBuffer{&p.small, &p.medium, &p.large} {
		for _, pb := range *pool {
			pb.buffer.Release()
		}
		*pool = (*pool)[:0]
	}
}

// stats reports allocation counters and the pooled buffer count.
func (p *bufferPool) stats() (allocated, released, hits, misses uint64, pooled int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated, p.released, p.hits, p.misses,
		len(p.small) + len(p.medium) + len(p.large)
}

func (p *bufferPool) category(size uint64) *[]*pooledBuffer {
	switch {
	case size < smallThreshold:
		return &p.small
	case size < mediumThreshold:
		return &p.medium
	default:
		return &p.large
	}
}
