package backend

import (
	"fmt"
	"strings"
	"sync"

	"github.com/warpml/warp/internal/device"
)

// fakeContext is an in-memory device.Context. It stores uploaded bytes,
// counts compilations and records every dispatch so tests can assert on
// binding order, uniform contents and cache behavior. It does not execute
// shaders; numeric results are covered by the GPU-gated end-to-end tests.
type fakeContext struct {
	mu         sync.Mutex
	compiles   []string
	dispatches []dispatchRecord
	destroyed  int
	live       int
	closed     bool
}

type fakeBuffer struct {
	size  uint64
	usage device.BufferUsage
	data  []byte
}

func (b *fakeBuffer) Size() uint64 { return b.size }

type fakeProgram struct {
	label  string
	source string
}

func (p *fakeProgram) Label() string { return p.label }

type dispatchRecord struct {
	program string
	storage []*fakeBuffer
	uniform []byte
	groups  [3]uint32
}

func newFakeContext() *fakeContext { return &fakeContext{} }

func (c *fakeContext) CreateBuffer(size uint64, usage device.BufferUsage) (device.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live++
	return &fakeBuffer{size: size, usage: usage, data: make([]byte, size)}, nil
}

func (c *fakeContext) Upload(dst device.Buffer, data []byte) error {
	b, ok := dst.(*fakeBuffer)
	if !ok {
		return fmt.Errorf("fake: foreign buffer")
	}
	if uint64(len(data)) > b.size {
		return fmt.Errorf("fake: upload overflow")
	}
	copy(b.data, data)
	return nil
}

func (c *fakeContext) Download(src device.Buffer, size uint64) ([]byte, error) {
	b, ok := src.(*fakeBuffer)
	if !ok {
		return nil, fmt.Errorf("fake: foreign buffer")
	}
	out := make([]byte, size)
	copy(out, b.data)
	return out, nil
}

func (c *fakeContext) Compile(label, source string) (device.Program, error) {
	if strings.Contains(source, "fail-compile") {
		return nil, &device.CompileError{Label: label, Source: source, Diagnostic: "forced failure"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compiles = append(c.compiles, label)
	return &fakeProgram{label: label, source: source}, nil
}

func (c *fakeContext) Dispatch(p device.Program, storage []device.Buffer, uniform device.Buffer, groups [3]uint32) error {
	fp, ok := p.(*fakeProgram)
	if !ok {
		return fmt.Errorf("fake: foreign program")
	}
	rec := dispatchRecord{program: fp.label, groups: groups}
	for _, s := range storage {
		rec.storage = append(rec.storage, s.(*fakeBuffer))
	}
	ub := uniform.(*fakeBuffer)
	rec.uniform = append([]byte(nil), ub.data...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatches = append(c.dispatches, rec)
	return nil
}

func (c *fakeContext) DestroyBuffer(device.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed++
	c.live--
}

func (c *fakeContext) DestroyProgram(device.Program) {}

func (c *fakeContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeContext) compileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.compiles)
}

func (c *fakeContext) lastDispatch() dispatchRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatches[len(c.dispatches)-1]
}
