package backend

import (
	"k8s.io/klog/v2"

	"github.com/warpml/warp/internal/device"
)

// getOrCompile returns the cached program for key or compiles one with
// build. Only successful compilations are stored, so a failed key retries
// from scratch. The cache is unbounded: the key space is small in practice
// (operation x workgroup size x input ranks), and pipelines are expensive
// enough that eviction would cost more than it saves.
func (b *Backend) getOrCompile(key string, build func() (device.Program, error)) (device.Program, error) {
	b.progMu.RLock()
	p, ok := b.programs[key]
	b.progMu.RUnlock()
	if ok {
		klog.V(2).Infof("backend: program cache hit for %s", key)
		return p, nil
	}

	p, err := build()
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("backend: compiled program for %s", key)

	b.progMu.Lock()
	defer b.progMu.Unlock()
	if cached, ok := b.programs[key]; ok {
		// Lost a compile race; keep the first program.
		b.ctx.DestroyProgram(p)
		return cached, nil
	}
	b.programs[key] = p
	return p, nil
}
