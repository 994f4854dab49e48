package backend

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/warpml/warp/internal/device"
	"github.com/warpml/warp/internal/program"
	"github.com/warpml/warp/internal/shader"
	"github.com/warpml/warp/internal/tensor"
)

// compileAndRun executes a catalog descriptor over the given input handles
// and returns the handle of the freshly registered output tensor.
//
// viewShapes optionally overrides the logical shape of each input for this
// dispatch only (a free reinterpretation of the same row-major bytes);
// pass nil to use the registered shapes. The uniform block and the
// generated shader glue both see the view shapes.
func (b *Backend) compileAndRun(d *program.Descriptor, inputs []Handle, viewShapes []tensor.Shape) (Handle, error) {
	if viewShapes != nil && len(viewShapes) != len(inputs) {
		return 0, fmt.Errorf("backend: %d view shapes for %d inputs", len(viewShapes), len(inputs))
	}

	infos := make([]*TensorInfo, len(inputs))
	bufferInfos := make([]shader.BufferInfo, len(inputs))
	ranks := make([]int, len(inputs))
	for i, h := range inputs {
		info, err := b.lookup(h)
		if err != nil {
			return 0, err
		}
		infos[i] = info
		s := info.Shape
		if viewShapes != nil {
			s = viewShapes[i]
			if s.NumElements() != info.Shape.NumElements() {
				return 0, fmt.Errorf("backend: view shape %v does not cover tensor %v", s, info.Shape)
			}
		}
		bufferInfos[i] = shader.BufferInfo{Shape: s, DType: info.DType}
		ranks[i] = len(s)
	}

	out := b.NewHandle()
	if err := b.Register(out, d.OutputShape, d.OutputDType); err != nil {
		return 0, err
	}
	outInfo, err := b.lookup(out)
	if err != nil {
		return 0, err
	}

	fail := func(err error) (Handle, error) {
		b.DisposeData(out) //nolint:errcheck // best-effort cleanup
		return 0, err
	}

	key := d.Key(ranks)
	prog, err := b.getOrCompile(key, func() (device.Program, error) {
		src, err := shader.MakeShader(bufferInfos, shader.BufferInfo{Shape: d.OutputShape, DType: d.OutputDType}, d.ShaderProgram())
		if err != nil {
			return nil, err
		}
		return b.ctx.Compile(key, src)
	})
	if err != nil {
		return fail(err)
	}

	shapes := make([][]int, 0, len(inputs)+1)
	for _, bi := range bufferInfos {
		shapes = append(shapes, bi.Shape)
	}
	shapes = append(shapes, d.OutputShape)
	uniformBytes := shader.PackShapes(shapes, d.UniformValues)

	uniform, err := b.ctx.CreateBuffer(uint64(len(uniformBytes)), device.UsageUniform|device.UsageCopyDst)
	if err != nil {
		return fail(fmt.Errorf("backend: uniform buffer for %s: %w", d.Name, err))
	}
	if err := b.ctx.Upload(uniform, uniformBytes); err != nil {
		b.ctx.DestroyBuffer(uniform)
		return fail(fmt.Errorf("backend: uniform upload for %s: %w", d.Name, err))
	}

	storage := make([]device.Buffer, 0, len(inputs)+1)
	for _, info := range infos {
		storage = append(storage, info.ref.buf)
	}
	storage = append(storage, outInfo.ref.buf)

	klog.V(2).Infof("backend: dispatch %s -> %v, groups %v", d.Name, d.OutputShape, d.Dispatch)
	if err := b.ctx.Dispatch(prog, storage, uniform, d.Dispatch); err != nil {
		b.ctx.DestroyBuffer(uniform)
		return fail(fmt.Errorf("backend: dispatch %s: %w", d.Name, err))
	}
	b.ctx.DestroyBuffer(uniform)
	return out, nil
}
