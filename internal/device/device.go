// Package device defines the narrow GPU contract the execution layer runs
// against: buffer lifecycle, program compilation and dispatch. The wgpu
// subpackage implements it on WebGPU; tests substitute an in-memory fake.
package device

// BufferUsage is a bitmask of the roles a buffer can serve in a dispatch.
type BufferUsage uint32

const (
	// UsageStorage marks a buffer bindable as a storage buffer.
	UsageStorage BufferUsage = 1 << iota
	// UsageUniform marks a buffer bindable as a uniform buffer.
	UsageUniform
	// UsageCopySrc allows the buffer as a copy source (readback).
	UsageCopySrc
	// UsageCopyDst allows the buffer as a copy destination (upload).
	UsageCopyDst
)

// Buffer is an opaque device allocation. Implementations carry their own
// native handle; the execution layer only tracks sizes.
type Buffer interface {
	Size() uint64
}

// Program is an opaque compiled compute program.
type Program interface {
	Label() string
}

// Context owns a device connection. All methods are safe for concurrent use.
// Uploads and dispatches may be batched internally; Download observes every
// previously issued operation on the same Context.
type Context interface {
	// CreateBuffer allocates a buffer of the given size. Contents are
	// undefined until written by Upload or a dispatch.
	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	// Upload copies host bytes into dst, which must have UsageCopyDst.
	Upload(dst Buffer, data []byte) error
	// Download reads size bytes back from src, which must have UsageCopySrc.
	Download(src Buffer, size uint64) ([]byte, error)
	// Compile builds a compute program from WGSL source. A failed
	// compilation returns a *CompileError.
	Compile(label, source string) (Program, error)
	// Dispatch binds the storage buffers in order, then the uniform buffer
	// at the next binding slot, and launches the given workgroup counts.
	Dispatch(p Program, storage []Buffer, uniform Buffer, groups [3]uint32) error
	// DestroyBuffer releases a buffer. The buffer must not be referenced
	// by any dispatch issued after this call.
	DestroyBuffer(Buffer)
	// DestroyProgram releases a compiled program.
	DestroyProgram(Program)
	// Close releases the device connection and everything it still owns.
	Close()
}
