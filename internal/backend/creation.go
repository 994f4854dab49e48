package backend

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/warpml/warp/internal/tensor"
)

// FromPixels ingests an RGBA image as an int32 tensor of shape
// [height, width, numChannels] with values 0-255. numChannels selects the
// leading channels in RGBA order (1 = red only, 3 = RGB, 4 = RGBA).
func (b *Backend) FromPixels(img *image.RGBA, numChannels int) (Handle, error) {
	if img == nil {
		return 0, fmt.Errorf("backend: fromPixels of nil image")
	}
	if numChannels < 1 || numChannels > 4 {
		return 0, fmt.Errorf("backend: fromPixels channel count %d out of range 1-4", numChannels)
	}
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	shape := tensor.Shape{h, w, numChannels}

	data := make([]byte, shape.NumElements()*tensor.Int32.Size())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			off := img.PixOffset(x, y)
			for c := 0; c < numChannels; c++ {
				binary.LittleEndian.PutUint32(data[i:], uint32(img.Pix[off+c]))
				i += 4
			}
		}
	}

	out := b.NewHandle()
	if err := b.Register(out, shape, tensor.Int32); err != nil {
		return 0, err
	}
	if err := b.Write(out, data); err != nil {
		b.DisposeData(out) //nolint:errcheck // best-effort cleanup
		return 0, err
	}
	return out, nil
}

// Cast converts a tensor to another dtype on the host: readback, numeric
// conversion, re-upload. No dispatch is involved, so uint8 and bool
// tensors are valid sources and targets here even though they cannot
// participate in device programs.
func (b *Backend) Cast(x Handle, to tensor.DataType) (Handle, error) {
	xInfo, err := b.lookup(x)
	if err != nil {
		return 0, err
	}
	if xInfo.DType == to {
		return b.Reshape(x, xInfo.Shape)
	}
	data, err := b.Read(x)
	if err != nil {
		return 0, err
	}
	converted, err := tensor.ConvertBytes(data, xInfo.DType, to, xInfo.Shape.NumElements())
	if err != nil {
		return 0, err
	}

	out := b.NewHandle()
	if err := b.Register(out, xInfo.Shape, to); err != nil {
		return 0, err
	}
	if err := b.Write(out, converted); err != nil {
		b.DisposeData(out) //nolint:errcheck // best-effort cleanup
		return 0, err
	}
	return out, nil
}
