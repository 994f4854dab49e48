package wgpu

import (
	"testing"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/stretchr/testify/assert"

	"github.com/warpml/warp/internal/device"
)

func TestTranslateUsage(t *testing.T) {
	assert.Equal(t, wgpu.BufferUsageStorage, translateUsage(device.UsageStorage))
	assert.Equal(t, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst,
		translateUsage(device.UsageUniform|device.UsageCopyDst))
	assert.Equal(t,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst,
		translateUsage(device.UsageStorage|device.UsageCopySrc|device.UsageCopyDst))
}

func TestContextRoundTrip(t *testing.T) {
	if !IsAvailable() {
		t.Skip("WebGPU not available")
	}
	ctx, err := New()
	if err != nil {
		t.Fatalf("failed to open device: %v", err)
	}
	defer ctx.Close()

	buf, err := ctx.CreateBuffer(16, device.UsageStorage|device.UsageCopySrc|device.UsageCopyDst)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer ctx.DestroyBuffer(buf)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := ctx.Upload(buf, want); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := ctx.Download(buf, 16)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	assert.Equal(t, want, got)
}
