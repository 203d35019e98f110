package device

import (
	"fmt"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
)

// BufferHandle is a device buffer sized to hold Count values of T.
// T must be a fixed-layout GPU type (no pointers, slices or strings).
type BufferHandle[T any] struct {
	Buffer Buffer
	Count  int
}

// CreateBuffer allocates a zero-initialized buffer holding a single T.
//
// Parameters:
//   - dev: the device to allocate on
//   - label: debug label of the buffer
//   - usage: buffer usage flags
//
// Returns:
//   - BufferHandle[T]: the typed handle
//   - error: an error if the device could not allocate the buffer
func CreateBuffer[T any](dev Device, label string, usage wgpu.BufferUsage) (BufferHandle[T], error) {
	return CreateArrayBuffer[T](dev, label, 1, usage)
}

// CreateArrayBuffer allocates a zero-initialized buffer holding count values of T.
//
// Parameters:
//   - dev: the device to allocate on
//   - label: debug label of the buffer
//   - count: number of elements, zero allocates an empty buffer
//   - usage: buffer usage flags
//
// Returns:
//   - BufferHandle[T]: the typed handle
//   - error: an error if count is negative or the device could not allocate the buffer
func CreateArrayBuffer[T any](dev Device, label string, count int, usage wgpu.BufferUsage) (BufferHandle[T], error) {
	if count < 0 {
		return BufferHandle[T]{}, fmt.Errorf("create buffer %q: negative element count %d", label, count)
	}
	var zero T
	buf, err := dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(unsafe.Sizeof(zero)) * uint64(count),
		Usage: usage,
	})
	if err != nil {
		return BufferHandle[T]{}, err
	}
	return BufferHandle[T]{Buffer: buf, Count: count}, nil
}

// ElementSize returns the size in bytes of one T.
func (h BufferHandle[T]) ElementSize() uint64 {
	var zero T
	return uint64(unsafe.Sizeof(zero))
}

// Offset returns the byte offset of element i.
func (h BufferHandle[T]) Offset(i int) uint64 {
	return uint64(i) * h.ElementSize()
}

// Slice returns the byte range covering the first n elements.
func (h BufferHandle[T]) Slice(n int) BufferSlice {
	return BufferSlice{Buffer: h.Buffer, Offset: 0, Size: h.Offset(n)}
}

// Release frees the underlying buffer.
func (h BufferHandle[T]) Release() {
	if h.Buffer != nil {
		h.Buffer.Release()
	}
}
