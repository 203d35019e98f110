// Package device describes the narrow slice of a GPU device that the batching core consumes:
// buffer allocation, binding layouts, binding groups and queued buffer writes.
// Two implementations live here: a cogentcore/webgpu adapter for real rendering and a host
// memory implementation for headless runs and tests.
package device

import (
	"errors"

	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// ErrBufferOutOfRange is returned when a write or binding addresses bytes past the end of a buffer.
	ErrBufferOutOfRange = errors.New("device: range exceeds buffer size")

	// ErrUnalignedWrite is returned when a queued write offset or length is not a multiple of 4 bytes.
	ErrUnalignedWrite = errors.New("device: write offset and size must be multiples of 4")

	// ErrUnknownBuffer is returned when a resource created by a different device implementation is passed in.
	ErrUnknownBuffer = errors.New("device: resource does not belong to this device")

	// ErrReleased is returned when a released resource is used.
	ErrReleased = errors.New("device: resource has been released")
)

// WriteAlignment is the required alignment in bytes of queued buffer write offsets and sizes.
const WriteAlignment = 4

// Buffer is a device-resident buffer of fixed size.
type Buffer interface {
	// Label returns the debug label given at creation.
	Label() string

	// Size returns the buffer size in bytes.
	Size() uint64

	// Usage returns the usage flags the buffer was created with.
	Usage() wgpu.BufferUsage

	// Release frees the device memory. Further use is an error.
	Release()
}

// BindGroupLayout is a realized binding layout: the ordered list of binding slots a shader expects.
type BindGroupLayout interface {
	Label() string

	// Entries returns the layout entries the layout was declared with.
	Entries() []wgpu.BindGroupLayoutEntry

	Release()
}

// BindGroup is a set of concrete resources bound against a BindGroupLayout.
type BindGroup interface {
	Label() string

	// Layout returns the layout this group was realized against.
	Layout() BindGroupLayout

	Release()
}

// BindGroupEntry binds a buffer range to one slot of a layout.
// A zero Size binds from Offset to the end of the buffer.
type BindGroupEntry struct {
	Binding uint32
	Buffer  Buffer
	Offset  uint64
	Size    uint64
}

// Device allocates buffers and binding objects.
type Device interface {
	// CreateBuffer allocates a zero-initialized buffer described by desc.
	//
	// Parameters:
	//   - desc: the label, size and usage of the buffer
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: an error if the allocation failed
	CreateBuffer(desc *wgpu.BufferDescriptor) (Buffer, error)

	// CreateBindGroupLayout declares a binding layout from the given entries.
	//
	// Parameters:
	//   - label: debug label
	//   - entries: one entry per binding slot
	//
	// Returns:
	//   - BindGroupLayout: the created layout
	//   - error: an error if the layout is invalid
	CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (BindGroupLayout, error)

	// CreateBindGroup realizes a bind group against layout with one entry per layout slot.
	//
	// Parameters:
	//   - label: debug label
	//   - layout: the layout to realize
	//   - entries: the resources, one per layout slot
	//
	// Returns:
	//   - BindGroup: the created bind group
	//   - error: an error if the resources do not satisfy the layout
	CreateBindGroup(label string, layout BindGroupLayout, entries []BindGroupEntry) (BindGroup, error)
}

// Queue is the transfer queue used to write host bytes into device buffers.
type Queue interface {
	// WriteBuffer copies data into buf starting at the byte offset.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: the destination byte offset
	//   - data: the bytes to copy; the queue does not retain the slice
	//
	// Returns:
	//   - error: an error if the write could not be queued
	WriteBuffer(buf Buffer, offset uint64, data []byte) error
}

// BufferSlice is a byte range of a Buffer, as bound for a draw call.
type BufferSlice struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
}

// Empty reports whether the slice covers zero bytes.
func (s BufferSlice) Empty() bool {
	return s.Size == 0
}

// BufferWrite describes a single queued write of Data into Buffer at Offset.
type BufferWrite struct {
	Buffer Buffer
	Offset uint64
	Data   []byte
}

// ApplyWrites submits each write to q in order and stops at the first failure.
//
// Parameters:
//   - q: the transfer queue
//   - writes: the writes to submit
//
// Returns:
//   - int: the number of writes submitted successfully
//   - error: the first write error, if any
func ApplyWrites(q Queue, writes []BufferWrite) (int, error) {
	for i, w := range writes {
		if err := q.WriteBuffer(w.Buffer, w.Offset, w.Data); err != nil {
			return i, err
		}
	}
	return len(writes), nil
}
