package bind_group_provider

import (
	"errors"
	"fmt"

	"github.com/khzeb/khzeb-go/engine/renderer/device"
)

// ErrNoBuffer is returned when a write targets a binding that holds no buffer.
var ErrNoBuffer = errors.New("bind_group_provider: no buffer at binding")

// BufferWrite describes a single GPU buffer write operation targeting a specific binding
// on a BindGroupProvider at a given byte offset.
type BufferWrite struct {
	Provider BindGroupProvider
	Binding  int
	Offset   uint64
	Data     []byte
}

// Resolve maps the write onto the buffer bound at Binding.
//
// Returns:
//   - device.BufferWrite: the device level write
//   - bool: false if the provider has no buffer at Binding
func (w BufferWrite) Resolve() (device.BufferWrite, bool) {
	buf := w.Provider.Buffer(w.Binding)
	if buf == nil {
		return device.BufferWrite{}, false
	}
	return device.BufferWrite{Buffer: buf, Offset: w.Offset, Data: w.Data}, true
}

// Submit resolves the write and hands it to queue.
//
// Parameters:
//   - queue: the transfer queue
//
// Returns:
//   - error: ErrNoBuffer if the binding holds no buffer, or the queue error
func (w BufferWrite) Submit(queue device.Queue) error {
	dw, ok := w.Resolve()
	if !ok {
		return fmt.Errorf("%w %d of %q", ErrNoBuffer, w.Binding, w.Provider.Label())
	}
	return queue.WriteBuffer(dw.Buffer, dw.Offset, dw.Data)
}
