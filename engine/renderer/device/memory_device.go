package device

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// MemoryDevice is a Device whose buffers live in host memory.
// It applies the same validation a WebGPU device would for the operations used here
// and is the device used for headless runs and tests.
type MemoryDevice struct {
	mu      *sync.Mutex
	buffers int
}

// MemoryBuffer is a host memory Buffer created by a MemoryDevice.
type MemoryBuffer struct {
	mu       *sync.Mutex
	label    string
	usage    wgpu.BufferUsage
	data     []byte
	released bool
}

// MemoryBindGroupLayout is a BindGroupLayout created by a MemoryDevice.
type MemoryBindGroupLayout struct {
	label    string
	entries  []wgpu.BindGroupLayoutEntry
	released bool
}

// MemoryBindGroup is a BindGroup created by a MemoryDevice.
type MemoryBindGroup struct {
	label    string
	layout   BindGroupLayout
	entries  []BindGroupEntry
	released bool
}

// MemoryQueue is a Queue writing into MemoryBuffers. It records every write it accepts.
type MemoryQueue struct {
	mu     *sync.Mutex
	writes []BufferWrite
}

var (
	_ Device          = &MemoryDevice{}
	_ Queue           = &MemoryQueue{}
	_ Buffer          = &MemoryBuffer{}
	_ BindGroupLayout = &MemoryBindGroupLayout{}
	_ BindGroup       = &MemoryBindGroup{}
)

// NewMemoryDevice creates an empty host memory device.
//
// Returns:
//   - *MemoryDevice: the device
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{mu: &sync.Mutex{}}
}

// NewMemoryQueue creates a transfer queue for MemoryDevice buffers.
//
// Returns:
//   - *MemoryQueue: the queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{mu: &sync.Mutex{}}
}

// BufferCount returns how many buffers the device has allocated over its lifetime.
func (d *MemoryDevice) BufferCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers
}

func (d *MemoryDevice) CreateBuffer(desc *wgpu.BufferDescriptor) (Buffer, error) {
	if desc == nil {
		return nil, fmt.Errorf("create buffer: nil descriptor")
	}
	if desc.Usage == 0 {
		return nil, fmt.Errorf("create buffer %q: usage must not be empty", desc.Label)
	}

	d.mu.Lock()
	d.buffers++
	d.mu.Unlock()

	return &MemoryBuffer{
		mu:    &sync.Mutex{},
		label: desc.Label,
		usage: desc.Usage,
		data:  make([]byte, desc.Size),
	}, nil
}

func (d *MemoryDevice) CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (BindGroupLayout, error) {
	seen := make(map[uint32]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Binding]; dup {
			return nil, fmt.Errorf("create bind group layout %q: duplicate binding %d", label, e.Binding)
		}
		seen[e.Binding] = struct{}{}
	}
	kept := make([]wgpu.BindGroupLayoutEntry, len(entries))
	copy(kept, entries)
	return &MemoryBindGroupLayout{label: label, entries: kept}, nil
}

func (d *MemoryDevice) CreateBindGroup(label string, layout BindGroupLayout, entries []BindGroupEntry) (BindGroup, error) {
	ml, ok := layout.(*MemoryBindGroupLayout)
	if !ok {
		return nil, fmt.Errorf("create bind group %q: layout: %w", label, ErrUnknownBuffer)
	}
	if ml.released {
		return nil, fmt.Errorf("create bind group %q: layout: %w", label, ErrReleased)
	}
	if len(entries) != len(ml.entries) {
		return nil, fmt.Errorf("create bind group %q: layout has %d bindings, got %d resources", label, len(ml.entries), len(entries))
	}

	for _, e := range entries {
		le, found := ml.entry(e.Binding)
		if !found {
			return nil, fmt.Errorf("create bind group %q: binding %d not declared in layout", label, e.Binding)
		}
		mb, ok := e.Buffer.(*MemoryBuffer)
		if !ok {
			return nil, fmt.Errorf("create bind group %q: binding %d: %w", label, e.Binding, ErrUnknownBuffer)
		}
		if e.Offset > mb.Size() || (e.Size > 0 && e.Offset+e.Size > mb.Size()) {
			return nil, fmt.Errorf("create bind group %q: binding %d: %w", label, e.Binding, ErrBufferOutOfRange)
		}
		var required wgpu.BufferUsage
		switch le.Buffer.Type {
		case wgpu.BufferBindingTypeUniform:
			required = wgpu.BufferUsageUniform
		case wgpu.BufferBindingTypeStorage, wgpu.BufferBindingTypeReadOnlyStorage:
			required = wgpu.BufferUsageStorage
		}
		if mb.usage&required != required {
			return nil, fmt.Errorf("create bind group %q: binding %d: buffer %q lacks usage %v", label, e.Binding, mb.label, required)
		}
		if minSize := le.Buffer.MinBindingSize; minSize > 0 && mb.Size()-e.Offset < minSize {
			return nil, fmt.Errorf("create bind group %q: binding %d: buffer smaller than min binding size %d", label, e.Binding, minSize)
		}
	}

	kept := make([]BindGroupEntry, len(entries))
	copy(kept, entries)
	return &MemoryBindGroup{label: label, layout: layout, entries: kept}, nil
}

// WriteBuffer copies data into the memory buffer at offset.
func (q *MemoryQueue) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	mb, ok := buf.(*MemoryBuffer)
	if !ok {
		return ErrUnknownBuffer
	}
	if offset%WriteAlignment != 0 || uint64(len(data))%WriteAlignment != 0 {
		return fmt.Errorf("write buffer %q at %d (%d bytes): %w", mb.label, offset, len(data), ErrUnalignedWrite)
	}
	if err := mb.write(offset, data); err != nil {
		return err
	}

	kept := make([]byte, len(data))
	copy(kept, data)

	q.mu.Lock()
	q.writes = append(q.writes, BufferWrite{Buffer: buf, Offset: offset, Data: kept})
	q.mu.Unlock()
	return nil
}

// Writes returns a copy of the log of accepted writes in submission order.
func (q *MemoryQueue) Writes() []BufferWrite {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]BufferWrite, len(q.writes))
	copy(out, q.writes)
	return out
}

// WriteCount returns the number of writes accepted so far.
func (q *MemoryQueue) WriteCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.writes)
}

// WritesTo returns the accepted writes that targeted buf.
//
// Parameters:
//   - buf: the buffer to filter on
//
// Returns:
//   - []BufferWrite: the matching writes in submission order
func (q *MemoryQueue) WritesTo(buf Buffer) []BufferWrite {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []BufferWrite
	for _, w := range q.writes {
		if w.Buffer == buf {
			out = append(out, w)
		}
	}
	return out
}

// Reset forgets the recorded writes. Buffer contents are unaffected.
func (q *MemoryQueue) Reset() {
	q.mu.Lock()
	q.writes = nil
	q.mu.Unlock()
}

func (b *MemoryBuffer) write(offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return fmt.Errorf("write buffer %q: %w", b.label, ErrReleased)
	}
	end := offset + uint64(len(data))
	if end > uint64(len(b.data)) {
		return fmt.Errorf("write buffer %q [%d, %d) of %d bytes: %w", b.label, offset, end, len(b.data), ErrBufferOutOfRange)
	}
	copy(b.data[offset:end], data)
	return nil
}

// Bytes returns a copy of the buffer contents.
func (b *MemoryBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *MemoryBuffer) Label() string           { return b.label }
func (b *MemoryBuffer) Size() uint64            { return uint64(len(b.data)) }
func (b *MemoryBuffer) Usage() wgpu.BufferUsage { return b.usage }

// Released reports whether Release has been called.
func (b *MemoryBuffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

func (b *MemoryBuffer) Release() {
	b.mu.Lock()
	b.released = true
	b.mu.Unlock()
}

func (l *MemoryBindGroupLayout) Label() string                        { return l.label }
func (l *MemoryBindGroupLayout) Entries() []wgpu.BindGroupLayoutEntry { return l.entries }
func (l *MemoryBindGroupLayout) Release()                             { l.released = true }

func (l *MemoryBindGroupLayout) entry(binding uint32) (wgpu.BindGroupLayoutEntry, bool) {
	for _, e := range l.entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return wgpu.BindGroupLayoutEntry{}, false
}

func (g *MemoryBindGroup) Label() string           { return g.label }
func (g *MemoryBindGroup) Layout() BindGroupLayout { return g.layout }
func (g *MemoryBindGroup) Release()                { g.released = true }

// Entries returns the resources bound in this group.
func (g *MemoryBindGroup) Entries() []BindGroupEntry { return g.entries }

// Released reports whether Release has been called.
func (g *MemoryBindGroup) Released() bool { return g.released }
