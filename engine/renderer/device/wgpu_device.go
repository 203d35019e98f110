package device

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuDevice adapts a *wgpu.Device to the Device interface.
type wgpuDevice struct {
	raw *wgpu.Device
}

// wgpuQueue adapts a *wgpu.Queue to the Queue interface.
type wgpuQueue struct {
	raw *wgpu.Queue
}

type wgpuBuffer struct {
	raw   *wgpu.Buffer
	label string
	size  uint64
	usage wgpu.BufferUsage
}

type wgpuBindGroupLayout struct {
	raw     *wgpu.BindGroupLayout
	label   string
	entries []wgpu.BindGroupLayoutEntry
}

type wgpuBindGroup struct {
	raw    *wgpu.BindGroup
	label  string
	layout BindGroupLayout
}

var (
	_ Device          = &wgpuDevice{}
	_ Queue           = &wgpuQueue{}
	_ Buffer          = &wgpuBuffer{}
	_ BindGroupLayout = &wgpuBindGroupLayout{}
	_ BindGroup       = &wgpuBindGroup{}
)

// NewWGPUDevice wraps a WebGPU device.
//
// Parameters:
//   - d: the device obtained from an adapter
//
// Returns:
//   - Device: the wrapped device
func NewWGPUDevice(d *wgpu.Device) Device {
	return &wgpuDevice{raw: d}
}

// NewWGPUQueue wraps a WebGPU queue.
//
// Parameters:
//   - q: the queue obtained from a device
//
// Returns:
//   - Queue: the wrapped queue
func NewWGPUQueue(q *wgpu.Queue) Queue {
	return &wgpuQueue{raw: q}
}

// WGPUBuffer returns the underlying *wgpu.Buffer of a buffer created by a WebGPU device.
//
// Parameters:
//   - b: the buffer
//
// Returns:
//   - *wgpu.Buffer: the raw buffer, or nil
//   - bool: false if b was not created by a WebGPU device
func WGPUBuffer(b Buffer) (*wgpu.Buffer, bool) {
	wb, ok := b.(*wgpuBuffer)
	if !ok || wb.raw == nil {
		return nil, false
	}
	return wb.raw, true
}

// WGPUBindGroup returns the underlying *wgpu.BindGroup of a bind group created by a WebGPU device.
//
// Parameters:
//   - g: the bind group
//
// Returns:
//   - *wgpu.BindGroup: the raw bind group, or nil
//   - bool: false if g was not created by a WebGPU device
func WGPUBindGroup(g BindGroup) (*wgpu.BindGroup, bool) {
	wg, ok := g.(*wgpuBindGroup)
	if !ok || wg.raw == nil {
		return nil, false
	}
	return wg.raw, true
}

// WGPUBindGroupLayout returns the underlying *wgpu.BindGroupLayout of a layout created by a WebGPU device.
//
// Parameters:
//   - l: the layout
//
// Returns:
//   - *wgpu.BindGroupLayout: the raw layout, or nil
//   - bool: false if l was not created by a WebGPU device
func WGPUBindGroupLayout(l BindGroupLayout) (*wgpu.BindGroupLayout, bool) {
	wl, ok := l.(*wgpuBindGroupLayout)
	if !ok || wl.raw == nil {
		return nil, false
	}
	return wl.raw, true
}

func (d *wgpuDevice) CreateBuffer(desc *wgpu.BufferDescriptor) (Buffer, error) {
	raw, err := d.raw.CreateBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}
	return &wgpuBuffer{
		raw:   raw,
		label: desc.Label,
		size:  desc.Size,
		usage: desc.Usage,
	}, nil
}

func (d *wgpuDevice) CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (BindGroupLayout, error) {
	raw, err := d.raw.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group layout %q: %w", label, err)
	}
	kept := make([]wgpu.BindGroupLayoutEntry, len(entries))
	copy(kept, entries)
	return &wgpuBindGroupLayout{raw: raw, label: label, entries: kept}, nil
}

func (d *wgpuDevice) CreateBindGroup(label string, layout BindGroupLayout, entries []BindGroupEntry) (BindGroup, error) {
	rawLayout, ok := WGPUBindGroupLayout(layout)
	if !ok {
		return nil, fmt.Errorf("create bind group %q: layout: %w", label, ErrUnknownBuffer)
	}

	rawEntries := make([]wgpu.BindGroupEntry, len(entries))
	for i, e := range entries {
		buf, ok := WGPUBuffer(e.Buffer)
		if !ok {
			return nil, fmt.Errorf("create bind group %q: binding %d: %w", label, e.Binding, ErrUnknownBuffer)
		}
		size := e.Size
		if size == 0 {
			size = wgpu.WholeSize
		}
		rawEntries[i] = wgpu.BindGroupEntry{
			Binding: e.Binding,
			Buffer:  buf,
			Offset:  e.Offset,
			Size:    size,
		}
	}

	raw, err := d.raw.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  rawLayout,
		Entries: rawEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group %q: %w", label, err)
	}
	return &wgpuBindGroup{raw: raw, label: label, layout: layout}, nil
}

func (q *wgpuQueue) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	raw, ok := WGPUBuffer(buf)
	if !ok {
		return ErrUnknownBuffer
	}
	if err := q.raw.WriteBuffer(raw, offset, data); err != nil {
		return fmt.Errorf("write buffer %q at %d: %w", buf.Label(), offset, err)
	}
	return nil
}

func (b *wgpuBuffer) Label() string           { return b.label }
func (b *wgpuBuffer) Size() uint64            { return b.size }
func (b *wgpuBuffer) Usage() wgpu.BufferUsage { return b.usage }

func (b *wgpuBuffer) Release() {
	if b.raw != nil {
		b.raw.Release()
		b.raw = nil
	}
}

func (l *wgpuBindGroupLayout) Label() string                        { return l.label }
func (l *wgpuBindGroupLayout) Entries() []wgpu.BindGroupLayoutEntry { return l.entries }

func (l *wgpuBindGroupLayout) Release() {
	if l.raw != nil {
		l.raw.Release()
		l.raw = nil
	}
}

func (g *wgpuBindGroup) Label() string           { return g.label }
func (g *wgpuBindGroup) Layout() BindGroupLayout { return g.layout }

func (g *wgpuBindGroup) Release() {
	if g.raw != nil {
		g.raw.Release()
		g.raw = nil
	}
}
