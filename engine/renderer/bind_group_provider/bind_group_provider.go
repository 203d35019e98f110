package bind_group_provider

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"
	"github.com/khzeb/khzeb-go/engine/renderer/device"
)

// ErrBindingCountMismatch is returned by CreateBinding when the number of resources differs
// from the number of slots in the layout.
var ErrBindingCountMismatch = errors.New("bind_group_provider: resource count does not match layout")

// BindingType declares the resource kind expected at one binding slot.
type BindingType struct {
	// Buffer describes the buffer binding: uniform, storage or read-only storage.
	Buffer wgpu.BufferBindingLayout
}

// UniformBuffer declares a uniform buffer slot.
//
// Returns:
//   - BindingType: the declaration
func UniformBuffer() BindingType {
	return BindingType{Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}}
}

// StorageBuffer declares a storage buffer slot.
//
// Parameters:
//   - readOnly: whether shaders may only read the buffer
//
// Returns:
//   - BindingType: the declaration
func StorageBuffer(readOnly bool) BindingType {
	t := wgpu.BufferBindingTypeStorage
	if readOnly {
		t = wgpu.BufferBindingTypeReadOnlyStorage
	}
	return BindingType{Buffer: wgpu.BufferBindingLayout{Type: t}}
}

// WithMinSize returns a copy of t requiring at least size bytes to be bound.
func (t BindingType) WithMinSize(size uint64) BindingType {
	t.Buffer.MinBindingSize = size
	return t
}

// BindingLayout is a declared layout together with the entries it was declared from.
type BindingLayout struct {
	Layout  device.BindGroupLayout
	Entries []wgpu.BindGroupLayoutEntry
}

// Label returns the debug label of the layout.
func (l BindingLayout) Label() string {
	if l.Layout == nil {
		return ""
	}
	return l.Layout.Label()
}

// Release frees the device layout.
func (l BindingLayout) Release() {
	if l.Layout != nil {
		l.Layout.Release()
	}
}

// Resource is a concrete buffer range bound to one slot. A zero Size binds to the end of the buffer.
type Resource struct {
	Buffer device.Buffer
	Offset uint64
	Size   uint64
}

// BufferResource binds the whole of buf.
func BufferResource(buf device.Buffer) Resource {
	return Resource{Buffer: buf}
}

// CreateBindingLayout declares a binding layout in which slot i receives types[i].
// Every slot shares the same shader stage visibility.
//
// Parameters:
//   - dev: the device
//   - label: debug label; a generated one is used when empty
//   - visibility: shader stages that may access the bindings
//   - types: one declaration per slot
//
// Returns:
//   - BindingLayout: the declared layout
//   - error: an error if the device rejected the layout
func CreateBindingLayout(dev device.Device, label string, visibility wgpu.ShaderStage, types ...BindingType) (BindingLayout, error) {
	if label == "" {
		label = "binding-layout-" + uuid.NewString()
	}
	entries := make([]wgpu.BindGroupLayoutEntry, len(types))
	for i, t := range types {
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: visibility,
			Buffer:     t.Buffer,
		}
	}

	layout, err := dev.CreateBindGroupLayout(label, entries)
	if err != nil {
		return BindingLayout{}, fmt.Errorf("create binding layout: %w", err)
	}
	return BindingLayout{Layout: layout, Entries: entries}, nil
}

// CreateBinding realizes a bind group against layout, binding resources[i] to slot i.
// The returned provider owns the bind group and the bound buffers.
//
// Parameters:
//   - dev: the device
//   - layout: the layout to realize
//   - resources: one resource per layout slot
//
// Returns:
//   - BindGroupProvider: the provider exposing the group and its buffers
//   - error: ErrBindingCountMismatch or an error from the device
func CreateBinding(dev device.Device, layout BindingLayout, resources ...Resource) (BindGroupProvider, error) {
	if len(resources) != len(layout.Entries) {
		return nil, fmt.Errorf("%w: layout %q has %d slots, got %d resources", ErrBindingCountMismatch, layout.Label(), len(layout.Entries), len(resources))
	}

	label := layout.Label() + "-group"
	entries := make([]device.BindGroupEntry, len(resources))
	opts := make([]BindGroupProviderOption, 0, len(resources)+2)
	for i, r := range resources {
		entries[i] = device.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  r.Buffer,
			Offset:  r.Offset,
			Size:    r.Size,
		}
		opts = append(opts, WithBuffer(i, r.Buffer))
	}

	group, err := dev.CreateBindGroup(label, layout.Layout, entries)
	if err != nil {
		return nil, fmt.Errorf("create binding: %w", err)
	}
	opts = append(opts, WithBindGroup(group), WithBindingLayout(layout))
	return NewBindGroupProvider(label, opts...), nil
}

// bindGroupProvider is the unexported implementation of BindGroupProvider.
type bindGroupProvider struct {
	// label is a debug label added for convenience.
	label string

	// bindGroup is the realized group, or nil once released.
	bindGroup device.BindGroup
	// layout is the layout the group was realized against. The provider does not own it.
	layout BindingLayout
	// buffers holds the bound buffers, keyed by binding index.
	buffers map[int]device.Buffer
}

// BindGroupProvider exposes a realized bind group and the buffers bound in it.
// Components that need shader-visible data (a batch's metadata, the camera uniform) hold a
// provider and the renderer binds its group for their draw calls.
type BindGroupProvider interface {
	// Release releases the bind group and every buffer bound in it.
	// The layout is left alone since it may be shared by other groups.
	Release()

	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// BindGroup returns the realized bind group, or nil after Release.
	//
	// Returns:
	//   - device.BindGroup: the bind group or nil
	BindGroup() device.BindGroup

	// Layout returns the layout the group was realized against.
	//
	// Returns:
	//   - BindingLayout: the layout
	Layout() BindingLayout

	// Buffer returns the buffer bound at a binding index.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - device.Buffer: the buffer or nil
	Buffer(binding int) device.Buffer

	// Buffers returns all bound buffers keyed by binding index.
	//
	// Returns:
	//   - map[int]device.Buffer: the buffers
	Buffers() map[int]device.Buffer
}

var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a BindGroupProvider around already created resources.
// CreateBinding is the usual way to obtain one.
//
// Parameters:
//   - label: debug label
//   - options: a variadic list of options to configure the provider
//
// Returns:
//   - BindGroupProvider: the configured provider
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:   label,
		buffers: make(map[int]device.Buffer),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) BindGroup() device.BindGroup {
	return p.bindGroup
}

func (p *bindGroupProvider) Layout() BindingLayout {
	return p.layout
}

func (p *bindGroupProvider) Buffer(binding int) device.Buffer {
	return p.buffers[binding]
}

func (p *bindGroupProvider) Buffers() map[int]device.Buffer {
	return p.buffers
}

func (p *bindGroupProvider) Release() {
	for i, buf := range p.buffers {
		if buf != nil {
			buf.Release()
		}
		delete(p.buffers, i)
	}
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
}
