package renderer

import (
	"github.com/khzeb/khzeb-go/engine/renderer/device"
	"github.com/khzeb/khzeb-go/engine/renderer/pipeline"
)

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeMemory selects the host memory backend. It needs no window or GPU and records
	// the draws it is given.
	BackendTypeMemory
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// ParsePresentMode maps a configuration name to a PresentMode.
//
// Parameters:
//   - name: "vsync" or "uncapped"
//
// Returns:
//   - PresentMode: the mode
//   - bool: false if the name is unknown
func ParsePresentMode(name string) (PresentMode, bool) {
	switch name {
	case "vsync":
		return PresentModeVSync, true
	case "uncapped":
		return PresentModeUncapped, true
	}
	return PresentModeVSync, false
}

// MSAASampleCount controls the number of samples used for multisample anti-aliasing (MSAA).
// WebGPU guarantees support for 1 (off) and 4.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1). This is the default.
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4x multisample anti-aliasing.
	MSAA4x MSAASampleCount = 4
)

// DrawCommand is one instanced draw of the current frame.
type DrawCommand struct {
	// Label names the source of the draw, usually the batch label.
	Label string
	// VertexCount is the number of vertices per instance.
	VertexCount uint32
	// InstanceCount is the number of instances read from Instances.
	InstanceCount uint32
	// Instances is the per-instance vertex buffer range bound at slot 0.
	Instances device.BufferSlice
	// BindGroups are set at group index i in order.
	BindGroups []device.BindGroup
}

// RendererBackend is the GPU facing half of the Renderer: it owns the device, the surface and
// the frame encoder, and knows nothing about batches or cameras.
type RendererBackend interface {
	// Device returns the device batches and cameras allocate on.
	//
	// Returns:
	//   - device.Device: the device
	Device() device.Device

	// Queue returns the transfer queue flushes write through.
	//
	// Returns:
	//   - device.Queue: the queue
	Queue() device.Queue

	// ConfigureSurface (re)creates the swapchain and the attachments for a new surface size.
	// A zero size is ignored.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	ConfigureSurface(width, height int)

	// SetPresentMode sets the present mode used by the next ConfigureSurface.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// RegisterRenderPipeline creates the GPU pipeline object for p and stores it on p.
	//
	// Parameters:
	//   - p: the pipeline description
	//
	// Returns:
	//   - error: an error if p is invalid or the device rejected it
	RegisterRenderPipeline(p pipeline.Pipeline) error

	// BeginFrame acquires the next surface texture and begins the main render pass.
	//
	// Returns:
	//   - error: an error if a frame is already open or the texture could not be acquired
	BeginFrame() error

	// Draw encodes cmd with pipeline p in the open render pass.
	//
	// Parameters:
	//   - p: a registered pipeline
	//   - cmd: the draw
	//
	// Returns:
	//   - error: an error if no frame is open or a resource does not belong to the backend
	Draw(p pipeline.Pipeline, cmd DrawCommand) error

	// EndFrame ends the render pass and submits the frame's commands.
	EndFrame()

	// Present shows the submitted frame and releases the surface texture.
	Present()

	// Release frees the device and the surface.
	Release()
}
