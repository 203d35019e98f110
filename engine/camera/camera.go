// Package camera provides the 2D orthographic camera that maps world space onto the surface and
// its pan and zoom controller.
package camera

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"
	"github.com/khzeb/khzeb-go/common"
	"github.com/khzeb/khzeb-go/engine/renderer/bind_group_provider"
	"github.com/khzeb/khzeb-go/engine/renderer/device"
)

type cameraImpl struct {
	mu *sync.Mutex

	label    string
	viewport [2]float32

	viewProjectionMatrix [16]float32
	uniform              GPUCameraUniform
	written              GPUCameraUniform
	hasWritten           bool

	controller CameraController
	binding    bind_group_provider.BindGroupProvider
}

// Camera is an orthographic camera with +y up. The controller's position is the world point at
// the center of the surface, and its zoom is the number of pixels per world unit, so the
// visible world rectangle is the viewport divided by the zoom.
type Camera interface {
	// Viewport returns the surface size in pixels.
	//
	// Returns:
	//   - width, height: surface size
	Viewport() (width, height float32)

	// SetViewport updates the surface size and recomputes the matrices.
	// Non-positive sizes, as reported for minimized windows, are ignored.
	//
	// Parameters:
	//   - width, height: surface size in pixels
	SetViewport(width, height float32)

	// Controller returns the attached controller.
	//
	// Returns:
	//   - CameraController: the controller
	Controller() CameraController

	// SetController attaches a controller and recomputes the matrices from it.
	//
	// Parameters:
	//   - ctrl: the controller, must not be nil
	SetController(ctrl CameraController)

	// Update recomputes the matrices from the controller state.
	// Call once per frame after the controller has been updated.
	Update()

	// ViewProjectionMatrix returns the world to clip space matrix (column-major).
	//
	// Returns:
	//   - [16]float32: the view-projection matrix
	ViewProjectionMatrix() [16]float32

	// Uniform returns the uniform record as of the last Update.
	//
	// Returns:
	//   - GPUCameraUniform: the record uploaded by Flush
	Uniform() GPUCameraUniform

	// Bounds returns the visible world rectangle as of the last Update.
	//
	// Returns:
	//   - left, bottom, right, top: world coordinates
	Bounds() (left, bottom, right, top float32)

	// ScreenToWorld converts a surface position in pixels (origin top-left, +y down) to world
	// coordinates.
	//
	// Parameters:
	//   - sx, sy: surface position
	//
	// Returns:
	//   - x, y: world position
	ScreenToWorld(sx, sy float32) (x, y float32)

	// CreateBinding allocates the uniform buffer and its bind group on dev.
	//
	// Parameters:
	//   - dev: the device
	//
	// Returns:
	//   - error: an error if the device rejected the buffer or the binding
	CreateBinding(dev device.Device) error

	// Binding returns the camera bind group, or nil before CreateBinding.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the binding
	Binding() bind_group_provider.BindGroupProvider

	// Flush writes the uniform if it differs from the last written one.
	//
	// Parameters:
	//   - queue: the transfer queue
	//
	// Returns:
	//   - bool: true if a write was issued
	//   - error: an error if there is no binding or the queue rejected the write
	Flush(queue device.Queue) (bool, error)

	// Release frees the binding and its buffer.
	Release()
}

var _ Camera = &cameraImpl{}

// NewCamera creates a camera with a default controller and a 1280x720 viewport.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:       &sync.Mutex{},
		viewport: [2]float32{1280, 720},
	}
	for _, option := range options {
		option(c)
	}
	if c.controller == nil {
		c.controller = NewCameraController()
	}
	if c.label == "" {
		c.label = "camera-" + uuid.NewString()
	}
	c.updateMatrices()
	return c
}

func (c *cameraImpl) Viewport() (width, height float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport[0], c.viewport[1]
}

func (c *cameraImpl) SetViewport(width, height float32) {
	if width <= 0 || height <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = [2]float32{width, height}
	c.updateMatrices()
}

func (c *cameraImpl) Controller() CameraController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) SetController(ctrl CameraController) {
	if ctrl == nil {
		panic("camera: nil controller")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
	c.updateMatrices()
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateMatrices()
}

func (c *cameraImpl) ViewProjectionMatrix() [16]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProjectionMatrix
}

func (c *cameraImpl) Uniform() GPUCameraUniform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uniform
}

func (c *cameraImpl) Bounds() (left, bottom, right, top float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bounds()
}

func (c *cameraImpl) ScreenToWorld(sx, sy float32) (x, y float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	left, _, _, top := c.bounds()
	zoom := c.uniform.Zoom
	return left + sx/zoom, top - sy/zoom
}

func (c *cameraImpl) CreateBinding(dev device.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.binding != nil {
		return nil
	}
	buf, err := device.CreateBuffer[GPUCameraUniform](dev, c.label+"-uniform", wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	if err != nil {
		return fmt.Errorf("camera %q: %w", c.label, err)
	}
	layout, err := bind_group_provider.CreateBindingLayout(dev, c.label, UniformVisibility, UniformBindingTypes()...)
	if err != nil {
		buf.Release()
		return fmt.Errorf("camera %q: %w", c.label, err)
	}
	binding, err := bind_group_provider.CreateBinding(dev, layout, bind_group_provider.BufferResource(buf.Buffer))
	if err != nil {
		buf.Release()
		layout.Release()
		return fmt.Errorf("camera %q: %w", c.label, err)
	}
	c.binding = binding
	c.hasWritten = false
	return nil
}

func (c *cameraImpl) Binding() bind_group_provider.BindGroupProvider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

func (c *cameraImpl) Flush(queue device.Queue) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.binding == nil {
		return false, fmt.Errorf("camera %q: flush before CreateBinding", c.label)
	}
	if c.hasWritten && c.uniform == c.written {
		return false, nil
	}
	w := bind_group_provider.BufferWrite{Provider: c.binding, Binding: 0, Data: c.uniform.Marshal()}
	if err := w.Submit(queue); err != nil {
		return false, fmt.Errorf("camera %q: %w", c.label, err)
	}
	c.written = c.uniform
	c.hasWritten = true
	return true, nil
}

func (c *cameraImpl) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.binding != nil {
		c.binding.Release()
		c.binding.Layout().Release()
		c.binding = nil
	}
}

// bounds returns the visible world rectangle from the current uniform. Caller must hold the mutex.
func (c *cameraImpl) bounds() (left, bottom, right, top float32) {
	zoom := c.uniform.Zoom
	halfW := c.viewport[0] / (2 * zoom)
	halfH := c.viewport[1] / (2 * zoom)
	cx, cy := c.controller.Position()
	return cx - halfW, cy - halfH, cx + halfW, cy + halfH
}

// updateMatrices rebuilds the uniform from the controller and viewport. Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	c.uniform.Zoom = c.controller.Zoom()
	c.uniform.Viewport = c.viewport

	left, bottom, right, top := c.bounds()
	common.Orthographic(c.viewProjectionMatrix[:], left, right, bottom, top, 0, 1)
	c.uniform.ViewProj = c.viewProjectionMatrix
}
