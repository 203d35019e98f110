package camera

import (
	"math"
	"sync"

	"github.com/khzeb/khzeb-go/common"
)

// CameraController owns the positional state of a 2D camera: the world point at the center of
// the view and the zoom factor. It turns held keys and scroll input into pan and zoom.
type CameraController interface {
	// Position returns the world point at the center of the view.
	//
	// Returns:
	//   - x, y: world coordinates
	Position() (x, y float32)

	// SetPosition moves the view center.
	//
	// Parameters:
	//   - x, y: world coordinates
	SetPosition(x, y float32)

	// Zoom returns the zoom factor in pixels per world unit.
	//
	// Returns:
	//   - float32: the zoom factor
	Zoom() float32

	// SetZoom sets the zoom factor, clamped to [MinZoom, MaxZoom].
	//
	// Parameters:
	//   - zoom: pixels per world unit
	SetZoom(zoom float32)

	// ZoomBy scales the zoom exponentially: each unit of delta multiplies the zoom by
	// 2^ZoomSpeed. Positive delta zooms in.
	//
	// Parameters:
	//   - delta: zoom steps, typically a scroll offset
	ZoomBy(delta float32)

	// Pan moves the view center by a screen-space distance. The world distance shrinks as the
	// zoom grows so a pan covers the same number of pixels at any zoom.
	//
	// Parameters:
	//   - dx: pixels to the right
	//   - dy: pixels up
	Pan(dx, dy float32)

	// KeyDown records a held key. Unbound keys are ignored.
	//
	// Parameters:
	//   - keyCode: a common.Key* code
	KeyDown(keyCode uint32)

	// KeyUp releases a held key.
	//
	// Parameters:
	//   - keyCode: a common.Key* code
	KeyUp(keyCode uint32)

	// Scroll zooms by a scroll wheel offset.
	//
	// Parameters:
	//   - delta: vertical scroll offset, positive away from the user
	Scroll(delta float32)

	// Update applies the held keys for dt seconds: WASD and the arrow keys pan at PanSpeed
	// pixels per second, E and Q zoom in and out by one zoom step per second.
	//
	// Parameters:
	//   - dt: elapsed seconds
	Update(dt float32)

	// MinZoom returns the smallest allowed zoom.
	MinZoom() float32

	// MaxZoom returns the largest allowed zoom.
	MaxZoom() float32

	// PanSpeed returns the keyboard pan speed in pixels per second.
	PanSpeed() float32

	// ZoomSpeed returns the exponent applied per zoom step.
	ZoomSpeed() float32
}

type cameraControllerImpl struct {
	mu *sync.Mutex

	position [2]float32
	zoom     float32

	minZoom   float32
	maxZoom   float32
	panSpeed  float32
	zoomSpeed float32

	held map[uint32]bool
}

var _ CameraController = &cameraControllerImpl{}

// NewCameraController creates a controller centered on the world origin at zoom 1.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - CameraController: the newly created controller
func NewCameraController(options ...CameraControllerOption) CameraController {
	cc := &cameraControllerImpl{
		mu:        &sync.Mutex{},
		zoom:      1,
		minZoom:   0.125,
		maxZoom:   16,
		panSpeed:  600,
		zoomSpeed: 0.25,
		held:      make(map[uint32]bool),
	}
	for _, option := range options {
		option(cc)
	}
	cc.zoom = cc.clampZoom(cc.zoom)
	return cc
}

func (cc *cameraControllerImpl) clampZoom(zoom float32) float32 {
	return common.Clamp(zoom, cc.minZoom, cc.maxZoom)
}

func (cc *cameraControllerImpl) Position() (x, y float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position[0], cc.position[1]
}

func (cc *cameraControllerImpl) SetPosition(x, y float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.position = [2]float32{x, y}
}

func (cc *cameraControllerImpl) Zoom() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.zoom
}

func (cc *cameraControllerImpl) SetZoom(zoom float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.zoom = cc.clampZoom(zoom)
}

func (cc *cameraControllerImpl) ZoomBy(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.zoomBy(delta)
}

func (cc *cameraControllerImpl) zoomBy(delta float32) {
	factor := float32(math.Exp2(float64(delta * cc.zoomSpeed)))
	cc.zoom = cc.clampZoom(cc.zoom * factor)
}

func (cc *cameraControllerImpl) Pan(dx, dy float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.pan(dx, dy)
}

func (cc *cameraControllerImpl) pan(dx, dy float32) {
	cc.position[0] += dx / cc.zoom
	cc.position[1] += dy / cc.zoom
}

func (cc *cameraControllerImpl) KeyDown(keyCode uint32) {
	if !boundKey(keyCode) {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.held[keyCode] = true
}

func (cc *cameraControllerImpl) KeyUp(keyCode uint32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.held, keyCode)
}

func (cc *cameraControllerImpl) Scroll(delta float32) {
	cc.ZoomBy(delta)
}

func (cc *cameraControllerImpl) Update(dt float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	var dx, dy, dz float32
	if cc.held[common.KeyD] || cc.held[common.KeyRight] {
		dx++
	}
	if cc.held[common.KeyA] || cc.held[common.KeyLeft] {
		dx--
	}
	if cc.held[common.KeyW] || cc.held[common.KeyUp] {
		dy++
	}
	if cc.held[common.KeyS] || cc.held[common.KeyDown] {
		dy--
	}
	if cc.held[common.KeyE] {
		dz++
	}
	if cc.held[common.KeyQ] {
		dz--
	}

	step := cc.panSpeed * dt
	cc.pan(dx*step, dy*step)
	if dz != 0 {
		cc.zoomBy(dz * dt)
	}
}

func (cc *cameraControllerImpl) MinZoom() float32 {
	return cc.minZoom
}

func (cc *cameraControllerImpl) MaxZoom() float32 {
	return cc.maxZoom
}

func (cc *cameraControllerImpl) PanSpeed() float32 {
	return cc.panSpeed
}

func (cc *cameraControllerImpl) ZoomSpeed() float32 {
	return cc.zoomSpeed
}

func boundKey(keyCode uint32) bool {
	switch keyCode {
	case common.KeyW, common.KeyA, common.KeyS, common.KeyD,
		common.KeyUp, common.KeyDown, common.KeyLeft, common.KeyRight,
		common.KeyQ, common.KeyE:
		return true
	}
	return false
}
