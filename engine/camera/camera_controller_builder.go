package camera

// CameraControllerOption is a functional option for configuring a CameraController.
type CameraControllerOption func(*cameraControllerImpl)

// WithPosition sets the initial view center.
//
// Parameters:
//   - x, y: world coordinates
//
// Returns:
//   - CameraControllerOption: functional option to set the position
func WithPosition(x, y float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.position = [2]float32{x, y}
	}
}

// WithZoom sets the initial zoom. It is clamped to the zoom bounds once all options are applied.
//
// Parameters:
//   - zoom: pixels per world unit
//
// Returns:
//   - CameraControllerOption: functional option to set the zoom
func WithZoom(zoom float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.zoom = zoom
	}
}

// WithZoomBounds sets the zoom limits.
//
// Parameters:
//   - minZoom: smallest zoom, must be positive
//   - maxZoom: largest zoom
//
// Returns:
//   - CameraControllerOption: functional option to set the zoom bounds
func WithZoomBounds(minZoom, maxZoom float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.minZoom = minZoom
		cc.maxZoom = maxZoom
	}
}

// WithPanSpeed sets the keyboard pan speed in pixels per second.
func WithPanSpeed(speed float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.panSpeed = speed
	}
}

// WithZoomSpeed sets the exponent applied per zoom step; 1 doubles the zoom per scroll notch.
func WithZoomSpeed(speed float32) CameraControllerOption {
	return func(cc *cameraControllerImpl) {
		cc.zoomSpeed = speed
	}
}
