package common

// Matrices in this package are 4x4, stored as 16 float32 in column-major order, the layout
// WGSL expects for mat4x4<f32>.

// Identity resets a 4x4 matrix to the identity matrix.
//
// Parameters:
//   - m: destination slice (must be at least 16 elements)
func Identity(m []float32) {
	for i := range 16 {
		m[i] = 0
	}
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
}

// Orthographic builds an orthographic projection mapping the box [left, right] x [bottom, top] x
// [near, far] to WebGPU clip space: x and y to [-1, 1] with +y up, z to [0, 1].
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - left, right: horizontal extent in world units
//   - bottom, top: vertical extent in world units
//   - near, far: depth extent
func Orthographic(out []float32, left, right, bottom, top, near, far float32) {
	Identity(out)
	out[0] = 2 / (right - left)
	out[5] = 2 / (top - bottom)
	out[10] = 1 / (far - near)
	out[12] = -(right + left) / (right - left)
	out[13] = -(top + bottom) / (top - bottom)
	out[14] = -near / (far - near)
}

// TransformPoint applies m to the point (x, y, 0, 1) and returns the resulting x and y.
//
// Parameters:
//   - m: the matrix
//   - x, y: the point
//
// Returns:
//   - float32, float32: the transformed point
func TransformPoint(m []float32, x, y float32) (float32, float32) {
	return m[0]*x + m[4]*y + m[12], m[1]*x + m[5]*y + m[13]
}
