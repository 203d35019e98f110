package camera

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/khzeb/khzeb-go/engine/renderer/bind_group_provider"
)

// GPUCameraUniform is the GPU-aligned representation of the camera uniform buffer.
// Matches the WGSL CameraUniform struct bound at group 0 of the batch shader.
// Size: 80 bytes.
type GPUCameraUniform struct {
	ViewProj [16]float32 // offset  0: mat4x4<f32>, column-major view-projection
	Viewport [2]float32  // offset 64: vec2<f32>, surface size in pixels
	Zoom     float32     // offset 72: f32, pixels per world unit
	_pad     float32     // offset 76: padding to 80 bytes
}

// UniformSize is the byte size of one GPUCameraUniform.
const UniformSize = int(unsafe.Sizeof(GPUCameraUniform{}))

// UniformVisibility is the stage visibility of the camera binding. Only the batch vertex stage
// reads the camera.
const UniformVisibility = wgpu.ShaderStageVertex

// Size returns the size of the GPUCameraUniform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (80)
func (g *GPUCameraUniform) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCameraUniform struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUCameraUniform) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.ViewProj[i]))
	}
	binary.LittleEndian.PutUint32(buf[64:], math.Float32bits(g.Viewport[0]))
	binary.LittleEndian.PutUint32(buf[68:], math.Float32bits(g.Viewport[1]))
	binary.LittleEndian.PutUint32(buf[72:], math.Float32bits(g.Zoom))
	return buf
}

// UniformBindingTypes declares the camera binding: one uniform buffer slot of UniformSize bytes.
func UniformBindingTypes() []bind_group_provider.BindingType {
	return []bind_group_provider.BindingType{
		bind_group_provider.UniformBuffer().WithMinSize(uint64(UniformSize)),
	}
}
