package batch

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/khzeb/khzeb-go/common"
	"github.com/khzeb/khzeb-go/engine/renderer/bind_group_provider"
)

// GPUBatchSource is the canonical WGSL for batched sprites. Its BatchInstance vertex input and
// BatchMetadata uniform match GPUBatchInstance and GPUBatchMetadata exactly.
//
//go:embed assets/batch.wgsl
var GPUBatchSource string

// BatchFlagSnapToGrid makes the shader snap instance positions to the tile grid.
const BatchFlagSnapToGrid uint32 = 1 << 0

// GPUBatchInstance is the per-instance vertex record consumed by the batch shader.
// Size: 20 bytes, stepped once per instance.
type GPUBatchInstance struct {
	Position     [2]int32 // offset  0: vec2<i32>, location 0
	Scale        float32  // offset  8: f32, location 1
	Tint         uint32   // offset 12: packed r<<24|g<<16|b<<8|a, location 2
	TextureIndex uint32   // offset 16: u32, location 3
}

// NewInstance returns an instance at the origin with scale 1 and a white tint.
func NewInstance() GPUBatchInstance {
	return GPUBatchInstance{
		Scale: 1,
		Tint:  common.DefaultTint.Uint32(),
	}
}

// NewInstanceI32 returns a default instance placed at integer coordinates.
//
// Parameters:
//   - x, y: position
//   - scale: uniform scale
//
// Returns:
//   - GPUBatchInstance: the instance
func NewInstanceI32(x, y int32, scale float32) GPUBatchInstance {
	return NewInstance().WithPositionI32(x, y).WithScale(scale)
}

// NewInstanceF32 returns a default instance placed at float coordinates, quantized as WithPositionF32 does.
//
// Parameters:
//   - x, y: position
//   - scale: uniform scale
//
// Returns:
//   - GPUBatchInstance: the instance
func NewInstanceF32(x, y float32, scale float32) GPUBatchInstance {
	return NewInstance().WithPositionF32(x, y).WithScale(scale)
}

// WithPositionI32 returns a copy of g at the integer position (x, y).
func (g GPUBatchInstance) WithPositionI32(x, y int32) GPUBatchInstance {
	g.Position = [2]int32{x, y}
	return g
}

// WithPositionF32 returns a copy of g at the float position (x, y).
// Each component is rounded half away from zero and saturated to the int32 range. NaN becomes 0.
func (g GPUBatchInstance) WithPositionF32(x, y float32) GPUBatchInstance {
	g.Position = [2]int32{quantize(x), quantize(y)}
	return g
}

// WithScale returns a copy of g with the given scale.
func (g GPUBatchInstance) WithScale(scale float32) GPUBatchInstance {
	g.Scale = scale
	return g
}

// WithTint returns a copy of g with the given tint.
func (g GPUBatchInstance) WithTint(tint common.Rgba) GPUBatchInstance {
	g.Tint = tint.Uint32()
	return g
}

// WithTextureIndex returns a copy of g sampling the given texture layer.
func (g GPUBatchInstance) WithTextureIndex(idx uint32) GPUBatchInstance {
	g.TextureIndex = idx
	return g
}

// TintColor unpacks the tint.
func (g GPUBatchInstance) TintColor() common.Rgba {
	return common.RgbaFromUint32(g.Tint)
}

func quantize(v float32) int32 {
	f := math.Round(float64(v))
	if math.IsNaN(f) {
		return 0
	}
	return int32(common.Clamp(f, math.MinInt32, math.MaxInt32))
}

// Size returns the size of the GPUBatchInstance struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (20)
func (g *GPUBatchInstance) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUBatchInstance struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 20-byte buffer ready for GPU upload
func (g *GPUBatchInstance) Marshal() []byte {
	buf := make([]byte, g.Size())
	g.MarshalTo(buf)
	return buf
}

// MarshalTo serializes the instance into the first 20 bytes of dst.
//
// Parameters:
//   - dst: destination, at least 20 bytes long
func (g *GPUBatchInstance) MarshalTo(dst []byte) {
	_ = dst[19]
	binary.LittleEndian.PutUint32(dst[0:4], uint32(g.Position[0]))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(g.Position[1]))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(g.Scale))
	binary.LittleEndian.PutUint32(dst[12:16], g.Tint)
	binary.LittleEndian.PutUint32(dst[16:20], g.TextureIndex)
}

// InstanceSize is the byte size of one GPUBatchInstance.
const InstanceSize = int(unsafe.Sizeof(GPUBatchInstance{}))

// VertexBufferLayout describes GPUBatchInstance as a per-instance vertex buffer.
//
// Returns:
//   - wgpu.VertexBufferLayout: stride 20, four attributes at locations 0 to 3
func VertexBufferLayout() wgpu.VertexBufferLayout {
	return wgpu.VertexBufferLayout{
		ArrayStride: uint64(InstanceSize),
		StepMode:    wgpu.VertexStepModeInstance,
		Attributes: []wgpu.VertexAttribute{
			{Format: wgpu.VertexFormatSint32x2, Offset: 0, ShaderLocation: 0},
			{Format: wgpu.VertexFormatFloat32, Offset: 8, ShaderLocation: 1},
			{Format: wgpu.VertexFormatUint32, Offset: 12, ShaderLocation: 2},
			{Format: wgpu.VertexFormatUint32, Offset: 16, ShaderLocation: 3},
		},
	}
}

// GPUBatchMetadata holds the parameters shared by every instance of a batch.
// Matches the WGSL BatchMetadata uniform (see GPUBatchSource). Size: 40 bytes.
// Values compare with ==.
type GPUBatchMetadata struct {
	Flags       uint32     // offset  0: BatchFlag bitset
	_pad        uint32     // offset  4: vec2 alignment
	TilesetSize [2]uint32  // offset  8: vec2<u32>, tiles per row and column of the tileset
	TileSize    [2]uint32  // offset 16: vec2<u32>, tile size in pixels
	Origin      [2]float32 // offset 24: vec2<f32>, world position of instance (0, 0)
	Scale       float32    // offset 32: f32, multiplier applied to every instance scale
	ZOrder      uint32     // offset 36: u32, draw depth of the batch
}

// DefaultMetadata returns metadata with unit scale and no flags.
func DefaultMetadata() GPUBatchMetadata {
	return GPUBatchMetadata{Scale: 1}
}

// HasFlag reports whether every bit of flag is set.
func (g GPUBatchMetadata) HasFlag(flag uint32) bool {
	return g.Flags&flag == flag
}

// SetFlag sets or clears flag.
func (g *GPUBatchMetadata) SetFlag(flag uint32, on bool) {
	if on {
		g.Flags |= flag
	} else {
		g.Flags &^= flag
	}
}

// Size returns the size of the GPUBatchMetadata struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (40)
func (g *GPUBatchMetadata) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUBatchMetadata struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 40-byte buffer ready for GPU upload
func (g *GPUBatchMetadata) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:4], g.Flags)
	binary.LittleEndian.PutUint32(buf[4:8], 0) // _pad
	binary.LittleEndian.PutUint32(buf[8:12], g.TilesetSize[0])
	binary.LittleEndian.PutUint32(buf[12:16], g.TilesetSize[1])
	binary.LittleEndian.PutUint32(buf[16:20], g.TileSize[0])
	binary.LittleEndian.PutUint32(buf[20:24], g.TileSize[1])
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(g.Origin[0]))
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(g.Origin[1]))
	binary.LittleEndian.PutUint32(buf[32:36], math.Float32bits(g.Scale))
	binary.LittleEndian.PutUint32(buf[36:40], g.ZOrder)
	return buf
}

// MetadataSize is the byte size of one GPUBatchMetadata.
const MetadataSize = int(unsafe.Sizeof(GPUBatchMetadata{}))

// MetadataVisibility is the stage visibility of the metadata binding. It must equal what a
// pipeline reflects from GPUBatchSource, where only vs_main reads the metadata.
const MetadataVisibility = wgpu.ShaderStageVertex

// MetadataBindingTypes declares the metadata binding: one uniform buffer slot of MetadataSize bytes.
//
// Returns:
//   - []bind_group_provider.BindingType: the slot declarations
func MetadataBindingTypes() []bind_group_provider.BindingType {
	return []bind_group_provider.BindingType{
		bind_group_provider.UniformBuffer().WithMinSize(uint64(MetadataSize)),
	}
}
