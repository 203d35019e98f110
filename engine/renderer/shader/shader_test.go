package shader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/khzeb/khzeb-go/engine/renderer/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quadSource = `
// quad vertices
struct QuadVertex {
    @location(0) position: vec2<f32>,
    @location(1) uv: vec2<f32>,
};

/* per-instance data
   /* nested */
*/
struct SpriteInstance {
    @location(2) offset: vec2<i32>,
    @location(3) color: vec4<f32>,
};

struct Light {
    position: vec3<f32>,
    intensity: f32,
};

struct Lights {
    count: u32,
    items: array<Light, 4>,
};

@group(0) @binding(1) var<storage, read> lights: Lights;
@group(0) @binding(0) var<uniform> tint: vec4<f32>;
@group(2) @binding(0) var<storage, read_write> scratch: array<u32>;

fn shade(color: vec4<f32>) -> vec4<f32> {
    return color * tint;
}

@vertex
fn main_vs(v: QuadVertex, i: SpriteInstance) -> @builtin(position) vec4<f32> {
    let lit = shade(i.color);
    return vec4<f32>(v.position, lit.a, 1.0);
}
`

func TestNewShaderPanicsOnEmptySource(t *testing.T) {
	assert.PanicsWithValue(t, "shader: empty must have a non-empty source", func() {
		NewShader("empty", "", ShaderTypeVertex)
	})
}

func TestVertexLayoutsFollowSourceOrder(t *testing.T) {
	s := NewShader("quad", quadSource, ShaderTypeVertex)

	assert.Equal(t, "main_vs", s.EntryPoint())
	require.Len(t, s.VertexLayouts(), 2)

	quad, ok := s.VertexLayout("QuadVertex")
	require.True(t, ok)
	assert.Equal(t, s.VertexLayouts()[0], quad)
	assert.Equal(t, wgpu.VertexStepModeVertex, quad.StepMode)
	assert.Equal(t, uint64(16), quad.ArrayStride)

	sprite, ok := s.VertexLayout("SpriteInstance")
	require.True(t, ok)
	assert.Equal(t, wgpu.VertexStepModeInstance, sprite.StepMode)
	assert.Equal(t, uint64(24), sprite.ArrayStride)
	assert.Equal(t, []wgpu.VertexAttribute{
		{Format: wgpu.VertexFormatSint32x2, Offset: 0, ShaderLocation: 2},
		{Format: wgpu.VertexFormatFloat32x4, Offset: 8, ShaderLocation: 3},
	}, sprite.Attributes)

	_, ok = s.VertexLayout("Light")
	assert.False(t, ok, "structs without @location members are not vertex inputs")
}

func TestFragmentShaderHasNoVertexLayouts(t *testing.T) {
	s := NewShader("quad", quadSource, ShaderTypeFragment)
	assert.Empty(t, s.VertexLayouts())
	assert.Empty(t, s.EntryPoint())
}

func TestStructSizes(t *testing.T) {
	s := NewShader("quad", quadSource, ShaderTypeVertex)

	tests := []struct {
		name string
		size uint64
	}{
		{"Light", 16},
		{"Lights", 80},
		{"QuadVertex", 16},
		{"SpriteInstance", 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, ok := s.StructSize(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.size, size)
		})
	}

	_, ok := s.StructSize("Missing")
	assert.False(t, ok)
}

func TestBindGroupLayouts(t *testing.T) {
	s := NewShader("quad", quadSource, ShaderTypeVertex)

	descs := s.BindGroupLayoutDescriptors()
	require.Len(t, descs, 2)

	g0 := s.BindGroupLayoutDescriptor(0)
	require.Len(t, g0.Entries, 2)
	assert.Equal(t, uint32(0), g0.Entries[0].Binding)
	assert.Equal(t, wgpu.BufferBindingTypeUniform, g0.Entries[0].Buffer.Type)
	assert.Equal(t, uint64(16), g0.Entries[0].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.ShaderStageVertex, g0.Entries[0].Visibility)
	assert.Equal(t, uint32(1), g0.Entries[1].Binding)
	assert.Equal(t, wgpu.BufferBindingTypeReadOnlyStorage, g0.Entries[1].Buffer.Type)
	assert.Equal(t, uint64(80), g0.Entries[1].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.ShaderStageNone, g0.Entries[1].Visibility, "lights is declared but never read")

	g2 := s.BindGroupLayoutDescriptor(2)
	require.Len(t, g2.Entries, 1)
	assert.Equal(t, wgpu.BufferBindingTypeStorage, g2.Entries[0].Buffer.Type)
	assert.Equal(t, uint64(4), g2.Entries[0].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.ShaderStageNone, g2.Entries[0].Visibility)

	assert.Empty(t, s.BindGroupLayoutDescriptor(1).Entries)
	assert.Equal(t, "lights", s.BindGroupVarName(0, 1))
	assert.Equal(t, "scratch", s.BindGroupVarName(2, 0))
	assert.Empty(t, s.BindGroupVarName(1, 0))
}

func TestBatchShaderMatchesHostLayout(t *testing.T) {
	vs := NewShader("batch", batch.GPUBatchSource, ShaderTypeVertex)
	fs := NewShader("batch", batch.GPUBatchSource, ShaderTypeFragment)

	assert.Equal(t, "vs_main", vs.EntryPoint())
	assert.Equal(t, "fs_main", fs.EntryPoint())

	layout, ok := vs.VertexLayout("BatchInstance")
	require.True(t, ok)
	assert.Equal(t, batch.VertexBufferLayout(), layout)
	assert.Equal(t, []wgpu.VertexBufferLayout{layout}, vs.VertexLayouts())

	size, ok := vs.StructSize("BatchMetadata")
	require.True(t, ok)
	assert.Equal(t, uint64(batch.MetadataSize), size)

	size, ok = vs.StructSize("CameraUniform")
	require.True(t, ok)
	assert.Equal(t, uint64(80), size)

	meta := vs.BindGroupLayoutDescriptor(1)
	require.Len(t, meta.Entries, 1)
	assert.Equal(t, wgpu.BufferBindingTypeUniform, meta.Entries[0].Buffer.Type)
	assert.Equal(t, uint64(batch.MetadataSize), meta.Entries[0].Buffer.MinBindingSize)
	assert.Equal(t, "batch", vs.BindGroupVarName(1, 0))
	assert.Equal(t, "camera", vs.BindGroupVarName(0, 0))

	assert.Equal(t, wgpu.ShaderStageVertex, meta.Entries[0].Visibility)
	assert.Equal(t, wgpu.ShaderStageVertex, vs.BindGroupLayoutDescriptor(0).Entries[0].Visibility)
	assert.Equal(t, wgpu.ShaderStageNone, fs.BindGroupLayoutDescriptor(1).Entries[0].Visibility)
	assert.Equal(t, wgpu.ShaderStageNone, fs.BindGroupLayoutDescriptor(0).Entries[0].Visibility)
}

func TestReachableIdentifiersFollowCalls(t *testing.T) {
	src := stripComments(`
@group(0) @binding(0) var<uniform> a: f32;
@group(0) @binding(1) var<uniform> b: f32;
@group(0) @binding(2) var<uniform> c: f32;

fn inner() -> f32 { if (true) { return b; } return 0.0; }
fn outer() -> f32 { return inner(); }
fn unused() -> f32 { return c; }

@vertex
fn vs(p: Point) -> @builtin(position) vec4<f32> {
    return vec4<f32>(p.c, outer(), a, 1.0);
}
`)
	used := parseReachableIdentifiers(src, "vs")
	assert.True(t, used["a"])
	assert.True(t, used["b"], "reached through outer and inner")
	assert.False(t, used["c"], "c is only read by a function vs never calls")
	assert.False(t, used["unused"])

	assert.Empty(t, parseReachableIdentifiers(src, ""))
}

func TestLoadShader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quad.wgsl")
	require.NoError(t, os.WriteFile(path, []byte(quadSource), 0o644))

	s, err := LoadShader("quad", path, ShaderTypeVertex)
	require.NoError(t, err)
	assert.Equal(t, "quad", s.Key())
	assert.Equal(t, quadSource, s.Source())
	assert.Equal(t, "quad", s.Module().Label)
	assert.Equal(t, quadSource, s.Module().WGSLDescriptor.Code)

	_, err = LoadShader("missing", filepath.Join(dir, "missing.wgsl"), ShaderTypeVertex)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.wgsl")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadShader("empty", empty, ShaderTypeVertex)
	assert.Error(t, err)
}
