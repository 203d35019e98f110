package pipeline

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/khzeb/khzeb-go/engine/renderer/shader"
)

// PipelineBuilderOption is a functional option used to configure a Pipeline during construction.
type PipelineBuilderOption func(*pipeline)

// WithSource parses one WGSL source holding both the @vertex and the @fragment entry point
// and uses it for both stages. The shaders are keyed by the pipeline key.
//
// Parameters:
//   - source: the WGSL source
//
// Returns:
//   - PipelineBuilderOption: a function that sets both shaders
func WithSource(source string) PipelineBuilderOption {
	return func(p *pipeline) {
		p.vertexShader = shader.NewShader(p.pipelineKey, source, shader.ShaderTypeVertex)
		p.fragmentShader = shader.NewShader(p.pipelineKey, source, shader.ShaderTypeFragment)
	}
}

// WithVertexShader sets the vertex shader for this pipeline.
//
// Parameters:
//   - s: a shader parsed as shader.ShaderTypeVertex
//
// Returns:
//   - PipelineBuilderOption: a function that sets the vertex shader
func WithVertexShader(s shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.vertexShader = s
	}
}

// WithFragmentShader sets the fragment shader for this pipeline.
//
// Parameters:
//   - s: a shader parsed as shader.ShaderTypeFragment
//
// Returns:
//   - PipelineBuilderOption: a function that sets the fragment shader
func WithFragmentShader(s shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.fragmentShader = s
	}
}

// WithDepth configures the depth test and depth writes. With the test disabled every fragment
// passes and batches are layered purely by draw order.
//
// Parameters:
//   - test: whether fragments are tested against the depth buffer
//   - write: whether fragments write their depth
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth state
func WithDepth(test, write bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.depthTestEnabled = test
		p.depthWriteEnabled = write
	}
}

// WithDepthBias sets the constant and slope-scaled depth bias.
func WithDepthBias(bias int32, slopeScale float32) PipelineBuilderOption {
	return func(p *pipeline) {
		p.depthBias = bias
		p.depthBiasSlopeScale = slopeScale
	}
}

// WithBlendEnabled turns color blending on or off. Opaque tile layers can disable it.
func WithBlendEnabled(enabled bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.blendEnabled = enabled
	}
}

// WithBlendState replaces the default source-over alpha blend.
//
// Parameters:
//   - blendState: the blend state used while blending is enabled
//
// Returns:
//   - PipelineBuilderOption: a function that sets the blend state
func WithBlendState(blendState *wgpu.BlendState) PipelineBuilderOption {
	return func(p *pipeline) {
		p.blendState = blendState
	}
}

// WithCullMode sets the face culling mode. Sprites are not culled by default because a
// negative scale mirrors the quad and flips its winding.
func WithCullMode(mode wgpu.CullMode, frontFace wgpu.FrontFace) PipelineBuilderOption {
	return func(p *pipeline) {
		p.cullMode = mode
		p.frontFace = frontFace
	}
}

// WithTopology overrides the triangle strip topology. The batch shader emits a 4-vertex strip
// per instance, so only shaders written for another topology should change it.
//
// Parameters:
//   - topology: the primitive topology
//
// Returns:
//   - PipelineBuilderOption: a function that sets the primitive topology
func WithTopology(topology wgpu.PrimitiveTopology) PipelineBuilderOption {
	return func(p *pipeline) {
		p.topology = topology
	}
}

// WithWriteMask restricts which color channels the pipeline writes.
func WithWriteMask(writeMask wgpu.ColorWriteMask) PipelineBuilderOption {
	return func(p *pipeline) {
		p.writeMask = writeMask
	}
}
