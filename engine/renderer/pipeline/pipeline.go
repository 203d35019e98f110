package pipeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/khzeb/khzeb-go/engine/renderer/shader"
)

// ErrMissingShader is returned when a pipeline lacks its vertex or fragment shader.
var ErrMissingShader = errors.New("pipeline: vertex and fragment shaders are required")

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	pipelineKey string

	vertexShader, fragmentShader shader.Shader

	// renderPipeline is set once the backend has created the GPU object
	renderPipeline *wgpu.RenderPipeline

	depthTestEnabled    bool
	depthWriteEnabled   bool
	depthBias           int32
	depthBiasSlopeScale float32
	blendEnabled        bool
	cullMode            wgpu.CullMode
	topology            wgpu.PrimitiveTopology
	frontFace           wgpu.FrontFace
	writeMask           wgpu.ColorWriteMask
	blendState          *wgpu.BlendState
}

// Pipeline describes a render pipeline drawing instanced quads: a vertex and a fragment shader
// plus the fixed-function state (depth, blend, cull, topology) needed to create it on a device.
// The descriptor pieces are derived here so a backend only has to create modules and layouts.
type Pipeline interface {
	// PipelineKey returns the unique key associated with this pipeline, used for caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	PipelineKey() string

	// Shader retrieves the shader associated with the specified type if it exists, nil otherwise.
	//
	// Parameters:
	//   - shaderType: the type of shader to retrieve (vertex or fragment)
	//
	// Returns:
	//   - shader.Shader: the shader associated with the specified type, or nil if not set
	Shader(shaderType shader.ShaderType) shader.Shader

	// RenderPipeline returns the GPU pipeline object, or nil until a backend has created it.
	//
	// Returns:
	//   - *wgpu.RenderPipeline: the created pipeline
	RenderPipeline() *wgpu.RenderPipeline

	// SetRenderPipeline stores the GPU pipeline object created from this description.
	//
	// Parameters:
	//   - p: the WebGPU render pipeline to set
	SetRenderPipeline(p *wgpu.RenderPipeline)

	// Validate checks that both shaders are set, have entry points and agree on every binding
	// they both declare.
	//
	// Returns:
	//   - error: the first problem found, or nil
	Validate() error

	// BindGroupLayouts merges the bind group declarations of both shaders into one descriptor per
	// group index, 0 through the highest declared group. Bindings declared by both stages get the
	// union of their visibilities. Groups neither shader declares are empty descriptors.
	//
	// Returns:
	//   - []wgpu.BindGroupLayoutDescriptor: descriptors indexed by group
	//   - error: ErrMissingShader, or an error if the stages disagree on a binding
	BindGroupLayouts() ([]wgpu.BindGroupLayoutDescriptor, error)

	// PrimitiveState returns the primitive assembly state of the pipeline.
	//
	// Returns:
	//   - wgpu.PrimitiveState: topology, winding and cull mode
	PrimitiveState() wgpu.PrimitiveState

	// ColorTarget returns the color target state for a render target of the given format.
	//
	// Parameters:
	//   - format: the surface texture format
	//
	// Returns:
	//   - wgpu.ColorTargetState: the target state, blending only when enabled
	ColorTarget(format wgpu.TextureFormat) wgpu.ColorTargetState

	// DepthStencil returns the depth state for a depth attachment of the given format.
	//
	// Parameters:
	//   - format: the depth texture format
	//
	// Returns:
	//   - *wgpu.DepthStencilState: the depth state
	DepthStencil(format wgpu.TextureFormat) *wgpu.DepthStencilState

	// DepthTestEnabled returns whether depth testing is enabled for this pipeline.
	//
	// Returns:
	//   - bool: true if depth testing is enabled, false otherwise
	DepthTestEnabled() bool

	// DepthWriteEnabled returns whether depth writing is enabled for this pipeline.
	//
	// Returns:
	//   - bool: true if depth writing is enabled, false otherwise
	DepthWriteEnabled() bool

	// BlendEnabled returns whether blending is enabled for this pipeline.
	//
	// Returns:
	//   - bool: true if blending is enabled, false otherwise
	BlendEnabled() bool

	// Topology returns the primitive topology configured for this pipeline.
	//
	// Returns:
	//   - wgpu.PrimitiveTopology: the primitive topology, triangle strip unless overridden
	Topology() wgpu.PrimitiveTopology

	// BlendState returns the blend state configured for this pipeline.
	//
	// Returns:
	//   - *wgpu.BlendState: the blend state used when blending is enabled
	BlendState() *wgpu.BlendState

	// Release frees the GPU pipeline object, if any.
	Release()
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a pipeline description. The defaults suit alpha-blended sprites drawn as
// 4-vertex triangle strips: blending on, culling off, and a less-or-equal depth test so that
// batches with the same z-order keep their draw order.
//
// Parameters:
//   - pipelineKey: the unique key for this pipeline
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: a new Pipeline with the given configuration
func NewPipeline(pipelineKey string, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:       pipelineKey,
		depthTestEnabled:  true,
		depthWriteEnabled: true,
		blendEnabled:      true,
		cullMode:          wgpu.CullModeNone,
		topology:          wgpu.PrimitiveTopologyTriangleStrip,
		frontFace:         wgpu.FrontFaceCCW,
		writeMask:         wgpu.ColorWriteMaskAll,
		blendState: &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Shader(shaderType shader.ShaderType) shader.Shader {
	switch shaderType {
	case shader.ShaderTypeVertex:
		return p.vertexShader
	case shader.ShaderTypeFragment:
		return p.fragmentShader
	default:
		return nil
	}
}

func (p *pipeline) RenderPipeline() *wgpu.RenderPipeline {
	return p.renderPipeline
}

func (p *pipeline) SetRenderPipeline(rp *wgpu.RenderPipeline) {
	p.renderPipeline = rp
}

func (p *pipeline) Validate() error {
	if p.vertexShader == nil || p.fragmentShader == nil {
		return fmt.Errorf("%s: %w", p.pipelineKey, ErrMissingShader)
	}
	if p.vertexShader.EntryPoint() == "" {
		return fmt.Errorf("pipeline %s: vertex shader %s has no @vertex entry point", p.pipelineKey, p.vertexShader.Key())
	}
	if p.fragmentShader.EntryPoint() == "" {
		return fmt.Errorf("pipeline %s: fragment shader %s has no @fragment entry point", p.pipelineKey, p.fragmentShader.Key())
	}
	_, err := p.BindGroupLayouts()
	return err
}

func (p *pipeline) BindGroupLayouts() ([]wgpu.BindGroupLayoutDescriptor, error) {
	if p.vertexShader == nil || p.fragmentShader == nil {
		return nil, fmt.Errorf("%s: %w", p.pipelineKey, ErrMissingShader)
	}
	merged, err := mergeBindGroupLayouts(p.vertexShader.BindGroupLayoutDescriptors(), p.fragmentShader.BindGroupLayoutDescriptors())
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", p.pipelineKey, err)
	}

	maxGroup := -1
	for g := range merged {
		maxGroup = max(maxGroup, g)
	}
	layouts := make([]wgpu.BindGroupLayoutDescriptor, maxGroup+1)
	for g, desc := range merged {
		desc.Label = fmt.Sprintf("%s-group-%d", p.pipelineKey, g)
		layouts[g] = desc
	}
	return layouts, nil
}

func (p *pipeline) PrimitiveState() wgpu.PrimitiveState {
	return wgpu.PrimitiveState{
		Topology:  p.topology,
		FrontFace: p.frontFace,
		CullMode:  p.cullMode,
	}
}

func (p *pipeline) ColorTarget(format wgpu.TextureFormat) wgpu.ColorTargetState {
	state := wgpu.ColorTargetState{
		Format:    format,
		WriteMask: p.writeMask,
	}
	if p.blendEnabled {
		state.Blend = p.blendState
	}
	return state
}

func (p *pipeline) DepthStencil(format wgpu.TextureFormat) *wgpu.DepthStencilState {
	depthCompare := wgpu.CompareFunctionLessEqual
	if !p.depthTestEnabled {
		depthCompare = wgpu.CompareFunctionAlways
	}
	return &wgpu.DepthStencilState{
		Format:              format,
		DepthWriteEnabled:   p.depthWriteEnabled,
		DepthCompare:        depthCompare,
		DepthBias:           p.depthBias,
		DepthBiasSlopeScale: p.depthBiasSlopeScale,
		StencilFront: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
		StencilBack: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
	}
}

func (p *pipeline) DepthTestEnabled() bool {
	return p.depthTestEnabled
}

func (p *pipeline) DepthWriteEnabled() bool {
	return p.depthWriteEnabled
}

func (p *pipeline) BlendEnabled() bool {
	return p.blendEnabled
}

func (p *pipeline) Topology() wgpu.PrimitiveTopology {
	return p.topology
}

func (p *pipeline) BlendState() *wgpu.BlendState {
	return p.blendState
}

func (p *pipeline) Release() {
	if p.renderPipeline != nil {
		p.renderPipeline.Release()
		p.renderPipeline = nil
	}
}

// mergeBindGroupLayouts merges the bind group layouts of a vertex and a fragment shader.
// Entries with the same group and binding must declare the same buffer binding type; their
// visibilities are ORed together. Entries are sorted by binding.
//
// Parameters:
//   - vertexLayouts: bind group layout descriptors from the vertex shader
//   - fragmentLayouts: bind group layout descriptors from the fragment shader
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: the merged descriptors keyed by group index
//   - error: an error if the stages declare the same binding with different types
func mergeBindGroupLayouts(vertexLayouts, fragmentLayouts map[int]wgpu.BindGroupLayoutDescriptor) (map[int]wgpu.BindGroupLayoutDescriptor, error) {
	byGroup := make(map[int]map[uint32]wgpu.BindGroupLayoutEntry)
	add := func(layouts map[int]wgpu.BindGroupLayoutDescriptor) error {
		for g, desc := range layouts {
			if byGroup[g] == nil {
				byGroup[g] = make(map[uint32]wgpu.BindGroupLayoutEntry)
			}
			for _, e := range desc.Entries {
				existing, ok := byGroup[g][e.Binding]
				if !ok {
					byGroup[g][e.Binding] = e
					continue
				}
				if existing.Buffer.Type != e.Buffer.Type {
					return fmt.Errorf("group %d binding %d declared with different buffer types", g, e.Binding)
				}
				existing.Visibility |= e.Visibility
				existing.Buffer.MinBindingSize = max(existing.Buffer.MinBindingSize, e.Buffer.MinBindingSize)
				byGroup[g][e.Binding] = existing
			}
		}
		return nil
	}
	if err := add(vertexLayouts); err != nil {
		return nil, err
	}
	if err := add(fragmentLayouts); err != nil {
		return nil, err
	}

	merged := make(map[int]wgpu.BindGroupLayoutDescriptor, len(byGroup))
	for g, entryMap := range byGroup {
		entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
		for _, e := range entryMap {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Binding < entries[j].Binding
		})
		merged[g] = wgpu.BindGroupLayoutDescriptor{Entries: entries}
	}
	return merged, nil
}
