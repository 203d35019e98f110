package shader

import (
	"fmt"
	"os"

	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderType identifies the pipeline stage a shader module is used for.
type ShaderType int

const (
	// ShaderTypeVertex is a module whose @vertex entry point feeds a render pipeline.
	ShaderTypeVertex ShaderType = iota

	// ShaderTypeFragment is a module whose @fragment entry point feeds a render pipeline.
	ShaderTypeFragment
)

// Visibility returns the shader stage flag matching the type.
func (t ShaderType) Visibility() wgpu.ShaderStage {
	switch t {
	case ShaderTypeVertex:
		return wgpu.ShaderStageVertex
	case ShaderTypeFragment:
		return wgpu.ShaderStageFragment
	default:
		return wgpu.ShaderStageNone
	}
}

// shader is the implementation of the Shader interface.
type shader struct {
	key        string
	source     string
	shaderType ShaderType
	entryPoint string
	module     *wgpu.ShaderModuleDescriptor

	bindGroupLayoutDescriptors map[int]wgpu.BindGroupLayoutDescriptor
	bindingVarNames            map[int]map[int]string
	vertexLayouts              []wgpu.VertexBufferLayout
	vertexLayoutNames          map[string]int
	structLayouts              map[string]hostLayout
}

// Shader is a parsed WGSL module. It exposes what a pipeline needs to be built from the source
// (entry point, vertex buffer layouts, bind group layouts) and the byte layout of every struct,
// which lets host types be checked against the shader.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the WGSL shader source code.
	//
	// Returns:
	//   - string: the WGSL source code of the shader
	Source() string

	// ShaderType returns the stage this shader was parsed for.
	//
	// Returns:
	//   - ShaderType: ShaderTypeVertex or ShaderTypeFragment
	ShaderType() ShaderType

	// EntryPoint returns the entry point name for this shader's stage.
	//
	// Returns:
	//   - string: the entry point name, or empty if the source has none for the stage
	EntryPoint() string

	// Module returns the descriptor used to compile the shader on a device.
	//
	// Returns:
	//   - *wgpu.ShaderModuleDescriptor: the descriptor holding the WGSL code and label
	Module() *wgpu.ShaderModuleDescriptor

	// BindGroupLayoutDescriptor retrieves the layout declared for one bind group.
	//
	// Parameters:
	//   - group: the @group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the descriptor, or an empty one if the group is not declared
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptors retrieves every declared bind group layout keyed by group index.
	// An entry is visible to the shader's stage only if the entry point reaches its variable.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindGroupVarName retrieves the variable name declared at a group and binding.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - string: the variable name, or empty if nothing is declared there
	BindGroupVarName(group, binding int) string

	// VertexLayouts returns the vertex buffer layouts in source order. Slot i of a pipeline
	// using this shader reads the struct behind layout i.
	//
	// Returns:
	//   - []wgpu.VertexBufferLayout: the layouts
	VertexLayouts() []wgpu.VertexBufferLayout

	// VertexLayout returns the vertex buffer layout derived from the named input struct.
	//
	// Parameters:
	//   - structName: the WGSL struct name
	//
	// Returns:
	//   - wgpu.VertexBufferLayout: the layout
	//   - bool: false if no vertex input struct has that name
	VertexLayout(structName string) (wgpu.VertexBufferLayout, bool)

	// StructSize returns the WGSL byte size of a struct declared in the source.
	//
	// Parameters:
	//   - structName: the WGSL struct name
	//
	// Returns:
	//   - uint64: the size in bytes, rounded up to the struct alignment
	//   - bool: false if the struct is unknown or could not be resolved
	StructSize(structName string) (uint64, bool)
}

var _ Shader = &shader{}

// NewShader parses WGSL source for the given stage.
// An empty source is a programmer error and panics.
//
// Parameters:
//   - key: a unique identifier for the shader, used for caching and lookups
//   - source: the WGSL source
//   - shaderType: the stage the shader is used for
//
// Returns:
//   - Shader: the parsed shader
func NewShader(key, source string, shaderType ShaderType) Shader {
	if source == "" {
		panic(fmt.Sprintf("shader: %s must have a non-empty source", key))
	}
	s := &shader{
		key:        key,
		source:     source,
		shaderType: shaderType,
	}
	s.parse()
	return s
}

// LoadShader reads a WGSL file and parses it for the given stage.
//
// Parameters:
//   - key: a unique identifier for the shader
//   - path: the WGSL file path
//   - shaderType: the stage the shader is used for
//
// Returns:
//   - Shader: the parsed shader
//   - error: an error if the file could not be read or is empty
func LoadShader(key, path string, shaderType ShaderType) (Shader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shader: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("shader: %q is empty", path)
	}
	return NewShader(key, string(data), shaderType), nil
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) ShaderType() ShaderType {
	return s.shaderType
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) Module() *wgpu.ShaderModuleDescriptor {
	return s.module
}

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors[group]
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors
}

func (s *shader) BindGroupVarName(group, binding int) string {
	return s.bindingVarNames[group][binding]
}

func (s *shader) VertexLayouts() []wgpu.VertexBufferLayout {
	return s.vertexLayouts
}

func (s *shader) VertexLayout(structName string) (wgpu.VertexBufferLayout, bool) {
	i, ok := s.vertexLayoutNames[structName]
	if !ok {
		return wgpu.VertexBufferLayout{}, false
	}
	return s.vertexLayouts[i], true
}

func (s *shader) StructSize(structName string) (uint64, bool) {
	l, ok := s.structLayouts[structName]
	return l.size, ok
}

// parse builds the module descriptor and extracts the entry point, struct layouts, bind group
// layouts and, for vertex shaders, the vertex buffer layouts.
func (s *shader) parse() {
	s.module = &wgpu.ShaderModuleDescriptor{
		Label: s.key,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: s.source,
		},
	}
	cleaned := stripComments(s.source)
	structs := parseStructBlocks(cleaned)

	s.entryPoint = parseEntryPoint(cleaned, s.shaderType)
	s.structLayouts = computeStructSizes(structs)
	used := parseReachableIdentifiers(cleaned, s.entryPoint)
	s.bindGroupLayoutDescriptors, s.bindingVarNames = parseBindGroupLayouts(cleaned, s.shaderType.Visibility(), used, s.structLayouts)
	s.vertexLayoutNames = make(map[string]int)
	if s.shaderType == ShaderTypeVertex {
		s.vertexLayouts, s.vertexLayoutNames = parseVertexLayouts(structs)
	}
}
