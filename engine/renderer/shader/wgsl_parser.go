package shader

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// wgslStruct is one struct block of a shader, members in declaration order.
type wgslStruct struct {
	name   string
	fields []wgslMember
}

// wgslMember is a struct member. location is -1 when the member has no @location.
type wgslMember struct {
	name      string
	typeName  string
	location  int
	isBuiltin bool
}

// attributeFormat pairs a vertex format with its byte width.
type attributeFormat struct {
	format wgpu.VertexFormat
	size   uint64
}

// hostLayout is the size and alignment of a type in uniform/storage memory.
type hostLayout struct {
	size  uint64
	align uint64
}

// instanceStructSuffix marks vertex input structs stepped once per instance rather than per vertex.
const instanceStructSuffix = "Instance"

// wgslVertexFormatMap maps WGSL vertex input types to their wgpu vertex format and byte size
var wgslVertexFormatMap = map[string]attributeFormat{
	"f32":       {wgpu.VertexFormatFloat32, 4},
	"vec2f":     {wgpu.VertexFormatFloat32x2, 8},
	"vec2<f32>": {wgpu.VertexFormatFloat32x2, 8},
	"vec3f":     {wgpu.VertexFormatFloat32x3, 12},
	"vec3<f32>": {wgpu.VertexFormatFloat32x3, 12},
	"vec4f":     {wgpu.VertexFormatFloat32x4, 16},
	"vec4<f32>": {wgpu.VertexFormatFloat32x4, 16},
	"i32":       {wgpu.VertexFormatSint32, 4},
	"vec2i":     {wgpu.VertexFormatSint32x2, 8},
	"vec2<i32>": {wgpu.VertexFormatSint32x2, 8},
	"vec4i":     {wgpu.VertexFormatSint32x4, 16},
	"vec4<i32>": {wgpu.VertexFormatSint32x4, 16},
	"u32":       {wgpu.VertexFormatUint32, 4},
	"vec2u":     {wgpu.VertexFormatUint32x2, 8},
	"vec2<u32>": {wgpu.VertexFormatUint32x2, 8},
	"vec4u":     {wgpu.VertexFormatUint32x4, 16},
	"vec4<u32>": {wgpu.VertexFormatUint32x4, 16},
}

var (
	// structBlockRegex matches struct declarations and captures the name and body
	structBlockRegex = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)

	// locationRegex matches @location(N) attributes
	locationRegex = regexp.MustCompile(`@location\((\d+)\)`)

	// builtinRegex matches @builtin(...) attributes
	builtinRegex = regexp.MustCompile(`@builtin\(\w+\)`)

	// fieldRegex matches a struct member: any attributes, then name: type
	fieldRegex = regexp.MustCompile(`(?:@\w+(?:\([^)]*\))?\s*)*(\w+)\s*:\s*(.+)`)

	// vertexEntryRegex matches @vertex functions and captures the entry point name
	vertexEntryRegex = regexp.MustCompile(`(?s)@vertex\b.*?\bfn\s+(\w+)`)

	// fragmentEntryRegex matches @fragment functions and captures the entry point name
	fragmentEntryRegex = regexp.MustCompile(`(?s)@fragment\b.*?\bfn\s+(\w+)`)

	// bindGroupDeclRegex captures group, binding, address space, variable name and type from
	// declarations like: @group(1) @binding(0) var<uniform> batch: BatchMetadata;
	bindGroupDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)

	// fnDeclRegex matches function declarations and captures the name
	fnDeclRegex = regexp.MustCompile(`\bfn\s+(\w+)\s*\(`)

	// identRegex matches WGSL identifiers
	identRegex = regexp.MustCompile(`[A-Za-z_]\w*`)
)

// parseVertexLayouts converts every vertex input struct into a vertex buffer layout.
// A vertex input struct has at least one @location member and no @builtin member, which
// separates it from the vertex output struct. Structs with member types that cannot be
// vertex attributes are skipped.
//
// Parameters:
//   - structs: the parsed struct blocks in source order
//
// Returns:
//   - []wgpu.VertexBufferLayout: the layouts in source order
//   - map[string]int: the index of each layout keyed by struct name
func parseVertexLayouts(structs []wgslStruct) ([]wgpu.VertexBufferLayout, map[string]int) {
	var layouts []wgpu.VertexBufferLayout
	names := make(map[string]int)

	for _, ps := range structs {
		if !isVertexInputStruct(ps) {
			continue
		}
		layout, ok := buildVertexBufferLayout(ps)
		if !ok {
			continue
		}
		names[ps.name] = len(layouts)
		layouts = append(layouts, layout)
	}
	return layouts, names
}

// parseBindGroupLayouts extracts all @group(N) @binding(M) buffer declarations and returns them
// as layout descriptors keyed by group, with entries sorted by binding. Buffer entries get their
// MinBindingSize from the bound type's layout when it can be resolved.
//
// Parameters:
//   - source: WGSL source with comments stripped
//   - visibility: the stage flag set on entries whose variable the entry point uses
//   - used: identifiers reachable from the entry point; other entries get ShaderStageNone
//   - structLayouts: layouts of the structs declared in the source
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: layout descriptors keyed by group index
//   - map[int]map[int]string: variable names keyed by group and binding index
func parseBindGroupLayouts(source string, visibility wgpu.ShaderStage, used map[string]bool, structLayouts map[string]hostLayout) (map[int]wgpu.BindGroupLayoutDescriptor, map[int]map[int]string) {
	groups := make(map[int][]wgpu.BindGroupLayoutEntry)
	varNames := make(map[int]map[int]string)

	for _, match := range bindGroupDeclRegex.FindAllStringSubmatch(source, -1) {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.Atoi(match[2])
		addressSpace := strings.TrimSpace(match[3])
		varName := strings.TrimSpace(match[4])
		typeName := strings.TrimSpace(match[5])

		stage := wgpu.ShaderStageNone
		if used[varName] {
			stage = visibility
		}
		entry := classifyResource(uint32(binding), stage, addressSpace)
		if entry.Buffer.Type != wgpu.BufferBindingTypeUndefined {
			if layout, ok := resolveTypeLayout(typeName, structLayouts); ok && layout.size > 0 {
				entry.Buffer.MinBindingSize = layout.size
			}
		}
		groups[group] = append(groups[group], entry)

		if varNames[group] == nil {
			varNames[group] = make(map[int]string)
		}
		varNames[group][binding] = varName
	}

	result := make(map[int]wgpu.BindGroupLayoutDescriptor, len(groups))
	for g, entries := range groups {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Binding < entries[j].Binding
		})
		result[g] = wgpu.BindGroupLayoutDescriptor{Entries: entries}
	}
	return result, varNames
}

// parseEntryPoint returns the name of the first entry point for the given stage, or empty.
//
// Parameters:
//   - source: WGSL source with comments stripped
//   - shaderType: the stage to look for
//
// Returns:
//   - string: the entry point function name
func parseEntryPoint(source string, shaderType ShaderType) string {
	var re *regexp.Regexp
	switch shaderType {
	case ShaderTypeVertex:
		re = vertexEntryRegex
	case ShaderTypeFragment:
		re = fragmentEntryRegex
	default:
		return ""
	}
	if match := re.FindStringSubmatch(source); match != nil {
		return match[1]
	}
	return ""
}

// parseFunctionBodies returns the body of every function keyed by name.
//
// Parameters:
//   - source: WGSL source with comments stripped
//
// Returns:
//   - map[string]string: the text between each function's outer braces
func parseFunctionBodies(source string) map[string]string {
	bodies := make(map[string]string)
	for _, loc := range fnDeclRegex.FindAllStringSubmatchIndex(source, -1) {
		open := strings.IndexByte(source[loc[1]:], '{')
		if open < 0 {
			continue
		}
		open += loc[1]
		depth := 0
		for i := open; i < len(source); i++ {
			switch source[i] {
			case '{':
				depth++
			case '}':
				depth--
			}
			if depth == 0 {
				bodies[source[loc[2]:loc[3]]] = source[open+1 : i]
				break
			}
		}
	}
	return bodies
}

// parseReachableIdentifiers collects the identifiers used by entryPoint and by every function it
// calls, directly or not. Member names after a '.' are skipped.
//
// Parameters:
//   - source: WGSL source with comments stripped
//   - entryPoint: the entry point function name
//
// Returns:
//   - map[string]bool: the reachable identifiers
func parseReachableIdentifiers(source, entryPoint string) map[string]bool {
	used := make(map[string]bool)
	if entryPoint == "" {
		return used
	}
	bodies := parseFunctionBodies(source)
	visited := map[string]bool{entryPoint: true}
	pending := []string{entryPoint}
	for len(pending) > 0 {
		fn := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		body := bodies[fn]
		for _, loc := range identRegex.FindAllStringIndex(body, -1) {
			if loc[0] > 0 && body[loc[0]-1] == '.' {
				continue
			}
			id := body[loc[0]:loc[1]]
			used[id] = true
			if _, isFn := bodies[id]; isFn && !visited[id] {
				visited[id] = true
				pending = append(pending, id)
			}
		}
	}
	return used
}

// parseStructBlocks finds all struct blocks in the source and parses their members.
//
// Parameters:
//   - source: WGSL source with comments stripped
//
// Returns:
//   - []wgslStruct: the structs in source order
func parseStructBlocks(source string) []wgslStruct {
	matches := structBlockRegex.FindAllStringSubmatch(source, -1)
	structs := make([]wgslStruct, 0, len(matches))
	for _, match := range matches {
		structs = append(structs, wgslStruct{
			name:   match[1],
			fields: parseStructFields(match[2]),
		})
	}
	return structs
}

// parseStructFields splits a struct body into members, recording @location and @builtin attributes.
//
// Parameters:
//   - body: the text between the braces of a struct declaration
//
// Returns:
//   - []wgslMember: the members in declaration order
func parseStructFields(body string) []wgslMember {
	lines := splitAtTopLevelCommas(body)
	fields := make([]wgslMember, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fm := fieldRegex.FindStringSubmatch(line)
		if fm == nil {
			continue
		}

		field := wgslMember{
			name:      fm[1],
			typeName:  strings.TrimSpace(fm[2]),
			location:  -1,
			isBuiltin: builtinRegex.MatchString(line),
		}
		if locMatch := locationRegex.FindStringSubmatch(line); locMatch != nil {
			if loc, err := strconv.Atoi(locMatch[1]); err == nil {
				field.location = loc
			}
		}
		fields = append(fields, field)
	}
	return fields
}
