package renderer

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/khzeb/khzeb-go/common"
	"github.com/khzeb/khzeb-go/engine/logging"
	"github.com/khzeb/khzeb-go/engine/renderer/device"
	"github.com/khzeb/khzeb-go/engine/renderer/pipeline"
	"github.com/khzeb/khzeb-go/engine/renderer/shader"
)

// depthFormat is the format of the depth attachment every pipeline is created against.
const depthFormat = wgpu.TextureFormatDepth24Plus

type wgpuRendererBackend struct {
	mu     *sync.Mutex
	logger *log.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface
	raw      *wgpu.Device
	rawQueue *wgpu.Queue

	dev   device.Device
	queue device.Queue

	surfaceFormat wgpu.TextureFormat
	configured    bool
	presentMode   wgpu.PresentMode
	sampleCount   MSAASampleCount
	clearColor    wgpu.Color

	msaaTexture          *wgpu.Texture
	msaaTextureView      *wgpu.TextureView
	depthTexture         *wgpu.Texture
	depthTextureView     *wgpu.TextureView
	renderPassDescriptor *wgpu.RenderPassDescriptor

	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView
}

var _ RendererBackend = &wgpuRendererBackend{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, sampleCount MSAASampleCount, clear common.Rgba) (*wgpuRendererBackend, error) {
	runtime.LockOSThread()
	c := clear.Float32()
	b := &wgpuRendererBackend{
		mu:          &sync.Mutex{},
		logger:      logging.With("component", "wgpu"),
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeFifo,
		sampleCount: sampleCount,
		clearColor:  wgpu.Color{R: float64(c[0]), G: float64(c[1]), B: float64(c[2]), A: float64(c[3])},
	}
	b.surface = b.instance.CreateSurface(surfaceDescriptor)

	adapter, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    b.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	b.adapter = adapter

	d, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "khzeb device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	b.raw = d
	b.rawQueue = d.GetQueue()
	b.dev = device.NewWGPUDevice(d)
	b.queue = device.NewWGPUQueue(b.rawQueue)

	capabilities := b.surface.GetCapabilities(b.adapter)
	if len(capabilities.Formats) == 0 {
		return nil, fmt.Errorf("surface reports no supported formats")
	}
	b.surfaceFormat = capabilities.Formats[0]

	b.logger.Info("device ready", "format", b.surfaceFormat, "msaa", uint32(sampleCount))
	return b, nil
}

func (b *wgpuRendererBackend) Device() device.Device {
	return b.dev
}

func (b *wgpuRendererBackend) Queue() device.Queue {
	return b.queue
}

func (b *wgpuRendererBackend) ConfigureSurface(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surface.Configure(b.adapter, b.raw, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	b.configured = true
	b.releaseAttachments()

	count := uint32(b.sampleCount)
	msaaEnabled := count > 1
	extent := wgpu.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1}

	if msaaEnabled {
		// The pass draws into the multisampled texture and resolves into the swapchain view.
		tex, err := b.raw.CreateTexture(&wgpu.TextureDescriptor{
			Label:         "msaa color",
			Size:          extent,
			MipLevelCount: 1,
			SampleCount:   count,
			Dimension:     wgpu.TextureDimension2D,
			Format:        b.surfaceFormat,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			panic(fmt.Sprintf("renderer: create msaa texture: %v", err))
		}
		view, err := tex.CreateView(nil)
		if err != nil {
			panic(fmt.Sprintf("renderer: create msaa view: %v", err))
		}
		b.msaaTexture, b.msaaTextureView = tex, view
	}

	depth, err := b.raw.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "depth",
		Size:          extent,
		MipLevelCount: 1,
		SampleCount:   count,
		Dimension:     wgpu.TextureDimension2D,
		Format:        depthFormat,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		panic(fmt.Sprintf("renderer: create depth texture: %v", err))
	}
	depthView, err := depth.CreateView(nil)
	if err != nil {
		panic(fmt.Sprintf("renderer: create depth view: %v", err))
	}
	b.depthTexture, b.depthTextureView = depth, depthView

	storeOp := wgpu.StoreOpStore
	if msaaEnabled {
		storeOp = wgpu.StoreOpDiscard
	}
	b.renderPassDescriptor = &wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				// View is the swapchain view when MSAA is off, ResolveTarget when it is on.
				// Both are filled in by BeginFrame.
				View:       b.msaaTextureView,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    storeOp,
				ClearValue: b.clearColor,
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            b.depthTextureView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	}
	b.logger.Debug("surface configured", "width", width, "height", height)
}

// releaseAttachments frees the size dependent textures. Caller must hold the mutex.
func (b *wgpuRendererBackend) releaseAttachments() {
	if b.msaaTextureView != nil {
		b.msaaTextureView.Release()
		b.msaaTexture.Release()
		b.msaaTextureView, b.msaaTexture = nil, nil
	}
	if b.depthTextureView != nil {
		b.depthTextureView.Release()
		b.depthTexture.Release()
		b.depthTextureView, b.depthTexture = nil, nil
	}
}

func (b *wgpuRendererBackend) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case PresentModeUncapped:
		b.presentMode = wgpu.PresentModeImmediate
	default:
		b.presentMode = wgpu.PresentModeFifo
	}
}

func (b *wgpuRendererBackend) RegisterRenderPipeline(p pipeline.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	layouts, err := p.BindGroupLayouts()
	if err != nil {
		return err
	}

	vertexShader := p.Shader(shader.ShaderTypeVertex)
	fragmentShader := p.Shader(shader.ShaderTypeFragment)

	b.mu.Lock()
	defer b.mu.Unlock()

	vs, err := b.raw.CreateShaderModule(vertexShader.Module())
	if err != nil {
		return fmt.Errorf("pipeline %s: vertex module: %w", p.PipelineKey(), err)
	}
	defer vs.Release()
	fs, err := b.raw.CreateShaderModule(fragmentShader.Module())
	if err != nil {
		return fmt.Errorf("pipeline %s: fragment module: %w", p.PipelineKey(), err)
	}
	defer fs.Release()

	bindGroupLayouts := make([]*wgpu.BindGroupLayout, len(layouts))
	for g := range layouts {
		layout, layoutErr := b.raw.CreateBindGroupLayout(&layouts[g])
		if layoutErr != nil {
			return fmt.Errorf("pipeline %s: bind group layout %d: %w", p.PipelineKey(), g, layoutErr)
		}
		defer layout.Release()
		bindGroupLayouts[g] = layout
	}

	pipelineLayout, err := b.raw.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return fmt.Errorf("pipeline %s: layout: %w", p.PipelineKey(), err)
	}
	defer pipelineLayout.Release()

	created, err := b.raw.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey(),
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
			Buffers:    vertexShader.VertexLayouts(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets:    []wgpu.ColorTargetState{p.ColorTarget(b.surfaceFormat)},
		},
		Primitive: p.PrimitiveState(),
		Multisample: wgpu.MultisampleState{
			Count: uint32(b.sampleCount),
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: p.DepthStencil(depthFormat),
	})
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", p.PipelineKey(), err)
	}

	p.SetRenderPipeline(created)
	b.logger.Info("pipeline registered", "key", p.PipelineKey(), "groups", len(layouts))
	return nil
}

func (b *wgpuRendererBackend) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A surface image that was acquired but never presented must not be acquired again.
	if b.frameSurface != nil {
		return errFrameOpen
	}
	if !b.configured {
		return fmt.Errorf("begin frame: surface not configured")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return fmt.Errorf("begin frame: %w", err)
	}
	encoder, err := b.raw.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return fmt.Errorf("begin frame: %w", err)
	}

	if b.sampleCount > 1 {
		b.renderPassDescriptor.ColorAttachments[0].ResolveTarget = view
	} else {
		b.renderPassDescriptor.ColorAttachments[0].View = view
	}

	b.frameEncoder = encoder
	b.framePass = encoder.BeginRenderPass(b.renderPassDescriptor)
	b.frameSurface = surfaceTexture
	b.frameView = view
	return nil
}

func (b *wgpuRendererBackend) Draw(p pipeline.Pipeline, cmd DrawCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return errNoFrame
	}
	rp := p.RenderPipeline()
	if rp == nil {
		return fmt.Errorf("draw %s: pipeline %s has not been registered", cmd.Label, p.PipelineKey())
	}
	buf, ok := device.WGPUBuffer(cmd.Instances.Buffer)
	if !ok {
		return fmt.Errorf("draw %s: instance buffer: %w", cmd.Label, device.ErrUnknownBuffer)
	}

	b.framePass.SetPipeline(rp)
	for i, group := range cmd.BindGroups {
		bg, ok := device.WGPUBindGroup(group)
		if !ok {
			return fmt.Errorf("draw %s: bind group %d: %w", cmd.Label, i, device.ErrUnknownBuffer)
		}
		b.framePass.SetBindGroup(uint32(i), bg, nil)
	}
	b.framePass.SetVertexBuffer(0, buf, cmd.Instances.Offset, cmd.Instances.Size)
	b.framePass.Draw(cmd.VertexCount, cmd.InstanceCount, 0, 0)
	return nil
}

func (b *wgpuRendererBackend) EndFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()
	b.framePass.Release()
	b.framePass = nil

	commandBuffer, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	if err != nil {
		b.logger.Error("finish frame", "err", err)
		b.releaseFrameSurface()
		return
	}

	b.rawQueue.Submit(commandBuffer)
	commandBuffer.Release()
}

func (b *wgpuRendererBackend) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return
	}
	b.surface.Present()
	b.releaseFrameSurface()
}

// releaseFrameSurface drops the frame's swapchain references. Caller must hold the mutex.
func (b *wgpuRendererBackend) releaseFrameSurface() {
	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	if b.frameSurface != nil {
		b.frameSurface.Release()
		b.frameSurface = nil
	}
}

func (b *wgpuRendererBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseFrameSurface()
	b.releaseAttachments()
	if b.raw != nil {
		b.raw.Release()
		b.raw = nil
	}
	if b.surface != nil {
		b.surface.Release()
		b.surface = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}
