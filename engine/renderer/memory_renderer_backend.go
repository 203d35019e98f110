package renderer

import (
	"errors"
	"sync"

	"github.com/khzeb/khzeb-go/engine/renderer/device"
	"github.com/khzeb/khzeb-go/engine/renderer/pipeline"
)

// Frame is the record of one frame drawn by a MemoryBackend.
type Frame struct {
	Draws     []DrawCommand
	Pipelines []string
	Presented bool
}

// MemoryBackend is a RendererBackend backed by a device.MemoryDevice. It draws nothing and
// keeps the commands of every frame instead.
type MemoryBackend struct {
	mu *sync.Mutex

	dev   *device.MemoryDevice
	queue *device.MemoryQueue

	width, height int
	presentMode   PresentMode
	registered    map[string]bool

	open   *Frame
	frames []Frame
}

var _ RendererBackend = &MemoryBackend{}

// NewMemoryBackend creates a backend over a fresh memory device.
//
// Returns:
//   - *MemoryBackend: the backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		mu:         &sync.Mutex{},
		dev:        device.NewMemoryDevice(),
		queue:      device.NewMemoryQueue(),
		registered: make(map[string]bool),
	}
}

func (m *MemoryBackend) Device() device.Device {
	return m.dev
}

func (m *MemoryBackend) Queue() device.Queue {
	return m.queue
}

// MemoryDevice returns the concrete device for inspection.
func (m *MemoryBackend) MemoryDevice() *device.MemoryDevice {
	return m.dev
}

// MemoryQueue returns the concrete queue for inspection.
func (m *MemoryBackend) MemoryQueue() *device.MemoryQueue {
	return m.queue
}

func (m *MemoryBackend) ConfigureSurface(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.width, m.height = width, height
}

// SurfaceSize returns the size given to the last accepted ConfigureSurface.
func (m *MemoryBackend) SurfaceSize() (width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width, m.height
}

func (m *MemoryBackend) SetPresentMode(mode PresentMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presentMode = mode
}

// PresentMode returns the last mode set.
func (m *MemoryBackend) PresentMode() PresentMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presentMode
}

func (m *MemoryBackend) RegisterRenderPipeline(p pipeline.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := p.BindGroupLayouts(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[p.PipelineKey()] = true
	return nil
}

func (m *MemoryBackend) BeginFrame() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open != nil {
		return errFrameOpen
	}
	m.open = &Frame{}
	return nil
}

func (m *MemoryBackend) Draw(p pipeline.Pipeline, cmd DrawCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open == nil {
		return errNoFrame
	}
	if !m.registered[p.PipelineKey()] {
		return errors.New("memory backend: pipeline " + p.PipelineKey() + " was not registered")
	}
	if _, ok := cmd.Instances.Buffer.(*device.MemoryBuffer); !ok {
		return device.ErrUnknownBuffer
	}
	cmd.BindGroups = append([]device.BindGroup(nil), cmd.BindGroups...)
	m.open.Draws = append(m.open.Draws, cmd)
	m.open.Pipelines = append(m.open.Pipelines, p.PipelineKey())
	return nil
}

func (m *MemoryBackend) EndFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open == nil {
		return
	}
	m.frames = append(m.frames, *m.open)
	m.open = nil
}

func (m *MemoryBackend) Present() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) > 0 {
		m.frames[len(m.frames)-1].Presented = true
	}
}

// Frames returns a copy of the frames ended so far.
func (m *MemoryBackend) Frames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

func (m *MemoryBackend) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = nil
	m.registered = make(map[string]bool)
}
