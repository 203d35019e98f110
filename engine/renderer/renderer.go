package renderer

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/khzeb/khzeb-go/common"
	"github.com/khzeb/khzeb-go/engine/camera"
	"github.com/khzeb/khzeb-go/engine/logging"
	"github.com/khzeb/khzeb-go/engine/renderer/batch"
	"github.com/khzeb/khzeb-go/engine/renderer/device"
	"github.com/khzeb/khzeb-go/engine/renderer/pipeline"
	"github.com/khzeb/khzeb-go/engine/window"
)

// QuadVertexCount is the number of triangle strip vertices drawn per instance.
const QuadVertexCount = 4

var (
	// ErrPipelineNotFound is returned when a draw names a pipeline that was never registered.
	ErrPipelineNotFound = errors.New("renderer: pipeline not registered")

	// ErrCameraNotBound is returned when a camera without a device binding is drawn with.
	ErrCameraNotBound = errors.New("renderer: camera has no binding")

	errFrameOpen = errors.New("renderer: previous frame has not been presented")
	errNoFrame   = errors.New("renderer: no frame in progress")
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu     *sync.Mutex
	logger *log.Logger

	pipelineCache map[string]pipeline.Pipeline
	batches       []batch.Batch

	backendType RendererBackendType
	backend     RendererBackend

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	presentMode          *PresentMode
	msaa                 MSAASampleCount
	clearColor           common.Rgba
	pending              []pipeline.Pipeline
}

// Renderer draws sprite batches through a GPU backend.
//
// It owns the batches it creates and the registered pipelines. Producers fill batches between
// frames; a frame is FlushBatches, BeginFrame, DrawBatches, EndFrame and Present in that order.
type Renderer interface {
	// Device returns the backend device batches and cameras allocate on.
	//
	// Returns:
	//   - device.Device: the device
	Device() device.Device

	// Queue returns the backend transfer queue.
	//
	// Returns:
	//   - device.Queue: the queue
	Queue() device.Queue

	// Pipeline retrieves the registered Pipeline with the given key, or nil.
	//
	// Parameters:
	//   - key: the pipeline key
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline, or nil if not registered
	Pipeline(key string) pipeline.Pipeline

	// RegisterPipelines creates the GPU objects of each pipeline and caches it by key.
	// Keys that are already registered are skipped.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: the first pipeline creation error
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// NewBatch creates a batch on the backend device and tracks it for FlushBatches and
	// DrawBatches.
	//
	// Parameters:
	//   - capacity: instance capacity in [0, batch.MaxBatchSize]; anything else panics
	//   - metadata: initial metadata
	//   - options: batch options
	//
	// Returns:
	//   - batch.Batch: the batch
	//   - error: an error if the device could not allocate it
	NewBatch(capacity int, metadata batch.GPUBatchMetadata, options ...batch.BatchBuilderOption) (batch.Batch, error)

	// Batches returns the tracked batches in creation order.
	//
	// Returns:
	//   - []batch.Batch: a copy of the tracked list
	Batches() []batch.Batch

	// ReleaseBatch stops tracking b and frees its device resources.
	//
	// Parameters:
	//   - b: a batch created by NewBatch
	ReleaseBatch(b batch.Batch)

	// FlushBatches flushes every tracked batch through the backend queue. A failing batch does
	// not stop the others from flushing.
	//
	// Returns:
	//   - batch.FlushStats: the accumulated statistics
	//   - error: the joined flush errors
	FlushBatches() (batch.FlushStats, error)

	// Resize reconfigures the surface for a new size.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode sets the present mode. It takes effect on the next Resize.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// BeginFrame acquires the surface texture and begins the main render pass.
	//
	// Returns:
	//   - error: an error if the surface texture could not be acquired
	BeginFrame() error

	// DrawBatches draws every non-empty tracked batch with one instanced draw each, in ascending
	// ZOrder and creation order among equals. The camera is bound at group 0 and the batch
	// metadata at group 1.
	//
	// Parameters:
	//   - pipelineKey: the registered pipeline to draw with
	//   - cam: the camera, bound with CreateBinding
	//
	// Returns:
	//   - int: the number of draws issued
	//   - error: ErrPipelineNotFound, ErrCameraNotBound or a backend error
	DrawBatches(pipelineKey string, cam camera.Camera) (int, error)

	// EndFrame ends the render pass and submits the frame.
	EndFrame()

	// Present displays the submitted frame.
	Present()

	// Release frees the tracked batches, the pipelines and the backend.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer with the given backend.
// The WebGPU backend needs a window for its surface; the memory backend ignores win and may be
// given nil.
//
// Parameters:
//   - backendType: the backend to create
//   - win: the window whose surface is rendered to
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the renderer
//   - error: an error if the backend could not be created or a pipeline failed to register
func NewRenderer(backendType RendererBackendType, win window.Window, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:            &sync.Mutex{},
		logger:        logging.With("component", "renderer"),
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
		msaa:          MSAAOff,
		clearColor:    common.NewRgba(26, 26, 26, 255),
	}

	// Options first so adapter selection sees forceFallbackAdapter.
	for _, opt := range options {
		opt(r)
	}

	if r.backend == nil {
		switch backendType {
		case BackendTypeMemory:
			r.backend = NewMemoryBackend()
		default:
			if win == nil {
				return nil, fmt.Errorf("renderer: the WebGPU backend needs a window")
			}
			b, err := newWGPURendererBackend(win.SurfaceDescriptor(), r.forceFallbackAdapter, r.msaa, r.clearColor)
			if err != nil {
				return nil, fmt.Errorf("renderer: %w", err)
			}
			r.backend = b
		}
	}

	if r.presentMode != nil {
		r.backend.SetPresentMode(*r.presentMode)
	}
	if win != nil {
		r.backend.ConfigureSurface(win.Width(), win.Height())
	}
	if err := r.RegisterPipelines(r.pending...); err != nil {
		r.backend.Release()
		return nil, err
	}
	r.pending = nil

	r.logger.Info("renderer ready", "backend", backendType)
	return r, nil
}

func (r *renderer) Device() device.Device {
	return r.backend.Device()
}

func (r *renderer) Queue() device.Queue {
	return r.backend.Queue()
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		if err := r.backend.RegisterRenderPipeline(p); err != nil {
			return fmt.Errorf("register pipeline %s: %w", key, err)
		}
		r.pipelineCache[key] = p
	}
	return nil
}

func (r *renderer) NewBatch(capacity int, metadata batch.GPUBatchMetadata, options ...batch.BatchBuilderOption) (batch.Batch, error) {
	b, err := batch.NewBatch(r.backend.Device(), capacity, metadata, options...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
	return b, nil
}

func (r *renderer) Batches() []batch.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.batches)
}

func (r *renderer) ReleaseBatch(b batch.Batch) {
	r.mu.Lock()
	i := slices.Index(r.batches, b)
	if i >= 0 {
		r.batches = slices.Delete(r.batches, i, i+1)
	}
	r.mu.Unlock()
	if i >= 0 {
		b.Release()
	}
}

func (r *renderer) FlushBatches() (batch.FlushStats, error) {
	batches := r.Batches()
	queue := r.backend.Queue()

	var total batch.FlushStats
	var errs []error
	for _, b := range batches {
		stats, err := b.Flush(queue)
		total.Add(stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", b.Label(), err))
		}
	}
	return total, errors.Join(errs...)
}

func (r *renderer) BeginFrame() error {
	return r.backend.BeginFrame()
}

func (r *renderer) DrawBatches(pipelineKey string, cam camera.Camera) (int, error) {
	r.mu.Lock()
	p, exists := r.pipelineCache[pipelineKey]
	batches := slices.Clone(r.batches)
	r.mu.Unlock()

	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineKey)
	}
	camBinding := cam.Binding()
	if camBinding == nil {
		return 0, ErrCameraNotBound
	}

	slices.SortStableFunc(batches, func(a, b batch.Batch) int {
		za, zb := a.Metadata().ZOrder, b.Metadata().ZOrder
		switch {
		case za < zb:
			return -1
		case za > zb:
			return 1
		}
		return 0
	})

	draws := 0
	for _, b := range batches {
		slice := b.BufferSlice()
		if slice.Empty() {
			continue
		}
		cmd := DrawCommand{
			Label:         b.Label(),
			VertexCount:   QuadVertexCount,
			InstanceCount: uint32(slice.Size / uint64(batch.InstanceSize)),
			Instances:     slice,
			BindGroups:    []device.BindGroup{camBinding.BindGroup(), b.Binding().BindGroup()},
		}
		if err := r.backend.Draw(p, cmd); err != nil {
			return draws, err
		}
		draws++
	}
	return draws, nil
}

func (r *renderer) EndFrame() {
	r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) Release() {
	r.mu.Lock()
	batches := r.batches
	pipelines := r.pipelineCache
	r.batches = nil
	r.pipelineCache = make(map[string]pipeline.Pipeline)
	r.mu.Unlock()

	for _, b := range batches {
		b.Release()
	}
	for _, p := range pipelines {
		p.Release()
	}
	r.backend.Release()
	r.logger.Info("renderer released", "batches", len(batches), "pipelines", len(pipelines))
}
