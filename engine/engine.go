package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/charmbracelet/log"
	"github.com/khzeb/khzeb-go/engine/camera"
	"github.com/khzeb/khzeb-go/engine/logging"
	"github.com/khzeb/khzeb-go/engine/profiler"
	"github.com/khzeb/khzeb-go/engine/renderer"
	"github.com/khzeb/khzeb-go/engine/window"
)

// DefaultPipelineKey is the pipeline key frames are drawn with unless WithPipelineKey is given.
const DefaultPipelineKey = "batch"

// ErrNoRenderer is returned by RenderFrame on an engine built without a renderer.
var ErrNoRenderer = errors.New("engine: no renderer")

// FrameResult describes one rendered frame.
type FrameResult struct {
	Draws         int
	CameraWritten bool
}

// engine implements the Engine interface.
// Coordinates engine, render, and window threads.
type engine struct {
	logger *log.Logger

	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running atomic.Bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once
	releaseOnce sync.Once

	window      window.Window
	renderer    renderer.Renderer
	camera      camera.Camera
	pipelineKey string

	profiler         *profiler.Profiler
	profilingEnabled bool

	producerPool    worker.DynamicWorkerPool
	producerWorkers int
	taskID          atomic.Int64

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine is the main entry point for the engine.
// It orchestrates the tick loop, the render loop and window input. Each tick updates the camera
// controller and runs the tick callback; each frame flushes the renderer's batches, uploads the
// camera, draws and presents.
type Engine interface {
	// Window returns the underlying window, or nil for a headless engine.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Renderer returns the renderer frames are drawn with.
	//
	// Returns:
	//   - renderer.Renderer: the renderer, or nil
	Renderer() renderer.Renderer

	// Camera returns the camera frames are drawn with.
	//
	// Returns:
	//   - camera.Camera: the camera
	Camera() camera.Camera

	// Profiler returns the engine's profiler.
	Profiler() *profiler.Profiler

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	// The tick callback will be called at this rate for game logic updates.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick, after the camera
	// controller has been advanced. Use this to fill batches.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each rendered frame.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// Produce runs each task on the producer pool and waits for all of them. Tasks typically
	// push instances into batches; a task that panics is reported as an error. Produce must not
	// be called from inside a task.
	//
	// Parameters:
	//   - tasks: the producer functions
	//
	// Returns:
	//   - error: the joined task errors
	Produce(tasks ...func() error) error

	// RenderFrame flushes every batch, uploads the camera, draws the batches with the engine's
	// pipeline and presents. The render loop calls it once per frame; headless callers may call
	// it directly.
	//
	// Returns:
	//   - FrameResult: what the frame did
	//   - error: ErrNoRenderer, or the first error of the frame
	RenderFrame() (FrameResult, error)

	// Run starts the engine goroutines and blocks until the window closes or Quit is called.
	Run()

	// Quit signals all engine goroutines to stop and shuts down the engine.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()

	// Release stops the producer pool and frees the camera binding and the renderer.
	Release()
}

var _ Engine = &engine{}

// NewEngine creates a new Engine instance with the provided options.
// A camera sized to the window is created when none is given, and bound to the renderer's
// device. Window input drives the camera controller: keys and scroll wheel directly, mouse drags
// as pans.
//
// Parameters:
//   - options: functional options for engine configuration (renderer, window, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
//   - error: an error if the camera could not be bound to the renderer
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		logger:          logging.With("component", "engine"),
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		pipelineKey:     DefaultPipelineKey,
		engineTickRate:  time.Second / 60,
		producerWorkers: max(runtime.NumCPU()-1, 1),
	}

	for _, opt := range options {
		opt(e)
	}

	if e.profiler == nil {
		e.profiler = profiler.NewProfiler()
	}
	if e.camera == nil {
		var camOpts []camera.CameraBuilderOption
		if e.window != nil {
			camOpts = append(camOpts, camera.WithViewport(float32(e.window.Width()), float32(e.window.Height())))
		}
		e.camera = camera.NewCamera(camOpts...)
	}
	if e.renderer != nil {
		if err := e.camera.CreateBinding(e.renderer.Device()); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	e.producerPool = worker.NewDynamicWorkerPool(e.producerWorkers, 256, 1*time.Second)

	if e.window != nil {
		e.bindWindow()
	}

	e.logger.Info("engine ready", "producers", e.producerWorkers, "tick", e.engineTickRate, "pipeline", e.pipelineKey)
	return e, nil
}

// bindWindow routes window events to the renderer and the camera controller.
func (e *engine) bindWindow() {
	e.window.SetResizeCallback(func(width, height int) {
		if e.renderer != nil {
			e.renderer.Resize(width, height)
		}
		e.camera.SetViewport(float32(width), float32(height))
	})
	e.window.SetKeyDownCallback(func(keyCode uint32) {
		e.camera.Controller().KeyDown(keyCode)
	})
	e.window.SetKeyUpCallback(func(keyCode uint32) {
		e.camera.Controller().KeyUp(keyCode)
	})
	e.window.SetScrollCallback(func(delta float32) {
		e.camera.Controller().Scroll(delta)
	})
	e.window.SetDragCallback(func(dx, dy float32) {
		e.camera.Controller().Pan(dx, dy)
	})
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Camera() camera.Camera {
	return e.camera
}

func (e *engine) Profiler() *profiler.Profiler {
	return e.profiler
}

// Run starts the engine goroutines. With a window it pumps window messages on the calling
// goroutine until the window closes; headless, it waits for Quit.
func (e *engine) Run() {
	e.running.Store(true)
	e.handle()
	if e.window != nil {
		e.window.ProcessMessages()
		e.signalQuit()
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running.Store(false)
		close(e.quitChannel)
	})
}

func (e *engine) Release() {
	e.signalQuit()
	e.releaseOnce.Do(func() {
		e.producerPool.Stop()
		e.camera.Release()
		if e.renderer != nil {
			e.renderer.Release()
		}
	})
}

// handle launches the engine, render, and quit goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(3)
	go e.handleEngine()
	go e.handleRender()
	go e.handleQuit()
}

// tick advances the camera controller and runs the tick callback.
func (e *engine) tick(dt float32) {
	e.camera.Controller().Update(dt)
	e.camera.Update()
	if e.tickCallback != nil {
		e.tickCallback(dt)
	}
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Ticks at the configured tick rate and listens for dynamic rate changes via tickRateChannel.
// Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now
			e.tick(dt)
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// Frame errors are logged and the loop carries on; a panic is logged and stops the engine.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("render goroutine recovered from panic", "panic", r)
			e.signalQuit()
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastRender).Seconds())
			lastRender = now

			if e.renderer != nil {
				if _, err := e.RenderFrame(); err != nil {
					e.logger.Error("frame failed", "err", err)
				}
			}

			if e.renderCallback != nil {
				e.renderCallback(dt)
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(lastRender)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// handleQuit blocks until the quit channel is closed, then decrements the WaitGroup.
func (e *engine) handleQuit() {
	defer e.wg.Done()
	<-e.quitChannel
}

func (e *engine) RenderFrame() (FrameResult, error) {
	var res FrameResult
	if e.renderer == nil {
		return res, ErrNoRenderer
	}

	stats, err := e.renderer.FlushBatches()
	if err != nil {
		return res, fmt.Errorf("flush batches: %w", err)
	}
	if res.CameraWritten, err = e.camera.Flush(e.renderer.Queue()); err != nil {
		return res, fmt.Errorf("flush camera: %w", err)
	}

	if err := e.renderer.BeginFrame(); err != nil {
		return res, fmt.Errorf("begin frame: %w", err)
	}
	res.Draws, err = e.renderer.DrawBatches(e.pipelineKey, e.camera)
	e.renderer.EndFrame()
	if err != nil {
		return res, fmt.Errorf("draw batches: %w", err)
	}
	e.renderer.Present()

	if e.profilingEnabled {
		e.profiler.Record(stats, res.Draws)
		e.profiler.Tick()
	}
	return res, nil
}

func (e *engine) Produce(tasks ...func() error) error {
	if len(tasks) == 0 {
		return nil
	}

	// Per-call barrier: pool.Wait would also wait on other callers' tasks.
	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		wg.Add(1)
		id := int(e.taskID.Add(1))
		e.producerPool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						errs[i] = fmt.Errorf("producer %d panicked: %v", i, r)
					}
				}()
				if err := task(); err != nil {
					errs[i] = fmt.Errorf("producer %d: %w", i, err)
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	newRate := tickInterval(fps)

	if e.running.Load() {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called each render frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	e.renderFrameLimit = frameLimit(fps)
}

func tickInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 60
	}
	return time.Duration(float64(time.Second) / fps)
}

func frameLimit(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}
