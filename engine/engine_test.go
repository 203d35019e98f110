package engine

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/khzeb/khzeb-go/engine/camera"
	"github.com/khzeb/khzeb-go/engine/renderer"
	"github.com/khzeb/khzeb-go/engine/renderer/batch"
	"github.com/khzeb/khzeb-go/engine/renderer/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHeadlessEngine(t *testing.T, options ...EngineBuilderOption) (Engine, *renderer.MemoryBackend) {
	t.Helper()
	backend := renderer.NewMemoryBackend()
	r, err := renderer.NewRenderer(renderer.BackendTypeMemory, nil,
		renderer.WithBackend(backend),
		renderer.WithPipelines(pipeline.NewPipeline(DefaultPipelineKey, pipeline.WithSource(batch.GPUBatchSource))),
	)
	require.NoError(t, err)

	e, err := NewEngine(append([]EngineBuilderOption{WithRenderer(r), WithProducers(4)}, options...)...)
	require.NoError(t, err)
	t.Cleanup(e.Release)
	return e, backend
}

func TestNewEngineBindsDefaultCamera(t *testing.T) {
	e, _ := newHeadlessEngine(t)

	require.NotNil(t, e.Camera())
	assert.NotNil(t, e.Camera().Binding())
	assert.Nil(t, e.Window())
	assert.NotNil(t, e.Profiler())
}

func TestProduceFillsBatchConcurrently(t *testing.T) {
	e, _ := newHeadlessEngine(t)
	b, err := e.Renderer().NewBatch(batch.MaxBatchSize, batch.DefaultMetadata())
	require.NoError(t, err)

	const producers, perProducer = 8, 128
	tasks := make([]func() error, producers)
	for p := range producers {
		tasks[p] = func() error {
			for i := range perProducer {
				b.Push(batch.NewInstanceI32(int32(p), int32(i), 1))
			}
			return nil
		}
	}
	require.NoError(t, e.Produce(tasks...))
	assert.Equal(t, producers*perProducer, b.Size())
}

func TestProduceJoinsErrorsAndPanics(t *testing.T) {
	e, _ := newHeadlessEngine(t)
	b, err := e.Renderer().NewBatch(16, batch.DefaultMetadata())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = e.Produce(
		func() error { return nil },
		func() error { return boom },
		func() error {
			for range 17 {
				b.Push(batch.NewInstance())
			}
			return nil
		},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "producer 2 panicked")

	assert.NoError(t, e.Produce())
}

func TestRenderFrameFlushesDrawsAndPresents(t *testing.T) {
	e, backend := newHeadlessEngine(t, WithProfiling(true))
	b, err := e.Renderer().NewBatch(64, batch.DefaultMetadata(), batch.WithLabel("tiles"))
	require.NoError(t, err)
	for i := range 40 {
		b.Push(batch.NewInstanceI32(int32(i), 0, 1))
	}

	res, err := e.RenderFrame()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Draws)
	assert.True(t, res.CameraWritten)

	res, err = e.RenderFrame()
	require.NoError(t, err)
	assert.False(t, res.CameraWritten)

	frames := backend.Frames()
	require.Len(t, frames, 2)
	assert.True(t, frames[1].Presented)
	require.Len(t, frames[1].Draws, 1)
	assert.Equal(t, "tiles", frames[1].Draws[0].Label)
	assert.Equal(t, uint32(40), frames[1].Draws[0].InstanceCount)

	// Only the first frame uploads: metadata, the camera and one coalesced instance write.
	assert.Equal(t, 3, backend.MemoryQueue().WriteCount())
}

func TestRenderFrameUnknownPipeline(t *testing.T) {
	e, backend := newHeadlessEngine(t, WithPipelineKey("missing"))

	_, err := e.RenderFrame()
	assert.ErrorIs(t, err, renderer.ErrPipelineNotFound)

	// The frame was still closed so the next one can begin.
	require.NoError(t, e.Renderer().BeginFrame())
	e.Renderer().EndFrame()
	assert.Len(t, backend.Frames(), 2)
}

func TestRenderFrameWithoutRenderer(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	t.Cleanup(e.Release)

	_, err = e.RenderFrame()
	assert.ErrorIs(t, err, ErrNoRenderer)
}

func TestTickAdvancesCamera(t *testing.T) {
	ctrl := camera.NewCameraController()
	cam := camera.NewCamera(camera.WithController(ctrl), camera.WithViewport(100, 100))
	e, _ := newHeadlessEngine(t, WithCamera(cam))

	var ticks atomic.Int32
	e.SetTickCallback(func(float32) { ticks.Add(1) })

	before := cam.ViewProjectionMatrix()
	ctrl.Pan(50, 0)
	e.(*engine).tick(1.0 / 60)

	assert.NotEqual(t, before, cam.ViewProjectionMatrix())
	left, _, right, _ := cam.Bounds()
	assert.InDelta(t, 0, left, 1e-4)
	assert.InDelta(t, 100, right, 1e-4)
	assert.Equal(t, int32(1), ticks.Load())
}

func TestRunHeadlessUntilQuit(t *testing.T) {
	e, backend := newHeadlessEngine(t, WithTickRate(200), WithRenderFrameLimit(200))

	ticked := make(chan struct{}, 1)
	e.SetTickCallback(func(float32) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()

	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never ticked")
	}
	e.Quit()
	e.Quit()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
	assert.NotEmpty(t, backend.Frames())
}

func TestRateHelpers(t *testing.T) {
	assert.Equal(t, time.Second/60, tickInterval(0))
	assert.Equal(t, 10*time.Millisecond, tickInterval(100))
	assert.Zero(t, frameLimit(0))
	assert.Equal(t, 20*time.Millisecond, frameLimit(50))
}
