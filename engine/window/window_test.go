package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDragTrackerIgnoresMovesWithoutPress(t *testing.T) {
	var d dragTracker
	_, _, ok := d.move(10, 10)
	assert.False(t, ok)
}

func TestDragTrackerReportsPanDeltas(t *testing.T) {
	var d dragTracker
	d.press(100, 100)

	dx, dy, ok := d.move(110, 95)
	assert.True(t, ok)
	assert.Equal(t, float32(-10), dx)
	assert.Equal(t, float32(-5), dy)

	dx, dy, ok = d.move(110, 105)
	assert.True(t, ok)
	assert.Zero(t, dx)
	assert.Equal(t, float32(10), dy)

	d.release()
	_, _, ok = d.move(0, 0)
	assert.False(t, ok)
}

func TestBuilderOptions(t *testing.T) {
	w := newEngineWindow(
		WithTitle("tiles"),
		WithSize(800, 600),
		WithSizeLimits(320, 240, 0, 0),
		WithResizable(false),
	)

	assert.Equal(t, "tiles", w.title)
	assert.Equal(t, 800, w.Width())
	assert.Equal(t, 600, w.Height())
	assert.Equal(t, 320, w.minWidth)
	assert.Equal(t, 240, w.minHeight)
	assert.False(t, w.resizable)
	assert.False(t, w.IsRunning())
	assert.Nil(t, w.SurfaceDescriptor())
	assert.Error(t, w.Close())
}

func TestHandlersForwardEvents(t *testing.T) {
	w := newEngineWindow()

	var resized [2]int
	w.SetResizeCallback(func(width, height int) { resized = [2]int{width, height} })
	w.handleResize(1024, 768)
	assert.Equal(t, [2]int{1024, 768}, resized)
	assert.Equal(t, 1024, w.Width())
	assert.Equal(t, 768, w.Height())

	var cursor [2]float32
	var drags [][2]float32
	w.SetCursorCallback(func(x, y float32) { cursor = [2]float32{x, y} })
	w.SetDragCallback(func(dx, dy float32) { drags = append(drags, [2]float32{dx, dy}) })

	w.handleCursor(5, 5)
	assert.Equal(t, [2]float32{5, 5}, cursor)
	assert.Empty(t, drags)

	w.drag.press(5, 5)
	w.handleCursor(15, 5)
	assert.Equal(t, [][2]float32{{-10, 0}}, drags)
}

func TestSizeLimit(t *testing.T) {
	assert.Equal(t, 100, sizeLimit(100))
	assert.Equal(t, -1, sizeLimit(0))
}
