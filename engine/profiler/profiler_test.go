package profiler

import (
	"bytes"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/khzeb/khzeb-go/engine/renderer/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestProfiler(t *testing.T) (*Profiler, *fakeClock, *bytes.Buffer) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var out bytes.Buffer
	logger := log.NewWithOptions(&out, log.Options{Level: log.InfoLevel})
	p := NewProfiler(WithClock(clock.now), WithLogger(logger), WithInterval(time.Second))
	return p, clock, &out
}

func TestTickWaitsForInterval(t *testing.T) {
	p, clock, out := newTestProfiler(t)

	clock.advance(400 * time.Millisecond)
	assert.False(t, p.Tick())
	clock.advance(400 * time.Millisecond)
	assert.False(t, p.Tick())
	assert.Zero(t, p.Last())
	assert.Empty(t, out.String())
}

func TestTickClosesIntervalWithTotals(t *testing.T) {
	p, clock, out := newTestProfiler(t)

	for range 4 {
		p.Record(batch.FlushStats{Regions: 2, Writes: 1, Bytes: 2 * batch.RegionSize}, 3)
		clock.advance(250 * time.Millisecond)
		p.Tick()
	}

	s := p.Last()
	require.Equal(t, 4, s.Frames)
	assert.Equal(t, time.Second, s.Elapsed)
	assert.InDelta(t, 4.0, s.FPS, 1e-9)
	assert.Equal(t, 12, s.Draws)
	assert.Equal(t, 8, s.Regions)
	assert.Equal(t, 4, s.Writes)
	assert.Equal(t, 8*batch.RegionSize, s.Bytes)
	assert.Positive(t, s.SysMB)

	assert.Contains(t, out.String(), "frame stats")
	assert.Contains(t, out.String(), "regions=8")
}

func TestTickResetsCounters(t *testing.T) {
	p, clock, _ := newTestProfiler(t)

	p.Record(batch.FlushStats{Regions: 5, Writes: 5, Bytes: 100}, 1)
	clock.advance(time.Second)
	require.True(t, p.Tick())

	clock.advance(2 * time.Second)
	require.True(t, p.Tick())
	s := p.Last()
	assert.Equal(t, 1, s.Frames)
	assert.InDelta(t, 0.5, s.FPS, 1e-9)
	assert.Zero(t, s.Regions)
	assert.Zero(t, s.Writes)
	assert.Zero(t, s.Draws)
}

func TestWithIntervalIgnoresNonPositive(t *testing.T) {
	p := NewProfiler(WithInterval(0), WithInterval(-time.Second))
	assert.Equal(t, time.Second, p.updateInterval)
}
