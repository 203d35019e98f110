package profiler

import (
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/khzeb/khzeb-go/engine/logging"
	"github.com/khzeb/khzeb-go/engine/renderer/batch"
)

// Snapshot is one reporting interval of frame, memory and upload statistics.
type Snapshot struct {
	Frames  int
	Elapsed time.Duration
	FPS     float64

	HeapMB      float64
	SysMB       float64
	AllocRateMB float64 // MB allocated per second over the interval

	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64

	// Upload and draw totals over the interval.
	Draws   int
	Regions int
	Writes  int
	Bytes   int
}

// Profiler tracks frame rate, memory and batch upload statistics.
// It logs a Snapshot through the shared logger once per interval.
type Profiler struct {
	mu     *sync.Mutex
	logger *log.Logger
	now    func() time.Time

	updateInterval time.Duration
	frameCount     int
	lastTime       time.Time
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	flush batch.FlushStats
	draws int
	last  Snapshot
}

// NewProfiler creates a new Profiler. The update interval defaults to 1 second.
//
// Parameters:
//   - options: variadic list of ProfilerBuilderOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		mu:             &sync.Mutex{},
		logger:         logging.With("component", "profiler"),
		now:            time.Now,
		updateInterval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Record adds one frame's flush statistics and draw count to the current interval.
//
// Parameters:
//   - stats: the statistics returned by the frame's flush
//   - draws: the number of draws issued in the frame
func (p *Profiler) Record(stats batch.FlushStats, draws int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flush.Add(stats)
	p.draws += draws
}

// Tick should be called once per frame. When the update interval has elapsed it closes the
// interval, logs its Snapshot and starts a new one.
//
// Returns:
//   - bool: true if an interval was closed this tick
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	s := Snapshot{
		Frames:  p.frameCount,
		Elapsed: elapsed,
		FPS:     float64(p.frameCount) / elapsed.Seconds(),
		HeapMB:  toMB(p.memStats.Alloc),
		SysMB:   toMB(p.memStats.Sys),
		GCCount: p.memStats.NumGC,
		Draws:   p.draws,
		Regions: p.flush.Regions,
		Writes:  p.flush.Writes,
		Bytes:   p.flush.Bytes,
	}
	if p.memStats.TotalAlloc >= p.lastTotalAlloc {
		s.AllocRateMB = toMB(p.memStats.TotalAlloc-p.lastTotalAlloc) / elapsed.Seconds()
	}

	if gcCount := p.memStats.NumGC; gcCount > 0 {
		// PauseNs is a ring of the last 256 pauses.
		s.LastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		start := p.lastGCCount
		if gcCount-start > 256 {
			start = gcCount - 256
		}
		for i := start; i < gcCount; i++ {
			s.MaxPauseUs = max(s.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	p.logger.Info("frame stats",
		"fps", s.FPS,
		"heapMB", s.HeapMB,
		"allocMBps", s.AllocRateMB,
		"gc", s.GCCount,
		"gcLastUs", s.LastPauseUs,
		"gcMaxUs", s.MaxPauseUs,
		"sysMB", s.SysMB,
		"draws", s.Draws,
		"regions", s.Regions,
		"writes", s.Writes,
		"bytes", s.Bytes,
	)

	p.last = s
	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = s.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	p.flush = batch.FlushStats{}
	p.draws = 0
	return true
}

// Last returns the most recently closed interval, or the zero Snapshot before the first.
func (p *Profiler) Last() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
