package batch

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/khzeb/khzeb-go/engine/renderer/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errQueueFull = errors.New("queue full")

// failingQueue accepts the first n writes and rejects the rest.
type failingQueue struct {
	inner device.Queue
	n     int
}

func (q *failingQueue) WriteBuffer(buf device.Buffer, offset uint64, data []byte) error {
	if q.n == 0 {
		return errQueueFull
	}
	q.n--
	return q.inner.WriteBuffer(buf, offset, data)
}

// countingDevice counts releases of the buffers it hands out for instance arrays.
type countingDevice struct {
	*device.MemoryDevice
	releases int
}

type countingBuffer struct {
	device.Buffer
	dev *countingDevice
}

func (b *countingBuffer) Release() {
	b.dev.releases++
	b.Buffer.Release()
}

func (d *countingDevice) CreateBuffer(desc *wgpu.BufferDescriptor) (device.Buffer, error) {
	buf, err := d.MemoryDevice.CreateBuffer(desc)
	if err != nil || desc.Usage&wgpu.BufferUsageVertex == 0 {
		return buf, err
	}
	return &countingBuffer{Buffer: buf, dev: d}, nil
}

func newTestBatch(t *testing.T, dev device.Device, capacity int, opts ...BatchBuilderOption) Batch {
	t.Helper()
	b, err := NewBatch(dev, capacity, DefaultMetadata(), append([]BatchBuilderOption{WithLabel(fmt.Sprintf("test-%d", capacity))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(b.Release)
	return b
}

func instanceBytes(b Batch) []byte {
	return b.BufferSlice().Buffer.(*device.MemoryBuffer).Bytes()
}

func metadataBytes(b Batch) []byte {
	return b.Binding().Buffer(0).(*device.MemoryBuffer).Bytes()
}

func decodeInstances(data []byte, n int) []GPUBatchInstance {
	out := make([]GPUBatchInstance, n)
	for i := range n {
		out[i] = decodeInstance(data[i*InstanceSize:])
	}
	return out
}

func TestNewBatchAllocatesDeviceResources(t *testing.T) {
	dev := device.NewMemoryDevice()
	b := newTestBatch(t, dev, 32)

	slice := b.BufferSlice()
	require.NotNil(t, slice.Buffer)
	assert.Equal(t, uint64(32*20), slice.Buffer.Size())
	assert.Equal(t, wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst, slice.Buffer.Usage())
	assert.True(t, slice.Empty())
	assert.Zero(t, b.Size())
	assert.Equal(t, 32, b.Capacity())
	assert.Equal(t, "test-32", b.Label())

	meta := b.Binding().Buffer(0)
	require.NotNil(t, meta)
	assert.Equal(t, uint64(40), meta.Size())
	assert.Equal(t, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst, meta.Usage())

	entries := b.Binding().Layout().Entries
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(0), entries[0].Binding)
	assert.Equal(t, wgpu.ShaderStageVertex, entries[0].Visibility)
	assert.Equal(t, wgpu.BufferBindingTypeUniform, entries[0].Buffer.Type)
	assert.NotNil(t, b.Binding().BindGroup())
}

func TestNewBatchGeneratesLabel(t *testing.T) {
	b, err := NewBatch(device.NewMemoryDevice(), 1, DefaultMetadata())
	require.NoError(t, err)
	defer b.Release()
	assert.Contains(t, b.Label(), "batch-")
}

func TestNewBatchCapacityBounds(t *testing.T) {
	dev := device.NewMemoryDevice()
	assert.Panics(t, func() { _, _ = NewBatch(dev, MaxBatchSize+1, DefaultMetadata()) })
	assert.Panics(t, func() { _, _ = NewBatch(dev, -1, DefaultMetadata()) })
	for _, capacity := range []int{0, MaxBatchSize} {
		assert.NotPanics(t, func() {
			b, err := NewBatch(dev, capacity, DefaultMetadata())
			require.NoError(t, err)
			b.Release()
		})
	}
	assert.Equal(t, 4096, MaxBatchSize)
}

func TestPushFillsToCapacity(t *testing.T) {
	for _, capacity := range []int{0, 1, 15, 16, 17, 100, MaxBatchSize} {
		t.Run(fmt.Sprint(capacity), func(t *testing.T) {
			b := newTestBatch(t, device.NewMemoryDevice(), capacity)
			for i := range capacity {
				b.Push(NewInstanceI32(int32(i), 0, 1))
			}
			assert.Equal(t, capacity, b.Size())
			assert.Panics(t, func() { b.Push(NewInstance()) })
			assert.Equal(t, capacity, b.Size())
		})
	}
}

func TestFlushCopiesPushedInstances(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 100)

	var want []byte
	for i := range 77 {
		inst := NewInstanceI32(int32(i*3), int32(-i), float32(i)/2).WithTextureIndex(uint32(i % 5))
		b.Push(inst)
		want = append(want, inst.Marshal()...)
	}
	_, err := b.Flush(q)
	require.NoError(t, err)

	assert.Equal(t, want, instanceBytes(b)[:b.Size()*InstanceSize])
	assert.Equal(t, uint64(77*20), b.BufferSlice().Size)
}

func TestScenarioTwentyPushes(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 32)

	for i := range 20 {
		b.Push(NewInstanceI32(int32(i), int32(i), 1))
	}
	stats, err := b.Flush(q)
	require.NoError(t, err)

	got := decodeInstances(instanceBytes(b), 20)
	for i, inst := range got {
		assert.Equal(t, [2]int32{int32(i), int32(i)}, inst.Position, "slot %d", i)
	}
	assert.Equal(t, 2, stats.Regions)
	assert.True(t, stats.MetadataWritten)

	writes := q.WritesTo(b.BufferSlice().Buffer)
	require.Len(t, writes, 1, "contiguous regions are coalesced")
	assert.Equal(t, uint64(0), writes[0].Offset)
	assert.Len(t, writes[0].Data, 32*20)
}

func TestScenarioSingleRegion(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 16)

	for i := range 16 {
		b.Push(NewInstanceI32(int32(i), 0, 1))
	}
	stats, err := b.Flush(q)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Regions)
	writes := q.WritesTo(b.BufferSlice().Buffer)
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(0), writes[0].Offset)
	assert.Len(t, writes[0].Data, 16*20)
}

func TestScenarioNoOpMetadata(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	m0 := GPUBatchMetadata{TileSize: [2]uint32{8, 8}, Scale: 1, ZOrder: 2}
	b, err := NewBatch(dev, 16, m0)
	require.NoError(t, err)
	defer b.Release()

	stats, err := b.Flush(q)
	require.NoError(t, err)
	assert.True(t, stats.MetadataWritten)
	assert.Equal(t, m0.Marshal(), metadataBytes(b))

	b.MutateMetadata(func(m *GPUBatchMetadata) { *m = m0 })
	stats, err = b.Flush(q)
	require.NoError(t, err)
	assert.False(t, stats.MetadataWritten)
	assert.Len(t, q.WritesTo(b.Binding().Buffer(0)), 1)
}

func TestFlushIsIdempotent(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 64)
	for i := range 40 {
		b.Push(NewInstanceI32(int32(i), 1, 1))
	}

	_, err := b.Flush(q)
	require.NoError(t, err)
	before := instanceBytes(b)
	count := q.WriteCount()

	stats, err := b.Flush(q)
	require.NoError(t, err)
	assert.Equal(t, FlushStats{}, stats)
	assert.Equal(t, count, q.WriteCount())
	assert.Equal(t, before, instanceBytes(b))
}

func TestMetadataRoundTrip(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 16)
	_, err := b.Flush(q)
	require.NoError(t, err)
	q.Reset()

	x := GPUBatchMetadata{TilesetSize: [2]uint32{4, 4}, TileSize: [2]uint32{32, 32}, Origin: [2]float32{10, -10}, Scale: 3, ZOrder: 9}
	x.SetFlag(BatchFlagSnapToGrid, true)
	b.MutateMetadata(func(m *GPUBatchMetadata) { *m = x })
	assert.Equal(t, x, b.Metadata())

	stats, err := b.Flush(q)
	require.NoError(t, err)
	assert.True(t, stats.MetadataWritten)
	assert.Equal(t, 1, stats.Writes)
	assert.Equal(t, 40, stats.Bytes)
	assert.Equal(t, x.Marshal(), metadataBytes(b))

	b.MutateMetadata(func(m *GPUBatchMetadata) { *m = x })
	_, err = b.Flush(q)
	require.NoError(t, err)
	assert.Equal(t, 1, q.WriteCount())
}

func TestMetadataRevertedBeforeFlushIsNotWritten(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 16)
	_, err := b.Flush(q)
	require.NoError(t, err)
	q.Reset()

	b.MutateMetadata(func(m *GPUBatchMetadata) { m.ZOrder = 5 })
	b.MutateMetadata(func(m *GPUBatchMetadata) { m.ZOrder = 0 })
	stats, err := b.Flush(q)
	require.NoError(t, err)
	assert.False(t, stats.MetadataWritten)
	assert.Zero(t, q.WriteCount())
}

func TestFlushWithoutCoalescing(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 64, WithCoalescing(false))
	for i := range 40 {
		b.Push(NewInstanceI32(int32(i), 0, 1))
	}

	stats, err := b.Flush(q)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Regions)
	assert.Equal(t, 4, stats.Writes)

	writes := q.WritesTo(b.BufferSlice().Buffer)
	require.Len(t, writes, 3)
	for i, w := range writes {
		assert.Equal(t, uint64(i*RegionSize), w.Offset)
		assert.Len(t, w.Data, RegionSize)
	}
}

func TestFlushClampsLastRegionToCapacity(t *testing.T) {
	for _, coalesce := range []bool{true, false} {
		t.Run(fmt.Sprint("coalesce=", coalesce), func(t *testing.T) {
			dev := device.NewMemoryDevice()
			q := device.NewMemoryQueue()
			b := newTestBatch(t, dev, 20, WithCoalescing(coalesce))
			for i := range 20 {
				b.Push(NewInstanceI32(int32(i), 0, 1))
			}

			_, err := b.Flush(q)
			require.NoError(t, err)

			var end uint64
			for _, w := range q.WritesTo(b.BufferSlice().Buffer) {
				end = max(end, w.Offset+uint64(len(w.Data)))
			}
			assert.Equal(t, uint64(20*20), end)
			assert.Equal(t, [2]int32{19, 0}, decodeInstances(instanceBytes(b), 20)[19].Position)
		})
	}
}

func TestSetMarksOnlyItsRegion(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 64)
	for i := range 40 {
		b.Push(NewInstanceI32(int32(i), 0, 1))
	}
	_, err := b.Flush(q)
	require.NoError(t, err)
	q.Reset()

	b.Set(35, NewInstanceI32(-1, -1, 4))
	stats, err := b.Flush(q)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Regions)

	writes := q.WritesTo(b.BufferSlice().Buffer)
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(2*RegionSize), writes[0].Offset)
	got := decodeInstances(instanceBytes(b), 40)
	assert.Equal(t, [2]int32{-1, -1}, got[35].Position)
	assert.Equal(t, float32(4), got[35].Scale)
	assert.Equal(t, [2]int32{34, 0}, got[34].Position)

	assert.Panics(t, func() { b.Set(40, NewInstance()) })
	assert.Panics(t, func() { b.Set(-1, NewInstance()) })
}

func TestReset(t *testing.T) {
	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 32)
	_, err := b.Flush(q)
	require.NoError(t, err)
	q.Reset()

	for i := range 5 {
		b.Push(NewInstanceI32(int32(i), 0, 1))
	}
	b.Reset()
	assert.Zero(t, b.Size())
	assert.True(t, b.BufferSlice().Empty())

	stats, err := b.Flush(q)
	require.NoError(t, err)
	assert.Zero(t, stats.Writes)

	b.Push(NewInstanceI32(42, 0, 1))
	_, err = b.Flush(q)
	require.NoError(t, err)
	assert.Equal(t, [2]int32{42, 0}, decodeInstances(instanceBytes(b), 1)[0].Position)
}

func TestBufferSliceTracksSize(t *testing.T) {
	b := newTestBatch(t, device.NewMemoryDevice(), 48)
	for i := range 48 {
		b.Push(NewInstance())
		assert.Equal(t, uint64((i+1)*InstanceSize), b.BufferSlice().Size)
		assert.Equal(t, uint64(0), b.BufferSlice().Offset)
	}
}

func TestZeroCapacityBatch(t *testing.T) {
	q := device.NewMemoryQueue()
	b := newTestBatch(t, device.NewMemoryDevice(), 0)

	assert.Zero(t, b.Capacity())
	assert.True(t, b.BufferSlice().Empty())
	assert.Panics(t, func() { b.Push(NewInstance()) })

	stats, err := b.Flush(q)
	require.NoError(t, err)
	assert.True(t, stats.MetadataWritten)
	assert.Equal(t, 1, stats.Writes)
	assert.Zero(t, stats.Regions)
}

func TestFlushErrorKeepsDirtyState(t *testing.T) {
	dev := device.NewMemoryDevice()
	mem := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 64, WithCoalescing(false))
	for i := range 33 {
		b.Push(NewInstanceI32(int32(i), 0, 1))
	}

	// metadata and the first region succeed, the second region fails
	_, err := b.Flush(&failingQueue{inner: mem, n: 2})
	require.ErrorIs(t, err, errQueueFull)

	mem.Reset()
	stats, err := b.Flush(mem)
	require.NoError(t, err)
	assert.False(t, stats.MetadataWritten)
	assert.Equal(t, 3, stats.Regions)

	got := decodeInstances(instanceBytes(b), 33)
	for i, inst := range got {
		assert.Equal(t, int32(i), inst.Position[0])
	}
}

func TestFlushMetadataErrorKeepsMetadataDirty(t *testing.T) {
	dev := device.NewMemoryDevice()
	mem := device.NewMemoryQueue()
	b := newTestBatch(t, dev, 16)

	_, err := b.Flush(&failingQueue{inner: mem})
	require.ErrorIs(t, err, errQueueFull)

	stats, err := b.Flush(mem)
	require.NoError(t, err)
	assert.True(t, stats.MetadataWritten)
}

func TestConcurrentPushes(t *testing.T) {
	const producers, perProducer = 8, 64

	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, producers*perProducer)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				b.Push(NewInstance().WithTextureIndex(uint32(p*perProducer + i)))
			}
		}()
	}
	wg.Wait()

	_, err := b.Flush(q)
	require.NoError(t, err)
	require.Equal(t, producers*perProducer, b.Size())

	seen := make(map[uint32]bool, producers*perProducer)
	for _, inst := range decodeInstances(instanceBytes(b), b.Size()) {
		assert.False(t, seen[inst.TextureIndex], "duplicate tag %d", inst.TextureIndex)
		seen[inst.TextureIndex] = true
	}
	assert.Len(t, seen, producers*perProducer)
}

func TestConcurrentPushAndFlush(t *testing.T) {
	const producers, perProducer = 4, 200

	dev := device.NewMemoryDevice()
	q := device.NewMemoryQueue()
	b := newTestBatch(t, dev, producers*perProducer)

	var wg sync.WaitGroup
	done := make(chan struct{})
	flushErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-done:
				flushErr <- nil
				return
			default:
			}
			if _, err := b.Flush(q); err != nil {
				flushErr <- err
				return
			}
		}
	}()

	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				b.Push(NewInstance().WithTextureIndex(uint32(p*perProducer + i)))
			}
		}()
	}
	wg.Wait()
	close(done)
	require.NoError(t, <-flushErr)

	_, err := b.Flush(q)
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	for _, inst := range decodeInstances(instanceBytes(b), b.Size()) {
		seen[inst.TextureIndex] = true
	}
	assert.Len(t, seen, producers*perProducer)
}

func TestFlushStatsAdd(t *testing.T) {
	var total FlushStats
	total.Add(FlushStats{Regions: 2, Writes: 1, Bytes: 640})
	total.Add(FlushStats{MetadataWritten: true, Writes: 1, Bytes: 40})
	assert.Equal(t, FlushStats{MetadataWritten: true, Regions: 2, Writes: 2, Bytes: 680}, total)
}

func TestReleaseFreesDeviceResources(t *testing.T) {
	dev := device.NewMemoryDevice()
	b, err := NewBatch(dev, 16, DefaultMetadata())
	require.NoError(t, err)

	instances := b.BufferSlice().Buffer.(*device.MemoryBuffer)
	meta := b.Binding().Buffer(0).(*device.MemoryBuffer)
	group := b.Binding().BindGroup().(*device.MemoryBindGroup)
	b.Release()

	assert.True(t, instances.Released())
	assert.True(t, meta.Released())
	assert.True(t, group.Released())
}

func TestReleaseIsIdempotent(t *testing.T) {
	dev := &countingDevice{MemoryDevice: device.NewMemoryDevice()}
	b, err := NewBatch(dev, 16, DefaultMetadata())
	require.NoError(t, err)
	b.Push(NewInstance())

	b.Release()
	assert.NotPanics(t, b.Release)
	assert.Equal(t, 1, dev.releases)

	_, err = b.Flush(device.NewMemoryQueue())
	assert.ErrorIs(t, err, ErrReleased)
	assert.Panics(t, func() { b.Push(NewInstance()) })
	assert.Panics(t, func() { b.Set(0, NewInstance()) })
	assert.Zero(t, b.Size())
}
