// Package batch accumulates sprite instances on the host and keeps a device instance buffer in
// sync with them, copying only the regions that changed since the last flush.
package batch

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"
	"github.com/khzeb/khzeb-go/engine/logging"
	"github.com/khzeb/khzeb-go/engine/renderer/bind_group_provider"
	"github.com/khzeb/khzeb-go/engine/renderer/device"
	"github.com/khzeb/khzeb-go/engine/renderer/dirty"
)

const (
	// InstancesPerRegion is the number of instance slots tracked by one dirty bit.
	InstancesPerRegion = 16

	// RegionSize is the byte size of one region in the instance buffer.
	RegionSize = InstancesPerRegion * InstanceSize

	// MaxBatchSize is the largest capacity a batch can address.
	MaxBatchSize = dirty.Regions * InstancesPerRegion
)

// ErrReleased is returned by Flush on a released batch.
var ErrReleased = errors.New("batch: released")

// FlushStats reports what a Flush copied to the device.
type FlushStats struct {
	// MetadataWritten is true when the metadata record was written.
	MetadataWritten bool
	// Regions is the number of dirty instance regions copied.
	Regions int
	// Writes is the number of queue writes issued, metadata included.
	Writes int
	// Bytes is the number of bytes handed to the queue.
	Bytes int
}

// Add accumulates other into s.
func (s *FlushStats) Add(other FlushStats) {
	s.MetadataWritten = s.MetadataWritten || other.MetadataWritten
	s.Regions += other.Regions
	s.Writes += other.Writes
	s.Bytes += other.Bytes
}

// Batch is a fixed capacity array of sprite instances plus one metadata record, mirrored on the
// host and synchronized with the device on Flush.
// All methods are safe for concurrent use. Producers may Push while another goroutine flushes:
// a racing push is either copied by that flush or left dirty for the next one.
type Batch interface {
	// Push appends an instance and marks its region dirty.
	// Pushing into a full batch is a programmer error and panics.
	//
	// Parameters:
	//   - instance: the instance to append
	Push(instance GPUBatchInstance)

	// Set overwrites the live instance at index and marks its region dirty.
	// An index outside [0, Size()) panics.
	//
	// Parameters:
	//   - index: the slot to overwrite
	//   - instance: the new value
	Set(index int, instance GPUBatchInstance)

	// Flush copies the metadata, if it changed, and every dirty instance region to the device,
	// then clears the dirty state. On a queue error the remaining dirty state is kept so the next
	// flush retries it.
	//
	// Parameters:
	//   - queue: the transfer queue to write through; the batch does not retain it
	//
	// Returns:
	//   - FlushStats: what was written
	//   - error: the first queue error, if any
	Flush(queue device.Queue) (FlushStats, error)

	// BufferSlice returns the range of the instance buffer covering the live instances.
	//
	// Returns:
	//   - device.BufferSlice: offset 0, Size()*InstanceSize bytes
	BufferSlice() device.BufferSlice

	// Size returns the number of live instances.
	//
	// Returns:
	//   - int: the live instance count
	Size() int

	// Capacity returns the fixed capacity given at construction.
	//
	// Returns:
	//   - int: the capacity
	Capacity() int

	// Reset drops every instance. No device write is needed since draws never read past Size().
	Reset()

	// MutateMetadata applies f to the metadata under the batch lock.
	// The metadata is written on the next flush only if it now differs from what the device holds.
	//
	// Parameters:
	//   - f: the mutation
	MutateMetadata(f func(*GPUBatchMetadata))

	// Metadata returns a copy of the current metadata.
	//
	// Returns:
	//   - GPUBatchMetadata: the metadata
	Metadata() GPUBatchMetadata

	// Binding returns the bind group exposing the metadata buffer to the vertex stage.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the metadata binding
	Binding() bind_group_provider.BindGroupProvider

	// Label returns the debug label of the batch.
	//
	// Returns:
	//   - string: the label
	Label() string

	// Release frees the device buffers and the metadata binding. Later calls do nothing.
	// Push and Set panic on a released batch and Flush returns ErrReleased.
	Release()
}

// batch is the implementation of Batch.
type batch struct {
	mu *sync.Mutex

	label    string
	capacity int
	coalesce bool
	logger   *log.Logger

	instances device.BufferHandle[GPUBatchInstance]
	layout    bind_group_provider.BindingLayout
	binding   bind_group_provider.BindGroupProvider

	// mirror holds MaxBatchSize serialized instances so region offsets are the same for every capacity.
	mirror []byte
	size   int
	dirty  dirty.DirtyFlags

	metadata   GPUBatchMetadata
	metaDirty  bool
	written    GPUBatchMetadata
	hasWritten bool

	released bool
}

var _ Batch = &batch{}

// NewBatch creates a batch of the given capacity with its device buffers and metadata binding.
// The initial metadata is written by the first Flush.
// A capacity outside [0, MaxBatchSize] is a programmer error and panics. A zero-capacity batch
// is valid and draws nothing.
//
// Parameters:
//   - dev: the device to allocate on
//   - capacity: the maximum number of instances
//   - metadata: the initial metadata
//   - options: functional options
//
// Returns:
//   - Batch: the batch
//   - error: an error if the device could not allocate the buffers or binding
func NewBatch(dev device.Device, capacity int, metadata GPUBatchMetadata, options ...BatchBuilderOption) (Batch, error) {
	if capacity < 0 || capacity > MaxBatchSize {
		panic(fmt.Sprintf("batch: capacity %d outside [0, %d]", capacity, MaxBatchSize))
	}

	b := &batch{
		mu:        &sync.Mutex{},
		capacity:  capacity,
		coalesce:  true,
		mirror:    make([]byte, MaxBatchSize*InstanceSize),
		dirty:     dirty.New(),
		metadata:  metadata,
		metaDirty: true,
	}
	for _, opt := range options {
		opt(b)
	}
	if b.label == "" {
		b.label = "batch-" + uuid.NewString()
	}
	if b.logger == nil {
		b.logger = logging.With("batch", b.label)
	}

	instances, err := device.CreateArrayBuffer[GPUBatchInstance](dev, b.label+"-instances", capacity,
		wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("batch %q: %w", b.label, err)
	}
	meta, err := device.CreateBuffer[GPUBatchMetadata](dev, b.label+"-metadata",
		wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	if err != nil {
		instances.Release()
		return nil, fmt.Errorf("batch %q: %w", b.label, err)
	}
	layout, err := bind_group_provider.CreateBindingLayout(dev, b.label+"-metadata", MetadataVisibility, MetadataBindingTypes()...)
	if err != nil {
		instances.Release()
		meta.Release()
		return nil, fmt.Errorf("batch %q: %w", b.label, err)
	}
	binding, err := bind_group_provider.CreateBinding(dev, layout, bind_group_provider.BufferResource(meta.Buffer))
	if err != nil {
		instances.Release()
		meta.Release()
		layout.Release()
		return nil, fmt.Errorf("batch %q: %w", b.label, err)
	}

	b.instances = instances
	b.layout = layout
	b.binding = binding

	b.logger.Debug("created batch", "capacity", capacity, "bytes", instances.Buffer.Size())
	return b, nil
}

func (b *batch) Push(instance GPUBatchInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		panic(fmt.Sprintf("batch: push into released batch %q", b.label))
	}
	if b.size == b.capacity {
		panic(fmt.Sprintf("batch: push into full batch %q (capacity %d)", b.label, b.capacity))
	}
	b.write(b.size, &instance)
	b.size++
}

func (b *batch) Set(index int, instance GPUBatchInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		panic(fmt.Sprintf("batch: set on released batch %q", b.label))
	}
	if index < 0 || index >= b.size {
		panic(fmt.Sprintf("batch: set index %d outside [0, %d) of batch %q", index, b.size, b.label))
	}
	b.write(index, &instance)
}

// write marks the slot's region and serializes the instance into the mirror. Callers hold mu.
func (b *batch) write(index int, instance *GPUBatchInstance) {
	b.dirty.Mark(index / InstancesPerRegion)
	instance.MarshalTo(b.mirror[index*InstanceSize:])
}

func (b *batch) Flush(queue device.Queue) (FlushStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stats FlushStats
	if b.released {
		return stats, fmt.Errorf("batch %q: %w", b.label, ErrReleased)
	}
	if b.metaDirty {
		data := b.metadata.Marshal()
		w := bind_group_provider.BufferWrite{Provider: b.binding, Binding: 0, Data: data}
		if err := w.Submit(queue); err != nil {
			return stats, fmt.Errorf("batch %q: flush metadata: %w", b.label, err)
		}
		b.written = b.metadata
		b.hasWritten = true
		b.metaDirty = false
		stats.MetadataWritten = true
		stats.Writes++
		stats.Bytes += len(data)
	}

	if !b.dirty.Any() {
		return stats, nil
	}

	limit := b.capacity * InstanceSize
	var writes []device.BufferWrite
	for start, end := range b.ranges() {
		end = min(end, limit)
		if start >= end {
			continue
		}
		writes = append(writes, device.BufferWrite{Buffer: b.instances.Buffer, Offset: uint64(start), Data: b.mirror[start:end]})
	}
	n, err := device.ApplyWrites(queue, writes)
	for _, w := range writes[:n] {
		stats.Writes++
		stats.Bytes += len(w.Data)
	}
	if err != nil {
		failed := writes[n]
		return stats, fmt.Errorf("batch %q: flush instances [%d, %d): %w", b.label, failed.Offset, failed.Offset+uint64(len(failed.Data)), err)
	}
	stats.Regions = b.dirty.Count()
	b.dirty.Clear()

	if stats.Writes > 0 {
		b.logger.Debug("flushed batch", "regions", stats.Regions, "writes", stats.Writes, "bytes", stats.Bytes, "metadata", stats.MetadataWritten)
	}
	return stats, nil
}

// ranges yields the byte ranges of the dirty regions, one per run of contiguous regions when
// coalescing and one per region otherwise. Callers hold mu.
func (b *batch) ranges() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		if b.coalesce {
			for start, length := range b.dirty.Runs() {
				if !yield(start*RegionSize, (start+length)*RegionSize) {
					return
				}
			}
			return
		}
		for region := range b.dirty.IterMarked() {
			if !yield(region*RegionSize, (region+1)*RegionSize) {
				return
			}
		}
	}
}

func (b *batch) BufferSlice() device.BufferSlice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instances.Slice(b.size)
}

func (b *batch) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *batch) Capacity() int {
	return b.capacity
}

func (b *batch) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.size = 0
	b.dirty.Clear()
}

func (b *batch) MutateMetadata(f func(*GPUBatchMetadata)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f(&b.metadata)
	b.metaDirty = !b.hasWritten || b.metadata != b.written
}

func (b *batch) Metadata() GPUBatchMetadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metadata
}

func (b *batch) Binding() bind_group_provider.BindGroupProvider {
	return b.binding
}

func (b *batch) Label() string {
	return b.label
}

func (b *batch) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return
	}
	b.released = true
	b.instances.Release()
	b.binding.Release()
	b.layout.Release()
	b.size = 0
	b.dirty.Clear()
	b.logger.Debug("released batch")
}
