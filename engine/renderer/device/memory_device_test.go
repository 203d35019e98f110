package device

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformLayoutEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: wgpu.ShaderStageVertex,
		Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
	}
}

func TestMemoryDeviceCreateBuffer(t *testing.T) {
	dev := NewMemoryDevice()

	buf, err := dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "instances",
		Size:  64,
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	require.NoError(t, err)

	assert.Equal(t, "instances", buf.Label())
	assert.Equal(t, uint64(64), buf.Size())
	assert.Equal(t, wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst, buf.Usage())
	assert.Equal(t, make([]byte, 64), buf.(*MemoryBuffer).Bytes())
	assert.Equal(t, 1, dev.BufferCount())

	_, err = dev.CreateBuffer(nil)
	assert.Error(t, err)

	_, err = dev.CreateBuffer(&wgpu.BufferDescriptor{Label: "nousage", Size: 4})
	assert.Error(t, err)
}

func TestMemoryQueueWriteBuffer(t *testing.T) {
	dev := NewMemoryDevice()
	q := NewMemoryQueue()
	buf, err := dev.CreateBuffer(&wgpu.BufferDescriptor{Label: "b", Size: 16, Usage: wgpu.BufferUsageCopyDst})
	require.NoError(t, err)

	require.NoError(t, q.WriteBuffer(buf, 4, []byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0}, buf.(*MemoryBuffer).Bytes())
	assert.Equal(t, 1, q.WriteCount())

	err = q.WriteBuffer(buf, 2, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrUnalignedWrite)

	err = q.WriteBuffer(buf, 12, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	assert.ErrorIs(t, err, ErrBufferOutOfRange)

	assert.Equal(t, 1, q.WriteCount(), "rejected writes must not be recorded")

	buf.Release()
	err = q.WriteBuffer(buf, 0, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrReleased)
	assert.True(t, buf.(*MemoryBuffer).Released())
}

func TestMemoryQueueRecordsCopies(t *testing.T) {
	dev := NewMemoryDevice()
	q := NewMemoryQueue()
	a, err := dev.CreateBuffer(&wgpu.BufferDescriptor{Label: "a", Size: 8, Usage: wgpu.BufferUsageCopyDst})
	require.NoError(t, err)
	b, err := dev.CreateBuffer(&wgpu.BufferDescriptor{Label: "b", Size: 8, Usage: wgpu.BufferUsageCopyDst})
	require.NoError(t, err)

	data := []byte{9, 9, 9, 9}
	require.NoError(t, q.WriteBuffer(a, 0, data))
	require.NoError(t, q.WriteBuffer(b, 4, []byte{7, 7, 7, 7}))
	data[0] = 0

	writes := q.WritesTo(a)
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{9, 9, 9, 9}, writes[0].Data)
	assert.Len(t, q.Writes(), 2)

	q.Reset()
	assert.Zero(t, q.WriteCount())
	assert.Equal(t, []byte{9, 9, 9, 9, 0, 0, 0, 0}, a.(*MemoryBuffer).Bytes())
}

func TestMemoryDeviceBindGroup(t *testing.T) {
	dev := NewMemoryDevice()
	layout, err := dev.CreateBindGroupLayout("meta", []wgpu.BindGroupLayoutEntry{uniformLayoutEntry(0)})
	require.NoError(t, err)

	uniform, err := dev.CreateBuffer(&wgpu.BufferDescriptor{Label: "u", Size: 16, Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst})
	require.NoError(t, err)
	vertex, err := dev.CreateBuffer(&wgpu.BufferDescriptor{Label: "v", Size: 16, Usage: wgpu.BufferUsageVertex})
	require.NoError(t, err)

	group, err := dev.CreateBindGroup("meta", layout, []BindGroupEntry{{Binding: 0, Buffer: uniform}})
	require.NoError(t, err)
	assert.Equal(t, layout, group.Layout())
	assert.Len(t, group.(*MemoryBindGroup).Entries(), 1)

	_, err = dev.CreateBindGroup("wrong-usage", layout, []BindGroupEntry{{Binding: 0, Buffer: vertex}})
	assert.Error(t, err)

	_, err = dev.CreateBindGroup("undeclared", layout, []BindGroupEntry{{Binding: 3, Buffer: uniform}})
	assert.Error(t, err)

	_, err = dev.CreateBindGroup("count", layout, nil)
	assert.Error(t, err)

	_, err = dev.CreateBindGroup("range", layout, []BindGroupEntry{{Binding: 0, Buffer: uniform, Offset: 8, Size: 16}})
	assert.ErrorIs(t, err, ErrBufferOutOfRange)

	_, err = dev.CreateBindGroupLayout("dup", []wgpu.BindGroupLayoutEntry{uniformLayoutEntry(0), uniformLayoutEntry(0)})
	assert.Error(t, err)

	group.Release()
	assert.True(t, group.(*MemoryBindGroup).Released())
}

func TestApplyWritesStopsAtFirstError(t *testing.T) {
	dev := NewMemoryDevice()
	q := NewMemoryQueue()
	buf, err := dev.CreateBuffer(&wgpu.BufferDescriptor{Label: "b", Size: 8, Usage: wgpu.BufferUsageCopyDst})
	require.NoError(t, err)

	n, err := ApplyWrites(q, []BufferWrite{
		{Buffer: buf, Offset: 0, Data: []byte{1, 1, 1, 1}},
		{Buffer: buf, Offset: 8, Data: []byte{2, 2, 2, 2}},
		{Buffer: buf, Offset: 4, Data: []byte{3, 3, 3, 3}},
	})
	assert.ErrorIs(t, err, ErrBufferOutOfRange)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{1, 1, 1, 1, 0, 0, 0, 0}, buf.(*MemoryBuffer).Bytes())
}

func TestBufferSliceEmpty(t *testing.T) {
	assert.True(t, BufferSlice{}.Empty())
	assert.False(t, BufferSlice{Size: 4}.Empty())
}
