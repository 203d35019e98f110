package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrthographicMapsBoxToClipSpace(t *testing.T) {
	var m [16]float32
	Orthographic(m[:], -100, 300, 50, 250, 0, 1)

	x, y := TransformPoint(m[:], -100, 50)
	assert.InDelta(t, -1, x, 1e-6)
	assert.InDelta(t, -1, y, 1e-6)

	x, y = TransformPoint(m[:], 300, 250)
	assert.InDelta(t, 1, x, 1e-6)
	assert.InDelta(t, 1, y, 1e-6)

	x, y = TransformPoint(m[:], 100, 150)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
	assert.Equal(t, float32(1), m[15])
}

func TestIdentity(t *testing.T) {
	m := make([]float32, 16)
	for i := range m {
		m[i] = 7
	}
	Identity(m)
	x, y := TransformPoint(m, 3, -4)
	assert.Equal(t, float32(3), x)
	assert.Equal(t, float32(-4), y)
	assert.Zero(t, m[1])
}

func TestCoalesce(t *testing.T) {
	assert.Equal(t, "b", Coalesce("", "b", "c"))
	assert.Equal(t, float32(1), Coalesce(float32(0), 1))
	assert.Zero(t, Coalesce(0, 0))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(9, 0, 5))
	assert.Equal(t, 0, Clamp(-3, 0, 5))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
}
