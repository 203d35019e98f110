package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerIsShared(t *testing.T) {
	assert.Same(t, Logger(), Logger())
}

func TestSetLevel(t *testing.T) {
	prev := Logger().GetLevel()
	t.Cleanup(func() { Logger().SetLevel(prev) })

	require.NoError(t, SetLevel("debug"))
	assert.Equal(t, log.DebugLevel, Logger().GetLevel())

	require.NoError(t, SetLevel("warn"))
	assert.Equal(t, log.WarnLevel, Logger().GetLevel())

	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, log.WarnLevel, Logger().GetLevel())
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	With("batch", "tiles").Info("flushed")
	assert.Contains(t, buf.String(), "batch=tiles")
	assert.Contains(t, buf.String(), "flushed")
}
