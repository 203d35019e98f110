// Package config loads the TOML file that describes a window, its renderer, the engine loop and
// the batches to create.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/khzeb/khzeb-go/common"
	"github.com/khzeb/khzeb-go/engine"
	"github.com/khzeb/khzeb-go/engine/camera"
	"github.com/khzeb/khzeb-go/engine/renderer"
	"github.com/khzeb/khzeb-go/engine/renderer/batch"
	"github.com/khzeb/khzeb-go/engine/window"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the root of a khzeb TOML file.
type Config struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Engine   EngineConfig   `toml:"engine"`
	Camera   CameraConfig   `toml:"camera"`
	Batches  []BatchConfig  `toml:"batch"`
	Log      LogConfig      `toml:"log"`
}

// WindowConfig configures the GLFW window.
type WindowConfig struct {
	Title     string `toml:"title"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	Resizable bool   `toml:"resizable"`
	MinWidth  int    `toml:"min_width"`
	MinHeight int    `toml:"min_height"`
}

// RendererConfig configures the renderer backend.
type RendererConfig struct {
	Backend       string `toml:"backend"`      // "wgpu" or "memory"
	PresentMode   string `toml:"present_mode"` // "vsync" or "uncapped"
	MSAA          uint32 `toml:"msaa"`         // 1 or 4
	ClearColor    uint32 `toml:"clear_color"`  // packed 0xRRGGBBAA
	ForceSoftware bool   `toml:"force_software"`
}

// EngineConfig configures the tick and render loops.
type EngineConfig struct {
	TickRate    float64 `toml:"tick_rate"`
	FrameLimit  float64 `toml:"frame_limit"`
	Producers   int     `toml:"producers"`
	Profiling   bool    `toml:"profiling"`
	PipelineKey string  `toml:"pipeline"`
}

// CameraConfig configures the camera controller.
type CameraConfig struct {
	Position  [2]float32 `toml:"position"`
	Zoom      float32    `toml:"zoom"`
	MinZoom   float32    `toml:"min_zoom"`
	MaxZoom   float32    `toml:"max_zoom"`
	PanSpeed  float32    `toml:"pan_speed"`
	ZoomSpeed float32    `toml:"zoom_speed"`
}

// BatchConfig describes one batch to create at startup.
type BatchConfig struct {
	Label       string     `toml:"label"`
	Capacity    int        `toml:"capacity"`
	ZOrder      uint32     `toml:"z_order"`
	TilesetSize [2]uint32  `toml:"tileset_size"`
	TileSize    [2]uint32  `toml:"tile_size"`
	Origin      [2]float32 `toml:"origin"`
	Scale       float32    `toml:"scale"`
	SnapToGrid  bool       `toml:"snap_to_grid"`
	Coalesce    *bool      `toml:"coalesce"` // unset keeps the batch default
}

// LogConfig configures the shared logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Window: WindowConfig{
			Title:     "khzeb",
			Width:     1280,
			Height:    720,
			Resizable: true,
		},
		Renderer: RendererConfig{
			Backend:     "wgpu",
			PresentMode: "vsync",
			MSAA:        uint32(renderer.MSAAOff),
			ClearColor:  common.NewRgba(26, 26, 26, 255).Uint32(),
		},
		Engine: EngineConfig{
			TickRate:    60,
			PipelineKey: engine.DefaultPipelineKey,
		},
		Camera: CameraConfig{
			Zoom:      1,
			MinZoom:   0.125,
			MaxZoom:   16,
			PanSpeed:  600,
			ZoomSpeed: 0.25,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and validates the TOML file at path. Keys missing from the file keep their Default
// values.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - Config: the loaded configuration
//   - error: an error if the file cannot be read, decoded or validated
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads TOML from r over the Default configuration and validates the result. Unknown keys
// are rejected.
//
// Parameters:
//   - r: the TOML source
//
// Returns:
//   - Config: the decoded configuration
//   - error: a decode or validation error
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("config: %w\n%s", err, strict.String())
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate reports every out-of-range value, joined, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		bad("window size %dx%d must be positive", c.Window.Width, c.Window.Height)
	}
	if c.Window.MinWidth < 0 || c.Window.MinHeight < 0 {
		bad("window minimum size %dx%d is negative", c.Window.MinWidth, c.Window.MinHeight)
	}

	if _, ok := c.BackendType(); !ok {
		bad("unknown renderer backend %q", c.Renderer.Backend)
	}
	if _, ok := renderer.ParsePresentMode(c.Renderer.PresentMode); !ok {
		bad("unknown present mode %q", c.Renderer.PresentMode)
	}
	if m := renderer.MSAASampleCount(c.Renderer.MSAA); m != renderer.MSAAOff && m != renderer.MSAA4x {
		bad("msaa must be 1 or 4, got %d", c.Renderer.MSAA)
	}

	if c.Engine.TickRate < 0 || c.Engine.FrameLimit < 0 {
		bad("tick rate and frame limit must not be negative")
	}
	if c.Engine.Producers < 0 {
		bad("producers must not be negative, got %d", c.Engine.Producers)
	}

	if c.Camera.MinZoom <= 0 || c.Camera.MaxZoom < c.Camera.MinZoom {
		bad("camera zoom bounds [%g, %g] are invalid", c.Camera.MinZoom, c.Camera.MaxZoom)
	}
	if c.Camera.Zoom <= 0 {
		bad("camera zoom %g must be positive", c.Camera.Zoom)
	}

	seen := make(map[string]bool, len(c.Batches))
	for i, b := range c.Batches {
		if b.Capacity < 1 || b.Capacity > batch.MaxBatchSize {
			bad("batch %d: capacity %d outside [1, %d]", i, b.Capacity, batch.MaxBatchSize)
		}
		if b.Label != "" {
			if seen[b.Label] {
				bad("batch %d: duplicate label %q", i, b.Label)
			}
			seen[b.Label] = true
		}
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		bad("log level %q", c.Log.Level)
	}
	return errors.Join(errs...)
}

// BackendType maps the renderer backend name.
func (c Config) BackendType() (renderer.RendererBackendType, bool) {
	switch strings.ToLower(c.Renderer.Backend) {
	case "wgpu", "":
		return renderer.BackendTypeWGPU, true
	case "memory":
		return renderer.BackendTypeMemory, true
	}
	return 0, false
}

// WindowOptions builds the window options of c.
func (c Config) WindowOptions() []window.WindowBuilderOption {
	return []window.WindowBuilderOption{
		window.WithTitle(common.Coalesce(c.Window.Title, "khzeb")),
		window.WithSize(c.Window.Width, c.Window.Height),
		window.WithResizable(c.Window.Resizable),
		window.WithSizeLimits(c.Window.MinWidth, c.Window.MinHeight, 0, 0),
	}
}

// RendererOptions builds the renderer options of c. Pipelines are not part of the file and are
// appended by the caller.
func (c Config) RendererOptions() []renderer.RendererBuilderOption {
	opts := []renderer.RendererBuilderOption{
		renderer.WithMSAA(renderer.MSAASampleCount(c.Renderer.MSAA)),
		renderer.WithClearColor(common.RgbaFromUint32(c.Renderer.ClearColor)),
		renderer.WithForceSoftwareRenderer(c.Renderer.ForceSoftware),
	}
	if mode, ok := renderer.ParsePresentMode(c.Renderer.PresentMode); ok {
		opts = append(opts, renderer.WithPresentMode(mode))
	}
	return opts
}

// CameraController builds the camera controller of c.
func (c Config) CameraController() camera.CameraController {
	return camera.NewCameraController(
		camera.WithZoomBounds(c.Camera.MinZoom, c.Camera.MaxZoom),
		camera.WithZoom(c.Camera.Zoom),
		camera.WithPosition(c.Camera.Position[0], c.Camera.Position[1]),
		camera.WithPanSpeed(c.Camera.PanSpeed),
		camera.WithZoomSpeed(c.Camera.ZoomSpeed),
	)
}

// EngineOptions builds the engine options of c. The renderer, window and camera are created by
// the caller and passed alongside.
func (c Config) EngineOptions() []engine.EngineBuilderOption {
	return []engine.EngineBuilderOption{
		engine.WithTickRate(c.Engine.TickRate),
		engine.WithRenderFrameLimit(c.Engine.FrameLimit),
		engine.WithProducers(c.Engine.Producers),
		engine.WithProfiling(c.Engine.Profiling),
		engine.WithPipelineKey(common.Coalesce(c.Engine.PipelineKey, engine.DefaultPipelineKey)),
	}
}

// Metadata returns the initial batch metadata described by b. A zero scale means 1.
func (b BatchConfig) Metadata() batch.GPUBatchMetadata {
	m := batch.DefaultMetadata()
	m.TilesetSize = b.TilesetSize
	m.TileSize = b.TileSize
	m.Origin = b.Origin
	m.ZOrder = b.ZOrder
	m.Scale = common.Coalesce(b.Scale, m.Scale)
	m.SetFlag(batch.BatchFlagSnapToGrid, b.SnapToGrid)
	return m
}

// Options returns the batch options described by b.
func (b BatchConfig) Options() []batch.BatchBuilderOption {
	var opts []batch.BatchBuilderOption
	if b.Label != "" {
		opts = append(opts, batch.WithLabel(b.Label))
	}
	if b.Coalesce != nil {
		opts = append(opts, batch.WithCoalescing(*b.Coalesce))
	}
	return opts
}
