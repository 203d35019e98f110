package common

// Rgba is an 8-bit per channel color. The zero value is transparent black; DefaultTint is opaque white.
type Rgba struct {
	R, G, B, A uint8
}

// DefaultTint is the tint applied to instances that do not set one.
var DefaultTint = Rgba{R: 255, G: 255, B: 255, A: 255}

// NewRgba creates a color from its channels.
func NewRgba(r, g, b, a uint8) Rgba {
	return Rgba{R: r, G: g, B: b, A: a}
}

// RgbaFromUint32 unpacks a color packed as r<<24 | g<<16 | b<<8 | a.
func RgbaFromUint32(v uint32) Rgba {
	return Rgba{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// Uint32 packs the color as r<<24 | g<<16 | b<<8 | a.
func (c Rgba) Uint32() uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

// Float32 returns the channels normalized to [0, 1].
func (c Rgba) Float32() [4]float32 {
	return [4]float32{float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255, float32(c.A) / 255}
}
