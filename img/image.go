// Package img contains routines for loading and transforming sets of images.
package img

import (
	"image"
	"image/color"
)

var RGBModel = color.ModelFunc(rgbModel)

// RGB color is stored as a float for each channel with values in range 0-1.
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R, 0, 1), clampu(c.G, 0, 1), clampu(c.B, 0, 1), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// Image stores pixel data as float32 values in range 0-1, one plane per
// colour channel, each plane in row major order.
type Image struct {
	Pix      []float32
	Width    int
	Height   int
	Channels int
}

// NewImage creates a zeroed image with the given size and channel count.
func NewImage(width, height, channels int) *Image {
	return &Image{Pix: make([]float32, width*height*channels), Width: width, Height: height, Channels: channels}
}

func NewImageLike(src *Image) *Image {
	return NewImage(src.Width, src.Height, src.Channels)
}

func (m *Image) ColorModel() color.Model {
	return RGBModel
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// RGBAt returns the pixel at x,y. Out of bounds coordinates are clamped to
// the nearest edge pixel.
func (m *Image) RGBAt(x, y int) RGB {
	x = clampi(x, 0, m.Width-1)
	y = clampi(y, 0, m.Height-1)
	pos := y*m.Width + x
	c := RGB{R: m.Pix[pos]}
	if m.Channels == 3 {
		c.G = m.Pix[pos+m.Width*m.Height]
		c.B = m.Pix[pos+2*m.Width*m.Height]
	} else {
		c.G, c.B = c.R, c.R
	}
	return c
}

func (m *Image) At(x, y int) color.Color {
	return m.RGBAt(x, y)
}

func (m *Image) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	rgb := rgbModel(c).(RGB)
	pos := y*m.Width + x
	m.Pix[pos] = rgb.R
	if m.Channels == 3 {
		m.Pix[pos+m.Width*m.Height] = rgb.G
		m.Pix[pos+2*m.Width*m.Height] = rgb.B
	}
}

// Pixels returns the plane for the given channel, or all planes if ch is
// out of range.
func (m *Image) Pixels(ch int) []float32 {
	if ch >= 0 && ch < m.Channels {
		return m.Pix[ch*m.Width*m.Height : (ch+1)*m.Width*m.Height]
	}
	return m.Pix
}

func clampi(x, x0, x1 int) int {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}
