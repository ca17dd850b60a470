package projection

import (
	"image"
	"image/color"
	"math"
	"sync"
)

// Texture is a source of video frames for a material
type Texture interface {
	// Frame returns the most recent decoded frame, or nil before the first one
	Frame() image.Image
}

// placeholder is the 1x1 texture bound before the video is decode-ready
type placeholder struct {
	img *image.RGBA
}

func newPlaceholder() *placeholder {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{A: 0xff})
	return &placeholder{img: img}
}

func (p *placeholder) Frame() image.Image { return p.img }

// LiveTexture holds the latest frame delivered by a player
type LiveTexture struct {
	mu    sync.RWMutex
	frame image.Image
}

// NewLiveTexture returns an empty live texture
func NewLiveTexture() *LiveTexture {
	return &LiveTexture{}
}

// Update replaces the current frame
func (t *LiveTexture) Update(img image.Image) {
	t.mu.Lock()
	t.frame = img
	t.mu.Unlock()
}

// Frame implements Texture
func (t *LiveTexture) Frame() image.Image {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frame
}

// StillTexture wraps a single decoded image
type StillTexture struct {
	img image.Image
}

// NewStillTexture returns a texture that always yields img
func NewStillTexture(img image.Image) StillTexture {
	return StillTexture{img: img}
}

// Frame implements Texture
func (s StillTexture) Frame() image.Image { return s.img }

// sampleBilinear samples img at normalized (u, v), clamping at the edges
func sampleBilinear(img image.Image, u, v float64) color.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return gray
	}

	x := u*float64(w) - 0.5
	y := v*float64(h) - 0.5

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	c00 := rgbaAt(img, b, x0, y0)
	c10 := rgbaAt(img, b, x0+1, y0)
	c01 := rgbaAt(img, b, x0, y0+1)
	c11 := rgbaAt(img, b, x0+1, y0+1)

	lerp := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bot := float64(c)*(1-fx) + float64(d)*fx
		return uint8(top*(1-fy) + bot*fy + 0.5)
	}

	return color.RGBA{
		R: lerp(c00.R, c10.R, c01.R, c11.R),
		G: lerp(c00.G, c10.G, c01.G, c11.G),
		B: lerp(c00.B, c10.B, c01.B, c11.B),
		A: lerp(c00.A, c10.A, c01.A, c11.A),
	}
}

func rgbaAt(img image.Image, b image.Rectangle, x, y int) color.RGBA {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= b.Dx() {
		x = b.Dx() - 1
	}
	if y >= b.Dy() {
		y = b.Dy() - 1
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba.RGBAAt(b.Min.X+x, b.Min.Y+y)
	}
	return color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
}
