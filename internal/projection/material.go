package projection

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/eduard256/roverlive/internal/models"
)

var (
	// ErrUnknownMode is returned for projection modes outside the known set
	ErrUnknownMode = errors.New("unknown projection mode")

	// ErrEmptyTexture is returned when a material is built over a frame with no pixels
	ErrEmptyTexture = errors.New("texture has no pixels")
)

var (
	black = color.RGBA{A: 0xff}
	gray  = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
)

// Material shades a texel of the rendered geometry
type Material interface {
	Mode() models.ProjectionMode
	// Shade returns the color at normalized texture coordinate (u, v)
	Shade(u, v float64) color.RGBA
	// Spherical reports whether the material wraps a sphere or a plane
	Spherical() bool
}

type equirectMaterial struct{ tex Texture }

func (m equirectMaterial) Mode() models.ProjectionMode { return models.ProjectionEquirectangular }
func (m equirectMaterial) Spherical() bool             { return true }

func (m equirectMaterial) Shade(u, v float64) color.RGBA {
	frame := m.tex.Frame()
	if frame == nil {
		return black
	}
	return sampleBilinear(frame, u, v)
}

type dualFisheyeMaterial struct{ tex Texture }

func (m dualFisheyeMaterial) Mode() models.ProjectionMode { return models.ProjectionDualFisheye }
func (m dualFisheyeMaterial) Spherical() bool             { return true }

func (m dualFisheyeMaterial) Shade(u, v float64) color.RGBA {
	frame := m.tex.Frame()
	if frame == nil {
		return black
	}
	su, sv, ok := FisheyeSample(u, v)
	if !ok {
		return black
	}
	return sampleBilinear(frame, su, sv)
}

type flatMaterial struct{ tex Texture }

func (m flatMaterial) Mode() models.ProjectionMode { return models.ProjectionFlat }
func (m flatMaterial) Spherical() bool             { return false }

func (m flatMaterial) Shade(u, v float64) color.RGBA {
	if m.tex == nil {
		return gray
	}
	frame := m.tex.Frame()
	if frame == nil || frame.Bounds().Empty() {
		return gray
	}
	return sampleBilinear(frame, u, v)
}

// newMaterial builds the material for mode bound to tex
func newMaterial(mode models.ProjectionMode, tex Texture) (Material, error) {
	if tex == nil {
		return nil, fmt.Errorf("build %s material: %w", mode, ErrEmptyTexture)
	}
	if frame := tex.Frame(); frame != nil && frame.Bounds().Empty() {
		return nil, fmt.Errorf("build %s material: %w", mode, ErrEmptyTexture)
	}

	switch mode {
	case models.ProjectionEquirectangular:
		return equirectMaterial{tex: tex}, nil
	case models.ProjectionDualFisheye:
		return dualFisheyeMaterial{tex: tex}, nil
	case models.ProjectionFlat:
		return flatMaterial{tex: tex}, nil
	default:
		return nil, fmt.Errorf("build material: %w: %q", ErrUnknownMode, mode)
	}
}

// fallbackMaterial is a flat textured material, solid gray without a usable texture
func fallbackMaterial(tex Texture) Material {
	if tex != nil {
		if frame := tex.Frame(); frame != nil && !frame.Bounds().Empty() {
			return flatMaterial{tex: tex}
		}
	}
	return flatMaterial{}
}
