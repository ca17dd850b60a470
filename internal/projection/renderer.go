package projection

import (
	"errors"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/eduard256/roverlive/internal/models"
)

// ErrDisposed is returned by a renderer after Dispose
var ErrDisposed = errors.New("renderer disposed")

// scene is swapped as a whole so a render tick never observes a
// half-built material
type scene struct {
	mode     models.ProjectionMode
	material Material
	fallback bool
}

// Renderer owns the projection scene of one session. Writers serialize on
// mu and publish a new scene pointer; Render reads that pointer once per
// frame.
type Renderer struct {
	mu       sync.Mutex
	mode     models.ProjectionMode
	texture  Texture
	live     bool
	camera   Camera
	disposed bool

	current atomic.Pointer[scene]
	dirty   atomic.Bool

	placeholder *placeholder
	logger      interface{ Warn(string, ...any) }
}

// NewRenderer creates a renderer in mode bound to the placeholder texture
func NewRenderer(mode models.ProjectionMode, logger interface{ Warn(string, ...any) }) *Renderer {
	if mode == "" {
		mode = models.ProjectionEquirectangular
	}
	r := &Renderer{
		mode:        mode,
		camera:      DefaultCamera(),
		placeholder: newPlaceholder(),
		logger:      logger,
	}
	r.texture = r.placeholder
	r.rebuildLocked()
	return r
}

// SetProjection swaps the material for mode, rebinding the current texture
func (r *Renderer) SetProjection(mode models.ProjectionMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return ErrDisposed
	}
	if _, err := ShaderFor(mode); err != nil {
		return err
	}
	r.mode = mode
	r.rebuildLocked()
	return nil
}

// Mode returns the selected projection mode
func (r *Renderer) Mode() models.ProjectionMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Available reports whether the renderer can accept video
func (r *Renderer) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.disposed
}

// BindVideo replaces the placeholder with a live texture once the player
// has enough decoded data
func (r *Renderer) BindVideo(tex Texture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed || tex == nil {
		return
	}
	r.texture = tex
	r.live = true
	r.rebuildLocked()
}

// Release drops the live texture and returns to the placeholder
func (r *Renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live {
		return
	}
	r.texture = r.placeholder
	r.live = false
	if !r.disposed {
		r.rebuildLocked()
	}
}

// Live reports whether a live texture is bound
func (r *Renderer) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Dispose releases the scene. The renderer becomes unavailable.
func (r *Renderer) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
	r.texture = r.placeholder
	r.live = false
}

// Camera returns the current virtual camera
func (r *Renderer) Camera() Camera {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.camera
}

// SetCamera replaces the virtual camera
func (r *Renderer) SetCamera(c Camera) {
	r.mu.Lock()
	r.camera = Camera{}.Zoom(c.FOV).ApplyPreset(Preset{Yaw: c.Yaw, Pitch: c.Pitch})
	r.mu.Unlock()
	r.dirty.Store(true)
}

// ConsumeDirty reports whether the scene changed since the last call
func (r *Renderer) ConsumeDirty() bool {
	return r.dirty.Swap(false)
}

// Fallback reports whether the scene is using the fallback material
func (r *Renderer) Fallback() bool {
	return r.current.Load().fallback
}

// rebuildLocked builds the material for the current mode and texture and
// publishes it. Construction failures fall back to a flat material.
func (r *Renderer) rebuildLocked() {
	next := &scene{mode: r.mode}
	mat, err := newMaterial(r.mode, r.texture)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("material construction failed, using fallback", "mode", r.mode, "error", err.Error())
		}
		mat = fallbackMaterial(r.texture)
		next.fallback = true
	}
	next.material = mat
	r.current.Store(next)
	r.dirty.Store(true)
}

// Render draws one frame of the scene as seen by the camera
func (r *Renderer) Render(width, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	sc := r.current.Load()
	cam := r.Camera()
	out := image.NewRGBA(image.Rect(0, 0, width, height))

	if !sc.material.Spherical() {
		for py := 0; py < height; py++ {
			for px := 0; px < width; px++ {
				u := (float64(px) + 0.5) / float64(width)
				v := (float64(py) + 0.5) / float64(height)
				out.SetRGBA(px, py, sc.material.Shade(u, v))
			}
		}
		return out
	}

	aspect := float64(width) / float64(height)
	tanHalf := math.Tan(cam.FOV * math.Pi / 360)
	yaw := cam.Yaw * math.Pi / 180
	pitch := cam.Pitch * math.Pi / 180
	sinY, cosY := math.Sincos(yaw)
	sinP, cosP := math.Sincos(pitch)

	for py := 0; py < height; py++ {
		for px := 0; px < width; px++ {
			x := (2*(float64(px)+0.5)/float64(width) - 1) * tanHalf * aspect
			y := (1 - 2*(float64(py)+0.5)/float64(height)) * tanHalf
			z := -1.0

			// Pitch around X, then yaw around Y
			y1 := y*cosP - z*sinP
			z1 := y*sinP + z*cosP
			x2 := x*cosY - z1*sinY
			z2 := x*sinY + z1*cosY

			u, v := DirectionToUV(x2, y1, z2)
			out.SetRGBA(px, py, sc.material.Shade(u, v))
		}
	}
	return out
}

// DirectionToUV converts a view direction into sphere texture coordinates.
// Yaw 0 looks down -Z, which lands on u = 0.5.
func DirectionToUV(x, y, z float64) (u, v float64) {
	n := math.Sqrt(x*x + y*y + z*z)
	if n == 0 {
		return 0.5, 0.5
	}
	lon := math.Atan2(x, -z)
	lat := math.Asin(y / n)
	u = lon/(2*math.Pi) + 0.5
	v = 0.5 - lat/math.Pi
	return u, v
}
