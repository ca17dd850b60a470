package projection

import (
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/eduard256/roverlive/internal/models"
)

type mockLogger struct{ warnings int }

func (m *mockLogger) Warn(msg string, args ...any) { m.warnings++ }

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestFisheyeSample_OutsideCircleIsDiscarded(t *testing.T) {
	tests := []struct {
		name string
		u, v float64
	}{
		{"left top corner", 0.0, 0.0},
		{"left bottom corner", 0.01, 0.99},
		{"right top corner", 0.99, 0.01},
		{"right bottom corner", 0.51, 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := FisheyeSample(tt.u, tt.v); ok {
				t.Errorf("FisheyeSample(%v, %v) should be outside the lens circle", tt.u, tt.v)
			}
		})
	}
}

func TestFisheyeSample_LongitudeStitching(t *testing.T) {
	// A texel to the right of the right lens center has theta = 0, so its
	// longitude is -pi/2 normalized to 3pi/2.
	su, sv, ok := FisheyeSample(0.875, 0.5)
	if !ok {
		t.Fatal("texel inside right lens reported outside")
	}
	if math.Abs(su-0.75) > 1e-9 {
		t.Errorf("su = %v, want 0.75", su)
	}
	// radius 0.5 gives phi = pi/4, v = 1/4
	if math.Abs(sv-0.25) > 1e-9 {
		t.Errorf("sv = %v, want 0.25", sv)
	}

	// Same offset in the left lens is shifted by +pi/2 instead
	su, _, ok = FisheyeSample(0.375, 0.5)
	if !ok {
		t.Fatal("texel inside left lens reported outside")
	}
	if math.Abs(su-0.25) > 1e-9 {
		t.Errorf("left su = %v, want 0.25", su)
	}
}

func TestFisheyeSample_RangeIsNormalized(t *testing.T) {
	for i := 0; i <= 100; i++ {
		for j := 0; j <= 100; j++ {
			su, sv, ok := FisheyeSample(float64(i)/100, float64(j)/100)
			if !ok {
				continue
			}
			if su < 0 || su >= 1 || sv < 0 || sv > 0.5 {
				t.Fatalf("sample (%v, %v) out of range for uv (%d, %d)", su, sv, i, j)
			}
		}
	}
}

func TestDualFisheyeMaterial_ReproducesSourceColor(t *testing.T) {
	// Paint the source region one right-lens texel lands on red, the rest blue
	const w, h = 256, 128
	src := solid(w, h, color.RGBA{B: 0xff, A: 0xff})
	red := color.RGBA{R: 0xff, A: 0xff}

	// Right lens texel straight above its center: theta = -pi/2 (v grows
	// down), longitude = -pi normalized to pi → su = 0.5. Radius 0.5 → sv = 0.25.
	u, v := 0.75, 0.25
	su, sv, ok := FisheyeSample(u, v)
	if !ok {
		t.Fatal("texel should be inside the lens")
	}
	cx, cy := int(su*w), int(sv*h)
	for y := cy - 4; y <= cy+4; y++ {
		for x := cx - 4; x <= cx+4; x++ {
			src.SetRGBA(x, y, red)
		}
	}

	mat, err := newMaterial(models.ProjectionDualFisheye, NewStillTexture(src))
	if err != nil {
		t.Fatal(err)
	}

	got := mat.Shade(u, v)
	if got != red {
		t.Errorf("Shade(%v, %v) = %v, want %v", u, v, got, red)
	}

	if got := mat.Shade(0.51, 0.01); got != black {
		t.Errorf("outside right circle = %v, want black", got)
	}
	if got := mat.Shade(0.0, 1.0); got != black {
		t.Errorf("outside left circle = %v, want black", got)
	}
}

func TestRenderer_PlaceholderThenLiveTexture(t *testing.T) {
	r := NewRenderer(models.ProjectionEquirectangular, &mockLogger{})
	if r.Live() {
		t.Fatal("new renderer should start on the placeholder")
	}

	out := r.Render(4, 4)
	if c := out.RGBAAt(2, 2); c != black {
		t.Errorf("placeholder render = %v, want black", c)
	}

	green := color.RGBA{G: 0xff, A: 0xff}
	r.BindVideo(NewStillTexture(solid(64, 32, green)))
	if !r.Live() {
		t.Fatal("BindVideo should mark the renderer live")
	}
	if !r.ConsumeDirty() {
		t.Error("BindVideo should flag the scene dirty")
	}

	out = r.Render(4, 4)
	if c := out.RGBAAt(2, 2); c != green {
		t.Errorf("live render = %v, want green", c)
	}
}

func TestRenderer_ModeChangeRebindsLiveTexture(t *testing.T) {
	r := NewRenderer(models.ProjectionEquirectangular, &mockLogger{})
	green := color.RGBA{G: 0xff, A: 0xff}
	r.BindVideo(NewStillTexture(solid(64, 32, green)))

	if err := r.SetProjection(models.ProjectionFlat); err != nil {
		t.Fatal(err)
	}
	if !r.Live() {
		t.Error("mode change must keep the live texture")
	}
	if c := r.Render(2, 2).RGBAAt(0, 0); c != green {
		t.Errorf("flat render = %v, want live texture color", c)
	}

	if err := r.SetProjection("cubemap"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("unknown mode error = %v", err)
	}
	if r.Mode() != models.ProjectionFlat {
		t.Errorf("failed SetProjection changed mode to %s", r.Mode())
	}
}

func TestRenderer_FallbackOnEmptyTexture(t *testing.T) {
	log := &mockLogger{}
	r := NewRenderer(models.ProjectionDualFisheye, log)

	r.BindVideo(NewStillTexture(image.NewRGBA(image.Rect(0, 0, 0, 0))))

	if !r.Fallback() {
		t.Fatal("empty texture should force the fallback material")
	}
	if log.warnings == 0 {
		t.Error("fallback should be logged")
	}
	if c := r.Render(2, 2).RGBAAt(1, 1); c != gray {
		t.Errorf("fallback without texture = %v, want gray", c)
	}
}

func TestRenderer_DisposeAndRelease(t *testing.T) {
	r := NewRenderer("", nil)
	if r.Mode() != models.ProjectionEquirectangular {
		t.Errorf("default mode = %s", r.Mode())
	}

	r.BindVideo(NewLiveTexture())
	r.Release()
	if r.Live() {
		t.Error("Release should return to the placeholder")
	}

	r.Dispose()
	if r.Available() {
		t.Error("disposed renderer should be unavailable")
	}
	if err := r.SetProjection(models.ProjectionFlat); !errors.Is(err, ErrDisposed) {
		t.Errorf("SetProjection after Dispose = %v", err)
	}
}

func TestRenderer_YawTurnsView(t *testing.T) {
	// Equirect source: left half red, right half blue. Yaw 0 looks at u=0.5,
	// so the view straddles; yaw 90 looks at u=0.75 (blue), yaw 270 at u=0.25 (red).
	src := image.NewRGBA(image.Rect(0, 0, 360, 180))
	for y := 0; y < 180; y++ {
		for x := 0; x < 360; x++ {
			c := color.RGBA{R: 0xff, A: 0xff}
			if x >= 180 {
				c = color.RGBA{B: 0xff, A: 0xff}
			}
			src.SetRGBA(x, y, c)
		}
	}

	r := NewRenderer(models.ProjectionEquirectangular, nil)
	r.BindVideo(NewStillTexture(src))

	p, _ := PresetByName("right")
	r.SetCamera(r.Camera().ApplyPreset(p))
	if c := r.Render(9, 9).RGBAAt(4, 4); c.B != 0xff {
		t.Errorf("right preset center = %v, want blue", c)
	}

	p, _ = PresetByName("left")
	r.SetCamera(r.Camera().ApplyPreset(p))
	if c := r.Render(9, 9).RGBAAt(4, 4); c.R != 0xff {
		t.Errorf("left preset center = %v, want red", c)
	}
}

func TestDirectionToUV(t *testing.T) {
	u, v := DirectionToUV(0, 0, -1)
	if u != 0.5 || v != 0.5 {
		t.Errorf("forward = (%v, %v), want (0.5, 0.5)", u, v)
	}
	_, v = DirectionToUV(0, 1, 0)
	if math.Abs(v) > 1e-9 {
		t.Errorf("up v = %v, want 0", v)
	}
}

func TestPresetByName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"front", "front", false},
		{"Top", "top", false},
		{"  bottom ", "bottom", false},
		{"bk", "back", false},
		{"fr", "front", false},
		{"zzz", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := PresetByName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PresetByName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && p.Name != tt.want {
				t.Errorf("PresetByName(%q) = %s, want %s", tt.in, p.Name, tt.want)
			}
		})
	}
}

func TestCamera_DragAndZoom(t *testing.T) {
	c := DefaultCamera()

	c = c.Drag(100, 0)
	if math.Abs(c.Yaw-340) > 1e-9 {
		t.Errorf("yaw after drag = %v, want 340", c.Yaw)
	}

	c = c.Drag(0, 10000)
	if c.Pitch != maxPitch {
		t.Errorf("pitch = %v, want clamp at %v", c.Pitch, maxPitch)
	}

	c = c.Zoom(10)
	if c.FOV != MinFOV {
		t.Errorf("fov = %v, want %v", c.FOV, MinFOV)
	}
	c = c.Zoom(500)
	if c.FOV != MaxFOV {
		t.Errorf("fov = %v, want %v", c.FOV, MaxFOV)
	}
}

func TestShaderFor(t *testing.T) {
	s, err := ShaderFor(models.ProjectionDualFisheye)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.Fragment, "radius > 1.0") {
		t.Error("dual-fisheye fragment should discard outside the lens circle")
	}
	if s.Geometry != "sphere-inside" {
		t.Errorf("geometry = %s", s.Geometry)
	}

	flat, _ := ShaderFor(models.ProjectionFlat)
	if flat.Geometry != "plane" {
		t.Errorf("flat geometry = %s", flat.Geometry)
	}

	if _, err := ShaderFor("bogus"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("bogus mode error = %v", err)
	}
}
