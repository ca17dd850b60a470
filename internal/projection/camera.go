package projection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	// DefaultFOV is the initial vertical field of view in degrees
	DefaultFOV = 75.0
	MinFOV     = 30.0
	MaxFOV     = 120.0

	// maxPitch keeps the camera off the poles where yaw degenerates
	maxPitch = 89.0

	// dragSensitivity is degrees of rotation per pixel of drag
	dragSensitivity = 0.2
)

// Camera is the orientable virtual camera inside the sphere. It has no roll.
type Camera struct {
	Yaw   float64 `json:"yaw"`   // degrees, [0, 360)
	Pitch float64 `json:"pitch"` // degrees, [-89, 89]
	FOV   float64 `json:"fov"`   // degrees
}

// Preset is a named fixed orientation
type Preset struct {
	Name  string
	Yaw   float64
	Pitch float64
}

var presets = map[string]Preset{
	"front":  {Name: "front", Yaw: 0, Pitch: 0},
	"right":  {Name: "right", Yaw: 90, Pitch: 0},
	"back":   {Name: "back", Yaw: 180, Pitch: 0},
	"left":   {Name: "left", Yaw: 270, Pitch: 0},
	"top":    {Name: "top", Yaw: 0, Pitch: maxPitch},
	"bottom": {Name: "bottom", Yaw: 0, Pitch: -maxPitch},
}

// DefaultCamera looks at the front preset
func DefaultCamera() Camera {
	return Camera{Yaw: 0, Pitch: 0, FOV: DefaultFOV}
}

// PresetNames returns the preset names in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetByName resolves a preset, tolerating abbreviations such as "bk" or "Top"
func PresetByName(name string) (Preset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := presets[key]; ok {
		return p, nil
	}
	if key == "" {
		return Preset{}, fmt.Errorf("empty preset name")
	}

	ranks := fuzzy.RankFindFold(key, PresetNames())
	if len(ranks) == 0 {
		return Preset{}, fmt.Errorf("unknown preset %q", name)
	}
	sort.Sort(ranks)
	if len(ranks) > 1 && ranks[0].Distance == ranks[1].Distance {
		return Preset{}, fmt.Errorf("ambiguous preset %q", name)
	}
	return presets[ranks[0].Target], nil
}

// ApplyPreset points the camera at p, keeping the field of view
func (c Camera) ApplyPreset(p Preset) Camera {
	c.Yaw = normalizeYaw(p.Yaw)
	c.Pitch = clamp(p.Pitch, -maxPitch, maxPitch)
	return c
}

// Drag rotates the camera by a pointer drag of (dx, dy) pixels
func (c Camera) Drag(dx, dy float64) Camera {
	c.Yaw = normalizeYaw(c.Yaw - dx*dragSensitivity)
	c.Pitch = clamp(c.Pitch+dy*dragSensitivity, -maxPitch, maxPitch)
	return c
}

// Zoom sets the field of view, which is how zoom is expressed
func (c Camera) Zoom(fov float64) Camera {
	c.FOV = clamp(fov, MinFOV, MaxFOV)
	return c
}

func normalizeYaw(y float64) float64 {
	for y < 0 {
		y += 360
	}
	for y >= 360 {
		y -= 360
	}
	return y
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
