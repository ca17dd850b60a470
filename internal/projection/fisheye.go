package projection

import "math"

// FisheyeSample maps a texel of the sphere texture (normalized uv, origin at
// the top-left) to the coordinate to sample in the packed dual-fisheye source
// frame. The left half of uv space is the front lens, the right half the
// back lens. ok is false for texels outside the lens circle, which render
// black.
func FisheyeSample(u, v float64) (su, sv float64, ok bool) {
	right := u > 0.5

	// Remap the half into [-1,1]^2
	var hx float64
	if right {
		hx = (u - 0.5) * 2
	} else {
		hx = u * 2
	}
	x := hx*2 - 1
	y := v*2 - 1

	radius := math.Hypot(x, y)
	if radius > 1 {
		return 0, 0, false
	}

	theta := math.Atan2(y, x)
	phi := radius * math.Pi / 2

	// Stitch front and back hemispheres
	var longitude float64
	if right {
		longitude = theta - math.Pi/2
	} else {
		longitude = theta + math.Pi/2
	}
	longitude = math.Mod(longitude, 2*math.Pi)
	if longitude < 0 {
		longitude += 2 * math.Pi
	}

	return longitude / (2 * math.Pi), phi / math.Pi, true
}
