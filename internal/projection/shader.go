package projection

import (
	"fmt"

	"github.com/eduard256/roverlive/internal/models"
)

const vertexShader = `varying vec2 vUv;
void main() {
  vUv = uv;
  gl_Position = projectionMatrix * modelViewMatrix * vec4(position, 1.0);
}
`

const equirectFragment = `uniform sampler2D map;
varying vec2 vUv;
void main() {
  gl_FragColor = texture2D(map, vUv);
}
`

// dualFisheyeFragment is the GPU twin of FisheyeSample. The CPU version
// flips v because image rows grow downward while GL texture rows grow up.
const dualFisheyeFragment = `uniform sampler2D map;
varying vec2 vUv;
const float PI = 3.141592653589793;
void main() {
  vec2 uv = vec2(vUv.x, 1.0 - vUv.y);
  bool right = uv.x > 0.5;
  float hx = right ? (uv.x - 0.5) * 2.0 : uv.x * 2.0;
  vec2 v = vec2(hx * 2.0 - 1.0, uv.y * 2.0 - 1.0);
  float radius = length(v);
  if (radius > 1.0) {
    gl_FragColor = vec4(0.0, 0.0, 0.0, 1.0);
    return;
  }
  float theta = atan(v.y, v.x);
  float phi = radius * PI / 2.0;
  float longitude = right ? theta - PI / 2.0 : theta + PI / 2.0;
  longitude = mod(longitude, 2.0 * PI);
  vec2 src = vec2(longitude / (2.0 * PI), phi / PI);
  gl_FragColor = texture2D(map, vec2(src.x, 1.0 - src.y));
}
`

const flatFragment = equirectFragment

// Shader is a vertex/fragment program pair for one projection mode
type Shader struct {
	Mode     models.ProjectionMode `json:"mode"`
	Vertex   string                `json:"vertex"`
	Fragment string                `json:"fragment"`
	Geometry string                `json:"geometry"` // "sphere-inside" or "plane"
}

// ShaderFor returns the program the browser shell compiles for mode
func ShaderFor(mode models.ProjectionMode) (Shader, error) {
	switch mode {
	case models.ProjectionEquirectangular:
		return Shader{Mode: mode, Vertex: vertexShader, Fragment: equirectFragment, Geometry: "sphere-inside"}, nil
	case models.ProjectionDualFisheye:
		return Shader{Mode: mode, Vertex: vertexShader, Fragment: dualFisheyeFragment, Geometry: "sphere-inside"}, nil
	case models.ProjectionFlat:
		return Shader{Mode: mode, Vertex: vertexShader, Fragment: flatFragment, Geometry: "plane"}, nil
	default:
		return Shader{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}
