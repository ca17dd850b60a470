package models

import "time"

// Protocol identifies how a stream source is delivered
type Protocol string

const (
	ProtocolHLS         Protocol = "hls"
	ProtocolDASH        Protocol = "dash"
	ProtocolRTMPDerived Protocol = "rtmp-derived" // RTMP ingest repackaged as HLS
	ProtocolIframe      Protocol = "iframe-embed"
)

// StreamSource is a playable URL plus its protocol tag
type StreamSource struct {
	URL      string   `json:"url"`
	Protocol Protocol `json:"protocol"`
	Key      string   `json:"key,omitempty"`
}

// StatusType is the severity of a status record
type StatusType string

const (
	StatusLoading StatusType = "loading"
	StatusPlaying StatusType = "playing"
	StatusWarning StatusType = "warning"
	StatusError   StatusType = "error"

	// Command channel statuses
	StatusInfo    StatusType = "info"
	StatusSuccess StatusType = "success"
)

// Status is the {type, message} record shown inline by the UI
type Status struct {
	Type    StatusType `json:"type"`
	Message string     `json:"message"`
}

// SessionState is the StreamSession state machine position
type SessionState string

const (
	StateIdle    SessionState = "idle"
	StateLoading SessionState = "loading"
	StatePlaying SessionState = "playing"
	StateWarning SessionState = "warning"
	StateError   SessionState = "error"
	StateClosed  SessionState = "closed"
)

// ProjectionMode selects how the video frame is mapped onto the scene
type ProjectionMode string

const (
	ProjectionEquirectangular ProjectionMode = "equirectangular"
	ProjectionDualFisheye     ProjectionMode = "dual-fisheye"
	ProjectionFlat            ProjectionMode = "flat-passthrough"
)

// Severity grades the estimated latency for display
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// LatencyReport is published on every latency tick
type LatencyReport struct {
	SessionID string   `json:"session_id"`
	Seconds   float64  `json:"seconds"`
	Severity  Severity `json:"severity"`
	Corrected bool     `json:"corrected"`
}

// SessionInfo is the API view of a stream session
type SessionInfo struct {
	ID          string         `json:"id"`
	RoverID     string         `json:"rover_id,omitempty"`
	Source      StreamSource   `json:"source"`
	State       SessionState   `json:"state"`
	Status      Status         `json:"status"`
	Projection  ProjectionMode `json:"projection"`
	Yaw         float64        `json:"yaw"`
	Pitch       float64        `json:"pitch"`
	FOV         float64        `json:"fov"`
	Latency     *LatencyReport `json:"latency,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Generation  uint64         `json:"generation"`
	RetryQueued bool           `json:"retry_queued"`
}

// OpenSessionRequest opens a new live session
type OpenSessionRequest struct {
	Protocol   Protocol       `json:"protocol" validate:"required,oneof=hls dash rtmp-derived iframe-embed"`
	Key        string         `json:"key" validate:"omitempty,alphanum,max=64"`
	URL        string         `json:"url" validate:"omitempty,url"` // iframe-embed only, or explicit override
	RoverID    string         `json:"rover_id" validate:"omitempty,max=64"`
	Projection ProjectionMode `json:"projection" validate:"omitempty,oneof=equirectangular dual-fisheye flat-passthrough"`
}

// ProjectionRequest changes the projection mode of a session
type ProjectionRequest struct {
	Mode ProjectionMode `json:"mode" validate:"required,oneof=equirectangular dual-fisheye flat-passthrough"`
}

// OrientationRequest moves the virtual camera. Preset wins over Yaw/Pitch.
type OrientationRequest struct {
	Preset string   `json:"preset" validate:"omitempty,max=16"`
	DeltaX float64  `json:"delta_x"` // drag in pixels
	DeltaY float64  `json:"delta_y"`
	FOV    *float64 `json:"fov" validate:"omitempty,min=30,max=120"`
}
