package models

import "time"

// CommandKind names a device-control command
type CommandKind string

const (
	CommandConnect    CommandKind = "connect"
	CommandDisconnect CommandKind = "disconnect"
	CommandStartLive  CommandKind = "start-live"
	CommandStopLive   CommandKind = "stop-live"
	CommandCapture    CommandKind = "capture"
	CommandConfig     CommandKind = "config"
)

// CommandOutcome is the terminal result of a command
type CommandOutcome string

const (
	OutcomePending   CommandOutcome = "pending"
	OutcomeSucceeded CommandOutcome = "succeeded"
	OutcomeFailed    CommandOutcome = "failed"
	OutcomeTimedOut  CommandOutcome = "timed_out"
	OutcomeRejected  CommandOutcome = "rejected" // non-OK HTTP response
)

// CommandStatus is published whenever a command changes state
type CommandStatus struct {
	RoverID string         `json:"rover_id"`
	Kind    CommandKind    `json:"kind"`
	Outcome CommandOutcome `json:"outcome"`
	Status  Status         `json:"status"`
}

// CapturedFrame is a still image received from the 360 camera
type CapturedFrame struct {
	RoverID    string    `json:"rover_id"`
	Image      []byte    `json:"-"`
	MIMEType   string    `json:"mime_type"`
	Source     string    `json:"source"` // "http" or the push message type
	ReceivedAt time.Time `json:"received_at"`
}

// Box is one detection rectangle from a boxes_update message
type Box struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// ConnectRequest toggles the camera connection
type ConnectRequest struct {
	SubstationID string `json:"substation_id" validate:"required,max=64"`
	Connect      *int   `json:"connect" validate:"required,oneof=0 1"`
}

// LiveRequest toggles live streaming on the camera
type LiveRequest struct {
	SubstationID string `json:"substation_id" validate:"required,max=64"`
	Live         *int   `json:"live" validate:"required,oneof=0 1"`
}

// ConfigRequest sets wifi and rtmp parameters; at least one field is required
type ConfigRequest struct {
	SubstationID string `json:"substation_id" validate:"required,max=64"`
	SSID         string `json:"ssid" validate:"required_without_all=Password RTMP,max=64"`
	Password     string `json:"password" validate:"required_without_all=SSID RTMP,max=128"`
	RTMP         string `json:"rtmp" validate:"omitempty,url"`
}
