// Package push decodes the asynchronous device messages delivered over the
// push channel and keeps that channel connected.
//
// Messages arrive as {"type": ..., "data": {...}}. Every type is decoded into
// exactly one typed variant here, so field-name drift (image vs img) and
// numeric strings never reach the rest of the service.
package push

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/eduard256/roverlive/internal/models"
)

var (
	// ErrUnknownType is returned for a message type this service does not consume
	ErrUnknownType = errors.New("unknown push message type")

	// ErrBadImage is returned when an image field is neither a data URI nor base64
	ErrBadImage = errors.New("image is not valid base64")
)

// MessageType is the discriminator of a push message
type MessageType string

const (
	TypeConfig      MessageType = "insta_config"
	TypeConnect     MessageType = "insta_connect"
	TypeLive        MessageType = "insta_live"
	TypeCapture     MessageType = "insta_capture"
	TypeImageUpdate MessageType = "image_update"
	TypeBoxesUpdate MessageType = "boxes_update"
)

// base64ProbeChars is how much of a raw image is test-decoded before the rest
const base64ProbeChars = 16

// Message is one decoded push message
type Message interface {
	Type() MessageType
	// Rover returns the rover id carried by the message, or ""
	Rover() string
}

// Status is a normalized device status. Valid is false for null, missing or
// unparseable values.
type Status struct {
	Value int
	Valid bool
}

// Meaningful reports whether the status can settle a command. The device
// firmware sends negative values while it is still working; those and null
// are not answers.
func (s Status) Meaningful() bool {
	return s.Valid && s.Value >= 0
}

// StatusMessage confirms insta_config, insta_connect or insta_live
type StatusMessage struct {
	Kind    MessageType
	RoverID string
	Status  Status
}

func (m StatusMessage) Type() MessageType { return m.Kind }
func (m StatusMessage) Rover() string     { return m.RoverID }

// CaptureMessage is an insta_capture message. The device first acknowledges
// without an image, then delivers the image in a later message.
type CaptureMessage struct {
	RoverID  string
	Status   Status
	Image    []byte
	MIMEType string
}

func (m CaptureMessage) Type() MessageType { return TypeCapture }
func (m CaptureMessage) Rover() string     { return m.RoverID }

// HasImage reports whether the message carries the captured image
func (m CaptureMessage) HasImage() bool { return len(m.Image) > 0 }

// ImageMessage is an image_update: the latest still from the rover camera
type ImageMessage struct {
	RoverID  string
	Image    []byte
	MIMEType string
}

func (m ImageMessage) Type() MessageType { return TypeImageUpdate }
func (m ImageMessage) Rover() string     { return m.RoverID }

// BoxesMessage is a boxes_update carrying detection rectangles
type BoxesMessage struct {
	RoverID string
	Boxes   []models.Box
}

func (m BoxesMessage) Type() MessageType { return TypeBoxesUpdate }
func (m BoxesMessage) Rover() string     { return m.RoverID }

type envelope struct {
	Type    MessageType     `json:"type"`
	RoverID json.RawMessage `json:"rover_id"`
	Data    json.RawMessage `json:"data"`
}

type payload struct {
	RoverID json.RawMessage `json:"rover_id"`
	Status  json.RawMessage `json:"status"`
	Image   *string         `json:"image"`
	Img     *string         `json:"img"`
	Boxes   []models.Box    `json:"boxes"`
}

// Decode parses one raw push message into its typed variant. A capture
// whose image cannot be decoded is returned without the image together
// with an error wrapping ErrBadImage.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid push message: %w", err)
	}

	var data payload
	if len(bytes.TrimSpace(env.Data)) > 0 && !bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
	}

	rover := idString(env.RoverID)
	if rover == "" {
		rover = idString(data.RoverID)
	}

	switch env.Type {
	case TypeConfig, TypeConnect, TypeLive:
		return StatusMessage{Kind: env.Type, RoverID: rover, Status: NormalizeStatus(data.Status)}, nil

	case TypeCapture:
		msg := CaptureMessage{RoverID: rover, Status: NormalizeStatus(data.Status)}
		img, mime, err := imageField(data)
		if err != nil {
			// The status still settles the capture; only the image is lost
			return msg, fmt.Errorf("%s: %w", env.Type, err)
		}
		msg.Image, msg.MIMEType = img, mime
		return msg, nil

	case TypeImageUpdate:
		img, mime, err := imageField(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Type, err)
		}
		return ImageMessage{RoverID: rover, Image: img, MIMEType: mime}, nil

	case TypeBoxesUpdate:
		return BoxesMessage{RoverID: rover, Boxes: data.Boxes}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// NormalizeStatus accepts a JSON number or numeric string
func NormalizeStatus(raw json.RawMessage) Status {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Status{}
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return Status{}
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return Status{}
	}
	return Status{Value: int(f), Valid: true}
}

// imageField reads image, falling back to img
func imageField(data payload) ([]byte, string, error) {
	var value string
	switch {
	case data.Image != nil && *data.Image != "":
		value = *data.Image
	case data.Img != nil && *data.Img != "":
		value = *data.Img
	default:
		return nil, "", nil
	}
	return DecodeImage(value)
}

// DecodeImage turns a data URI or raw base64 string into bytes plus a MIME
// type. A data URI prefix is stripped; raw base64 is probed on a short
// prefix before the full decode.
func DecodeImage(value string) ([]byte, string, error) {
	value = strings.TrimSpace(value)
	mime := ""

	if strings.HasPrefix(value, "data:") {
		comma := strings.IndexByte(value, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("%w: data uri without payload", ErrBadImage)
		}
		header := value[len("data:"):comma]
		mime, _, _ = strings.Cut(header, ";")
		value = value[comma+1:]
	}

	probe := value
	if len(probe) > base64ProbeChars {
		probe = probe[:base64ProbeChars]
	}
	if _, err := base64.StdEncoding.DecodeString(padBase64(probe)); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	img, err := base64.StdEncoding.DecodeString(padBase64(value))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if len(img) == 0 {
		return nil, "", fmt.Errorf("%w: empty", ErrBadImage)
	}
	if mime == "" {
		mime = http.DetectContentType(img)
	}
	return img, mime, nil
}

// DataURI wraps an image for the browser
func DataURI(mime string, img []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img)
}

func padBase64(s string) string {
	s = strings.TrimRight(s, "=")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

// idString accepts a rover id given as string or number
func idString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
