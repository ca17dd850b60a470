package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/push"
)

// ErrInvalidCommand is returned for commands missing required fields
var ErrInvalidCommand = errors.New("invalid device command")

// maxResponseSize bounds a command response, which may embed a capture
const maxResponseSize = 32 << 20

// Command is one device-control request
type Command struct {
	Kind         models.CommandKind
	RoverID      string
	SubstationID string

	// config only
	SSID     string
	Password string
	RTMP     string
}

// Response is what the backend answered to a command. OK only means the
// command was accepted for processing.
type Response struct {
	OK         bool
	StatusCode int
	Message    string
	Image      []byte // capture fast path
	MIMEType   string
}

// API sends commands to the rover backend
type API interface {
	Send(ctx context.Context, cmd Command) (*Response, error)
}

// Client is the HTTP implementation of API
type Client struct {
	baseURL string
	http    *http.Client
	logger  interface{ Debug(string, ...any) }
}

// NewClient creates a device API client for baseURL
func NewClient(baseURL string, timeout time.Duration, logger interface{ Debug(string, ...any) }) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type connectBody struct {
	RoverID      string `json:"rover_id"`
	SubstationID string `json:"substation_id"`
	Connect      int    `json:"connect"`
}

type liveBody struct {
	RoverID      string `json:"rover_id"`
	SubstationID string `json:"substation_id"`
	Live         int    `json:"live"`
}

type captureBody struct {
	Capture int `json:"capture"`
}

type configBody struct {
	RoverID      string `json:"rover_id"`
	SubstationID string `json:"substation_id"`
	SSID         string `json:"ssid,omitempty"`
	Password     string `json:"password,omitempty"`
	RTMP         string `json:"rtmp,omitempty"`
}

type responseBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Image   string `json:"image"`
	Img     string `json:"img"`
}

// Request returns the endpoint path and JSON body for cmd
func Request(cmd Command) (string, any, error) {
	switch cmd.Kind {
	case models.CommandConnect, models.CommandDisconnect:
		connect := 0
		if cmd.Kind == models.CommandConnect {
			connect = 1
		}
		return "/insta/connect", connectBody{cmd.RoverID, cmd.SubstationID, connect}, nil

	case models.CommandStartLive, models.CommandStopLive:
		live := 0
		if cmd.Kind == models.CommandStartLive {
			live = 1
		}
		return "/insta/live", liveBody{cmd.RoverID, cmd.SubstationID, live}, nil

	case models.CommandCapture:
		if cmd.RoverID == "" {
			return "", nil, fmt.Errorf("%w: capture needs a rover id", ErrInvalidCommand)
		}
		return "/rovers/" + url.PathEscape(cmd.RoverID) + "/insta/capture", captureBody{Capture: 1}, nil

	case models.CommandConfig:
		if cmd.SSID == "" && cmd.Password == "" && cmd.RTMP == "" {
			return "", nil, fmt.Errorf("%w: config needs ssid, password or rtmp", ErrInvalidCommand)
		}
		return "/insta/config", configBody{cmd.RoverID, cmd.SubstationID, cmd.SSID, cmd.Password, cmd.RTMP}, nil

	default:
		return "", nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, cmd.Kind)
	}
}

// Send implements API
func (c *Client) Send(ctx context.Context, cmd Command) (*Response, error) {
	path, body, err := Request(cmd)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("command request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read command response: %w", err)
	}

	c.logger.Debug("device command sent", "kind", cmd.Kind, "rover_id", cmd.RoverID,
		"path", path, "status", resp.StatusCode)

	out := &Response{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
	}

	var rb responseBody
	if len(raw) > 0 && json.Unmarshal(raw, &rb) == nil {
		out.Message = rb.Message
		if out.Message == "" {
			out.Message = rb.Detail
		}
		image := rb.Image
		if image == "" {
			image = rb.Img
		}
		if out.OK && image != "" {
			img, mime, err := push.DecodeImage(image)
			if err != nil {
				c.logger.Debug("ignoring undecodable capture in response", "error", err.Error())
			} else {
				out.Image, out.MIMEType = img, mime
			}
		}
	}
	if out.Message == "" && !out.OK {
		out.Message = http.StatusText(resp.StatusCode)
	}
	return out, nil
}
