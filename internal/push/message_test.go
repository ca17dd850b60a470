package push

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw        string
		want       Status
		meaningful bool
	}{
		{`1`, Status{Value: 1, Valid: true}, true},
		{`0`, Status{Value: 0, Valid: true}, true},
		{`"1"`, Status{Value: 1, Valid: true}, true},
		{`" 0 "`, Status{Value: 0, Valid: true}, true},
		{`1.0`, Status{Value: 1, Valid: true}, true},
		{`-1`, Status{Value: -1, Valid: true}, false},
		{`"-1"`, Status{Value: -1, Valid: true}, false},
		{`null`, Status{}, false},
		{``, Status{}, false},
		{`"ok"`, Status{}, false},
		{`0.5`, Status{}, false},
		{`true`, Status{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := NormalizeStatus(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("NormalizeStatus(%s) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if got.Meaningful() != tt.meaningful {
				t.Errorf("Meaningful() = %v, want %v", got.Meaningful(), tt.meaningful)
			}
		})
	}
}

func TestDecode_StatusMessages(t *testing.T) {
	tests := []struct {
		raw   string
		kind  MessageType
		rover string
		value int
		valid bool
	}{
		{`{"type":"insta_connect","data":{"status":"1"}}`, TypeConnect, "", 1, true},
		{`{"type":"insta_live","rover_id":"r1","data":{"status":0}}`, TypeLive, "r1", 0, true},
		{`{"type":"insta_config","data":{"status":null,"rover_id":7}}`, TypeConfig, "7", 0, false},
		{`{"type":"insta_live","data":null}`, TypeLive, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatal(err)
			}
			sm, ok := msg.(StatusMessage)
			if !ok {
				t.Fatalf("got %T, want StatusMessage", msg)
			}
			if sm.Type() != tt.kind || sm.Rover() != tt.rover {
				t.Errorf("type/rover = %s/%s", sm.Type(), sm.Rover())
			}
			if sm.Status.Valid != tt.valid || (tt.valid && sm.Status.Value != tt.value) {
				t.Errorf("status = %+v", sm.Status)
			}
		})
	}
}

func TestDecode_CaptureImageFields(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(pngHeader)

	tests := []struct {
		name     string
		data     string
		hasImage bool
		mime     string
	}{
		{"ack without image", `{}`, false, ""},
		{"image field", `{"image":"` + b64 + `"}`, true, "image/png"},
		{"img field", `{"img":"` + b64 + `"}`, true, "image/png"},
		{"empty image falls back to img", `{"image":"","img":"` + b64 + `"}`, true, "image/png"},
		{"data uri", `{"image":"data:image/jpeg;base64,` + b64 + `"}`, true, "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(`{"type":"insta_capture","data":` + tt.data + `}`))
			if err != nil {
				t.Fatal(err)
			}
			cm, ok := msg.(CaptureMessage)
			if !ok {
				t.Fatalf("got %T", msg)
			}
			if cm.HasImage() != tt.hasImage {
				t.Fatalf("HasImage() = %v, want %v", cm.HasImage(), tt.hasImage)
			}
			if tt.hasImage {
				if !bytes.Equal(cm.Image, pngHeader) {
					t.Error("decoded image differs from source")
				}
				if cm.MIMEType != tt.mime {
					t.Errorf("mime = %q, want %q", cm.MIMEType, tt.mime)
				}
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"unknown type", `{"type":"battery","data":{}}`, ErrUnknownType},
		{"bad image", `{"type":"insta_capture","data":{"image":"***not base64***"}}`, ErrBadImage},
		{"data uri without comma", `{"type":"image_update","data":{"img":"data:image/png;base64"}}`, ErrBadImage},
		{"not json", `type=insta_live`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecode_CaptureKeepsStatusWithBadImage(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"insta_capture","rover_id":"r1","data":{"status":0,"image":"***not base64***"}}`))
	if !errors.Is(err, ErrBadImage) {
		t.Fatalf("error = %v, want ErrBadImage", err)
	}
	cm, ok := msg.(CaptureMessage)
	if !ok {
		t.Fatalf("message = %T, want CaptureMessage", msg)
	}
	if cm.HasImage() || !cm.Status.Meaningful() || cm.Status.Value != 0 || cm.Rover() != "r1" {
		t.Errorf("capture = %+v", cm)
	}
}

func TestDecode_BoxesAndImageUpdate(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"boxes_update","data":{"rover_id":"r2","boxes":[{"label":"insulator","confidence":0.9,"x":1,"y":2,"width":3,"height":4}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	bm, ok := msg.(BoxesMessage)
	if !ok || bm.Rover() != "r2" || len(bm.Boxes) != 1 || bm.Boxes[0].Label != "insulator" {
		t.Errorf("boxes = %+v", msg)
	}

	uri := DataURI("image/png", pngHeader)
	msg, err = Decode([]byte(`{"type":"image_update","data":{"img":"` + uri + `"}}`))
	if err != nil {
		t.Fatal(err)
	}
	im, ok := msg.(ImageMessage)
	if !ok || !bytes.Equal(im.Image, pngHeader) || im.MIMEType != "image/png" {
		t.Errorf("image update = %+v", msg)
	}
}

func TestDecodeImage_UnpaddedBase64(t *testing.T) {
	raw := base64.RawStdEncoding.EncodeToString([]byte("hello rover"))
	img, _, err := DecodeImage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(img) != "hello rover" {
		t.Errorf("img = %q", img)
	}
}
