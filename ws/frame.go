package ws

import (
	"encoding/json"
	"fmt"
)

// Frame types on the session WebSocket channel.
const (
	FrameHITLRequest    = "hitl_request"
	FrameHITLResponse   = "hitl_response"
	FrameProgressUpdate = "progress_update"
	FrameError          = "error"
)

// Frame is the wire envelope for every WebSocket message. Data carries
// the type-specific body.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeFrame wraps body in a Frame of the given type.
func EncodeFrame(frameType string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal frame body: %w", err)
	}
	raw, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return raw, nil
}

// DecodeFrame parses a raw WebSocket message into a Frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("frame missing type")
	}
	return f, nil
}
