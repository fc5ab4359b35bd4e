package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Frame is the wire envelope: {"event": "...", "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a payload. Raw byte slices are assumed to be JSON already.
func Encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	return sonic.Marshal(payload)
}

// Decode unmarshals event data into v.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	return sonic.Unmarshal(data, v)
}

// EncodeFrame builds a complete wire frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return sonic.Marshal(Frame{Event: event, Data: data})
}

// DecodeFrame parses a wire frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("frame without event")
	}
	return f, nil
}
