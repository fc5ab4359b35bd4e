package eventbus

import (
	"encoding/base64"
)

// Channel events. Outbound events are emitted by the client, inbound ones by
// the synthesis server; channel:error is raised locally by the transport.
const (
	EventTTSStart     = "tts:start"
	EventTTSStop      = "tts:stop"
	EventUserJoin     = "user:join"
	EventTTSAudio     = "tts:audio"
	EventTTSError     = "tts:error"
	EventTTSStopped   = "tts:stopped"
	EventChannelError = "channel:error"
)

// Presentation events published by the playback engine and orchestrator.
const (
	EventPlaybackState     = "playback:state"
	EventPlaybackHighlight = "playback:highlight"
	EventPlaybackMode      = "playback:mode"
)

// ChannelEvents lists every event a channel dispatcher knows up front.
var ChannelEvents = []string{
	EventTTSStart,
	EventTTSStop,
	EventUserJoin,
	EventTTSAudio,
	EventTTSError,
	EventTTSStopped,
	EventChannelError,
}

type TTSStartData struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	UserID    string `json:"userId"`
}

type TTSStopData struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// TTSAudioData is one chunk of synthesized audio. Bytes is base64.
type TTSAudioData struct {
	MessageID string `json:"messageId"`
	Bytes     string `json:"bytes"`
	IsLast    bool   `json:"isLast"`
}

// Audio decodes the chunk payload.
func (d TTSAudioData) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Bytes)
}

// NewTTSAudio builds a chunk from raw bytes.
func NewTTSAudio(messageID string, chunk []byte, last bool) TTSAudioData {
	return TTSAudioData{
		MessageID: messageID,
		Bytes:     base64.StdEncoding.EncodeToString(chunk),
		IsLast:    last,
	}
}

type TTSErrorData struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

type ChannelErrorData struct {
	Reason string `json:"reason"`
}

type UserJoinData struct {
	UserID string `json:"user_id"`
}

type PlaybackStateData struct {
	MessageID string `json:"messageId"`
	State     string `json:"state"`
	Paused    bool   `json:"paused"`
}

// HighlightData reports the sentence being spoken; Index -1 clears it.
type HighlightData struct {
	MessageID string `json:"messageId"`
	Index     int    `json:"index"`
}

type ModeData struct {
	Mode      string `json:"mode"`
	MessageID string `json:"messageId,omitempty"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}
