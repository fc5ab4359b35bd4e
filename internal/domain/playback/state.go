package playback

import "chatvoice/internal/domain/sentence"

// State is the engine's playback state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	// StateCompleted and StateStopped are reported when playback ends and
	// immediately collapse to StateIdle.
	StateCompleted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a snapshot of what the engine is playing. ActiveMessageID is
// set exactly while a media handle is alive. Highlight is -1 when no
// sentence is highlighted.
type Session struct {
	ActiveMessageID string          `json:"activeMessageId"`
	State           State           `json:"state"`
	Paused          bool            `json:"paused"`
	Highlight       int             `json:"highlight"`
	Spans           []sentence.Span `json:"-"`
	Timings         []float64       `json:"timings,omitempty"`
}

func idleSession() Session {
	return Session{State: StateIdle, Highlight: -1}
}

func (s Session) clone() Session {
	s.Spans = append([]sentence.Span(nil), s.Spans...)
	s.Timings = append([]float64(nil), s.Timings...)
	return s
}
