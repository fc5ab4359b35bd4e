package services

import (
	"context"
	"errors"
	"fmt"

	"chatvoice/internal/domain/audiocache"
	"chatvoice/internal/domain/chat"
	"chatvoice/internal/domain/playback"
	"chatvoice/internal/domain/sentence"
	"chatvoice/internal/platform/logging"
)

const logTag = "Playback"

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotPlayable     = errors.New("message has no playable audio")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Orchestrator is the playback surface the service drives.
type Orchestrator interface {
	Toggle(ctx context.Context, msg chat.Message)
	PlayAll(ctx context.Context, messages []chat.Message)
	StopAll()
	Cancel(reason string)
	Snapshot() playback.Snapshot
}

// PlaybackConfig wires a PlaybackService.
type PlaybackConfig struct {
	Orchestrator Orchestrator
	Cache        *audiocache.Cache
	Logger       *logging.Logger
}

// PlaybackService connects the conversation transcript to playback: it
// resolves clicks to messages, cancels playback when the conversation moves
// on, and manages the audio cache.
type PlaybackService struct {
	orch       Orchestrator
	cache      *audiocache.Cache
	logger     *logging.Logger
	transcript *chat.Transcript
}

func NewPlaybackService(config *PlaybackConfig) *PlaybackService {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &PlaybackService{
		orch:       config.Orchestrator,
		cache:      config.Cache,
		logger:     logger,
		transcript: chat.NewTranscript(""),
	}
}

// MessageView is a transcript entry as the UI renders it.
type MessageView struct {
	chat.Message
	Cached   bool               `json:"cached"`
	Active   bool               `json:"active"`
	Segments []sentence.Segment `json:"segments,omitempty"`
}

// PlaybackView is the full state exposed to the UI.
type PlaybackView struct {
	SessionID string            `json:"sessionId"`
	Playback  playback.Snapshot `json:"playback"`
	Messages  []MessageView     `json:"messages"`
}

// SwitchConversation replaces the transcript. Any playback of the previous
// conversation is cancelled.
func (s *PlaybackService) SwitchConversation(ctx context.Context, sessionID string, messages []chat.Message) {
	previous := s.transcript.Session()
	s.transcript.Replace(sessionID, messages)
	if previous != sessionID {
		s.orch.Cancel("conversation switched")
	}
	s.logger.InfoTag(logTag, "conversation %q loaded with %d messages", sessionID, len(messages))
}

// AppendMessage adds or updates a transcript entry. A user message cancels
// play-all, since the conversation has moved on.
func (s *PlaybackService) AppendMessage(ctx context.Context, msg chat.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidMessage)
	}
	if msg.Sender != chat.SenderUser && msg.Sender != chat.SenderAI {
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, msg.Sender)
	}
	s.transcript.Upsert(msg)
	if msg.Sender == chat.SenderUser && s.orch.Snapshot().Mode == playback.ModeGlobal {
		s.orch.Cancel("user sent a message")
	}
	return nil
}

// Toggle handles a click on the message's play control.
func (s *PlaybackService) Toggle(ctx context.Context, messageID string) error {
	msg, ok := s.transcript.Find(messageID)
	if !ok {
		return ErrMessageNotFound
	}
	if !msg.Playable() {
		return ErrNotPlayable
	}
	s.orch.Toggle(ctx, msg)
	return nil
}

// PlayAll plays every finished AI reply of the conversation in order.
func (s *PlaybackService) PlayAll(ctx context.Context) playback.Snapshot {
	s.orch.PlayAll(ctx, s.transcript.Messages())
	return s.orch.Snapshot()
}

// StopAll ends play-all and leaves single playback alone.
func (s *PlaybackService) StopAll() {
	s.orch.StopAll()
}

// Stop halts any playback.
func (s *PlaybackService) Stop() {
	s.orch.Cancel("stop requested")
}

// View renders the transcript with playback state and cache flags.
func (s *PlaybackService) View(ctx context.Context) PlaybackView {
	snap := s.orch.Snapshot()
	messages := s.transcript.Messages()

	view := PlaybackView{
		SessionID: s.transcript.Session(),
		Playback:  snap,
		Messages:  make([]MessageView, 0, len(messages)),
	}
	for _, m := range messages {
		mv := MessageView{Message: m}
		if m.IsAI() {
			mv.Cached = s.cache != nil && s.cache.Has(ctx, m.ID)
		}
		if snap.Session.ActiveMessageID == m.ID {
			mv.Active = true
			mv.Segments = sentence.HighlightSpan(m.Text, sentence.Split(m.Text), snap.Session.Highlight)
		}
		view.Messages = append(view.Messages, mv)
	}
	return view
}

// ClearCache removes all cached audio.
func (s *PlaybackService) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.ClearAll(ctx)
}

// SweepCache removes expired audio and reports how many entries went.
func (s *PlaybackService) SweepCache(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.SweepExpired(ctx)
}

// CacheStats describes the cache backend.
func (s *PlaybackService) CacheStats(ctx context.Context) (map[string]any, error) {
	if s.cache == nil {
		return map[string]any{}, nil
	}
	return s.cache.Stats(ctx)
}
