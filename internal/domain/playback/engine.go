package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatvoice/internal/domain/eventbus"
	"chatvoice/internal/domain/sentence"
	"chatvoice/internal/domain/timing"
	apperrors "chatvoice/internal/platform/errors"
	"chatvoice/internal/platform/logging"
	"chatvoice/internal/platform/observability"
)

const logTag = "Playback"

// ErrSuperseded is returned by Start when another Start or a Stop replaced
// the handle before it became ready.
var ErrSuperseded = errors.New("playback superseded")

// StartRequest describes one message to play. OnComplete fires once when the
// audio plays to its end; OnError fires once when playback fails after it
// started. Neither fires after Stop or after a newer Start.
type StartRequest struct {
	MessageID  string
	Text       string
	Audio      []byte
	OnComplete func()
	OnError    func(err error)
}

// EngineConfig wires an Engine. Factory is required.
type EngineConfig struct {
	Factory MediaFactory
	Bus     eventbus.Bus
	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Engine owns the single live media handle and the highlight state.
type Engine struct {
	factory MediaFactory
	bus     eventbus.Bus
	logger  *logging.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	handle  *handle
	session Session
}

type handle struct {
	req   StartRequest
	media Media

	loaded   chan struct{}
	loadOnce sync.Once
	loadErr  error

	detached   chan struct{}
	detachOnce sync.Once
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscard()
	}
	return &Engine{
		factory: cfg.Factory,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		session: idleSession(),
	}
}

// Session returns a snapshot of the current playback.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// Start replaces whatever is playing with req and blocks until the new audio
// is playing or has failed to load. Load failures are returned as a
// KindLoad error and do not invoke req.OnError.
func (e *Engine) Start(ctx context.Context, req StartRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(req.Audio) == 0 {
		e.metrics.PlaybackFailed("load")
		return apperrors.LoadFailure("playback.start", fmt.Errorf("no audio for %s", req.MessageID))
	}

	h := &handle{
		req:      req,
		loaded:   make(chan struct{}),
		detached: make(chan struct{}),
	}

	e.mu.Lock()
	var pending []any
	if old := e.handle; old != nil {
		pending = append(pending, e.detachLocked(old, StateStopped)...)
	}
	media, err := e.factory.Open(req.Audio, e.eventsFor(h))
	if err != nil {
		pending = append(pending, e.setStateLocked(StateIdle)...)
		e.mu.Unlock()
		e.publish(pending)
		e.metrics.PlaybackFailed("load")
		return apperrors.LoadFailure("playback.open", err)
	}
	h.media = media
	e.handle = h
	e.session = Session{
		ActiveMessageID: req.MessageID,
		State:           StateLoading,
		Highlight:       -1,
		Spans:           sentence.Split(req.Text),
	}
	pending = append(pending, e.stateEvent())
	e.mu.Unlock()
	e.publish(pending)

	select {
	case <-h.loaded:
	case <-h.detached:
		return ErrSuperseded
	case <-ctx.Done():
		e.abandon(h)
		return ctx.Err()
	}

	e.mu.Lock()
	if e.handle != h {
		e.mu.Unlock()
		return ErrSuperseded
	}
	if h.loadErr != nil || ctx.Err() != nil {
		cause := h.loadErr
		if cause == nil {
			cause = ctx.Err()
		}
		evts := e.detachLocked(h, StateIdle)
		e.mu.Unlock()
		e.publish(evts)
		if h.loadErr == nil {
			return cause
		}
		e.metrics.PlaybackFailed("load")
		e.logger.WarnTag(logTag, "load of %s failed: %v", req.MessageID, cause)
		return apperrors.LoadFailure("playback.load", cause)
	}

	e.session.Timings = timing.Estimate(e.session.Spans, h.media.Duration().Seconds())
	if err := h.media.Play(); err != nil {
		evts := e.detachLocked(h, StateIdle)
		e.mu.Unlock()
		e.publish(evts)
		e.metrics.PlaybackFailed("load")
		return apperrors.LoadFailure("playback.play", err)
	}
	e.session.State = StatePlaying
	evts := []any{e.stateEvent()}
	e.mu.Unlock()

	e.publish(evts)
	e.metrics.PlaybackStarted()
	e.logger.DebugTag(logTag, "playing %s (%s)", req.MessageID, h.media.Duration())
	return nil
}

// Pause pauses playing audio. It is a no-op unless the engine is playing.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.handle == nil || e.session.State != StatePlaying {
		e.mu.Unlock()
		return
	}
	if err := e.handle.media.Pause(); err != nil {
		e.logger.WarnTag(logTag, "pause failed: %v", err)
	}
	e.session.Paused = true
	evts := e.setStateLocked(StatePaused)
	e.mu.Unlock()
	e.publish(evts)
}

// Resume continues paused audio. It is a no-op unless the engine is paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.handle == nil || e.session.State != StatePaused {
		e.mu.Unlock()
		return
	}
	if err := e.handle.media.Play(); err != nil {
		e.logger.WarnTag(logTag, "resume failed: %v", err)
		e.mu.Unlock()
		return
	}
	e.session.Paused = false
	evts := e.setStateLocked(StatePlaying)
	e.mu.Unlock()
	e.publish(evts)
}

// Stop halts playback, rewinds and releases the handle. It never fires
// OnComplete and is safe to call when nothing plays.
func (e *Engine) Stop() {
	e.mu.Lock()
	h := e.handle
	if h == nil {
		e.mu.Unlock()
		return
	}
	evts := e.detachLocked(h, StateStopped)
	e.mu.Unlock()
	e.publish(evts)
}

func (e *Engine) abandon(h *handle) {
	e.mu.Lock()
	if e.handle != h {
		e.mu.Unlock()
		return
	}
	evts := e.detachLocked(h, StateIdle)
	e.mu.Unlock()
	e.publish(evts)
}

// detachLocked pauses, rewinds and releases h, then resets the session. The
// transient end state is reported before idle.
func (e *Engine) detachLocked(h *handle, end State) []any {
	h.detachOnce.Do(func() { close(h.detached) })
	if h.media != nil {
		_ = h.media.Pause()
		_ = h.media.SeekStart()
		h.media.Release()
	}
	if e.handle == h {
		e.handle = nil
	}

	var evts []any
	id := e.session.ActiveMessageID
	if e.session.Highlight != -1 {
		evts = append(evts, eventbus.HighlightData{MessageID: id, Index: -1})
	}
	if end != StateIdle {
		evts = append(evts, eventbus.PlaybackStateData{MessageID: id, State: end.String()})
	}
	e.session = idleSession()
	evts = append(evts, e.stateEvent())
	return evts
}

func (e *Engine) setStateLocked(s State) []any {
	e.session.State = s
	return []any{e.stateEvent()}
}

func (e *Engine) stateEvent() eventbus.PlaybackStateData {
	return eventbus.PlaybackStateData{
		MessageID: e.session.ActiveMessageID,
		State:     e.session.State.String(),
		Paused:    e.session.Paused,
	}
}

func (e *Engine) eventsFor(h *handle) MediaEvents {
	return MediaEvents{
		OnReady: func() {
			h.loadOnce.Do(func() { close(h.loaded) })
		},
		OnError: func(err error) {
			beforeReady := false
			h.loadOnce.Do(func() {
				beforeReady = true
				h.loadErr = err
				close(h.loaded)
			})
			if !beforeReady {
				e.playbackFailed(h, err)
			}
		},
		OnTimeUpdate: func(elapsed time.Duration) {
			e.timeUpdate(h, elapsed)
		},
		OnEnded: func() {
			e.ended(h)
		},
	}
}

func (e *Engine) timeUpdate(h *handle, elapsed time.Duration) {
	e.mu.Lock()
	if e.handle != h || e.session.State != StatePlaying {
		e.mu.Unlock()
		return
	}
	idx := timing.Locate(e.session.Timings, elapsed.Seconds())
	if idx == -1 || idx == e.session.Highlight {
		e.mu.Unlock()
		return
	}
	e.session.Highlight = idx
	evt := eventbus.HighlightData{MessageID: e.session.ActiveMessageID, Index: idx}
	e.mu.Unlock()
	e.publish([]any{evt})
}

func (e *Engine) ended(h *handle) {
	e.mu.Lock()
	if e.handle != h {
		e.mu.Unlock()
		return
	}
	evts := e.detachLocked(h, StateCompleted)
	e.mu.Unlock()

	e.publish(evts)
	e.logger.DebugTag(logTag, "finished %s", h.req.MessageID)
	if h.req.OnComplete != nil {
		h.req.OnComplete()
	}
}

func (e *Engine) playbackFailed(h *handle, cause error) {
	e.mu.Lock()
	if e.handle != h {
		e.mu.Unlock()
		return
	}
	evts := e.detachLocked(h, StateStopped)
	e.mu.Unlock()

	e.publish(evts)
	e.metrics.PlaybackFailed("play")
	e.logger.WarnTag(logTag, "playback of %s failed: %v", h.req.MessageID, cause)
	if h.req.OnError != nil {
		h.req.OnError(apperrors.LoadFailure("playback.media", cause))
	}
}

// publish sends presentation events. It must be called without e.mu held.
func (e *Engine) publish(evts []any) {
	if e.bus == nil {
		return
	}
	for _, evt := range evts {
		switch v := evt.(type) {
		case eventbus.PlaybackStateData:
			e.bus.Publish(eventbus.EventPlaybackState, v)
		case eventbus.HighlightData:
			e.bus.Publish(eventbus.EventPlaybackHighlight, v)
		}
	}
}
