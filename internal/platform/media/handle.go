package media

import (
	"errors"
	"sync"
	"time"

	"chatvoice/internal/domain/playback"
	"chatvoice/internal/platform/logging"
)

const logTag = "Media"

var (
	ErrNotReady = errors.New("media not ready")
	ErrReleased = errors.New("media released")
)

// Sink is an audio output for one clip.
type Sink interface {
	Play() error
	Pause() error
	Rewind() error
	Close() error
	// Drained reports that everything handed to the sink has been played.
	Drained() bool
	Err() error
}

// SinkFunc opens a sink for a decoded clip.
type SinkFunc func(clip *Clip) (Sink, error)

// Options tune handles.
type Options struct {
	UpdateInterval time.Duration
	Logger         *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logging.NewDiscard()
	}
	return o
}

type handle struct {
	events   playback.MediaEvents
	interval time.Duration
	logger   *logging.Logger

	mu        sync.Mutex
	clip      *Clip
	sink      Sink
	offset    time.Duration
	startedAt time.Time
	stopTick  chan struct{}
	released  bool
}

// open starts loading audio in the background. OnReady or OnError follows.
func open(audio []byte, events playback.MediaEvents, opts Options, decode func([]byte) (*Clip, error), newSink SinkFunc) *handle {
	opts = opts.withDefaults()
	h := &handle{events: events, interval: opts.UpdateInterval, logger: opts.Logger}
	go h.load(audio, decode, newSink)
	return h
}

func (h *handle) load(audio []byte, decode func([]byte) (*Clip, error), newSink SinkFunc) {
	clip, err := decode(audio)
	if err != nil {
		h.fail(err)
		return
	}
	sink, err := newSink(clip)
	if err != nil {
		h.fail(err)
		return
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		_ = sink.Close()
		return
	}
	h.clip = clip
	h.sink = sink
	h.mu.Unlock()

	h.logger.DebugTag(logTag, "loaded %d bytes, %s at %d Hz", len(audio), clip.Duration, clip.SampleRate)
	if h.events.OnReady != nil {
		h.events.OnReady()
	}
}

func (h *handle) fail(err error) {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released || h.events.OnError == nil {
		return
	}
	h.events.OnError(err)
}

func (h *handle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	if h.sink == nil {
		return ErrNotReady
	}
	if h.stopTick != nil {
		return nil
	}
	if err := h.sink.Play(); err != nil {
		return err
	}
	h.startedAt = time.Now()
	h.stopTick = make(chan struct{})
	go h.tick(h.stopTick)
	return nil
}

func (h *handle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sink == nil || h.stopTick == nil {
		return nil
	}
	err := h.sink.Pause()
	h.haltLocked()
	return err
}

func (h *handle) SeekStart() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sink == nil {
		return nil
	}
	h.offset = 0
	if h.stopTick != nil {
		h.startedAt = time.Now()
	}
	return h.sink.Rewind()
}

func (h *handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	if h.sink == nil {
		return
	}
	if h.stopTick != nil {
		_ = h.sink.Pause()
		h.haltLocked()
	}
	if err := h.sink.Close(); err != nil {
		h.logger.WarnTag(logTag, "closing sink: %v", err)
	}
}

func (h *handle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clip == nil {
		return 0
	}
	return h.clip.Duration
}

// haltLocked freezes the clock and stops the progress goroutine.
func (h *handle) haltLocked() {
	h.offset += time.Since(h.startedAt)
	h.startedAt = time.Time{}
	close(h.stopTick)
	h.stopTick = nil
}

func (h *handle) tick(stop chan struct{}) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		h.mu.Lock()
		if h.released || h.stopTick != stop {
			h.mu.Unlock()
			return
		}
		if err := h.sink.Err(); err != nil {
			_ = h.sink.Pause()
			h.haltLocked()
			h.mu.Unlock()
			if h.events.OnError != nil {
				h.events.OnError(err)
			}
			return
		}
		elapsed := h.offset + time.Since(h.startedAt)
		duration := h.clip.Duration
		ended := elapsed >= duration && h.sink.Drained()
		if ended {
			h.haltLocked()
			elapsed = duration
		} else if elapsed > duration {
			elapsed = duration
		}
		h.mu.Unlock()

		if h.events.OnTimeUpdate != nil {
			h.events.OnTimeUpdate(elapsed)
		}
		if ended {
			if h.events.OnEnded != nil {
				h.events.OnEnded()
			}
			return
		}
	}
}

// Open returns a handle that decodes audio as MP3 and plays it through a
// sink from newSink.
func Open(audio []byte, events playback.MediaEvents, opts Options, newSink SinkFunc) playback.Media {
	return open(audio, events, opts, Decode, newSink)
}
