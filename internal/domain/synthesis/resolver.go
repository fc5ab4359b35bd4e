package synthesis

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatvoice/internal/domain/audiocache"
	"chatvoice/internal/domain/eventbus"
	apperrors "chatvoice/internal/platform/errors"
	"chatvoice/internal/platform/logging"
	"chatvoice/internal/platform/observability"
)

// DefaultTimeout bounds one synthesis request.
const DefaultTimeout = 60 * time.Second

// ResolverConfig wires a Resolver. Cache and Channel are required.
type ResolverConfig struct {
	Cache     *audiocache.Cache
	Channel   eventbus.Channel
	Assembler *Assembler
	Timeout   time.Duration
	Logger    *logging.Logger
	Metrics   *observability.Metrics
}

// Resolver makes reply audio available, from the cache or by asking the
// server to synthesize it.
type Resolver struct {
	cache     *audiocache.Cache
	channel   eventbus.Channel
	assembler *Assembler
	timeout   time.Duration
	logger    *logging.Logger
	metrics   *observability.Metrics

	mu           sync.Mutex
	flights      map[string]*flight
	pendingStops int
	stoppedSub   *eventbus.Subscription
}

// flight is one synthesis request shared by every concurrent caller for the
// same message id. It stays registered until its request has returned, so a
// later request for the same id never overlaps it on the channel.
type flight struct {
	ctx       context.Context
	cancel    context.CancelFunc
	waiters   int
	abandoned bool
	finished  bool
	done      chan struct{}
	audio     []byte
	err       error
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscard()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Assembler == nil {
		cfg.Assembler = NewAssembler(cfg.Cache, cfg.Logger)
	}
	r := &Resolver{
		cache:     cfg.Cache,
		channel:   cfg.Channel,
		assembler: cfg.Assembler,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		flights:   make(map[string]*flight),
	}
	r.stoppedSub = r.channel.On(eventbus.EventTTSStopped, func([]byte) { r.stopAcknowledged() })
	return r
}

// Close detaches the resolver from the channel. In-flight requests are not
// affected.
func (r *Resolver) Close() {
	r.stoppedSub.Unsubscribe()
}

// CheckCached reports whether audio for messageID is already cached.
func (r *Resolver) CheckCached(ctx context.Context, messageID string) bool {
	return r.cache.Has(ctx, messageID)
}

// Ensure returns the audio for a message, synthesizing it on a cache miss.
// It never returns an error: every failure is logged and reported as false.
// Cancelling ctx abandons the wait; the request itself is stopped once no
// caller is waiting for it.
func (r *Resolver) Ensure(ctx context.Context, messageID, text, userID string) ([]byte, bool) {
	ctx, end := observability.StartSpan(ctx, "synthesis", "ensure")

	if audio, ok := r.cache.Get(ctx, messageID); ok {
		r.metrics.SynthesisResult("cached", 0)
		end(nil)
		return audio, true
	}

	f, err := r.join(ctx, messageID, text, userID)
	if err != nil {
		end(err)
		return nil, false
	}

	select {
	case <-f.done:
		r.leave(f)
		if f.err != nil {
			end(f.err)
			return nil, false
		}
		end(nil)
		return f.audio, true
	case <-ctx.Done():
		r.leave(f)
		end(ctx.Err())
		return nil, false
	}
}

// join attaches the caller to the live flight for messageID, starting one if
// there is none. An abandoned flight that is still winding down is waited
// out first.
func (r *Resolver) join(ctx context.Context, messageID, text, userID string) (*flight, error) {
	for {
		r.mu.Lock()
		f := r.flights[messageID]
		if f != nil && f.abandoned {
			r.mu.Unlock()
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if f == nil {
			fctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			f = &flight{ctx: fctx, cancel: cancel, done: make(chan struct{})}
			r.flights[messageID] = f
			go r.run(f, messageID, text, userID)
		}
		f.waiters++
		r.mu.Unlock()
		return f, nil
	}
}

func (r *Resolver) run(f *flight, messageID, text, userID string) {
	audio, err := r.synthesize(f.ctx, messageID, text, userID)
	f.cancel()

	r.mu.Lock()
	f.audio, f.err = audio, err
	f.finished = true
	if r.flights[messageID] == f {
		delete(r.flights, messageID)
	}
	r.mu.Unlock()
	close(f.done)
}

// leave detaches a caller. When the last caller goes before the request has
// finished, the request is cancelled.
func (r *Resolver) leave(f *flight) {
	r.mu.Lock()
	f.waiters--
	stop := f.waiters == 0 && !f.finished
	if stop {
		f.abandoned = true
	}
	r.mu.Unlock()

	if stop {
		f.cancel()
	}
}

// soleFlight reports whether messageID is the only request in flight.
func (r *Resolver) soleFlight(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.flights[messageID]
	return ok && len(r.flights) == 1
}

func (r *Resolver) stopRequested() {
	r.mu.Lock()
	r.pendingStops++
	r.mu.Unlock()
}

func (r *Resolver) stopAcknowledged() {
	r.mu.Lock()
	if r.pendingStops > 0 {
		r.pendingStops--
	}
	left := r.pendingStops
	r.mu.Unlock()
	r.logger.DebugTag(logTag, "server confirmed tts:stop (%d unconfirmed)", left)
}

// PendingStops reports tts:stop requests the server has not confirmed yet.
func (r *Resolver) PendingStops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingStops
}

func (r *Resolver) synthesize(ctx context.Context, messageID, text, userID string) ([]byte, error) {
	start := time.Now()

	type outcome struct {
		audio []byte
		err   error
	}
	result := make(chan outcome, 1)

	// mu orders chunk handling against abandonment so no fragment is added
	// after the buffer has been discarded.
	var mu sync.Mutex
	done := false
	finish := func(o outcome) {
		done = true
		result <- o
	}

	subs := []*eventbus.Subscription{
		r.channel.On(eventbus.EventTTSAudio, func(data []byte) {
			var chunk eventbus.TTSAudioData
			if err := eventbus.Decode(data, &chunk); err != nil {
				r.logger.WarnTag(logTag, "bad tts:audio payload: %v", err)
				return
			}
			if chunk.MessageID != messageID {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if done {
				return
			}
			fragment, err := chunk.Audio()
			if err != nil {
				r.assembler.Discard(messageID)
				finish(outcome{err: apperrors.SynthesisFailure("synthesis.decode", err.Error())})
				return
			}
			r.assembler.Add(messageID, fragment)
			if !chunk.IsLast {
				return
			}
			audio, ok := r.assembler.Finalize(ctx, messageID)
			if !ok {
				finish(outcome{err: apperrors.SynthesisFailure("synthesis.finalize", "no audio received")})
				return
			}
			finish(outcome{audio: audio})
		}),
		r.channel.On(eventbus.EventTTSError, func(data []byte) {
			var e eventbus.TTSErrorData
			_ = eventbus.Decode(data, &e)
			if e.MessageID != messageID && (e.MessageID != "" || !r.soleFlight(messageID)) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if done {
				return
			}
			r.assembler.Discard(messageID)
			finish(outcome{err: apperrors.SynthesisFailure("synthesis.server", "server reported error: "+e.Error)})
		}),
		r.channel.On(eventbus.EventChannelError, func(data []byte) {
			var e eventbus.ChannelErrorData
			_ = eventbus.Decode(data, &e)
			mu.Lock()
			defer mu.Unlock()
			if done {
				return
			}
			r.assembler.Discard(messageID)
			finish(outcome{err: apperrors.SynthesisFailure("synthesis.channel", "channel error: "+e.Reason)})
		}),
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	r.logger.InfoTag(logTag, "requesting synthesis for %s", messageID)
	if err := r.channel.Emit(eventbus.EventTTSStart, eventbus.TTSStartData{
		MessageID: messageID,
		Text:      text,
		UserID:    userID,
	}); err != nil {
		mu.Lock()
		done = true
		r.assembler.Discard(messageID)
		mu.Unlock()
		r.logger.ErrorTag(logTag, "emit tts:start for %s failed: %v", messageID, err)
		r.metrics.SynthesisResult("failure", 0)
		return nil, apperrors.Wrap(apperrors.KindSynthesis, "synthesis.emit", "emit tts:start failed", err)
	}

	select {
	case o := <-result:
		if o.err != nil {
			r.logger.WarnTag(logTag, "synthesis for %s failed: %v", messageID, o.err)
			r.metrics.SynthesisResult("failure", time.Since(start))
			return nil, o.err
		}
		r.logger.InfoTag(logTag, "synthesis for %s complete (%d bytes)", messageID, len(o.audio))
		r.metrics.SynthesisResult("success", time.Since(start))
		return o.audio, nil

	case <-ctx.Done():
		mu.Lock()
		finished := done
		done = true
		r.assembler.Discard(messageID)
		mu.Unlock()
		if finished {
			// the result raced the cancellation and is already buffered
			o := <-result
			if o.err == nil {
				r.metrics.SynthesisResult("success", time.Since(start))
				return o.audio, nil
			}
			return nil, o.err
		}

		reason := "abandoned"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		r.logger.WarnTag(logTag, "synthesis for %s %s, sending tts:stop", messageID, reason)
		r.metrics.SynthesisResult(reason, time.Since(start))
		if err := r.channel.Emit(eventbus.EventTTSStop, eventbus.TTSStopData{MessageID: messageID, UserID: userID}); err != nil {
			r.logger.WarnTag(logTag, "emit tts:stop for %s failed: %v", messageID, err)
		} else {
			r.stopRequested()
		}
		return nil, apperrors.SynthesisFailure("synthesis."+reason, "no audio for "+messageID)
	}
}
