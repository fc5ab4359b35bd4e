package synthesis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatvoice/internal/domain/audiocache"
	"chatvoice/internal/domain/audiocache/store"
	"chatvoice/internal/domain/eventbus"
)

// fakeServer answers tts:start on a loopback channel.
type fakeServer struct {
	channel  *eventbus.Loopback
	starts   atomic.Int32
	stops    chan eventbus.TTSStopData
	respond  func(req eventbus.TTSStartData)
	ackStops bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	l := eventbus.NewLoopback()
	t.Cleanup(func() { _ = l.Close() })

	s := &fakeServer{channel: l, stops: make(chan eventbus.TTSStopData, 4)}
	l.On(eventbus.EventTTSStart, func(data []byte) {
		var req eventbus.TTSStartData
		if err := eventbus.Decode(data, &req); err != nil {
			t.Errorf("decode tts:start: %v", err)
			return
		}
		s.starts.Add(1)
		if s.respond != nil {
			s.respond(req)
		}
	})
	l.On(eventbus.EventTTSStop, func(data []byte) {
		var req eventbus.TTSStopData
		_ = eventbus.Decode(data, &req)
		s.stops <- req
		if s.ackStops {
			_ = s.channel.Emit(eventbus.EventTTSStopped, struct{}{})
		}
	})
	return s
}

func (s *fakeServer) sendChunks(messageID string, chunks ...string) {
	for i, c := range chunks {
		_ = s.channel.Emit(eventbus.EventTTSAudio, eventbus.NewTTSAudio(messageID, []byte(c), i == len(chunks)-1))
	}
}

func newTestResolver(s *fakeServer, timeout time.Duration) (*Resolver, *audiocache.Cache) {
	return newResolverOn(s.channel, timeout)
}

func newResolverOn(ch eventbus.Channel, timeout time.Duration) (*Resolver, *audiocache.Cache) {
	cache := audiocache.New(store.NewMemory(store.Config{}))
	r := NewResolver(ResolverConfig{Cache: cache, Channel: ch, Timeout: timeout})
	return r, cache
}

// slowStartChannel holds the first tts:start until release is closed, like a
// websocket write stuck behind a slow peer.
type slowStartChannel struct {
	eventbus.Channel
	release chan struct{}
	once    sync.Once
}

func (c *slowStartChannel) Emit(event string, payload any) error {
	if event == eventbus.EventTTSStart {
		c.once.Do(func() { <-c.release })
	}
	return c.Channel.Emit(event, payload)
}

func TestResolverCacheHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	s := newFakeServer(t)
	r, cache := newTestResolver(s, time.Second)
	cache.Put(ctx, "m1", []byte("cached"))

	audio, ok := r.Ensure(ctx, "m1", "Hi.", "u1")
	if !ok || string(audio) != "cached" {
		t.Fatalf("Ensure = %q, %v", audio, ok)
	}
	if !r.CheckCached(ctx, "m1") {
		t.Fatal("CheckCached should see the entry")
	}
	time.Sleep(20 * time.Millisecond)
	if s.starts.Load() != 0 {
		t.Fatal("cache hit must not request synthesis")
	}
}

func TestResolverSynthesizesOnMiss(t *testing.T) {
	ctx := context.Background()
	s := newFakeServer(t)
	s.respond = func(req eventbus.TTSStartData) {
		if req.Text != "Hello world." || req.UserID != "u1" {
			t.Errorf("unexpected request %+v", req)
		}
		// chunks for another message interleave and must be ignored
		_ = s.channel.Emit(eventbus.EventTTSAudio, eventbus.NewTTSAudio("other", []byte("zz"), false))
		s.sendChunks(req.MessageID, "He", "llo ", "world")
	}
	r, cache := newTestResolver(s, time.Second)

	audio, ok := r.Ensure(ctx, "m1", "Hello world.", "u1")
	if !ok || string(audio) != "Hello world" {
		t.Fatalf("Ensure = %q, %v", audio, ok)
	}
	if cached, ok := cache.Get(ctx, "m1"); !ok || string(cached) != "Hello world" {
		t.Fatalf("audio not cached: %q, %v", cached, ok)
	}
	for _, event := range []string{eventbus.EventTTSAudio, eventbus.EventTTSError, eventbus.EventChannelError} {
		if n := s.channel.HandlerCount(event); n != 0 {
			t.Fatalf("%d listeners left on %s", n, event)
		}
	}
}

func TestResolverServerError(t *testing.T) {
	s := newFakeServer(t)
	s.respond = func(req eventbus.TTSStartData) {
		_ = s.channel.Emit(eventbus.EventTTSAudio, eventbus.NewTTSAudio(req.MessageID, []byte("partial"), false))
		_ = s.channel.Emit(eventbus.EventTTSError, eventbus.TTSErrorData{MessageID: "someone-else"})
		_ = s.channel.Emit(eventbus.EventTTSError, eventbus.TTSErrorData{MessageID: req.MessageID, Error: "quota"})
	}
	r, _ := newTestResolver(s, time.Second)

	if _, ok := r.Ensure(context.Background(), "m1", "Hi.", "u1"); ok {
		t.Fatal("expected failure on tts:error")
	}
	if n := s.channel.HandlerCount(eventbus.EventTTSAudio); n != 0 {
		t.Fatalf("listeners not detached: %d", n)
	}
	if pending := r.assembler.Pending(); len(pending) != 0 {
		t.Fatalf("buffer left behind: %v", pending)
	}
}

func TestResolverChannelError(t *testing.T) {
	s := newFakeServer(t)
	s.respond = func(eventbus.TTSStartData) { s.channel.Fail("connection reset") }
	r, _ := newTestResolver(s, time.Second)

	if _, ok := r.Ensure(context.Background(), "m1", "Hi.", "u1"); ok {
		t.Fatal("expected failure on channel error")
	}
}

func TestResolverEmitFailure(t *testing.T) {
	s := newFakeServer(t)
	r, _ := newTestResolver(s, time.Second)
	_ = s.channel.Close()

	if _, ok := r.Ensure(context.Background(), "m1", "Hi.", "u1"); ok {
		t.Fatal("expected failure when tts:start cannot be sent")
	}
}

func TestResolverTimeoutSendsStop(t *testing.T) {
	s := newFakeServer(t)
	// the server starts streaming but never sends the last chunk
	s.respond = func(req eventbus.TTSStartData) {
		_ = s.channel.Emit(eventbus.EventTTSAudio, eventbus.NewTTSAudio(req.MessageID, []byte("a"), false))
	}
	s.ackStops = true
	r, _ := newTestResolver(s, 50*time.Millisecond)
	defer r.Close()

	start := time.Now()
	if _, ok := r.Ensure(context.Background(), "m1", "Hi.", "u1"); ok {
		t.Fatal("expected timeout failure")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
	select {
	case stop := <-s.stops:
		if stop.MessageID != "m1" || stop.UserID != "u1" {
			t.Fatalf("unexpected tts:stop %+v", stop)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tts:stop not sent on timeout")
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.PendingStops() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := r.PendingStops(); n != 0 {
		t.Fatalf("tts:stopped not consumed, %d stops unconfirmed", n)
	}
	if pending := r.assembler.Pending(); len(pending) != 0 {
		t.Fatalf("buffer left behind: %v", pending)
	}
}

func TestResolverAbandonedSendsStop(t *testing.T) {
	s := newFakeServer(t)
	r, _ := newTestResolver(s, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if _, ok := r.Ensure(ctx, "m1", "Hi.", "u1"); ok {
		t.Fatal("expected failure when the caller gives up")
	}
	select {
	case <-s.stops:
	case <-time.After(2 * time.Second):
		t.Fatal("tts:stop not sent after abandonment")
	}
}

func TestResolverSharesConcurrentRequests(t *testing.T) {
	s := newFakeServer(t)
	gate := make(chan struct{})
	s.respond = func(req eventbus.TTSStartData) {
		go func() {
			<-gate
			s.sendChunks(req.MessageID, "ab", "cd")
		}()
	}
	r, _ := newTestResolver(s, 5*time.Second)

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			audio, ok := r.Ensure(context.Background(), "m1", "Hi.", "u1")
			if ok {
				results[i] = string(audio)
			}
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.starts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := s.starts.Load(); n != 1 {
		t.Fatalf("expected a single tts:start, got %d", n)
	}
	for i, res := range results {
		if res != "abcd" {
			t.Fatalf("caller %d got %q, fragments were doubled or lost", i, res)
		}
	}
}

func TestResolverRetryAfterAbandonDoesNotMixRequests(t *testing.T) {
	s := newFakeServer(t)
	// the server drops the abandoned request and answers the retry only
	s.respond = func(req eventbus.TTSStartData) {
		if req.Text == "retry" {
			s.sendChunks(req.MessageID, "AB", "CD")
		}
	}
	slow := &slowStartChannel{Channel: s.channel, release: make(chan struct{})}
	r, cache := newResolverOn(slow, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan bool, 1)
	go func() {
		_, ok := r.Ensure(ctx, "m1", "first", "u1")
		first <- ok
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	if ok := <-first; ok {
		t.Fatal("abandoned request should fail")
	}

	type result struct {
		audio []byte
		ok    bool
	}
	second := make(chan result, 1)
	go func() {
		audio, ok := r.Ensure(context.Background(), "m1", "retry", "u1")
		second <- result{audio, ok}
	}()
	time.Sleep(30 * time.Millisecond)
	close(slow.release)

	select {
	case res := <-second:
		if !res.ok || string(res.audio) != "ABCD" {
			t.Fatalf("retry = %q, %v; want ABCD", res.audio, res.ok)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("retry never completed")
	}
	if cached, ok := cache.Get(context.Background(), "m1"); !ok || string(cached) != "ABCD" {
		t.Fatalf("cached %q, %v; want ABCD", cached, ok)
	}
	if n := s.starts.Load(); n != 2 {
		t.Fatalf("expected two tts:start requests, got %d", n)
	}
}

func TestResolverUnscopedErrorNeedsSingleFlight(t *testing.T) {
	t.Run("one request", func(t *testing.T) {
		s := newFakeServer(t)
		s.respond = func(eventbus.TTSStartData) {
			_ = s.channel.Emit(eventbus.EventTTSError, eventbus.TTSErrorData{Error: "busy"})
		}
		r, _ := newTestResolver(s, time.Second)
		if _, ok := r.Ensure(context.Background(), "m1", "Hi.", "u1"); ok {
			t.Fatal("an unscoped error should fail the only request")
		}
	})

	t.Run("two requests", func(t *testing.T) {
		s := newFakeServer(t)
		release := make(chan struct{})
		s.respond = func(req eventbus.TTSStartData) {
			if s.starts.Load() == 2 {
				_ = s.channel.Emit(eventbus.EventTTSError, eventbus.TTSErrorData{Error: "busy"})
				close(release)
			}
		}
		r, _ := newTestResolver(s, 5*time.Second)

		var wg sync.WaitGroup
		results := map[string]string{}
		var mu sync.Mutex
		for _, id := range []string{"m1", "m2"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				audio, _ := r.Ensure(context.Background(), id, "Hi.", "u1")
				mu.Lock()
				results[id] = string(audio)
				mu.Unlock()
			}(id)
		}

		<-release
		// the unscoped error was queued before these chunks
		s.sendChunks("m1", "one")
		s.sendChunks("m2", "two")
		wg.Wait()

		if results["m1"] != "one" || results["m2"] != "two" {
			t.Fatalf("unscoped error hit a request it could not be attributed to: %v", results)
		}
	})
}
