package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatvoice/internal/domain/chat"
	"chatvoice/internal/domain/eventbus"
)

type fakeResolver struct {
	mu        sync.Mutex
	fail      map[string]bool
	gates     map[string]chan struct{}
	ignoreCtx bool
	calls     []string
	returned  atomic.Int32
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{fail: map[string]bool{}, gates: map[string]chan struct{}{}}
}

func (r *fakeResolver) Ensure(ctx context.Context, messageID, text, userID string) ([]byte, bool) {
	defer r.returned.Add(1)
	r.mu.Lock()
	r.calls = append(r.calls, messageID)
	gate := r.gates[messageID]
	fail := r.fail[messageID]
	ignoreCtx := r.ignoreCtx
	r.mu.Unlock()

	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, false
			}
		}
	}
	if fail {
		return nil, false
	}
	return []byte("audio-" + messageID), true
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type orchestratorFixture struct {
	orch     *Orchestrator
	engine   *Engine
	factory  *fakeFactory
	resolver *fakeResolver
	rec      *recorder
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := newFakeFactory()
	bus := eventbus.New()
	rec := newRecorder(t, bus)
	engine := NewEngine(EngineConfig{Factory: f, Bus: bus})
	resolver := newFakeResolver()
	orch := NewOrchestrator(OrchestratorConfig{Player: engine, Resolver: resolver, Bus: bus, UserID: "u1"})
	t.Cleanup(orch.Close)
	return &orchestratorFixture{orch: orch, engine: engine, factory: f, resolver: resolver, rec: rec}
}

func (fx *orchestratorFixture) waitPlaying(t *testing.T, id string) {
	t.Helper()
	waitFor(t, id+" playing", func() bool {
		s := fx.engine.Session()
		return s.State == StatePlaying && s.ActiveMessageID == id
	})
}

func (fx *orchestratorFixture) waitMode(t *testing.T, mode Mode) {
	t.Helper()
	waitFor(t, "mode "+mode.String(), func() bool { return fx.orch.Snapshot().Mode == mode })
}

func ai(id, text string) chat.Message {
	return chat.Message{ID: id, Sender: chat.SenderAI, Text: text}
}

func conversation() []chat.Message {
	return []chat.Message{
		{ID: "u1", Sender: chat.SenderUser, Text: "Hello there."},
		ai("m1", "First reply."),
		{ID: "u2", Sender: chat.SenderUser, Text: "And?"},
		ai("m2", "Second reply."),
		ai("m3", "Third reply."),
	}
}

func TestPlayAllPlaysInOrder(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.factory.autoEnd = 5 * time.Millisecond

	fx.orch.PlayAll(context.Background(), conversation())
	if fx.orch.Snapshot().Mode != ModeGlobal {
		t.Fatal("expected global mode right after PlayAll")
	}

	waitFor(t, "all played", func() bool { return len(fx.factory.playedAudio()) == 3 })
	fx.waitMode(t, ModeOff)

	played := fx.factory.playedAudio()
	want := []string{"audio-m1", "audio-m2", "audio-m3"}
	for i := range want {
		if played[i] != want[i] {
			t.Fatalf("played %v, want %v", played, want)
		}
	}
	if _, maxAlive := fx.factory.counts(); maxAlive != 1 {
		t.Fatalf("max alive handles = %d, want 1", maxAlive)
	}
}

func TestPlayAllSkipsUnresolvable(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.factory.autoEnd = 5 * time.Millisecond
	fx.resolver.fail["m2"] = true

	fx.orch.PlayAll(context.Background(), conversation())
	waitFor(t, "m1 and m3 played", func() bool { return len(fx.factory.playedAudio()) == 2 })
	fx.waitMode(t, ModeOff)

	played := fx.factory.playedAudio()
	if played[0] != "audio-m1" || played[1] != "audio-m3" {
		t.Fatalf("played %v", played)
	}
}

func TestPlayAllSkipsLoadFailure(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.factory.autoEnd = 5 * time.Millisecond
	fx.factory.failLoad["audio-m2"] = true

	fx.orch.PlayAll(context.Background(), conversation())
	waitFor(t, "two played", func() bool { return len(fx.factory.playedAudio()) == 2 })
	fx.waitMode(t, ModeOff)

	if played := fx.factory.playedAudio(); played[1] != "audio-m3" {
		t.Fatalf("played %v", played)
	}
}

func TestPlayAllWithNothingPlayable(t *testing.T) {
	fx := newOrchestratorFixture(t)
	msgs := []chat.Message{
		{ID: "u1", Sender: chat.SenderUser, Text: "Hi."},
		{ID: "m1", Sender: chat.SenderAI, Text: "Typing", Streaming: true},
	}

	fx.orch.PlayAll(context.Background(), msgs)

	if snap := fx.orch.Snapshot(); snap.Mode != ModeOff || snap.Cursor.Active {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if fx.resolver.callCount() != 0 {
		t.Fatal("resolver should not be called")
	}
	fx.rec.mu.Lock()
	defer fx.rec.mu.Unlock()
	if len(fx.rec.modes) != 0 {
		t.Fatalf("unexpected mode events %v", fx.rec.modes)
	}
}

func TestToggleCurrentSkipsToNext(t *testing.T) {
	fx := newOrchestratorFixture(t)

	fx.orch.PlayAll(context.Background(), conversation())
	fx.waitPlaying(t, "m1")

	fx.orch.Toggle(context.Background(), ai("m1", "First reply."))
	fx.waitPlaying(t, "m2")

	snap := fx.orch.Snapshot()
	if snap.Mode != ModeGlobal || snap.Cursor.Index != 1 || snap.MessageID != "m2" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !fx.factory.media(0).isReleased() {
		t.Fatal("m1 handle should be released")
	}
}

func TestToggleRepointsPlayAll(t *testing.T) {
	fx := newOrchestratorFixture(t)

	fx.orch.PlayAll(context.Background(), conversation())
	fx.waitPlaying(t, "m1")

	fx.orch.Toggle(context.Background(), ai("m3", "Third reply."))
	fx.waitPlaying(t, "m3")
	if snap := fx.orch.Snapshot(); snap.Mode != ModeGlobal || snap.Cursor.Index != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	fx.factory.media(1).End()
	fx.waitMode(t, ModeOff)
	if _, maxAlive := fx.factory.counts(); maxAlive != 1 {
		t.Fatalf("max alive handles = %d", maxAlive)
	}
}

func TestToggleOutsideSnapshotLeavesPlayAll(t *testing.T) {
	fx := newOrchestratorFixture(t)

	fx.orch.PlayAll(context.Background(), conversation()[:2])
	fx.waitPlaying(t, "m1")

	fx.orch.Toggle(context.Background(), ai("m9", "Late reply."))
	fx.waitPlaying(t, "m9")

	snap := fx.orch.Snapshot()
	if snap.Mode != ModeSingle || snap.MessageID != "m9" || snap.Cursor.Active {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestToggleSinglePauseResume(t *testing.T) {
	fx := newOrchestratorFixture(t)
	msg := ai("m1", "First reply.")

	fx.orch.Toggle(context.Background(), msg)
	fx.waitPlaying(t, "m1")

	fx.orch.Toggle(context.Background(), msg)
	if s := fx.engine.Session(); s.State != StatePaused {
		t.Fatalf("expected paused, got %s", s.State)
	}
	fx.orch.Toggle(context.Background(), msg)
	if s := fx.engine.Session(); s.State != StatePlaying {
		t.Fatalf("expected playing, got %s", s.State)
	}
	if fx.factory.openCount() != 1 {
		t.Fatal("pause and resume must reuse the handle")
	}
}

func TestToggleOtherMessageReplacesSingle(t *testing.T) {
	fx := newOrchestratorFixture(t)

	fx.orch.Toggle(context.Background(), ai("m1", "First reply."))
	fx.waitPlaying(t, "m1")
	fx.orch.Toggle(context.Background(), ai("m2", "Second reply."))
	fx.waitPlaying(t, "m2")

	if !fx.factory.media(0).isReleased() {
		t.Fatal("m1 handle should be released")
	}
	if snap := fx.orch.Snapshot(); snap.Mode != ModeSingle || snap.MessageID != "m2" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSingleCompletionTurnsOff(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.factory.autoEnd = 5 * time.Millisecond

	fx.orch.Toggle(context.Background(), ai("m1", "First reply."))
	waitFor(t, "m1 played", func() bool { return len(fx.factory.playedAudio()) == 1 })
	fx.waitMode(t, ModeOff)
}

func TestCancelIgnoresLateResolution(t *testing.T) {
	fx := newOrchestratorFixture(t)
	gate := make(chan struct{})
	fx.resolver.gates["m1"] = gate
	fx.resolver.ignoreCtx = true

	fx.orch.Toggle(context.Background(), ai("m1", "First reply."))
	waitFor(t, "resolution started", func() bool { return fx.resolver.callCount() == 1 })

	fx.orch.Cancel("session switch")
	close(gate)
	waitFor(t, "resolution returned", func() bool { return fx.resolver.returned.Load() == 1 })
	time.Sleep(20 * time.Millisecond)

	if fx.factory.openCount() != 0 {
		t.Fatal("late resolution must not start playback")
	}
	if snap := fx.orch.Snapshot(); snap.Mode != ModeOff {
		t.Fatalf("expected off, got %s", snap.Mode)
	}
}

func TestCancelStopsPlayAll(t *testing.T) {
	fx := newOrchestratorFixture(t)

	fx.orch.PlayAll(context.Background(), conversation())
	fx.waitPlaying(t, "m1")

	fx.orch.Cancel("user sent a message")
	if s := fx.engine.Session(); s.State != StateIdle {
		t.Fatalf("expected idle, got %s", s.State)
	}
	if !fx.factory.media(0).isReleased() {
		t.Fatal("handle should be released")
	}

	time.Sleep(20 * time.Millisecond)
	if fx.factory.openCount() != 1 {
		t.Fatal("nothing should play after cancel")
	}
	if snap := fx.orch.Snapshot(); snap.Mode != ModeOff || snap.Cursor.Active {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestStopAllIgnoresSingle(t *testing.T) {
	fx := newOrchestratorFixture(t)

	fx.orch.Toggle(context.Background(), ai("m1", "First reply."))
	fx.waitPlaying(t, "m1")

	fx.orch.StopAll()
	if s := fx.engine.Session(); s.State != StatePlaying {
		t.Fatalf("single playback should continue, got %s", s.State)
	}
}
