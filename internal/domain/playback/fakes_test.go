package playback

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeFactory struct {
	mu          sync.Mutex
	duration    time.Duration
	manualReady bool
	failLoad    map[string]bool
	autoEnd     time.Duration
	openErr     error
	opened      []*fakeMedia
	alive       int
	maxAlive    int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{duration: 3 * time.Second, failLoad: map[string]bool{}}
}

func (f *fakeFactory) Open(audio []byte, events MediaEvents) (Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	m := &fakeMedia{factory: f, audio: string(audio), events: events, duration: f.duration}
	f.opened = append(f.opened, m)
	f.alive++
	if f.alive > f.maxAlive {
		f.maxAlive = f.alive
	}
	if !f.manualReady {
		fail := f.failLoad[m.audio]
		go func() {
			if fail {
				m.events.OnError(errors.New("decode failed"))
				return
			}
			m.events.OnReady()
		}()
	}
	return m, nil
}

func (f *fakeFactory) media(i int) *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.opened) {
		return nil
	}
	return f.opened[i]
}

func (f *fakeFactory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeFactory) counts() (alive, maxAlive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive, f.maxAlive
}

func (f *fakeFactory) playedAudio() []string {
	f.mu.Lock()
	opened := append([]*fakeMedia(nil), f.opened...)
	f.mu.Unlock()
	var out []string
	for _, m := range opened {
		if m.wasPlayed() {
			out = append(out, m.audio)
		}
	}
	return out
}

type fakeMedia struct {
	factory  *fakeFactory
	audio    string
	events   MediaEvents
	duration time.Duration

	mu       sync.Mutex
	playing  bool
	played   bool
	released bool
}

func (m *fakeMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return errors.New("released")
	}
	m.playing = true
	first := !m.played
	m.played = true
	if first && m.factory.autoEnd > 0 {
		go func() {
			time.Sleep(m.factory.autoEnd)
			m.End()
		}()
	}
	return nil
}

func (m *fakeMedia) Pause() error {
	m.mu.Lock()
	m.playing = false
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) SeekStart() error { return nil }

func (m *fakeMedia) Release() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	m.playing = false
	m.mu.Unlock()
	m.factory.mu.Lock()
	m.factory.alive--
	m.factory.mu.Unlock()
}

func (m *fakeMedia) Duration() time.Duration { return m.duration }

func (m *fakeMedia) isReleased() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

func (m *fakeMedia) isPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *fakeMedia) wasPlayed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.played
}

func (m *fakeMedia) live() bool {
	return !m.isReleased()
}

func (m *fakeMedia) Ready() { m.events.OnReady() }

func (m *fakeMedia) End() {
	if m.live() {
		m.events.OnEnded()
	}
}

func (m *fakeMedia) Tick(d time.Duration) {
	if m.live() {
		m.events.OnTimeUpdate(d)
	}
}

func (m *fakeMedia) Fail(err error) {
	if m.live() {
		m.events.OnError(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
