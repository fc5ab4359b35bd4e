package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatvoice/internal/app/services"
	"chatvoice/internal/domain/chat"
	"chatvoice/internal/domain/playback"
	"chatvoice/internal/platform/config"
	platformerrors "chatvoice/internal/platform/errors"
	"chatvoice/internal/platform/observability"
	platformtesting "chatvoice/internal/platform/testing"
)

type fakePlayback struct {
	session  string
	messages []chat.Message
	toggled  []string
	mode     playback.Mode
	stopped  string
	cleared  bool
	clearErr error
}

func (f *fakePlayback) SwitchConversation(ctx context.Context, sessionID string, messages []chat.Message) {
	f.session = sessionID
	f.messages = messages
}

func (f *fakePlayback) AppendMessage(ctx context.Context, msg chat.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: id is required", services.ErrInvalidMessage)
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePlayback) Toggle(ctx context.Context, messageID string) error {
	switch messageID {
	case "missing":
		return services.ErrMessageNotFound
	case "u1":
		return services.ErrNotPlayable
	}
	f.toggled = append(f.toggled, messageID)
	return nil
}

func (f *fakePlayback) PlayAll(ctx context.Context) playback.Snapshot {
	if len(f.messages) > 0 {
		f.mode = playback.ModeGlobal
	}
	return playback.Snapshot{Mode: f.mode}
}

func (f *fakePlayback) StopAll() { f.stopped = "all" }
func (f *fakePlayback) Stop()    { f.stopped = "any" }

func (f *fakePlayback) View(ctx context.Context) services.PlaybackView {
	view := services.PlaybackView{SessionID: f.session, Playback: playback.Snapshot{Mode: f.mode}}
	for _, m := range f.messages {
		view.Messages = append(view.Messages, services.MessageView{Message: m})
	}
	return view
}

func (f *fakePlayback) ClearCache(ctx context.Context) error {
	f.cleared = true
	return f.clearErr
}

func (f *fakePlayback) SweepCache(ctx context.Context) (int, error) { return 3, nil }

func (f *fakePlayback) CacheStats(ctx context.Context) (map[string]any, error) {
	return map[string]any{"driver": "memory"}, nil
}

func newTestRouter(t *testing.T, svc PlaybackAPI, metrics *observability.Metrics) http.Handler {
	t.Helper()
	logger := platformtesting.SetupTestLogger(t)
	router, err := Build(Options{Config: config.HTTPConfig{Enabled: true}, Logger: logger, Metrics: metrics})
	platformtesting.AssertNoError(t, err)
	NewPlaybackHandler(svc, logger).Register(router.API)
	return router.Engine
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(path, "/api") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestConversationAndToggle(t *testing.T) {
	svc := &fakePlayback{}
	h := newTestRouter(t, svc, nil)

	body := `{"sessionId":"s1","messages":[{"id":"u1","sender":"USER","text":"Hi."},{"id":"m1","sender":"AI","text":"Hello."}]}`
	rec, resp := do(t, h, http.MethodPost, "/api/conversation", body)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("conversation: %d %+v", rec.Code, resp)
	}
	if svc.session != "s1" || len(svc.messages) != 2 {
		t.Fatalf("service got %q with %d messages", svc.session, len(svc.messages))
	}

	tests := []struct {
		id   string
		code int
	}{
		{"m1", http.StatusAccepted},
		{"missing", http.StatusNotFound},
		{"u1", http.StatusConflict},
	}
	for _, tt := range tests {
		rec, resp := do(t, h, http.MethodPost, "/api/playback/messages/"+tt.id, "")
		if rec.Code != tt.code || resp.Code != tt.code {
			t.Errorf("toggle %s: got %d, want %d", tt.id, rec.Code, tt.code)
		}
	}
	if len(svc.toggled) != 1 || svc.toggled[0] != "m1" {
		t.Fatalf("toggled %v", svc.toggled)
	}
}

func TestConversationRequiresSession(t *testing.T) {
	h := newTestRouter(t, &fakePlayback{}, nil)
	rec, resp := do(t, h, http.MethodPost, "/api/conversation", `{"messages":[]}`)
	if rec.Code != http.StatusBadRequest || resp.Success {
		t.Fatalf("got %d %+v", rec.Code, resp)
	}
}

func TestAppendMessage(t *testing.T) {
	svc := &fakePlayback{}
	h := newTestRouter(t, svc, nil)

	rec, _ := do(t, h, http.MethodPost, "/api/conversation/messages", `{"id":"u2","sender":"USER","text":"Next"}`)
	if rec.Code != http.StatusOK || len(svc.messages) != 1 {
		t.Fatalf("append: %d, %d messages", rec.Code, len(svc.messages))
	}
	rec, _ = do(t, h, http.MethodPost, "/api/conversation/messages", `{"sender":"USER"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("append without id: %d", rec.Code)
	}
}

func TestPlayAllAndStop(t *testing.T) {
	svc := &fakePlayback{}
	h := newTestRouter(t, svc, nil)

	rec, resp := do(t, h, http.MethodPost, "/api/playback/all", "")
	if rec.Code != http.StatusOK || resp.Message != "nothing to play" {
		t.Fatalf("empty play all: %d %+v", rec.Code, resp)
	}

	svc.messages = []chat.Message{{ID: "m1", Sender: chat.SenderAI, Text: "Hi."}}
	rec, _ = do(t, h, http.MethodPost, "/api/playback/all", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("play all: %d", rec.Code)
	}

	do(t, h, http.MethodPost, "/api/playback/stop?scope=all", "")
	if svc.stopped != "all" {
		t.Fatalf("stopped = %q", svc.stopped)
	}
	do(t, h, http.MethodPost, "/api/playback/stop", "")
	if svc.stopped != "any" {
		t.Fatalf("stopped = %q", svc.stopped)
	}

	rec, resp = do(t, h, http.MethodGet, "/api/playback", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("view: %d %+v", rec.Code, resp)
	}
}

func TestCacheRoutes(t *testing.T) {
	svc := &fakePlayback{}
	h := newTestRouter(t, svc, nil)

	rec, _ := do(t, h, http.MethodDelete, "/api/cache", "")
	if rec.Code != http.StatusOK || !svc.cleared {
		t.Fatalf("clear: %d", rec.Code)
	}

	rec, resp := do(t, h, http.MethodPost, "/api/cache/sweep", "")
	data, _ := resp.Data.(map[string]any)
	if rec.Code != http.StatusOK || data["removed"] != float64(3) {
		t.Fatalf("sweep: %d %+v", rec.Code, resp)
	}

	svc.clearErr = errors.New("store down")
	rec, resp = do(t, h, http.MethodDelete, "/api/cache", "")
	if rec.Code != http.StatusInternalServerError || resp.Success {
		t.Fatalf("failing clear: %d %+v", rec.Code, resp)
	}

	svc.clearErr = platformerrors.StoreFailure("redis.clear", errors.New("connection refused"))
	rec, resp = do(t, h, http.MethodDelete, "/api/cache", "")
	if rec.Code != http.StatusServiceUnavailable || resp.Kind != "storage" {
		t.Fatalf("store failure: %d %+v", rec.Code, resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.PlaybackStarted()
	h := newTestRouter(t, &fakePlayback{}, metrics)

	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chatvoice_playback_starts_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestRequestIDAndRequestHistogram(t *testing.T) {
	metrics := observability.NewMetrics()
	h := newTestRouter(t, &fakePlayback{}, metrics)

	req := httptest.NewRequest(http.MethodGet, "/api/playback", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("request id not echoed: %q", got)
	}

	rec, _ = do(t, h, http.MethodGet, "/api/cache", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `chatvoice_http_request_duration_seconds_count{method="GET",route="/api/playback",status="200"} 1`) {
		t.Fatalf("request histogram missing:\n%s", rec.Body.String())
	}
}
