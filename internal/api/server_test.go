package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/FocuswithJustin/tilawa/core/activity"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/core/verse"
	"github.com/FocuswithJustin/tilawa/internal/store"
)

// fakeProvider serves verses straight from bookmark addresses. Page 13 is
// unavailable.
type fakeProvider struct{}

func (fakeProvider) VersesForBookmark(_ context.Context, b content.Bookmark) ([]content.Verse, error) {
	addrs, err := b.Addresses()
	if err != nil {
		return nil, err
	}
	out := make([]content.Verse, len(addrs))
	for i, a := range addrs {
		g, err := verse.ToGlobalIndex(a)
		if err != nil {
			return nil, err
		}
		out[i] = content.Verse{Address: a, Global: g, RemoteAudioResolvable: true}
	}
	return out, nil
}

func (fakeProvider) VersesOnPage(_ context.Context, page int) ([]content.Verse, error) {
	if page == 13 {
		return nil, fmt.Errorf("upstream unavailable")
	}
	out := make([]content.Verse, 0, 3)
	for v := 6; v <= 8; v++ {
		a := verse.Address{Chapter: 2, Verse: v}
		g, _ := verse.ToGlobalIndex(a)
		out = append(out, content.Verse{Address: a, Global: g, Page: page, RemoteAudioResolvable: true})
	}
	return out, nil
}

// localPlayer records play commands and lets tests finish clips.
type localPlayer struct {
	mu       sync.Mutex
	listener playback.Listener
	plays    []string
	speed    float64
}

func (p *localPlayer) Bind(l playback.Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

func (p *localPlayer) Play(_ context.Context, loc string) error {
	p.mu.Lock()
	p.plays = append(p.plays, loc)
	p.mu.Unlock()
	return nil
}

func (p *localPlayer) Pause(context.Context) error { return nil }
func (p *localPlayer) Stop(context.Context) error  { return nil }

func (p *localPlayer) SetSpeed(_ context.Context, m float64) error {
	p.mu.Lock()
	p.speed = m
	p.mu.Unlock()
	return nil
}

func (p *localPlayer) Plays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.plays...)
}

func (p *localPlayer) complete(loc string) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	l.OnTransportCompleted(loc)
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   *store.Store
	player  *localPlayer
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "tilawa.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	player := &localPlayer{}
	cfg := Config{SettleDelay: time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg, Deps{
		Provider: fakeProvider{},
		Audio:    content.CDN{BaseURL: "https://cdn.test/"},
		Library:  st,
		Tracker:  activity.NewTracker(st),
		LocalTransport: func() (playback.Transport, error) {
			return player, nil
		},
	}, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { srv.Close(context.Background()) })

	return &testEnv{srv: srv, handler: srv.Handler(), store: st, player: player}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid JSON response %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, resp
}

// decodeData converts the response payload into dst.
func decodeData(t *testing.T, resp APIResponse, dst any) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("decode data %s: %v", data, err)
	}
}

func (e *testEnv) createSession(t *testing.T, req CreateSessionRequest) SessionInfo {
	t.Helper()
	code, resp := e.do(t, http.MethodPost, "/api/sessions", req)
	if code != http.StatusCreated {
		t.Fatalf("create session: status %d, error %+v", code, resp.Error)
	}
	var info SessionInfo
	decodeData(t, resp, &info)
	return info
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthAndRoot(t *testing.T) {
	env := newTestEnv(t, nil)

	code, resp := env.do(t, http.MethodGet, "/health", nil)
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("GET /health: status %d, success %v", code, resp.Success)
	}
	var health HealthInfo
	decodeData(t, resp, &health)
	if health.Status != "healthy" || health.Version != "test" {
		t.Errorf("unexpected health %+v", health)
	}

	code, resp = env.do(t, http.MethodGet, "/", nil)
	if code != http.StatusOK {
		t.Errorf("GET /: status %d", code)
	}

	code, resp = env.do(t, http.MethodGet, "/nope", nil)
	if code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("GET /nope: status %d, error %+v", code, resp.Error)
	}
}

func TestVerses(t *testing.T) {
	env := newTestEnv(t, nil)

	code, resp := env.do(t, http.MethodGet, "/api/verses/2:255", nil)
	if code != http.StatusOK {
		t.Fatalf("status %d, error %+v", code, resp.Error)
	}
	var got struct {
		Ref    string      `json:"ref"`
		Verses []VerseInfo `json:"verses"`
	}
	decodeData(t, resp, &got)
	if len(got.Verses) != 1 || got.Verses[0].Global != 262 {
		t.Fatalf("unexpected verses %+v", got.Verses)
	}
	if got.Verses[0].Preamble {
		t.Error("2:255 should not require a preamble")
	}
	if resp.Meta == nil || resp.Meta.Total != 1 {
		t.Errorf("expected total 1, got %+v", resp.Meta)
	}

	code, resp = env.do(t, http.MethodGet, "/api/verses/p5", nil)
	if code != http.StatusOK {
		t.Fatalf("page: status %d, error %+v", code, resp.Error)
	}
	decodeData(t, resp, &got)
	if len(got.Verses) != 3 || got.Verses[0].Page != 5 {
		t.Errorf("unexpected page verses %+v", got.Verses)
	}

	code, resp = env.do(t, http.MethodGet, "/api/verses/115:1", nil)
	if code != http.StatusBadRequest {
		t.Errorf("invalid ref: expected 400, got %d", code)
	}
}

func TestLocalSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	info := env.createSession(t, CreateSessionRequest{Ref: "112:1-2", Transport: TransportLocal})
	if info.Playback.QueueLength != 2 || info.Reciter != "ar.alafasy" || info.Bitrate != "128" {
		t.Fatalf("unexpected session %+v", info)
	}
	base := "/api/sessions/" + info.ID

	code, resp := env.do(t, http.MethodPost, base+"/play", PlayRequest{Position: new(int)})
	if code != http.StatusOK {
		t.Fatalf("play: status %d, error %+v", code, resp.Error)
	}
	decodeData(t, resp, &info)
	if info.Playback.State.Kind != playback.PlayingPreamble {
		t.Fatalf("expected preamble first, got %s", info.Playback.State)
	}

	const preamble = "https://cdn.test/128/ar.alafasy/1.mp3"
	waitFor(t, "preamble", func() bool { return len(env.player.Plays()) == 1 })
	if got := env.player.Plays()[0]; got != preamble {
		t.Fatalf("first clip = %s, want %s", got, preamble)
	}

	env.player.complete(preamble)
	waitFor(t, "first verse", func() bool { return len(env.player.Plays()) == 2 })
	const first = "https://cdn.test/128/ar.alafasy/6222.mp3"
	if got := env.player.Plays()[1]; got != first {
		t.Fatalf("second clip = %s, want %s", got, first)
	}

	env.player.complete(first)
	waitFor(t, "second verse", func() bool { return len(env.player.Plays()) == 3 })

	code, resp = env.do(t, http.MethodGet, "/api/activity/today", nil)
	if code != http.StatusOK {
		t.Fatalf("today: status %d", code)
	}
	var today TodayInfo
	decodeData(t, resp, &today)
	if today.Count != 1 || today.Record.VerseIDs[0] != "-1:112:1" {
		t.Errorf("unexpected today %+v", today)
	}

	code, resp = env.do(t, http.MethodPost, base+"/pause", nil)
	if code != http.StatusOK {
		t.Fatalf("pause: status %d, error %+v", code, resp.Error)
	}
	decodeData(t, resp, &info)
	if info.Playback.State.Kind != playback.Paused || info.Playback.State.Position != 1 {
		t.Errorf("expected paused(1), got %s", info.Playback.State)
	}

	code, resp = env.do(t, http.MethodGet, base+"?entries=true", nil)
	if code != http.StatusOK {
		t.Fatalf("get: status %d", code)
	}
	decodeData(t, resp, &info)
	if len(info.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(info.Entries))
	}

	code, _ = env.do(t, http.MethodGet, "/api/sessions", nil)
	if code != http.StatusOK {
		t.Errorf("list: status %d", code)
	}

	if code, _ = env.do(t, http.MethodDelete, base, nil); code != http.StatusOK {
		t.Fatalf("delete: status %d", code)
	}
	if code, _ = env.do(t, http.MethodGet, base, nil); code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", code)
	}
	if code, _ = env.do(t, http.MethodDelete, base, nil); code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", code)
	}
}

func TestRemoteSessionWithoutPlayer(t *testing.T) {
	env := newTestEnv(t, nil)

	info := env.createSession(t, CreateSessionRequest{Ref: "2:255"})
	if info.Transport != TransportRemote || info.Connected {
		t.Fatalf("expected disconnected remote session, got %+v", info)
	}

	code, resp := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/play", PlayRequest{Position: new(int)})
	if code != http.StatusBadGateway || resp.Error == nil || resp.Error.Code != "TRANSPORT" {
		t.Errorf("expected 502 TRANSPORT, got %d %+v", code, resp.Error)
	}
}

func TestPageSessionRecordsKhatm(t *testing.T) {
	env := newTestEnv(t, nil)

	info := env.createSession(t, CreateSessionRequest{Page: 5, Transport: TransportLocal})
	if info.Kind != "page" || info.Page != 5 {
		t.Fatalf("unexpected session %+v", info)
	}

	if code, resp := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/play", PlayRequest{Position: new(int)}); code != http.StatusOK {
		t.Fatalf("play: status %d, error %+v", code, resp.Error)
	}
	waitFor(t, "first verse", func() bool { return len(env.player.Plays()) == 1 })
	env.player.complete(env.player.Plays()[0])

	waitFor(t, "khatm page", func() bool {
		page, err := env.store.KhatmPage(context.Background())
		return err == nil && page == 5
	})
}

func TestCreateSessionErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		req    CreateSessionRequest
		status int
		code   string
	}{
		{"no selector", CreateSessionRequest{}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad ref", CreateSessionRequest{Ref: "nope"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad page", CreateSessionRequest{Page: 700}, http.StatusBadRequest, "OUT_OF_RANGE"},
		{"unknown bookmark", CreateSessionRequest{BookmarkID: "missing"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown collection", CreateSessionRequest{CollectionID: "missing"}, http.StatusNotFound, "NOT_FOUND"},
		{"page unavailable", CreateSessionRequest{Page: 13}, http.StatusBadGateway, "CONTENT_FETCH"},
		{"unknown transport", CreateSessionRequest{Ref: "1:1", Transport: "radio"}, http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := env.do(t, http.MethodPost, "/api/sessions", tc.req)
			if code != tc.status {
				t.Fatalf("expected status %d, got %d (%+v)", tc.status, code, resp.Error)
			}
			if resp.Error == nil || resp.Error.Code != tc.code {
				t.Errorf("expected code %s, got %+v", tc.code, resp.Error)
			}
		})
	}

	code, resp := env.do(t, http.MethodPost, "/api/sessions", map[string]any{"bogus": true})
	if code != http.StatusBadRequest || resp.Error.Code != "INVALID_JSON" {
		t.Errorf("unknown field: expected 400 INVALID_JSON, got %d %+v", code, resp.Error)
	}
}

func TestCollectionSessionUsesCollectionReciter(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	coll, err := env.store.CreateCollection(ctx, content.Collection{Name: "Morning", Reciter: "ar.husary"})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []verse.Address{{Chapter: 36, Verse: 1}, {Chapter: 2, Verse: 255}} {
		b, err := content.NewVerseBookmark("", coll.ID, a)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.store.AddBookmark(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	code, resp := env.do(t, http.MethodPost, "/api/sessions?entries=true", CreateSessionRequest{CollectionID: "Morning"})
	if code != http.StatusCreated {
		t.Fatalf("status %d, error %+v", code, resp.Error)
	}
	var info SessionInfo
	decodeData(t, resp, &info)
	if info.Kind != "collection" || info.Reciter != "ar.husary" {
		t.Errorf("unexpected session %+v", info)
	}
	if len(info.Entries) != 2 || info.Entries[0].CollectionID != coll.ID {
		t.Errorf("unexpected entries %+v", info.Entries)
	}
}

func TestSpeedPersists(t *testing.T) {
	env := newTestEnv(t, nil)

	info := env.createSession(t, CreateSessionRequest{Ref: "1:1-7", Transport: TransportLocal})
	base := "/api/sessions/" + info.ID

	code, resp := env.do(t, http.MethodPost, base+"/speed", SpeedRequest{Speed: "1.25x"})
	if code != http.StatusOK {
		t.Fatalf("speed: status %d, error %+v", code, resp.Error)
	}
	decodeData(t, resp, &info)
	if info.Playback.Speed != 1.25 {
		t.Errorf("expected speed 1.25, got %v", info.Playback.Speed)
	}

	if code, _ = env.do(t, http.MethodPost, base+"/speed", SpeedRequest{Speed: "3x"}); code != http.StatusBadRequest {
		t.Errorf("invalid speed: expected 400, got %d", code)
	}

	next := env.createSession(t, CreateSessionRequest{Ref: "1:1", Transport: TransportLocal})
	if next.Playback.Speed != 1.25 {
		t.Errorf("new session should start at saved speed, got %v", next.Playback.Speed)
	}
}

func TestToggleAndStreaks(t *testing.T) {
	env := newTestEnv(t, nil)

	code, resp := env.do(t, http.MethodPost, "/api/activity/toggle", ToggleRequest{VerseID: "-1:2:255"})
	if code != http.StatusOK {
		t.Fatalf("toggle: status %d, error %+v", code, resp.Error)
	}
	var toggled struct {
		Read   bool            `json:"read"`
		Record activity.Record `json:"record"`
	}
	decodeData(t, resp, &toggled)
	if !toggled.Read || toggled.Record.Count() != 1 {
		t.Errorf("unexpected toggle result %+v", toggled)
	}

	if code, _ = env.do(t, http.MethodPost, "/api/activity/toggle", ToggleRequest{VerseID: "2:255"}); code != http.StatusBadRequest {
		t.Errorf("malformed id: expected 400, got %d", code)
	}

	if code, resp = env.do(t, http.MethodGet, "/api/activity/streaks?top=1", nil); code != http.StatusOK {
		t.Errorf("streaks: status %d, error %+v", code, resp.Error)
	}
	if code, _ = env.do(t, http.MethodGet, "/api/activity/streaks?end=yesterday", nil); code != http.StatusBadRequest {
		t.Errorf("bad end date: expected 400, got %d", code)
	}
	if code, _ = env.do(t, http.MethodGet, "/api/activity/streaks?top=0", nil); code != http.StatusBadRequest {
		t.Errorf("bad top: expected 400, got %d", code)
	}

	code, resp = env.do(t, http.MethodGet, "/api/activity/history", nil)
	if code != http.StatusOK {
		t.Fatalf("history: status %d", code)
	}
	if resp.Meta == nil || resp.Meta.Total < 1 {
		t.Errorf("expected today's record in history, got %+v", resp.Meta)
	}
}

func TestHandlerHeaders(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AllowedOrigins = []string{"https://app.example.com"} })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	for header, want := range map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Content-Security-Policy":     apiCSP,
		"Access-Control-Allow-Origin": "https://app.example.com",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("disallowed preflight: expected 403, got %d", w.Code)
	}
}

func TestHandlerRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Auth = AuthConfig{Enabled: true, APIKey: testAPIKey}
	})

	if code, _ := env.do(t, http.MethodGet, "/api/sessions", nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/health", nil); code != http.StatusOK {
		t.Errorf("health should stay public, got %d", code)
	}
}
