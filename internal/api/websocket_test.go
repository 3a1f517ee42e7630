package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/tilawa/core/playback"
)

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) sessionInfo(t *testing.T, id string) SessionInfo {
	t.Helper()
	code, resp := e.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	if code != http.StatusOK {
		t.Fatalf("get session: status %d", code)
	}
	var info SessionInfo
	decodeData(t, resp, &info)
	return info
}

func TestRemoteTransportFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	info := env.createSession(t, CreateSessionRequest{Ref: "2:255"})

	events := dial(t, ts, "/ws/sessions/"+info.ID+"/events")
	player := dial(t, ts, "/ws/sessions/"+info.ID+"/transport")
	waitFor(t, "subscriber and player", func() bool {
		got := env.sessionInfo(t, info.ID)
		return got.Listeners == 1 && got.Connected
	})

	code, resp := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/play", PlayRequest{Position: new(int)})
	if code != http.StatusOK {
		t.Fatalf("play: status %d, error %+v", code, resp.Error)
	}

	player.SetReadDeadline(time.Now().Add(5 * time.Second))
	var cmd TransportCommand
	if err := player.ReadJSON(&cmd); err != nil {
		t.Fatalf("read command: %v", err)
	}
	const loc = "https://cdn.test/128/ar.alafasy/262.mp3"
	if cmd.Type != "play" || cmd.Location != loc || cmd.Speed != 1 {
		t.Fatalf("unexpected command %+v", cmd)
	}

	if err := player.WriteJSON(TransportSignal{Type: "completed", Location: loc}); err != nil {
		t.Fatalf("send completed: %v", err)
	}

	events.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg EventMessage
		if err := events.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if msg.SessionID != info.ID {
			t.Errorf("event for wrong session %q", msg.SessionID)
		}
		if msg.Type != string(playback.EventVerseRead) {
			continue
		}
		if msg.Entry == nil || msg.Entry.ReadID() != "-1:2:255" || !msg.Added {
			t.Fatalf("unexpected verse_read event %+v", msg)
		}
		break
	}

	waitFor(t, "idle after last verse", func() bool {
		return env.sessionInfo(t, info.ID).Playback.State.Kind == playback.Idle
	})

	player.Close()
	waitFor(t, "player detach", func() bool { return !env.sessionInfo(t, info.ID).Connected })
}

func TestRemoteTransportSendsSavedSpeedOnConnect(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	info := env.createSession(t, CreateSessionRequest{Ref: "2:255"})
	if code, resp := env.do(t, http.MethodPost, "/api/sessions/"+info.ID+"/speed", SpeedRequest{Speed: "1.5"}); code != http.StatusOK {
		t.Fatalf("speed: status %d, error %+v", code, resp.Error)
	}

	player := dial(t, ts, "/ws/sessions/"+info.ID+"/transport")
	player.SetReadDeadline(time.Now().Add(5 * time.Second))
	var cmd TransportCommand
	if err := player.ReadJSON(&cmd); err != nil {
		t.Fatalf("read command: %v", err)
	}
	if cmd.Type != "speed" || cmd.Speed != 1.5 {
		t.Errorf("expected speed command 1.5, got %+v", cmd)
	}
}

func TestTransportStreamRejectsLocalSession(t *testing.T) {
	env := newTestEnv(t, nil)
	info := env.createSession(t, CreateSessionRequest{Ref: "2:255", Transport: TransportLocal})

	code, resp := env.do(t, http.MethodGet, "/ws/sessions/"+info.ID+"/transport", nil)
	if code != http.StatusConflict || resp.Error == nil || resp.Error.Code != "NOT_REMOTE" {
		t.Errorf("expected 409 NOT_REMOTE, got %d %+v", code, resp.Error)
	}
}

func TestRemoteTransportIgnoresReplacedPlayer(t *testing.T) {
	rt := NewRemoteTransport()
	rec := &signalRecorder{}
	rt.Bind(rec)

	old := &Client{send: make(chan []byte, 4)}
	current := &Client{send: make(chan []byte, 4)}
	rt.attach(old)
	rt.attach(current)

	rt.handleSignal(old, []byte(`{"type":"completed","location":"a.mp3"}`))
	rt.handleSignal(current, []byte(`{"type":"completed","location":"b.mp3"}`))
	rt.handleSignal(current, []byte(`not json`))

	if len(rec.completed) != 1 || rec.completed[0] != "b.mp3" {
		t.Errorf("expected only the current player's signal, got %v", rec.completed)
	}
	if _, ok := <-old.send; ok {
		t.Error("replaced player should have its send channel closed")
	}

	rt.detach(old)
	if !rt.Connected() {
		t.Error("detaching a replaced player must not drop the current one")
	}
	rt.detach(current)
	if rt.Connected() {
		t.Error("expected no player after detach")
	}
	if len(rec.playing) != 1 || rec.playing[0] {
		t.Errorf("detach should report playing=false once, got %v", rec.playing)
	}
}

func TestRemoteTransportForwardsPlayingLocation(t *testing.T) {
	rt := NewRemoteTransport()
	rec := &signalRecorder{}
	rt.Bind(rec)
	c := &Client{send: make(chan []byte, 4)}
	rt.attach(c)

	rt.handleSignal(c, []byte(`{"type":"playing","location":"a.mp3","playing":false}`))
	rt.handleSignal(c, []byte(`{"type":"playing","playing":true}`))
	rt.detach(c)

	want := []string{"a.mp3", "", ""}
	if len(rec.locations) != len(want) {
		t.Fatalf("playing locations = %q, want %q", rec.locations, want)
	}
	for i := range want {
		if rec.locations[i] != want[i] {
			t.Errorf("playing location %d = %q, want %q", i, rec.locations[i], want[i])
		}
	}
	if rec.playing[0] || !rec.playing[1] || rec.playing[2] {
		t.Errorf("playing = %v", rec.playing)
	}
}

type signalRecorder struct {
	completed []string
	playing   []bool
	locations []string
	failures  []error
}

func (r *signalRecorder) OnTransportCompleted(loc string) { r.completed = append(r.completed, loc) }
func (r *signalRecorder) OnTransportFailed(err error)     { r.failures = append(r.failures, err) }

func (r *signalRecorder) OnTransportPlayingChanged(loc string, playing bool) {
	r.locations = append(r.locations, loc)
	r.playing = append(r.playing, playing)
}

func TestCheckOriginWithConfig(t *testing.T) {
	check := CheckOriginWithConfig(DefaultWebSocketSecurityConfig([]string{"*.example.com"}))

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://example.org", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws/sessions/x/events", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := check(req); got != tc.want {
			t.Errorf("origin %q: got %v, want %v", tc.origin, got, tc.want)
		}
	}
}
