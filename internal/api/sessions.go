package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/core/queue"
	"github.com/FocuswithJustin/tilawa/core/verse"
	"github.com/FocuswithJustin/tilawa/internal/logging"
	"github.com/FocuswithJustin/tilawa/internal/store"
)

// TransportKind selects who plays a session's audio.
type TransportKind string

const (
	// TransportRemote waits for a player on /ws/sessions/{id}/transport.
	TransportRemote TransportKind = "remote"
	// TransportLocal plays on the server host.
	TransportLocal TransportKind = "local"
)

// CreateSessionRequest is the body of POST /api/sessions. Kind may be
// omitted when exactly one of the selectors implies it.
type CreateSessionRequest struct {
	Kind         queue.ContextKind `json:"kind,omitempty"`
	Ref          string            `json:"ref,omitempty"`
	BookmarkID   string            `json:"bookmark_id,omitempty"`
	CollectionID string            `json:"collection_id,omitempty"`
	Page         int               `json:"page,omitempty"`
	Reciter      string            `json:"reciter,omitempty"`
	Bitrate      string            `json:"bitrate,omitempty"`
	Transport    TransportKind     `json:"transport,omitempty"`
}

// PlayRequest is the body of POST /api/sessions/{id}/play. Without a
// position playback resumes where it paused.
type PlayRequest struct {
	Position *int `json:"position,omitempty"`
}

// SpeedRequest is the body of POST /api/sessions/{id}/speed.
type SpeedRequest struct {
	Speed string `json:"speed"`
}

// Session is one open reading session.
type Session struct {
	ID        string
	Context   queue.Context
	Reciter   string
	Bitrate   string
	Transport TransportKind
	CreatedAt time.Time

	build  queue.Result
	seq    *playback.Sequencer
	hub    *Hub
	remote *RemoteTransport
}

// SessionInfo is the JSON view of a session.
type SessionInfo struct {
	ID        string            `json:"id"`
	Kind      queue.ContextKind `json:"kind"`
	Page      int               `json:"page,omitempty"`
	Reciter   string            `json:"reciter"`
	Bitrate   string            `json:"bitrate"`
	Transport TransportKind     `json:"transport"`
	Connected bool              `json:"connected"`
	Listeners int               `json:"listeners"`
	Playback  playback.Snapshot `json:"playback"`
	Skipped   int               `json:"skipped"`
	Failures  []queue.Failure   `json:"failures,omitempty"`
	Entries   []queue.Entry     `json:"entries,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// Info snapshots the session. Entries are included when withEntries is set.
func (s *Session) Info(ctx context.Context, withEntries bool) (SessionInfo, error) {
	snap, err := s.seq.Snapshot(ctx)
	if err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{
		ID:        s.ID,
		Kind:      s.Context.Kind,
		Page:      s.Context.Page,
		Reciter:   s.Reciter,
		Bitrate:   s.Bitrate,
		Transport: s.Transport,
		Listeners: s.hub.Len(),
		Playback:  snap,
		Skipped:   s.build.Skipped,
		Failures:  s.build.Failures,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.remote != nil {
		info.Connected = s.remote.Connected()
	}
	if withEntries {
		info.Entries = s.build.Queue.Entries()
	}
	return info, nil
}

// close stops playback and disconnects every client.
func (s *Session) close(ctx context.Context) error {
	s.hub.Broadcast(EventMessage{Type: "closed", SessionID: s.ID})
	err := s.seq.Close(ctx)
	if s.remote != nil {
		s.remote.Close()
	}
	s.hub.Close()
	return err
}

// SessionStore holds open sessions in memory.
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Add stores a session.
func (st *SessionStore) Add(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Get retrieves a session by ID.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Remove deletes a session and returns it.
func (st *SessionStore) Remove(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	return s, ok
}

// List returns all sessions, oldest first.
func (st *SessionStore) List() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Len returns the number of open sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// CloseAll closes and removes every session.
func (st *SessionStore) CloseAll(ctx context.Context) error {
	st.mu.Lock()
	all := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	var errs []error
	for _, s := range all {
		if err := s.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// playbackContext turns a request into a validated playback context.
func (s *Server) playbackContext(ctx context.Context, req CreateSessionRequest) (queue.Context, error) {
	kind := req.Kind
	if kind == "" {
		switch {
		case req.CollectionID != "":
			kind = queue.Collection
		case req.Page != 0:
			kind = queue.PageReading
		case req.BookmarkID != "", req.Ref != "":
			kind = queue.SingleBookmark
		default:
			return queue.Context{}, errors.NewValidation("kind", "one of ref, bookmark_id, collection_id or page is required")
		}
	}

	switch kind {
	case queue.SingleBookmark:
		if req.BookmarkID != "" {
			b, err := s.deps.Library.Bookmark(ctx, req.BookmarkID)
			if err != nil {
				return queue.Context{}, err
			}
			return queue.ForBookmark(b), nil
		}
		b, err := bookmarkFromRef(req.Ref)
		if err != nil {
			return queue.Context{}, err
		}
		return queue.ForBookmark(b), nil

	case queue.Collection:
		c, err := s.deps.Library.Collection(ctx, req.CollectionID)
		if err != nil {
			return queue.Context{}, err
		}
		pc := queue.ForCollection(c.Bookmarks)
		pc.Reciter = c.Reciter
		return pc, nil

	case queue.PageReading:
		return queue.ForPage(req.Page), verse.ValidatePage(req.Page)

	case queue.Unscoped:
		return queue.ForUnscoped(), nil

	default:
		return queue.Context{}, errors.NewValidation("kind", "unknown playback context "+string(kind))
	}
}

func bookmarkFromRef(s string) (content.Bookmark, error) {
	if strings.TrimSpace(s) == "" {
		return content.Bookmark{}, errors.NewValidation("ref", "must not be empty")
	}
	ref, err := verse.ParseRef(s)
	if err != nil {
		return content.Bookmark{}, err
	}
	return content.FromRef(uuid.NewString(), "", ref)
}

// buildQueue builds the session queue. An unscoped session plays the
// single verse named by ref directly.
func (s *Server) buildQueue(ctx context.Context, pc queue.Context, ref string) (queue.Result, error) {
	res, err := s.builder.Build(ctx, pc)
	if err != nil {
		return queue.Result{}, err
	}
	if res.Unscoped {
		b, err := bookmarkFromRef(ref)
		if err != nil {
			return queue.Result{}, err
		}
		if b.Kind != content.KindVerse {
			return queue.Result{}, errors.NewValidation("ref", "an unscoped session plays a single verse")
		}
		verses, err := s.deps.Provider.VersesForBookmark(ctx, b)
		if err != nil {
			return queue.Result{}, err
		}
		entries := make([]queue.Entry, len(verses))
		for i, v := range verses {
			entries[i] = queue.Entry{Verse: v}
		}
		res.Queue = queue.NewQueue(pc, entries)
	}
	if res.Queue.Len() == 0 {
		if len(res.Failures) > 0 {
			return res, res.Failures[0].Err
		}
		return res, errors.NewValidation("context", "nothing to play")
	}
	return res, nil
}

// createSession builds the queue and starts a sequencer for req.
func (s *Server) createSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	pc, err := s.playbackContext(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := s.buildQueue(ctx, pc, req.Ref)
	if err != nil {
		return nil, err
	}

	prefs, err := s.deps.Library.Preferences(ctx, store.Preferences{
		Reciter: s.cfg.Reciter,
		Bitrate: s.cfg.Bitrate,
		Speed:   playback.DefaultSpeed,
	})
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        uuid.NewString(),
		Context:   pc,
		Reciter:   firstNonEmpty(req.Reciter, pc.Reciter, prefs.Reciter),
		Bitrate:   firstNonEmpty(req.Bitrate, prefs.Bitrate),
		Transport: req.Transport,
		CreatedAt: time.Now(),
		build:     res,
		hub:       NewHub(),
	}

	var t playback.Transport
	switch sess.Transport {
	case "", TransportRemote:
		sess.Transport = TransportRemote
		sess.remote = NewRemoteTransport()
		t = sess.remote
	case TransportLocal:
		if s.deps.LocalTransport == nil {
			return nil, errors.NewValidation("transport", "local playback is not available on this server")
		}
		if t, err = s.deps.LocalTransport(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.NewValidation("transport", "unknown transport "+string(sess.Transport))
	}

	opts := playback.Options{
		Resolver:    playback.NewResolver(s.deps.Audio, sess.Reciter, sess.Bitrate),
		Marker:      s.deps.Tracker,
		SettleDelay: s.cfg.SettleDelay,
		SessionID:   sess.ID,
		OnEvent:     s.onEvent(sess),
	}
	if s.deps.Prefetch != nil {
		opts.Prefetcher = s.deps.Prefetch(sess.Reciter, sess.Bitrate)
	}

	go sess.hub.Run()
	sess.seq = playback.New(res.Queue, t, opts)
	if prefs.Speed != playback.DefaultSpeed {
		if err := sess.seq.SetSpeed(ctx, prefs.Speed); err != nil {
			logging.WarnContext(ctx, "could not apply saved speed", "speed", prefs.Speed.String(), "error", err)
		}
	}
	s.sessions.Add(sess)
	logging.InfoContext(logging.WithSessionID(ctx, sess.ID), "session created",
		"kind", pc.Kind, "entries", res.Queue.Len(), "skipped", res.Skipped, "transport", sess.Transport)
	return sess, nil
}

// onEvent fans sequencer events out to subscribers and records khatm
// progress for page readings. It runs on the sequencer goroutine.
func (s *Server) onEvent(sess *Session) func(playback.Event) {
	return func(ev playback.Event) {
		sess.hub.Broadcast(eventMessage(sess.ID, ev))
		if ev.Kind != playback.EventVerseRead || ev.Entry == nil || sess.Context.Kind != queue.PageReading {
			return
		}
		page := ev.Entry.Verse.Page
		if page == 0 {
			page = sess.Context.Page
		}
		go s.recordKhatm(sess.ID, page)
	}
}

func (s *Server) recordKhatm(sessionID string, page int) {
	ctx, cancel := context.WithTimeout(logging.WithSessionID(context.Background(), sessionID), 5*time.Second)
	defer cancel()
	if err := s.deps.Library.SetKhatmPage(ctx, page); err != nil {
		logging.WarnContext(ctx, "failed to record khatm progress", "page", page, "error", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Session not found")
	}
	return sess, ok
}

func (s *Server) respondSession(w http.ResponseWriter, r *http.Request, status int, sess *Session) {
	info, err := sess.Info(r.Context(), r.URL.Query().Get("entries") == "true")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respond(w, status, info)
}

// handleCreateSession handles POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := s.createSession(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	s.respondSession(w, r, http.StatusCreated, sess)
}

// handleListSessions handles GET /api/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info, err := sess.Info(r.Context(), false)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	respondList(w, http.StatusOK, out, len(out))
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		s.respondSession(w, r, http.StatusOK, sess)
	}
}

// handlePlay handles POST /api/sessions/{id}/play.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req PlayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var err error
	if req.Position != nil {
		err = sess.seq.RequestPlay(r.Context(), *req.Position)
	} else {
		err = sess.seq.Resume(r.Context())
	}
	if err != nil {
		respondErr(w, r, err)
		return
	}
	s.respondSession(w, r, http.StatusOK, sess)
}

// handlePause handles POST /api/sessions/{id}/pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.seq.RequestPause(r.Context()); err != nil {
		respondErr(w, r, err)
		return
	}
	s.respondSession(w, r, http.StatusOK, sess)
}

// handleSpeed handles POST /api/sessions/{id}/speed and saves the rate as
// the default for new sessions.
func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SpeedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sp, err := playback.ParseSpeed(req.Speed)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := sess.seq.SetSpeed(r.Context(), sp); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := s.deps.Library.SaveSpeed(r.Context(), sp); err != nil {
		logging.WarnContext(r.Context(), "failed to save speed", "error", err)
	}
	s.respondSession(w, r, http.StatusOK, sess)
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Remove(r.PathValue("id"))
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Session not found")
		return
	}
	if err := sess.close(r.Context()); err != nil {
		logging.WarnContext(r.Context(), "session closed with error", "session_id", sess.ID, "error", err)
	}
	respond(w, http.StatusOK, map[string]string{"message": "Session closed", "id": sess.ID})
}

// handleEventStream handles WS /ws/sessions/{id}/events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := s.ws.upgrade(w, r)
	if err != nil {
		return
	}
	client := newClient(conn, sess.hub, s.ws.MaxMessageRate)
	if !sess.hub.Register(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump(nil, func() { sess.hub.Unregister(client) })
}

// handleTransportStream handles WS /ws/sessions/{id}/transport.
func (s *Server) handleTransportStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if sess.remote == nil {
		respondError(w, http.StatusConflict, "NOT_REMOTE", "Session does not use a remote transport")
		return
	}
	conn, err := s.ws.upgrade(w, r)
	if err != nil {
		return
	}
	client := newClient(conn, nil, s.ws.MaxMessageRate)
	sess.remote.attach(client)
	go client.writePump()
	go client.readPump(
		func(msg []byte) { sess.remote.handleSignal(client, msg) },
		func() { sess.remote.detach(client) },
	)
}
