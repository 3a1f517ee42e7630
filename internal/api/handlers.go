package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/FocuswithJustin/tilawa/core/activity"
	"github.com/FocuswithJustin/tilawa/core/content"
	"github.com/FocuswithJustin/tilawa/core/errors"
	"github.com/FocuswithJustin/tilawa/core/verse"
	"github.com/FocuswithJustin/tilawa/internal/logging"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

// VerseInfo is one verse with its derived index values.
type VerseInfo struct {
	content.Verse
	Chapter  string `json:"chapter_name"`
	Part     int    `json:"part"`
	Preamble bool   `json:"requires_preamble"`
}

// TodayInfo is today's reading with badge progress.
type TodayInfo struct {
	Record       activity.Record `json:"record"`
	Count        int             `json:"count"`
	Tier         activity.Tier   `json:"tier"`
	NextTier     *activity.Tier  `json:"next_tier,omitempty"`
	VersesToNext int             `json:"verses_to_next"`
	KhatmPage    int             `json:"khatm_page,omitempty"`
}

// ToggleRequest is the body of POST /api/activity/toggle.
type ToggleRequest struct {
	VerseID string `json:"verse_id"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"name":    "tilawa",
		"version": s.version,
		"endpoints": []string{
			"GET /health",
			"GET /api/sessions",
			"POST /api/sessions",
			"GET /api/sessions/{id}",
			"POST /api/sessions/{id}/play",
			"POST /api/sessions/{id}/pause",
			"POST /api/sessions/{id}/speed",
			"DELETE /api/sessions/{id}",
			"GET /api/activity/today",
			"POST /api/activity/toggle",
			"GET /api/activity/streaks",
			"GET /api/activity/history",
			"GET /api/verses/{ref}",
			"WS /ws/sessions/{id}/events",
			"WS /ws/sessions/{id}/transport",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, HealthInfo{
		Status:   "healthy",
		Version:  s.version,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: s.sessions.Len(),
	})
}

// handleVerses handles GET /api/verses/{ref}.
func (s *Server) handleVerses(w http.ResponseWriter, r *http.Request) {
	ref, err := verse.ParseRef(r.PathValue("ref"))
	if err != nil {
		respondErr(w, r, err)
		return
	}

	var verses []content.Verse
	if ref.Kind == verse.RefPage {
		verses, err = s.deps.Provider.VersesOnPage(r.Context(), ref.Page)
	} else {
		var b content.Bookmark
		if b, err = content.FromRef("", "", ref); err == nil {
			verses, err = s.deps.Provider.VersesForBookmark(r.Context(), b)
		}
	}
	if err != nil {
		respondErr(w, r, err)
		return
	}

	out := make([]VerseInfo, len(verses))
	for i, v := range verses {
		out[i] = VerseInfo{
			Verse:    v,
			Chapter:  verse.ChapterName(v.Address.Chapter),
			Part:     v.Part(),
			Preamble: verse.RequiresPreamble(v.Address),
		}
	}
	respondList(w, http.StatusOK, map[string]any{"ref": ref.String(), "verses": out}, len(out))
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Tracker.Today(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	info := TodayInfo{
		Record:       rec,
		Count:        rec.Count(),
		Tier:         activity.TierFor(rec.Count()),
		VersesToNext: activity.VersesToNextTier(rec.Count()),
	}
	if next, ok := activity.NextTier(rec.Count()); ok {
		info.NextTier = &next
	}
	if page, err := s.deps.Library.KhatmPage(r.Context()); err == nil {
		info.KhatmPage = page
	}
	respond(w, http.StatusOK, info)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, _, err := content.ParseVerseID(req.VerseID); err != nil {
		respondErr(w, r, err)
		return
	}
	rec, read, err := s.deps.Tracker.Toggle(r.Context(), req.VerseID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"verse_id": req.VerseID,
		"read":     read,
		"record":   rec,
		"tier":     activity.TierFor(rec.Count()),
	})
}

func (s *Server) handleStreaks(w http.ResponseWriter, r *http.Request) {
	end := time.Now()
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.ParseInLocation(activity.DateLayout, v, time.Local)
		if err != nil {
			respondErr(w, r, errors.NewParse("date", v, "want YYYY-MM-DD"))
			return
		}
		end = t
	}
	top := 3
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondErr(w, r, errors.NewValidation("top", "must be a positive integer"))
			return
		}
		top = n
	}

	streaks, err := s.deps.Tracker.Streaks(r.Context(), end)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"streaks": streaks,
		"top":     streaks.Top(top),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := time.ParseInLocation(activity.DateLayout, v, time.Local)
		if err != nil {
			respondErr(w, r, errors.NewParse("date", v, "want YYYY-MM-DD"))
			return
		}
		*dst = t
	}
	recs, err := s.deps.Tracker.History(r.Context(), from, to)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondList(w, http.StatusOK, recs, len(recs))
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst as is.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, errors.ErrOutOfRange):
		return http.StatusBadRequest, "OUT_OF_RANGE"
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, errors.ErrClosed):
		return http.StatusGone, "SESSION_CLOSED"
	case errors.Is(err, errors.ErrAudioResolution):
		return http.StatusBadGateway, "AUDIO_RESOLUTION"
	case errors.Is(err, errors.ErrTransport):
		return http.StatusBadGateway, "TRANSPORT"
	case errors.Is(err, errors.ErrContentFetch):
		return http.StatusBadGateway, "CONTENT_FETCH"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	respondError(w, status, code, err.Error())
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func respondList(w http.ResponseWriter, status int, data any, total int) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &APIMeta{Total: total, Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", "error", err)
	}
}
