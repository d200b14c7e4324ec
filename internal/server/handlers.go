package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fleamkt/watchdog/internal/scheduler"
	"github.com/fleamkt/watchdog/internal/store"
	"github.com/fleamkt/watchdog/internal/supervisor"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func userID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

type statusResponse struct {
	Stats    supervisor.GlobalStats `json:"stats"`
	Sessions []sessionView          `json:"sessions"`
}

type sessionView struct {
	UserID        int64     `json:"user_id"`
	State         string    `json:"state"`
	Queries       []string  `json:"queries"`
	Requests      int64     `json:"requests"`
	ItemsFound    int64     `json:"items_found"`
	Errors        int64     `json:"errors"`
	LastError     string    `json:"last_error,omitempty"`
	LastIteration time.Time `json:"last_iteration"`
	StartedAt     time.Time `json:"started_at"`
}

func viewOf(st scheduler.Status) sessionView {
	return sessionView{
		UserID:        st.UserID,
		State:         st.State.String(),
		Queries:       st.Queries,
		Requests:      st.Requests,
		ItemsFound:    st.ItemsFound,
		Errors:        st.Errors,
		LastError:     st.LastError,
		LastIteration: st.LastIteration,
		StartedAt:     st.StartedAt,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Stats: s.sup.GlobalStats()}
	for _, st := range s.sup.Statuses() {
		resp.Sessions = append(resp.Sessions, viewOf(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Recent())
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.logHandler.Recent())
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	rows, err := s.reqLog.UsageSince(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	st, live := s.sup.UserStatus(id)
	if !live {
		writeErr(w, http.StatusNotFound, "not running")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, op func(int64) error) {
	id, ok := userID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := op(id); err != nil {
		status := http.StatusConflict
		switch {
		case errors.Is(err, supervisor.ErrNotAllowed):
			status = http.StatusForbidden
		case errors.Is(err, scheduler.ErrNotRunning):
			status = http.StatusNotFound
		}
		writeErr(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "ok": true})
}

func (s *Server) handleUserStart(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.sup.StartUser)
}

func (s *Server) handleUserStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.sup.StopUser)
}

func (s *Server) handleUserPause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.sup.PauseUser)
}

func (s *Server) handleUserResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.sup.ResumeUser)
}

func (s *Server) handleUserQueries(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var queries []string
	if err := json.NewDecoder(r.Body).Decode(&queries); err != nil {
		writeErr(w, http.StatusBadRequest, "expected a JSON array of queries")
		return
	}
	if err := s.queries.Put(id, queries); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "queries": len(queries)})
}

func (s *Server) handleUserSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var settings store.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid settings payload")
		return
	}
	if err := s.settings.Put(id, settings); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings.Clamp())
}

func (s *Server) handleAllowList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.allow.List())
}

func (s *Server) handleAllowAdd(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.allow.Add(id); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "ok": true})
}

func (s *Server) handleAllowRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.allow.Remove(id); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "ok": true})
}
