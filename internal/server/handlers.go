package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"msgnotify/internal/registry"
	logx "msgnotify/pkg/logx"
)

const maxBody = 64 << 10

type messageRequest struct {
	From string     `json:"from"`
	Body string     `json:"body"`
	At   *time.Time `json:"at,omitempty"`
}

type messageResponse struct {
	NotificationID int  `json:"notification_id"`
	Shown          bool `json:"shown"`
}

type replyRequest struct {
	To             string `json:"to"`
	Body           string `json:"body"`
	NotificationID *int   `json:"notification_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads one JSON object; unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "invalid json"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.From) == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	at := s.now()
	if req.At != nil {
		at = *req.At
	}
	id, err := s.notifier.Deliver(r.Context(), req.From, req.Body, at)
	if err != nil {
		s.log.Error("deliver failed", logx.Addr("from", req.From), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{NotificationID: id, Shown: id != registry.NotFound})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	id := registry.NotFound
	if req.NotificationID != nil {
		id = *req.NotificationID
	}
	s.notifier.ReplySent(r.Context(), req.To, req.Body, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	addr, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || strings.TrimSpace(addr) == "" {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	n, err := s.reader.MarkRead(r.Context(), addr)
	if err != nil {
		s.log.Error("mark read failed", logx.Addr("address", addr), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rows": n})
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.notifier.Active()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		for k, v := range s.health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}
