package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"live-transcript-service/internal/app"
	"live-transcript-service/internal/apperrors"
	"live-transcript-service/internal/http/respond"
	"live-transcript-service/internal/service/export"
)

type handlers struct {
	app *app.Application
}

// createSessionRequest is the body of POST /sessions.
type createSessionRequest struct {
	SessionID string `json:"session_id" validate:"required,max=256"`
}

type sessionList struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	ids := h.app.Registry.List()
	respond.JSON(w, http.StatusOK, sessionList{Sessions: ids, Count: len(ids)})
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respond.Error(w, apperrors.InvalidInput("malformed JSON body").WithCause(err))
		return
	}
	if err := h.app.Validator.Validate(req); err != nil {
		respond.Error(w, err)
		return
	}
	if err := h.app.CreateSession(req.SessionID); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID, "status": "active"})
}

func (h *handlers) destroySession(w http.ResponseWriter, r *http.Request) {
	h.app.DestroySession(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) transcript(w http.ResponseWriter, r *http.Request) {
	include := false
	if v := r.URL.Query().Get("include_partials"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respond.Error(w, apperrors.InvalidInput("include_partials must be a boolean").WithCause(err))
			return
		}
		include = parsed
	}
	respond.JSON(w, http.StatusOK, h.app.Export.Live(chi.URLParam(r, "sessionID"), include))
}

func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.app.Export.Stream(chi.URLParam(r, "sessionID")))
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respond.Error(w, apperrors.InvalidInput("format must be one of json, txt, srt").
			WithDetail("format", r.URL.Query().Get("format")).
			WithCause(err))
		return
	}

	res, err := h.app.Export.Export(chi.URLParam(r, "sessionID"), format)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			respond.Error(w, apperrors.InvalidInput(err.Error()))
			return
		}
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

// summaryInput serves the plain-text transcript consumed by the summarizer.
func (h *handlers) summaryInput(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	text, ok := h.app.Export.PlainText(sessionID)
	if !ok {
		respond.JSON(w, http.StatusOK, map[string]string{
			"session_id": sessionID,
			"status":     export.StatusNotFound,
			"content":    "",
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (h *handlers) websocket(w http.ResponseWriter, r *http.Request) {
	h.app.Hub.ServeWS(w, r, chi.URLParam(r, "sessionID"))
}
