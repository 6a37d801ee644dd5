package upload

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"contentflow/internal/platform/respond"

	"github.com/go-chi/chi/v5"
)

// DefaultMaxFieldBytes bounds each non-file form field of an upload.
const DefaultMaxFieldBytes = 1 << 20

// Handler exposes the upload lifecycle over HTTP.
type Handler struct {
	coord         *Coordinator
	log           *slog.Logger
	maxFieldBytes int64
}

// NewHandler returns a Handler for coord. maxFieldBytes <= 0 selects
// DefaultMaxFieldBytes.
func NewHandler(coord *Coordinator, log *slog.Logger, maxFieldBytes int64) *Handler {
	if maxFieldBytes <= 0 {
		maxFieldBytes = DefaultMaxFieldBytes
	}
	return &Handler{coord: coord, log: log, maxFieldBytes: maxFieldBytes}
}

// Routes mounts the upload endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/upload", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/{session_id}/progress", h.Progress)
		r.Post("/{session_id}/cancel", h.Cancel)
	})
}

type submitResponse struct {
	SessionID SessionID `json:"sessionId"`
	Error     *Error    `json:"error,omitempty"`
}

// Submit handles POST /upload. The body is multipart with the fields kind,
// scope_id, title and the optional size sent before the file part; the file
// is streamed to the coordinator without being buffered in memory.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	var req Request
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "malformed multipart body")
			return
		}

		if part.FormName() == "file" {
			req.FileName = part.FileName()
			req.Body = part
			h.submit(w, r, req)
			return
		}

		value, err := h.readField(part)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		switch part.FormName() {
		case "kind":
			req.Kind = KindName(value)
		case "scope_id":
			req.ScopeID = value
		case "title":
			req.Title = value
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				respond.Error(w, http.StatusBadRequest, "size must be a non-negative integer")
				return
			}
			req.Size = n
		}
	}
	respond.Error(w, http.StatusBadRequest, "file part is required")
}

func (h *Handler) readField(p *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(p, h.maxFieldBytes+1))
	if err != nil {
		return "", errors.New("malformed multipart body")
	}
	if int64(len(b)) > h.maxFieldBytes {
		return "", errors.New("form field " + p.FormName() + " is too large")
	}
	return strings.TrimSpace(string(b)), nil
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req Request) {
	id, err := h.coord.Submit(r.Context(), req)
	if err == nil {
		respond.JSON(w, http.StatusAccepted, submitResponse{SessionID: id})
		return
	}

	var uerr *Error
	switch {
	case errors.Is(err, ErrValidation) && errors.As(err, &uerr):
		respond.JSON(w, http.StatusUnprocessableEntity, submitResponse{SessionID: id, Error: uerr})
	case errors.As(err, &uerr):
		respond.JSON(w, http.StatusBadRequest, submitResponse{SessionID: id, Error: uerr})
	case errors.Is(err, ErrCoordinatorClosed):
		respond.Error(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		h.log.Error("submit upload", slog.String("error", err.Error()))
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// Progress handles GET /upload/{session_id}/progress.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	s, err := h.coord.GetProgress(r.Context(), id)
	if err != nil {
		h.writeError(w, "progress", err)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

// Cancel handles POST /upload/{session_id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if err := h.coord.Cancel(r.Context(), id); err != nil {
		h.writeError(w, "cancel", err)
		return
	}
	s, err := h.coord.GetProgress(r.Context(), id)
	if err != nil {
		h.writeError(w, "cancel", err)
		return
	}
	respond.JSON(w, http.StatusAccepted, s)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		respond.Error(w, http.StatusNotFound, "upload session not found")
	case errors.Is(err, ErrSessionClosed):
		respond.Error(w, http.StatusConflict, "upload session already finished")
	default:
		h.log.Error(op, slog.String("error", err.Error()))
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}
