package ordering

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"contentflow/internal/platform/respond"

	"github.com/go-chi/chi/v5"
)

// Handler exposes ordered collections over HTTP using go-chi.
type Handler struct {
	coll *Collection
	log  *slog.Logger
}

// NewHandler returns a Handler serving the given Collection.
func NewHandler(coll *Collection, log *slog.Logger) *Handler {
	return &Handler{coll: coll, log: log}
}

// Routes mounts the collection endpoints on r. Expected to be mounted at the
// router root so that {resource} is the first path segment.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/{resource}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Append)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Reorder)
		r.Delete("/{id}", h.Remove)
	})
}

type appendRequest struct {
	ScopeID  string            `json:"scope_id"`
	Title    string            `json:"title"`
	Location string            `json:"location"`
	Metadata map[string]string `json:"metadata"`
}

type reorderRequest struct {
	Order *int `json:"order"`
	// Mode "move" shifts the items in between instead of swapping.
	Mode string `json:"mode"`
}

type listResponse struct {
	Items []Item `json:"items"`
}

// Append handles POST /{resource}. Body: {"scope_id": "...", "title": "...", "location": "..."}.
func (h *Handler) Append(w http.ResponseWriter, r *http.Request) {
	resource, ok := h.resource(w, r)
	if !ok {
		return
	}

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid append body", slog.String("error", err.Error()))
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.coll.Append(r.Context(), Draft{
		Resource: resource,
		ScopeID:  ScopeID(req.ScopeID),
		Title:    req.Title,
		Location: req.Location,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.writeError(w, "append", err)
		return
	}

	h.log.Debug("item appended",
		slog.String("resource", string(resource)),
		slog.String("scope_id", req.ScopeID),
		slog.String("id", string(item.ID)),
		slog.Int("order", item.Order))
	respond.JSON(w, http.StatusCreated, item)
}

// List handles GET /{resource}?scope_id=... and returns the scope sorted by order.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	resource, ok := h.resource(w, r)
	if !ok {
		return
	}
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		respond.Error(w, http.StatusBadRequest, "scope_id is required")
		return
	}

	items, err := h.coll.List(r.Context(), Scope{Resource: resource, ID: ScopeID(scopeID)})
	if err != nil {
		h.writeError(w, "list", err)
		return
	}
	respond.JSON(w, http.StatusOK, listResponse{Items: items})
}

// Get handles GET /{resource}/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	resource, ok := h.resource(w, r)
	if !ok {
		return
	}
	item, err := h.coll.Get(r.Context(), resource, ItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	respond.JSON(w, http.StatusOK, item)
}

// Reorder handles PATCH /{resource}/{id}. Body: {"order": 3}.
// The response is the item's whole scope after the change.
func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	resource, ok := h.resource(w, r)
	if !ok {
		return
	}
	id := ItemID(chi.URLParam(r, "id"))

	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Order == nil {
		respond.Error(w, http.StatusBadRequest, "order is required")
		return
	}

	var (
		item Item
		err  error
	)
	switch req.Mode {
	case "", "swap":
		item, err = h.coll.Reorder(r.Context(), resource, id, *req.Order)
	case "move":
		item, err = h.coll.Move(r.Context(), resource, id, *req.Order)
	default:
		respond.Error(w, http.StatusBadRequest, "mode must be swap or move")
		return
	}
	if err != nil {
		h.writeError(w, "reorder", err)
		return
	}

	items, err := h.coll.List(r.Context(), item.Scope())
	if err != nil {
		h.writeError(w, "reorder", err)
		return
	}

	h.log.Info("item reordered",
		slog.String("resource", string(resource)),
		slog.String("id", string(id)),
		slog.Int("order", item.Order))
	respond.JSON(w, http.StatusOK, listResponse{Items: items})
}

// Remove handles DELETE /{resource}/{id}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	resource, ok := h.resource(w, r)
	if !ok {
		return
	}
	id := ItemID(chi.URLParam(r, "id"))

	removed, err := h.coll.Remove(r.Context(), resource, id)
	if err != nil {
		h.writeError(w, "remove", err)
		return
	}

	h.log.Info("item removed",
		slog.String("resource", string(resource)),
		slog.String("id", string(id)),
		slog.String("scope_id", string(removed.ScopeID)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resource(w http.ResponseWriter, r *http.Request) (Resource, bool) {
	resource, err := ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		respond.Error(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return resource, true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownResource):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOutOfRange):
		respond.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidItem):
		respond.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(op+" failed", slog.String("error", err.Error()))
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}
