package ordering

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"contentflow/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Collection) {
	t.Helper()
	coll := NewCollection(NewInMemoryRepository(), nil)
	h := NewHandler(coll, logger.Discard())
	r := chi.NewRouter()
	h.Routes(r)
	return r, coll
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeItems(t *testing.T, rec *httptest.ResponseRecorder) map[string]int {
	t.Helper()
	var resp listResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := make(map[string]int, len(resp.Items))
	for _, it := range resp.Items {
		out[it.Title] = it.Order
	}
	return out
}

func seed(t *testing.T, r http.Handler, resource, scope string, titles ...string) []Item {
	t.Helper()
	out := make([]Item, 0, len(titles))
	for _, title := range titles {
		rec := doJSON(t, r, http.MethodPost, "/"+resource, map[string]string{"scope_id": scope, "title": title})
		if rec.Code != http.StatusCreated {
			t.Fatalf("append %s: expected 201, got %d", title, rec.Code)
		}
		var it Item
		if err := json.NewDecoder(rec.Body).Decode(&it); err != nil {
			t.Fatal(err)
		}
		out = append(out, it)
	}
	return out
}

func TestHandler_Append(t *testing.T) {
	r, _ := newTestRouter(t)
	items := seed(t, r, "links", "topic-1", "docs", "faq")
	if items[0].Order != 1 || items[1].Order != 2 {
		t.Errorf("expected orders 1,2 got %d,%d", items[0].Order, items[1].Order)
	}
}

func TestHandler_Append_bad_request(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/links", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/links", map[string]string{"title": "no scope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing scope, got %d", rec.Code)
	}
}

func TestHandler_unknown_resource(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodDelete, "/lectures/abc", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_List(t *testing.T) {
	r, _ := newTestRouter(t)
	seed(t, r, "topics", "chapter-1", "t1", "t2")
	seed(t, r, "topics", "chapter-2", "other")

	rec := doJSON(t, r, http.MethodGet, "/topics?scope_id=chapter-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeItems(t, rec)
	if len(got) != 2 || got["t1"] != 1 || got["t2"] != 2 {
		t.Errorf("unexpected list: %v", got)
	}

	rec = doJSON(t, r, http.MethodGet, "/topics", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without scope_id, got %d", rec.Code)
	}
}

func TestHandler_Get(t *testing.T) {
	r, _ := newTestRouter(t)
	items := seed(t, r, "chapters", "subject-1", "algebra")

	rec := doJSON(t, r, http.MethodGet, "/chapters/"+string(items[0].ID), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/chapters/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Reorder_swap(t *testing.T) {
	r, _ := newTestRouter(t)
	items := seed(t, r, "videos", "topic-1", "video_a", "video_b", "video_c")

	rec := doJSON(t, r, http.MethodPatch, "/videos/"+string(items[0].ID), map[string]int{"order": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeItems(t, rec)
	if got["video_a"] != 3 || got["video_b"] != 2 || got["video_c"] != 1 {
		t.Errorf("unexpected orders after swap: %v", got)
	}
}

func TestHandler_Reorder_move_mode(t *testing.T) {
	r, _ := newTestRouter(t)
	items := seed(t, r, "materials", "topic-1", "a", "b", "c")

	rec := doJSON(t, r, http.MethodPatch, "/materials/"+string(items[0].ID), map[string]any{"order": 3, "mode": "move"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeItems(t, rec)
	if got["b"] != 1 || got["c"] != 2 || got["a"] != 3 {
		t.Errorf("unexpected orders after move: %v", got)
	}

	rec = doJSON(t, r, http.MethodPatch, "/materials/"+string(items[0].ID), map[string]any{"order": 1, "mode": "shuffle"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown mode, got %d", rec.Code)
	}
}

func TestHandler_Reorder_errors(t *testing.T) {
	r, _ := newTestRouter(t)
	items := seed(t, r, "videos", "topic-1", "a", "b")

	rec := doJSON(t, r, http.MethodPatch, "/videos/"+string(items[0].ID), map[string]int{"order": 3})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for out of range, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPatch, "/videos/missing", map[string]int{"order": 1})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPatch, "/videos/"+string(items[0].ID), map[string]string{"title": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without order, got %d", rec.Code)
	}
}

func TestHandler_Remove(t *testing.T) {
	r, coll := newTestRouter(t)
	items := seed(t, r, "videos", "topic-1", "v1", "v2", "v3", "v4")

	rec := doJSON(t, r, http.MethodDelete, "/videos/"+string(items[1].ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	left, _ := coll.List(t.Context(), Scope{Resource: Videos, ID: "topic-1"})
	want := map[ItemID]int{items[0].ID: 1, items[2].ID: 2, items[3].ID: 3}
	if len(left) != 3 {
		t.Fatalf("expected 3 items, got %d", len(left))
	}
	for _, it := range left {
		if want[it.ID] != it.Order {
			t.Errorf("%s: expected order %d, got %d", it.Title, want[it.ID], it.Order)
		}
	}

	rec = doJSON(t, r, http.MethodDelete, "/videos/"+string(items[1].ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}
