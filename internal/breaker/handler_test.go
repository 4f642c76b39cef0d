package breaker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorportal/core/internal/auth"
)

func newTestRouter(t *testing.T, r *Registry) http.Handler {
	t.Helper()
	h := NewHandler(r)
	router := chi.NewRouter()
	router.Get("/circuits", h.List)
	router.Get("/circuits/summary", h.Summary)
	router.Get("/circuits/{serviceID}", h.Get)
	router.Post("/circuits", h.Action)
	return router
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.VendorClaims{VendorID: "internal", Role: auth.RoleAdmin}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestHandler_List(t *testing.T) {
	r, _ := newTestRegistry(t)
	rec, body := do(t, newTestRouter(t, r), http.MethodGet, "/circuits", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]any)
	assert.Len(t, data, 7)
	first := data[0].(map[string]any)
	assert.Equal(t, "database", first["serviceId"])
	assert.Equal(t, true, first["critical"])
	assert.Equal(t, "closed", first["state"])
}

func TestHandler_Summary(t *testing.T) {
	r, _ := newTestRegistry(t)
	tripOpen(t, r, ServiceClever)

	rec, body := do(t, newTestRouter(t, r), http.MethodGet, "/circuits/summary", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(7), data["total"])
	assert.Equal(t, float64(1), data["open"])
}

func TestHandler_Get(t *testing.T) {
	r, _ := newTestRegistry(t)
	router := newTestRouter(t, r)

	rec, body := do(t, router, http.MethodGet, "/circuits/clever", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "clever", body["data"].(map[string]any)["serviceId"])

	rec, body = do(t, router, http.MethodGet, "/circuits/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "unknown")
}

func TestHandler_Action(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"unknown action", `{"action":"explode"}`, http.StatusBadRequest},
		{"missing action", `{}`, http.StatusBadRequest},
		{"reset without service", `{"action":"reset"}`, http.StatusBadRequest},
		{"reset unknown service", `{"action":"reset","serviceId":"nope"}`, http.StatusNotFound},
		{"reset known service", `{"action":"reset","serviceId":"clever"}`, http.StatusOK},
		{"initialize", `{"action":"initialize"}`, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRegistry(t)
			rec, _ := do(t, newTestRouter(t, r), http.MethodPost, "/circuits", tc.body)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHandler_ResetRecordsActor(t *testing.T) {
	sink := &recordingSink{}
	r, _ := newTestRegistry(t, WithAuditSink(sink))
	tripOpen(t, r, ServiceClever)

	rec, body := do(t, newTestRouter(t, r), http.MethodPost, "/circuits", `{"action":"reset","serviceId":"clever"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", body["data"].(map[string]any)["state"])
	require.Len(t, sink.events, 1)
	assert.Equal(t, "internal", sink.events[0].Actor)
	assert.True(t, r.IsCallAllowed(context.Background(), ServiceClever))
}

func TestHandler_StoreUnavailable(t *testing.T) {
	r := NewRegistry(failingStore{}, DefaultCatalog(testSettings))
	router := newTestRouter(t, r)

	rec, _ := do(t, router, http.MethodGet, "/circuits", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/circuits/clever", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
