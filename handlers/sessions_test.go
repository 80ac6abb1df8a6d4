package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonlake/aquiferai/pkg/session"
)

func newSessionRouter(t *testing.T) (http.Handler, session.Store) {
	t.Helper()
	h, sessions := newTestHandlers(t)

	r := chi.NewRouter()
	r.Get("/api/sessions", h.ListSessions)
	r.Post("/api/sessions", h.CreateSession)
	r.Get("/api/sessions/{id}", h.GetSession)
	r.Delete("/api/sessions/{id}", h.DeleteSession)
	return r, sessions
}

func TestSessions_CreateGetDelete(t *testing.T) {
	router, _ := newSessionRouter(t)

	name := "storage screening"
	body, _ := json.Marshal(CreateSessionRequest{Name: &name})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEqual(t, uuid.Nil, created.ID)
	require.NotNil(t, created.Name)
	assert.Equal(t, name, *created.Name)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+created.ID.String(), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessions_List(t *testing.T) {
	router, sessions := newSessionRouter(t)

	for range 3 {
		_, err := sessions.Create(context.Background(), uuid.New(), nil)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Sessions, 2)
	assert.True(t, resp.HasMore)
}

func TestSessions_InvalidID(t *testing.T) {
	router, _ := newSessionRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
