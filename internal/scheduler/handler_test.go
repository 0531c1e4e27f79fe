package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func newTaskRouter(t *testing.T, repo *memoryRepo) http.Handler {
	t.Helper()
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func serveTasks(router http.Handler, method, path, body string, identified bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if identified {
		req = req.WithContext(internalShared.ContextWithIdentity(req.Context(), internalShared.Identity{
			OrganizationID: uuid.New(), UserID: uuid.New(),
		}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerTogglesRegisteredTask(t *testing.T) {
	repo := newMemoryRepo()
	s := New(repo, nil, Config{}, nil, nil)
	var fn TaskFunc = succeed
	require.NoError(t, s.Register(Definition{Code: "accruals.period_end", Name: "Period end", Schedule: Every(time.Hour), Handler: fn}))
	require.NoError(t, s.Ensure(context.Background()))
	router := newTaskRouter(t, repo)

	rec := serveTasks(router, http.MethodGet, "/", "", false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serveTasks(router, http.MethodPatch, "/accruals.period_end", `{"enabled":false}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var task Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	require.Equal(t, "accruals.period_end", task.Code)
	require.False(t, task.IsEnabled)

	rec = serveTasks(router, http.MethodGet, "/", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Tasks []Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Tasks, 1)
	require.False(t, listed.Tasks[0].IsEnabled)

	rec = serveTasks(router, http.MethodPatch, "/missing", `{"enabled":true}`, true)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveTasks(router, http.MethodPatch, "/accruals.period_end", `{}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
