package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRepo implements WorkflowRepo for testing without a database.
type stubRepo struct {
	workflow *Workflow
	history  []HistoryEntry
	err      error
}

func (r *stubRepo) Get(_ context.Context, _ string) (*Workflow, error) {
	return r.workflow, r.err
}

func (r *stubRepo) ListHistory(_ context.Context, _ string) ([]HistoryEntry, error) {
	return r.history, r.err
}

type stubRunner struct {
	entry *HistoryEntry
	err   error
	ran   []string
}

func (r *stubRunner) RunWorkflow(_ context.Context, id string) (*HistoryEntry, error) {
	r.ran = append(r.ran, id)
	return r.entry, r.err
}

func testWorkflow() *Workflow {
	workflows, err := ParseSeed(sampleSeed)
	if err != nil {
		panic(err)
	}
	return &workflows[0]
}

func setupRouter(svc *Service) *mux.Router {
	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func TestHandleGetWorkflow_Success(t *testing.T) {
	svc := NewService(&stubRepo{workflow: testWorkflow()}, &stubRunner{})
	router := setupRouter(svc)

	req := httptest.NewRequest("GET", "/api/v1/workflows/"+sampleWorkflowID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result Workflow
	err := json.NewDecoder(w.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, sampleWorkflowID, result.ID)
	require.Len(t, result.Triggers, 1)
	assert.Len(t, result.Triggers[0].Children, 1)
}

func TestHandleGetWorkflow_NotFound(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubRunner{})
	router := setupRouter(svc)

	req := httptest.NewRequest("GET", "/api/v1/workflows/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var result map[string]string
	json.NewDecoder(w.Body).Decode(&result)
	assert.Equal(t, "workflow not found", result["message"])
}

func TestHandleGetWorkflow_RepoError(t *testing.T) {
	svc := NewService(&stubRepo{err: errors.New("connection refused")}, &stubRunner{})
	router := setupRouter(svc)

	req := httptest.NewRequest("GET", "/api/v1/workflows/"+sampleWorkflowID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleRunWorkflow_Success(t *testing.T) {
	runner := &stubRunner{entry: &HistoryEntry{ID: "exec-1", WorkflowID: sampleWorkflowID, Status: StatusSuccess}}
	svc := NewService(&stubRepo{}, runner)
	router := setupRouter(svc)

	req := httptest.NewRequest("POST", "/api/v1/workflows/"+sampleWorkflowID+"/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{sampleWorkflowID}, runner.ran)

	var result RunResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "exec-1", result.ExecutionID)
	assert.Equal(t, sampleWorkflowID, result.WorkflowID)
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestHandleRunWorkflow_NotFound(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubRunner{err: ErrNotFound})
	router := setupRouter(svc)

	req := httptest.NewRequest("POST", "/api/v1/workflows/"+disabledWorkflowID+"/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRunWorkflow_StoreFailure(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubRunner{err: errors.New("db down")})
	router := setupRouter(svc)

	req := httptest.NewRequest("POST", "/api/v1/workflows/"+sampleWorkflowID+"/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleRunWorkflow_WrongMethod(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubRunner{})
	router := setupRouter(svc)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/v1/workflows/" + sampleWorkflowID + "/run"},
		{"DELETE", "/api/v1/workflows/" + sampleWorkflowID},
		{"POST", "/api/v1/workflows/" + sampleWorkflowID + "/history"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, tc.method+" "+tc.path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "method not allowed", body["message"])
	}
}

func TestHandleGetHistory(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	repo := &stubRepo{
		workflow: testWorkflow(),
		history: []HistoryEntry{
			{ID: "h2", WorkflowID: sampleWorkflowID, ExecutionDate: now, Status: StatusPartial, Detail: "sendEmail: smtp timeout"},
			{ID: "h1", WorkflowID: sampleWorkflowID, ExecutionDate: now.Add(-time.Minute), Status: StatusSuccess},
		},
	}
	svc := NewService(repo, &stubRunner{})
	router := setupRouter(svc)

	req := httptest.NewRequest("GET", "/api/v1/workflows/"+sampleWorkflowID+"/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var result struct {
		WorkflowID string         `json:"workflowId"`
		History    []HistoryEntry `json:"history"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, sampleWorkflowID, result.WorkflowID)
	require.Len(t, result.History, 2)
	assert.Equal(t, StatusPartial, result.History[0].Status)
}

func TestHandleGetHistory_EmptyIsArray(t *testing.T) {
	svc := NewService(&stubRepo{workflow: testWorkflow()}, &stubRunner{})
	router := setupRouter(svc)

	req := httptest.NewRequest("GET", "/api/v1/workflows/"+sampleWorkflowID+"/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"history":[]`)
}

func TestHandleGetHistory_UnknownWorkflow(t *testing.T) {
	svc := NewService(&stubRepo{}, &stubRunner{})
	router := setupRouter(svc)

	req := httptest.NewRequest("GET", "/api/v1/workflows/missing/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
