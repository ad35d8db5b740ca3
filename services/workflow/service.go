package workflow

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

// ErrNotFound is returned when a workflow does not exist or is not enabled.
var ErrNotFound = errors.New("workflow not found")

// WorkflowRepo abstracts workflow persistence for testability.
type WorkflowRepo interface {
	Get(ctx context.Context, id string) (*Workflow, error)
	ListHistory(ctx context.Context, workflowID string) ([]HistoryEntry, error)
}

// Runner executes a workflow on demand, bypassing its trigger check.
type Runner interface {
	RunWorkflow(ctx context.Context, workflowID string) (*HistoryEntry, error)
}

// Service wires together the repository and the workflow runner.
type Service struct {
	repo   WorkflowRepo
	runner Runner
}

// NewService creates a Service.
func NewService(repo WorkflowRepo, runner Runner) *Service {
	return &Service{repo: repo, runner: runner}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}/run", s.HandleRunWorkflow).Methods("POST")
	router.HandleFunc("/{id}/history", s.HandleGetHistory).Methods("GET")
}
