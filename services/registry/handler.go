package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// TokenChecker reports whether a user has connected a provider account.
type TokenChecker interface {
	HasToken(ctx context.Context, userID, provider string) (bool, error)
}

// Handler exposes the catalog over HTTP.
type Handler struct {
	registry *Registry
	tokens   TokenChecker
}

// NewHandler creates a catalog handler. tokens may be nil.
func NewHandler(reg *Registry, tokens TokenChecker) *Handler {
	return &Handler{registry: reg, tokens: tokens}
}

// serviceView is a Service plus the per-user connection flag.
type serviceView struct {
	Service
	Enabled *bool `json:"enabled,omitempty"`
}

// LoadRoutes registers catalog HTTP handlers on the given router.
func (h *Handler) LoadRoutes(parentRouter *mux.Router) {
	parentRouter.Handle("/services", jsonMiddleware(http.HandlerFunc(h.HandleListServices))).Methods("GET")

	router := parentRouter.PathPrefix("/services").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/{id}/events/{eventId}/template", h.HandleNodeTemplate).Methods("GET")
}

// HandleListServices returns every registered service. With ?userId= each
// service is flagged with whether that user holds a token for it.
func (h *Handler) HandleListServices(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	services := h.registry.GetAllServices()

	views := make([]serviceView, 0, len(services))
	for _, svc := range services {
		view := serviceView{Service: svc}
		if userID != "" && h.tokens != nil {
			enabled := !svc.LoginRequired
			if svc.LoginRequired {
				ok, err := h.tokens.HasToken(r.Context(), userID, svc.ID)
				if err != nil {
					slog.Error("Failed to check service token", "service", svc.ID, "error", err)
					writeError(w, http.StatusInternalServerError, "internal server error")
					return
				}
				enabled = ok
			}
			view.Enabled = &enabled
		}
		views = append(views, view)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(views)
}

// HandleNodeTemplate returns an empty node built from an event definition.
func (h *Handler) HandleNodeTemplate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tmpl, err := h.registry.NodeTemplate(vars["id"], vars["eventId"])
	var nf *NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, nf.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(tmpl)
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
