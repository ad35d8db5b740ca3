package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"linkit/pkg/config"
)

const oauthStateTTL = 10 * time.Minute

var discordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// TokenRepo persists OAuth tokens per user and provider.
type TokenRepo interface {
	GetToken(ctx context.Context, userID, provider string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID, provider string, tok *oauth2.Token) error
}

// OAuthConfigs builds the OAuth client of every provider with a client ID.
// Keys are service IDs.
func OAuthConfigs(cfg config.Config) map[string]*oauth2.Config {
	build := func(c config.OAuthClient, ep oauth2.Endpoint, scopes ...string) *oauth2.Config {
		return &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     ep,
			Scopes:       scopes,
		}
	}
	all := map[string]*oauth2.Config{
		"discord":   build(cfg.Discord.OAuthClient, discordEndpoint, "identify", "guilds"),
		"gcalendar": build(cfg.Google, endpoints.Google, "https://www.googleapis.com/auth/calendar.events"),
		"outlook":   build(cfg.Microsoft, endpoints.AzureAD("common"), "offline_access", "User.Read", "Mail.Send", "Mail.ReadWrite"),
		"spotify":   build(cfg.Spotify, endpoints.Spotify, "user-library-read", "user-modify-playback-state"),
		"twitch":    build(cfg.Twitch.OAuthClient, endpoints.Twitch, "user:read:email"),
	}
	for provider, c := range all {
		if c.ClientID == "" {
			delete(all, provider)
		}
	}
	return all
}

// OAuth hands out token-backed HTTP clients and runs the connect flow that
// stores the tokens.
type OAuth struct {
	configs map[string]*oauth2.Config
	tokens  TokenRepo
	states  *cache.Cache
}

// NewOAuth creates an OAuth for the given provider configs.
func NewOAuth(tokens TokenRepo, configs map[string]*oauth2.Config) *OAuth {
	return &OAuth{
		configs: configs,
		tokens:  tokens,
		states:  cache.New(oauthStateTTL, time.Minute),
	}
}

// Client returns an HTTP client that authenticates as userID on provider.
// Refreshed tokens are written back to the store.
func (o *OAuth) Client(ctx context.Context, userID, provider string) (*http.Client, error) {
	cfg, ok := o.configs[provider]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", provider)
	}
	tok, err := o.tokens.GetToken(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("%s: %w", provider, ErrNoToken)
	}

	src := &savingTokenSource{
		ctx:      context.WithoutCancel(ctx),
		base:     cfg.TokenSource(ctx, tok),
		last:     tok.AccessToken,
		save:     o.tokens.SaveToken,
		userID:   userID,
		provider: provider,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

type savingTokenSource struct {
	ctx      context.Context
	base     oauth2.TokenSource
	save     func(ctx context.Context, userID, provider string, tok *oauth2.Token) error
	userID   string
	provider string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.save(s.ctx, s.userID, s.provider, tok); err != nil {
			slog.Error("Failed to save refreshed token", "provider", s.provider, "user_id", s.userID, "error", err)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

type pendingAuth struct {
	UserID   string
	Provider string
}

// LoadRoutes registers the provider connect flow on the given router.
func (o *OAuth) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/auth").Subrouter()
	router.StrictSlash(false)

	router.HandleFunc("/{provider}/redirect", o.HandleRedirect).Methods("GET")
	router.HandleFunc("/{provider}/callback", o.HandleCallback).Methods("GET")
}

// HandleRedirect sends the user to the provider consent screen.
func (o *OAuth) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	cfg, ok := o.configs[provider]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "provider not found")
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	state := uuid.NewString()
	o.states.Set(state, pendingAuth{UserID: userID, Provider: provider}, cache.DefaultExpiration)
	http.Redirect(w, r, cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), http.StatusFound)
}

// HandleCallback exchanges the authorization code and stores the token.
func (o *OAuth) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	cfg, ok := o.configs[provider]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "provider not found")
		return
	}

	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		writeJSONError(w, http.StatusBadRequest, "authorization denied: "+msg)
		return
	}
	state, code := q.Get("state"), q.Get("code")
	v, found := o.states.Get(state)
	if !found || code == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}
	o.states.Delete(state)
	pending := v.(pendingAuth)
	if pending.Provider != provider {
		writeJSONError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}

	tok, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("OAuth exchange failed", "provider", provider, "error", err)
		writeJSONError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	if err := o.tokens.SaveToken(r.Context(), pending.UserID, provider, tok); err != nil {
		slog.Error("Failed to save token", "provider", provider, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	slog.Info("Provider connected", "provider", provider, "user_id", pending.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"provider": provider, "userId": pending.UserID})
}
