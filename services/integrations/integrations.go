// Package integrations defines the built-in services and the check/execute
// functions of their events.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"linkit/pkg/httpclient"
	"linkit/pkg/mail"
	"linkit/services/registry"
)

// ErrNoToken is returned when a user has not connected the provider an event needs.
var ErrNoToken = errors.New("no token for provider")

// ClientProvider returns an HTTP client authenticated as the user on provider.
type ClientProvider interface {
	Client(ctx context.Context, userID, provider string) (*http.Client, error)
}

// BaseURLs are the API roots of each provider. Zero values use the public APIs.
type BaseURLs struct {
	Weather string
	Discord string
	Google  string
	Graph   string
	Spotify string
	Twitch  string
}

func (b BaseURLs) withDefaults() BaseURLs {
	def := func(s, d string) string {
		if s == "" {
			return d
		}
		return s
	}
	return BaseURLs{
		Weather: def(b.Weather, "https://api.open-meteo.com"),
		Discord: def(b.Discord, "https://discord.com/api/v10"),
		Google:  def(b.Google, "https://www.googleapis.com/calendar/v3"),
		Graph:   def(b.Graph, "https://graph.microsoft.com/v1.0"),
		Spotify: def(b.Spotify, "https://api.spotify.com/v1"),
		Twitch:  def(b.Twitch, "https://api.twitch.tv/helix"),
	}
}

// Deps are the collaborators events call out to.
type Deps struct {
	Clients  ClientProvider
	Webhooks WebhookRepo
	Mailer   mail.Sender
	Weather  WeatherClient

	BaseURLs BaseURLs
	// PublicURL is where providers deliver webhooks, without the /api/v1 suffix.
	PublicURL       string
	DiscordBotToken string
	TwitchClientID  string
	TwitchSecret    string

	// Cache holds last-seen markers and resolved ids. A fresh cache is used when nil.
	Cache *cache.Cache
	Now   func() time.Time
}

type definition struct {
	service registry.Service
	events  []registry.Event
}

type integrations struct {
	Deps
	urls BaseURLs
}

// Register adds every built-in service and its events to reg.
func Register(reg *registry.Registry, deps Deps) error {
	if deps.Cache == nil {
		deps.Cache = cache.New(cache.NoExpiration, 10*time.Minute)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Weather == nil {
		deps.Weather = NewOpenMeteoClient(deps.BaseURLs.withDefaults().Weather)
	}
	in := &integrations{Deps: deps, urls: deps.BaseURLs.withDefaults()}

	for _, def := range in.definitions() {
		if err := reg.AddService(def.service); err != nil {
			return fmt.Errorf("register service %s: %w", def.service.ID, err)
		}
		for _, event := range def.events {
			event.ServiceName = def.service.ID
			if err := reg.AddEventToService(def.service.ID, event); err != nil {
				return fmt.Errorf("register event %s: %w", event.IDNode, err)
			}
		}
	}
	return nil
}

func (in *integrations) definitions() []definition {
	return []definition{
		in.testService(),
		in.timer(),
		in.discord(),
		in.gcalendar(),
		in.outlook(),
		in.spotify(),
		in.twitch(),
	}
}

// userClient returns a REST client authenticated as the workflow owner.
func (in *integrations) userClient(ctx context.Context, params []registry.FieldGroup, provider, baseURL string) (*httpclient.Client, registry.WorkflowContext, error) {
	wc, err := registry.ContextFrom(params)
	if err != nil {
		return nil, wc, err
	}
	if in.Clients == nil {
		return nil, wc, fmt.Errorf("%s: %w", provider, ErrNoToken)
	}
	hc, err := in.Clients.Client(ctx, wc.UserID, provider)
	if err != nil {
		return nil, wc, err
	}
	return httpclient.NewWithClient(hc, httpclient.SetBaseURL(baseURL)), wc, nil
}

func authInfo(provider string) *registry.AuthInfo {
	return &registry.AuthInfo{
		URI:         "/api/v1/auth/" + provider + "/redirect",
		CallbackURI: "/api/v1/auth/" + provider + "/callback",
	}
}

func group(id, name, description string, fields ...registry.Field) registry.FieldGroup {
	return registry.FieldGroup{
		ID:          id,
		Name:        name,
		Description: description,
		Type:        "group",
		Fields:      fields,
	}
}

func field(id string, typ registry.FieldType, description string) registry.Field {
	return registry.Field{
		ID:          id,
		Type:        typ,
		Description: description,
		Required:    true,
		Options:     []registry.FieldOption{},
	}
}

func optional(f registry.Field) registry.Field {
	f.Required = false
	return f
}

func markerKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// observe stores current under key and reports whether it differs from a
// previously stored value.
func (in *integrations) observe(key, current string) bool {
	prev, found := in.Cache.Get(key)
	in.Cache.Set(key, current, cache.NoExpiration)
	if !found {
		return false
	}
	return prev.(string) != current
}
