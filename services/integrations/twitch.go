package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/patrickmn/go-cache"

	"linkit/pkg/httpclient"
	"linkit/services/registry"
)

const (
	streamerGroup = "streamerDetails"
	termGroup     = "termDetails"
)

type twitchUsers struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

type eventSubTransport struct {
	Method   string `json:"method"`
	Callback string `json:"callback"`
	Secret   string `json:"secret,omitempty"`
}

type eventSubRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport eventSubTransport `json:"transport"`
}

type eventSubResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

func (in *integrations) twitch() definition {
	return definition{
		service: registry.Service{
			ID:            "twitch",
			Name:          "Twitch",
			Description:   "Service to interact with Twitch API",
			LoginRequired: true,
			Image:         "https://cdn.iconscout.com/icon/free/png-256/twitch-3-569463.png",
			Auth:          authInfo("twitch"),
		},
		events: []registry.Event{
			{
				Type:        registry.Action,
				IDNode:      "streamerOnline",
				Name:        "Streamer Online",
				Description: "Check if a streamer is online",
				FieldGroupTemplates: []registry.FieldGroup{
					group(streamerGroup, "Streamer Details", "Information about the streamer",
						field("broadcasterName", registry.FieldString, "The streamer login name"),
					),
				},
				Check: in.twitchStreamerOnline,
			},
			{
				Type:        registry.Reaction,
				IDNode:      "logTerm",
				Name:        "Log Term",
				Description: "Log a term",
				FieldGroupTemplates: []registry.FieldGroup{
					group(termGroup, "Term Details", "Information about the term",
						field("term", registry.FieldString, "The term to log"),
					),
				},
				Execute: in.twitchLogTerm,
			},
		},
	}
}

func (in *integrations) twitchClient(ctx context.Context, params []registry.FieldGroup) (*httpclient.Client, registry.WorkflowContext, error) {
	client, wc, err := in.userClient(ctx, params, "twitch", in.urls.Twitch)
	if err != nil {
		return nil, wc, err
	}
	if in.TwitchClientID == "" {
		return nil, wc, errors.New("twitch client id is not configured")
	}
	httpclient.SetClientHeader("Client-Id", in.TwitchClientID)(client)
	return client, wc, nil
}

func (in *integrations) broadcasterID(ctx context.Context, client *httpclient.Client, login string) (string, error) {
	key := markerKey("twitch", "login", login)
	if id, ok := in.Cache.Get(key); ok {
		return id.(string), nil
	}
	var users twitchUsers
	if _, err := client.Get("/users",
		httpclient.SetContext(ctx),
		httpclient.SetQueryParam("login", login),
		httpclient.SetResult(&users),
	); err != nil {
		return "", fmt.Errorf("fetch broadcaster id: %w", err)
	}
	if len(users.Data) == 0 {
		return "", fmt.Errorf("streamer %q not found", login)
	}
	in.Cache.Set(key, users.Data[0].ID, cache.DefaultExpiration)
	return users.Data[0].ID, nil
}

// twitchStreamerOnline subscribes to stream.online for the broadcaster. The
// notification is delivered to the webhook handler, so the poll never fires.
func (in *integrations) twitchStreamerOnline(ctx context.Context, params []registry.FieldGroup) (bool, error) {
	login, err := registry.RequireString(params, streamerGroup, "broadcasterName")
	if err != nil {
		return false, err
	}
	client, wc, err := in.twitchClient(ctx, params)
	if err != nil {
		return false, err
	}
	broadcaster, err := in.broadcasterID(ctx, client, login)
	if err != nil {
		return false, err
	}
	hook, err := in.ensureWebhook(ctx, wc, "twitch", broadcaster)
	if err != nil || hook == nil {
		return false, err
	}

	var res eventSubResponse
	_, err = client.Post("/eventsub/subscriptions",
		httpclient.SetContext(ctx),
		httpclient.SetBody(eventSubRequest{
			Type:      "stream.online",
			Version:   "1",
			Condition: map[string]string{"broadcaster_user_id": broadcaster},
			Transport: eventSubTransport{
				Method:   "webhook",
				Callback: in.webhookURL("twitch", hook.ID),
				Secret:   in.TwitchSecret,
			},
		}),
		httpclient.SetResult(&res),
	)
	if err != nil {
		in.dropWebhook(ctx, hook.ID)
		return false, fmt.Errorf("create eventsub subscription: %w", err)
	}
	if len(res.Data) > 0 {
		if err := in.Webhooks.SetSubscription(ctx, hook.ID, res.Data[0].ID); err != nil {
			return false, err
		}
	}
	slog.Info("Twitch subscription created", "workflow_id", wc.WorkflowID, "broadcaster", login, "webhook_id", hook.ID)
	return false, nil
}

func (in *integrations) twitchLogTerm(_ context.Context, params []registry.FieldGroup) (any, error) {
	term, err := registry.RequireString(params, termGroup, "term")
	if err != nil {
		return nil, err
	}
	slog.Info("Twitch term", "term", term)
	return term, nil
}
