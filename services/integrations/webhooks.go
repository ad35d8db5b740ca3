package integrations

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"linkit/services/registry"
	"linkit/services/workflow"
)

// Webhook links a provider push subscription to the workflow it triggers.
type Webhook struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	WorkflowID     string    `json:"workflowId"`
	Service        string    `json:"service"`
	ChannelID      string    `json:"channelId,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// WebhookRepo persists webhook subscriptions. Getters return nil, nil when
// nothing matches.
type WebhookRepo interface {
	CreateWebhook(ctx context.Context, hook Webhook) (*Webhook, error)
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	FindWebhook(ctx context.Context, workflowID, service string) (*Webhook, error)
	SetSubscription(ctx context.Context, id, subscriptionID string) error
	DeleteWebhook(ctx context.Context, id string) error
}

// ensureWebhook creates the webhook record for a workflow. It returns nil when
// the workflow is already subscribed.
func (in *integrations) ensureWebhook(ctx context.Context, wc registry.WorkflowContext, service, channelID string) (*Webhook, error) {
	if in.Webhooks == nil {
		return nil, nil
	}
	existing, err := in.Webhooks.FindWebhook(ctx, wc.WorkflowID, service)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}
	return in.Webhooks.CreateWebhook(ctx, Webhook{
		UserID:     wc.UserID,
		WorkflowID: wc.WorkflowID,
		Service:    service,
		ChannelID:  channelID,
	})
}

// dropWebhook removes a webhook whose provider subscription could not be
// created, so the next poll retries.
func (in *integrations) dropWebhook(ctx context.Context, id string) {
	if err := in.Webhooks.DeleteWebhook(ctx, id); err != nil {
		slog.Error("Failed to delete webhook", "webhook_id", id, "error", err)
	}
}

func (in *integrations) webhookURL(service, id string) string {
	return in.PublicURL + "/api/v1/webhooks/" + service + "/" + id
}

// WorkflowRunner runs the reactions below a workflow's roots of one service
// when that provider pushes an event.
type WorkflowRunner interface {
	RunTrigger(ctx context.Context, workflowID, service string) (*workflow.HistoryEntry, error)
}

// Twitch EventSub headers.
const (
	twitchMessageID        = "Twitch-Eventsub-Message-Id"
	twitchMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	twitchMessageSignature = "Twitch-Eventsub-Message-Signature"
	twitchMessageType      = "Twitch-Eventsub-Message-Type"
)

// WebhookHandler receives provider notifications and runs the subscribed workflow.
type WebhookHandler struct {
	repo         WebhookRepo
	runner       WorkflowRunner
	twitchSecret string

	// done is called after a triggered run finishes. Used by tests.
	done func(hook Webhook, err error)
}

// NewWebhookHandler creates a WebhookHandler. twitchSecret verifies EventSub
// signatures and may be empty.
func NewWebhookHandler(repo WebhookRepo, runner WorkflowRunner, twitchSecret string) *WebhookHandler {
	return &WebhookHandler{repo: repo, runner: runner, twitchSecret: twitchSecret}
}

// LoadRoutes registers the webhook endpoint on the given router.
func (h *WebhookHandler) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/webhooks").Subrouter()
	router.StrictSlash(false)
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	router.HandleFunc("/{service}/{id}", h.HandleWebhook).Methods("POST")
}

type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
}

type graphNotifications struct {
	Value []graphNotification `json:"value"`
}

type eventSubChallenge struct {
	Challenge string `json:"challenge"`
}

// HandleWebhook answers provider handshakes and runs the linked workflow on
// notifications.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	service, id := vars["service"], vars["id"]

	// Graph validates the notification URL before the subscription exists.
	if token := r.URL.Query().Get("validationToken"); token != "" && service == "outlook" {
		writeText(w, http.StatusOK, token)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	hook, err := h.repo.GetWebhook(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get webhook", "webhook_id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if hook == nil || hook.Service != service {
		writeJSONError(w, http.StatusNotFound, "webhook not found")
		return
	}

	switch service {
	case "twitch":
		if !h.verifyTwitch(r.Header, body) {
			writeJSONError(w, http.StatusForbidden, "invalid signature")
			return
		}
		switch r.Header.Get(twitchMessageType) {
		case "webhook_callback_verification":
			var c eventSubChallenge
			if err := json.Unmarshal(body, &c); err != nil || c.Challenge == "" {
				writeJSONError(w, http.StatusBadRequest, "missing challenge")
				return
			}
			writeText(w, http.StatusOK, c.Challenge)
			return
		case "revocation":
			slog.Warn("Twitch subscription revoked", "webhook_id", hook.ID, "workflow_id", hook.WorkflowID)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	case "outlook":
		var n graphNotifications
		if err := json.Unmarshal(body, &n); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid notification body")
			return
		}
		if len(n.Value) == 0 || lo.ContainsBy(n.Value, func(v graphNotification) bool { return v.ClientState != hook.ID }) {
			writeJSONError(w, http.StatusForbidden, "client state mismatch")
			return
		}
	}

	slog.Info("Webhook received", "service", service, "webhook_id", hook.ID, "workflow_id", hook.WorkflowID)
	go h.run(context.WithoutCancel(r.Context()), *hook)
	w.WriteHeader(http.StatusAccepted)
}

func (h *WebhookHandler) run(ctx context.Context, hook Webhook) {
	_, err := h.runner.RunTrigger(ctx, hook.WorkflowID, hook.Service)
	if err != nil {
		slog.Error("Webhook workflow run failed", "webhook_id", hook.ID, "workflow_id", hook.WorkflowID, "error", err)
	}
	if h.done != nil {
		h.done(hook, err)
	}
}

// verifyTwitch checks the EventSub HMAC. Without a configured secret every
// message is accepted.
func (h *WebhookHandler) verifyTwitch(header http.Header, body []byte) bool {
	if h.twitchSecret == "" {
		return true
	}
	return hmac.Equal([]byte(header.Get(twitchMessageSignature)),
		[]byte(twitchSignature(h.twitchSecret, header.Get(twitchMessageID), header.Get(twitchMessageTimestamp), body)))
}

func twitchSignature(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(text))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
