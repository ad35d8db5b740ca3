package integrations

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkit/services/workflow"
)

type runResult struct {
	hook Webhook
	err  error
}

type stubRunner struct {
	err      error
	services chan string
}

func (s stubRunner) RunTrigger(_ context.Context, workflowID, service string) (*workflow.HistoryEntry, error) {
	if s.services != nil {
		s.services <- service
	}
	if s.err != nil {
		return nil, s.err
	}
	return &workflow.HistoryEntry{ID: "exec-1", WorkflowID: workflowID, Status: workflow.StatusSuccess}, nil
}

func setupWebhooks(t *testing.T, runner WorkflowRunner, secret string) (*mux.Router, *memWebhooks, chan runResult) {
	t.Helper()
	hooks := newMemWebhooks()
	runs := make(chan runResult, 4)
	h := NewWebhookHandler(hooks, runner, secret)
	h.done = func(hook Webhook, err error) { runs <- runResult{hook: hook, err: err} }

	r := mux.NewRouter()
	h.LoadRoutes(r.PathPrefix("/api/v1").Subrouter())
	return r, hooks, runs
}

func addHook(t *testing.T, hooks *memWebhooks, service string) Webhook {
	t.Helper()
	hook, err := hooks.CreateWebhook(context.Background(), Webhook{UserID: testUserID, WorkflowID: testWorkflowID, Service: service})
	require.NoError(t, err)
	return *hook
}

func waitRun(t *testing.T, runs chan runResult) runResult {
	t.Helper()
	select {
	case res := <-runs:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("workflow was not run")
		return runResult{}
	}
}

func TestWebhook_GraphValidation(t *testing.T) {
	r, _, _ := setupWebhooks(t, stubRunner{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/outlook/anything?validationToken=abc%20123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "abc 123", rec.Body.String())
}

func TestWebhook_GraphNotification(t *testing.T) {
	r, hooks, runs := setupWebhooks(t, stubRunner{}, "")
	hook := addHook(t, hooks, "outlook")

	body := `{"value":[{"subscriptionId":"sub-1","clientState":"` + hook.ID + `","changeType":"created"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/outlook/"+hook.ID, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	res := waitRun(t, runs)
	assert.NoError(t, res.err)
	assert.Equal(t, testWorkflowID, res.hook.WorkflowID)
}

func TestWebhook_GraphClientStateMismatch(t *testing.T) {
	r, hooks, runs := setupWebhooks(t, stubRunner{}, "")
	hook := addHook(t, hooks, "outlook")

	body := `{"value":[{"subscriptionId":"sub-1","clientState":"forged"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/outlook/"+hook.ID, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, runs)
}

func TestWebhook_GraphEmptyNotification(t *testing.T) {
	r, hooks, runs := setupWebhooks(t, stubRunner{}, "")
	hook := addHook(t, hooks, "outlook")

	for _, body := range []string{`{}`, `{"value":[]}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/outlook/"+hook.ID, strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, body)
	}
	assert.Empty(t, runs)
}

func TestWebhook_RunsOnlyHookService(t *testing.T) {
	services := make(chan string, 1)
	r, hooks, runs := setupWebhooks(t, stubRunner{services: services}, "")
	hook := addHook(t, hooks, "outlook")

	body := `{"value":[{"subscriptionId":"sub-1","clientState":"` + hook.ID + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/outlook/"+hook.ID, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, waitRun(t, runs).err)
	assert.Equal(t, "outlook", <-services)
}

func TestWebhook_NotFound(t *testing.T) {
	r, hooks, _ := setupWebhooks(t, stubRunner{}, "")
	hook := addHook(t, hooks, "twitch")

	for _, path := range []string{
		"/api/v1/webhooks/twitch/missing",
		"/api/v1/webhooks/outlook/" + hook.ID,
	} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func twitchRequest(t *testing.T, hook Webhook, secret, messageType, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/twitch/"+hook.ID, strings.NewReader(body))
	ts := time.Now().UTC().Format(time.RFC3339)
	req.Header.Set(twitchMessageID, "msg-1")
	req.Header.Set(twitchMessageTimestamp, ts)
	req.Header.Set(twitchMessageType, messageType)
	req.Header.Set(twitchMessageSignature, twitchSignature(secret, "msg-1", ts, []byte(body)))
	return req
}

func TestWebhook_TwitchVerification(t *testing.T) {
	r, hooks, runs := setupWebhooks(t, stubRunner{}, "s3cret")
	hook := addHook(t, hooks, "twitch")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, twitchRequest(t, hook, "s3cret", "webhook_callback_verification", `{"challenge":"pogchamp-kappa-360noscope-vohiyo"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pogchamp-kappa-360noscope-vohiyo", rec.Body.String())
	assert.Empty(t, runs)
}

func TestWebhook_TwitchBadSignature(t *testing.T) {
	r, hooks, runs := setupWebhooks(t, stubRunner{}, "s3cret")
	hook := addHook(t, hooks, "twitch")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, twitchRequest(t, hook, "wrong", "notification", `{"event":{}}`))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, runs)
}

func TestWebhook_TwitchNotification(t *testing.T) {
	r, hooks, runs := setupWebhooks(t, stubRunner{err: errors.New("reaction failed")}, "s3cret")
	hook := addHook(t, hooks, "twitch")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, twitchRequest(t, hook, "s3cret", "notification", `{"event":{"broadcaster_user_login":"shroud"}}`))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	res := waitRun(t, runs)
	assert.ErrorContains(t, res.err, "reaction failed")
}

func TestWebhook_TwitchRevocation(t *testing.T) {
	r, hooks, runs := setupWebhooks(t, stubRunner{}, "s3cret")
	hook := addHook(t, hooks, "twitch")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, twitchRequest(t, hook, "s3cret", "revocation", `{"subscription":{"status":"authorization_revoked"}}`))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, runs)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	r, _, _ := setupWebhooks(t, stubRunner{}, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/twitch/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"message":"method not allowed"}`, rec.Body.String())
}
