package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

// Store persists provider tokens and webhook subscriptions in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// InitSchema creates the token and webhook tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tokens (
			user_id       TEXT NOT NULL,
			provider      TEXT NOT NULL,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			token_type    TEXT NOT NULL DEFAULT '',
			expires_at    TIMESTAMPTZ,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, provider)
		);
		CREATE TABLE IF NOT EXISTS webhooks (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			workflow_id     TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			service         TEXT NOT NULL,
			channel_id      TEXT NOT NULL DEFAULT '',
			subscription_id TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (workflow_id, service)
		)
	`)
	if err != nil {
		return fmt.Errorf("init integrations schema: %w", err)
	}
	return nil
}

// GetToken returns the stored token of a user for provider. Returns nil, nil if not found.
func (s *Store) GetToken(ctx context.Context, userID, provider string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_type, expires_at
		FROM tokens WHERE user_id = $1 AND provider = $2
	`, userID, provider).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if expiry != nil {
		tok.Expiry = *expiry
	}
	return &tok, nil
}

// SaveToken inserts or replaces the token of a user for provider. An empty
// refresh token keeps the stored one, since providers omit it on refresh.
func (s *Store) SaveToken(ctx context.Context, userID, provider string, tok *oauth2.Token) error {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO tokens (user_id, provider, access_token, refresh_token, token_type, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), tokens.refresh_token),
			token_type    = EXCLUDED.token_type,
			expires_at    = EXCLUDED.expires_at,
			updated_at    = NOW()
	`, userID, provider, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiry)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// HasToken reports whether the user has connected provider.
func (s *Store) HasToken(ctx context.Context, userID, provider string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tokens WHERE user_id = $1 AND provider = $2)
	`, userID, provider).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check token: %w", err)
	}
	return exists, nil
}

// CreateWebhook inserts a webhook and returns it with its generated ID.
func (s *Store) CreateWebhook(ctx context.Context, hook Webhook) (*Webhook, error) {
	if hook.ID == "" {
		hook.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO webhooks (id, user_id, workflow_id, service, channel_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, hook.ID, hook.UserID, hook.WorkflowID, hook.Service, hook.ChannelID).Scan(&hook.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return &hook, nil
}

// GetWebhook returns a webhook by ID. Returns nil, nil if not found.
func (s *Store) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	return s.getWebhook(ctx, `WHERE id = $1`, id)
}

// FindWebhook returns the webhook of a workflow for service. Returns nil, nil if not found.
func (s *Store) FindWebhook(ctx context.Context, workflowID, service string) (*Webhook, error) {
	return s.getWebhook(ctx, `WHERE workflow_id = $1 AND service = $2`, workflowID, service)
}

// SetSubscription stores the provider-side subscription ID of a webhook.
func (s *Store) SetSubscription(ctx context.Context, id, subscriptionID string) error {
	_, err := s.db.Exec(ctx, `UPDATE webhooks SET subscription_id = $2 WHERE id = $1`, id, subscriptionID)
	if err != nil {
		return fmt.Errorf("set webhook subscription: %w", err)
	}
	return nil
}

// DeleteWebhook removes a webhook. Deleting a missing webhook is not an error.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func (s *Store) getWebhook(ctx context.Context, where string, args ...any) (*Webhook, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, workflow_id, service, channel_id, subscription_id, created_at
		FROM webhooks `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	hook, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (Webhook, error) {
		var h Webhook
		err := row.Scan(&h.ID, &h.UserID, &h.WorkflowID, &h.Service, &h.ChannelID, &h.SubscriptionID, &h.CreatedAt)
		return h, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return &hook, nil
}
