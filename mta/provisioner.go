// Package mta bridges account lifecycle changes to the mail transfer agent
// fronting this service.
package mta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/plumemail/plume/config"
	"github.com/plumemail/plume/logger"
)

// Provisioner propagates mailbox lifecycle changes to the MTA so that SMTP
// reception and authentication stay in sync with the account store.
type Provisioner interface {
	CreateMailbox(ctx context.Context, email, password string) error
	UpdatePassword(ctx context.Context, email, password string) error
	DeleteMailbox(ctx context.Context, email string) error
}

// NewProvisioner returns the HTTP bridge when configured, otherwise a no-op
// suitable for setups where the MTA validates recipients against our LMTP
// endpoint directly.
func NewProvisioner(cfg *config.MTAConfig) Provisioner {
	if cfg != nil && cfg.BridgeURL != "" {
		return &httpBridge{
			baseURL: cfg.BridgeURL,
			apiKey:  cfg.APIKey,
			client:  &http.Client{Timeout: 15 * time.Second},
		}
	}
	return noop{}
}

type noop struct{}

func (noop) CreateMailbox(ctx context.Context, email, password string) error {
	logger.Debug("mta provisioning disabled, skipping mailbox create", "email", email)
	return nil
}

func (noop) UpdatePassword(ctx context.Context, email, password string) error { return nil }

func (noop) DeleteMailbox(ctx context.Context, email string) error {
	logger.Debug("mta provisioning disabled, skipping mailbox delete", "email", email)
	return nil
}

// httpBridge talks to a small admin API in front of the MTA.
type httpBridge struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (b *httpBridge) CreateMailbox(ctx context.Context, email, password string) error {
	return b.post(ctx, "/mailboxes", map[string]string{"email": email, "password": password})
}

func (b *httpBridge) UpdatePassword(ctx context.Context, email, password string) error {
	return b.post(ctx, "/mailboxes/password", map[string]string{"email": email, "password": password})
}

func (b *httpBridge) DeleteMailbox(ctx context.Context, email string) error {
	return b.post(ctx, "/mailboxes/delete", map[string]string{"email": email})
}

func (b *httpBridge) post(ctx context.Context, path string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("mta bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mta bridge returned %d for %s", resp.StatusCode, path)
	}
	return nil
}
