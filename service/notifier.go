package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AnTengye/contractforge/config"
	"github.com/AnTengye/contractforge/model"
)

// Signing events.
const (
	EventSignatureSubmitted = "signature.submitted"
	EventContractExecuted   = "contract.executed"
)

// SigningEvent is posted to the webhook whenever a slot is filled.
type SigningEvent struct {
	Event      string              `json:"event"`
	DocumentID string              `json:"document_id"`
	OwnerID    string              `json:"owner_id"`
	Role       model.Role          `json:"role"`
	Status     model.SigningStatus `json:"status"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Notifier tells an external collaborator (mailer, CRM) about signing progress.
type Notifier interface {
	Notify(ctx context.Context, event SigningEvent) error
}

// WebhookNotifier posts signing events as JSON.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(cfg *config.NotifyConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url: cfg.WebhookURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event SigningEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Contractforge-Event", event.Event)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
