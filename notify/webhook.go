// Package notify provides post-link notifier implementations. Notifiers are
// best effort: the orchestrator logs their failures and never lets them
// affect flow completion.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sandboxhq/devicelink/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs a JSON event to a fixed URL after a credential is
// linked, e.g. so the sandbox manager can refresh live containers.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, userID, providerID string) error {
	payload, err := json.Marshal(map[string]string{
		"event":       "credential.linked",
		"user_id":     userID,
		"provider_id": providerID,
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

var _ domain.Notifier = (*WebhookNotifier)(nil)
