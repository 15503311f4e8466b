package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rkundel/pm-agents/internal/observ"
)

// Notifier delivers emergency notifications to a contact. Delivery is
// fire-and-forget: failures are logged by callers, never propagated into the
// shutdown path.
type Notifier interface {
	Notify(ctx context.Context, contact, message string) error
}

// LogNotifier writes notifications to the structured log. Default sink when
// no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, contact, message string) error {
	observ.Log("notification", map[string]any{
		"contact": contact,
		"message": message,
	})
	return nil
}

// WebhookNotifier POSTs notifications as JSON to a webhook endpoint.
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

// NewWebhookNotifier builds a notifier with a bounded request timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Contact   string `json:"contact"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, contact, message string) error {
	body, err := json.Marshal(webhookPayload{
		Contact:   contact,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		observ.IncCounter("notifications_total", map[string]string{"result": "error"})
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		observ.IncCounter("notifications_total", map[string]string{"result": "error"})
		return &StatusError{Code: resp.StatusCode}
	}
	observ.IncCounter("notifications_total", map[string]string{"result": "ok"})
	return nil
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Code)
}
