package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"caseline/internal/config"
	"caseline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts each event as JSON to a URL.
type Webhook struct {
	URL    string
	Secret string
	Filter Filter
	Client *http.Client
}

func NewWebhook(hook config.WebhookConfig) *Webhook {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &Webhook{
		URL:    strings.TrimSpace(hook.URL),
		Secret: strings.TrimSpace(hook.Secret),
		Filter: NewFilter(hook.Events),
		Client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Name() string { return "webhook " + w.URL }

func (w *Webhook) Accepts(evtType string) bool { return w.Filter.Match(evtType) }

func (w *Webhook) Deliver(ctx context.Context, evt domain.Event) error {
	data, err := encode(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseline-Event", evt.Type)
	req.Header.Set("X-Caseline-Delivery", fmt.Sprintf("%d", evt.ID))
	if w.Secret != "" {
		req.Header.Set("X-Caseline-Secret", w.Secret)
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
