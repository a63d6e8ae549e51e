package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/events"
	"github.com/harborlane/storefront-api/internal/resilience"
)

// WebhookNotifier posts selected event topics to an operational webhook
// (Slack-style incoming hook). It implements events.Notifier.
type WebhookNotifier struct {
	URL    string
	Topics []string
	HTTP   resilience.HTTPClient
	Logger zerolog.Logger
}

type alertPayload struct {
	Topic       string         `json:"topic"`
	AggregateID string         `json:"aggregateId"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Notify delivers the event if its topic is on the allowlist.
func (w *WebhookNotifier) Notify(ctx context.Context, ev events.Event) error {
	if w == nil || strings.TrimSpace(w.URL) == "" {
		return errors.New("alert webhook not configured")
	}
	if len(w.Topics) > 0 && !w.wants(ev.Topic) {
		return nil
	}
	body, err := json.Marshal(alertPayload{
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID.String(),
		OccurredAt:  ev.OccurredAt,
		Payload:     ev.Payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook: unexpected status %s", resp.Status)
	}
	w.Logger.Debug().Str("topic", ev.Topic).Msg("alert_delivered")
	return nil
}

func (w *WebhookNotifier) wants(topic string) bool {
	for _, t := range w.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
