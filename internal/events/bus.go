package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is an in-process domain event.
type Event struct {
	Topic       string
	AggregateID uuid.UUID
	Payload     map[string]any
	OccurredAt  time.Time
}

// Notifier reacts to emitted events (ops alerts, metrics, etc.).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus fans events out to the configured notifiers. Notifier failures are
// logged, never propagated: an alert that could not be delivered must not
// affect the request that emitted it.
type Bus struct {
	Notifiers []Notifier
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Emit dispatches the event to all notifiers.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload map[string]any) {
	if b == nil {
		return
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	ev := Event{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  b.now(),
	}
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			b.Logger.Error().Err(err).Str("topic", topic).Msg("event_notifier_failed")
		}
	}
}

func (b *Bus) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
