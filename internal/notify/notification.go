package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/logger"
)

// Kind names what happened to an event.
type Kind string

const (
	KindSignupCreated  Kind = "signup_created"
	KindEventUpdated   Kind = "event_updated"
	KindEventCancelled Kind = "event_cancelled"
)

// Delivery outcomes reported to Metrics.
const (
	ResultDelivered = "delivered"
	ResultRetried   = "retried"
	ResultDropped   = "dropped"
)

// Notification is one message for one recipient.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	RecipientID uuid.UUID `json:"recipientId"`
	EventID     uuid.UUID `json:"eventId"`
	EventTitle  string    `json:"eventTitle"`
	ActorID     uuid.UUID `json:"actorId"`
	RetryCount  int       `json:"retryCount,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// New builds a notification with a fresh ID.
func New(kind Kind, recipient, eventID uuid.UUID, eventTitle string, actor uuid.UUID) Notification {
	return Notification{
		ID:          uuid.New(),
		Kind:        kind,
		RecipientID: recipient,
		EventID:     eventID,
		EventTitle:  eventTitle,
		ActorID:     actor,
		CreatedAt:   time.Now().UTC(),
	}
}

// Fanout builds one notification per recipient, skipping the actor.
func Fanout(kind Kind, recipients []uuid.UUID, eventID uuid.UUID, eventTitle string, actor uuid.UUID) []Notification {
	out := make([]Notification, 0, len(recipients))
	for _, r := range recipients {
		if r == actor {
			continue
		}
		out = append(out, New(kind, r, eventID, eventTitle, actor))
	}
	return out
}

// Notifier accepts notifications for delivery. Callers treat errors as
// non-fatal: a failed notification never fails the request that caused it.
type Notifier interface {
	Notify(ctx context.Context, ns ...Notification) error
}

// Deliverer pushes a message to a connected account. *websocket.Hub satisfies it.
type Deliverer interface {
	Send(ctx context.Context, recipient uuid.UUID, v any) error
}

// Metrics counts delivery outcomes.
type Metrics interface {
	RecordNotification(result string)
}

type nopMetrics struct{}

func (nopMetrics) RecordNotification(string) {}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, ...Notification) error { return nil }

// Direct delivers inline, used when no Redis queue is configured.
type Direct struct {
	deliverer Deliverer
	metrics   Metrics
	log       *logger.Logger
}

func NewDirect(d Deliverer, m Metrics, log *logger.Logger) *Direct {
	if m == nil {
		m = nopMetrics{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Direct{deliverer: d, metrics: m, log: log.WithComponent("notify")}
}

func (d *Direct) Notify(ctx context.Context, ns ...Notification) error {
	var firstErr error
	for _, n := range ns {
		if err := d.deliverer.Send(ctx, n.RecipientID, n); err != nil {
			d.metrics.RecordNotification(ResultDropped)
			d.log.Warn(ctx, "notification dropped", map[string]interface{}{
				"notification_id": n.ID.String(),
				"kind":            string(n.Kind),
				"error":           err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.metrics.RecordNotification(ResultDelivered)
	}
	return firstErr
}
