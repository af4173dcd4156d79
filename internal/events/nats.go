package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/nats-io/nats.go/jetstream"
)

// SubjectPrefix is the JetStream subject prefix; the full subject is
// "auction.events.{auctionID}".
const SubjectPrefix = "auction.events."

// jetStreamPublisher is the subset of jetstream.JetStream used here.
type jetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher archives every event on a JetStream stream. Each message
// carries the event id as Nats-Msg-Id, so a retried publish is stored once.
type NATSPublisher struct {
	js jetStreamPublisher
}

// EnsureStream creates or updates the archival stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name string, maxAge time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "Committed auction lifecycle and settlement events",
		Subjects:    []string{SubjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      maxAge,
		Duplicates:  2 * time.Minute,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("events.EnsureStream %s: %w", name, err)
	}
	return nil
}

// NewNATSPublisher creates a NATSPublisher over js.
func NewNATSPublisher(js jetStreamPublisher) *NATSPublisher {
	return &NATSPublisher{js: js}
}

// Subject returns the JetStream subject for an auction.
func Subject(evt domain.AuctionEvent) string {
	return SubjectPrefix + evt.AuctionID.String()
}

// Publish implements service.Publisher. It waits for the stream's ack.
func (p *NATSPublisher) Publish(ctx context.Context, evt domain.AuctionEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events.NATSPublisher: marshal: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(evt), data, jetstream.WithMsgID(evt.ID.String())); err != nil {
		return fmt.Errorf("events.NATSPublisher: publish %s: %w", evt.Type, err)
	}
	return nil
}
