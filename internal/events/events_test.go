package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func sampleEvent() domain.AuctionEvent {
	bidder := "0x2222222222222222222222222222222222222222"
	return domain.AuctionEvent{
		ID:         uuid.New(),
		Type:       domain.EventBidPlaced,
		AuctionID:  uuid.New(),
		AssetID:    "nft-1",
		Status:     domain.StatusActive,
		Version:    3,
		CurrentBid: decimal.RequireFromString("0.003"),
		Bidder:     &bidder,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisher(t *testing.T) {
	fr := &fakeRedis{}
	evt := sampleEvent()
	if err := events.NewRedisPublisher(fr).Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if fr.channel != "auction_events:"+evt.AuctionID.String() {
		t.Errorf("channel = %s", fr.channel)
	}
	var got domain.AuctionEvent
	if err := json.Unmarshal(fr.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.ID != evt.ID || got.Type != evt.Type || !got.CurrentBid.Equal(evt.CurrentBid) {
		t.Errorf("payload = %+v", got)
	}

	fr.err = errors.New("redis: connection pool timeout")
	if err := events.NewRedisPublisher(fr).Publish(context.Background(), evt); err == nil {
		t.Error("expected publish error")
	}
}

type fakeJetStream struct {
	subject string
	opts    int
	err     error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, _ []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject = subject
	f.opts = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: "AUCTION_EVENTS", Sequence: 1}, nil
}

func TestNATSPublisher(t *testing.T) {
	js := &fakeJetStream{}
	evt := sampleEvent()
	if err := events.NewNATSPublisher(js).Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if js.subject != "auction.events."+evt.AuctionID.String() {
		t.Errorf("subject = %s", js.subject)
	}
	if js.opts != 1 {
		t.Errorf("publish must carry the message id option, got %d opts", js.opts)
	}
}

type sinkFunc func(context.Context, domain.AuctionEvent) error

func (f sinkFunc) Publish(ctx context.Context, evt domain.AuctionEvent) error { return f(ctx, evt) }

func TestFanout_DeliversToAllSinks(t *testing.T) {
	var delivered []string
	boom := errors.New("boom")
	f := events.NewFanout(
		sinkFunc(func(context.Context, domain.AuctionEvent) error { delivered = append(delivered, "a"); return boom }),
		nil,
		sinkFunc(func(context.Context, domain.AuctionEvent) error { delivered = append(delivered, "b"); return nil }),
	)
	if f.Len() != 2 {
		t.Fatalf("Len = %d, want nil sink skipped", f.Len())
	}
	err := f.Publish(context.Background(), sampleEvent())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(delivered) != 2 {
		t.Errorf("delivered = %v, a failing sink must not stop the others", delivered)
	}
}
