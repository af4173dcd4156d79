package consumer_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/consumer"
	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// ── fakes ────────────────────────────────────────────────────────────────────

type ackRecord struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcker struct {
	mu   sync.Mutex
	acks []ackRecord
}

func (f *fakeAcker) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ackRecord{tag: tag, acked: true})
	return nil
}

func (f *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

func (f *fakeAcker) records() []ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ackRecord(nil), f.acks...)
}

type settlerFunc func(ctx context.Context, id uuid.UUID, ev domain.SettlementEvidence) (*domain.Auction, error)

func (f settlerFunc) ConfirmSettlement(ctx context.Context, id uuid.UUID, ev domain.SettlementEvidence) (*domain.Auction, error) {
	return f(ctx, id, ev)
}

type fakeChannel struct {
	msgs   chan amqp.Delivery
	closed bool
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.msgs, nil
}

func (f *fakeChannel) Close() error { f.closed = true; return nil }

func delivery(acker amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: acker, DeliveryTag: tag, Body: []byte(body)}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestDecide(t *testing.T) {
	tests := []struct {
		err  error
		want consumer.Decision
	}{
		{nil, consumer.Ack},
		{fmt.Errorf("wrap: %w", domain.ErrStoreUnavailable), consumer.Requeue},
		{domain.ErrVersionConflict, consumer.Requeue},
		{context.DeadlineExceeded, consumer.Requeue},
		{domain.ErrInvalidEvidence, consumer.Reject},
		{domain.ErrAuctionNotFound, consumer.Reject},
		{fmt.Errorf("svc: %w", domain.ErrWindowExpired), consumer.Reject},
		{domain.ErrInvalidState, consumer.Reject},
		{domain.ErrAlreadySettled, consumer.Reject},
		{errors.New("unknown"), consumer.Reject},
	}
	for _, tc := range tests {
		if got := consumer.Decide(tc.err); got != tc.want {
			t.Errorf("Decide(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestHandle(t *testing.T) {
	id := uuid.New()
	hash := "0x" + fmt.Sprintf("%064x", 7)
	valid := fmt.Sprintf(`{"auction_id":%q,"tx_hash":%q,"payer":"0x2222222222222222222222222222222222222222"}`, id, hash)

	tests := []struct {
		name    string
		body    string
		result  error
		want    consumer.Decision
		calls   int
		requeue bool
	}{
		{"settled", valid, nil, consumer.Ack, 1, false},
		{"window expired", valid, domain.ErrWindowExpired, consumer.Reject, 1, false},
		{"store down", valid, domain.ErrStoreUnavailable, consumer.Requeue, 1, true},
		{"not json", `{`, nil, consumer.Reject, 0, false},
		{"bad id", `{"auction_id":"x","tx_hash":"0x"}`, nil, consumer.Reject, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			settler := settlerFunc(func(_ context.Context, got uuid.UUID, ev domain.SettlementEvidence) (*domain.Auction, error) {
				calls++
				if got != id || ev.TxHash != hash {
					t.Errorf("settler got %s %+v", got, ev)
				}
				return nil, tc.result
			})
			acker := &fakeAcker{}
			c := consumer.NewSettlementConsumer(&fakeChannel{}, "q", settler, discard())

			if got := c.Handle(context.Background(), delivery(acker, 42, tc.body)); got != tc.want {
				t.Fatalf("decision = %s, want %s", got, tc.want)
			}
			if calls != tc.calls {
				t.Fatalf("settler calls = %d, want %d", calls, tc.calls)
			}
			recs := acker.records()
			if len(recs) != 1 || recs[0].tag != 42 {
				t.Fatalf("acks = %+v, want exactly one for tag 42", recs)
			}
			if recs[0].acked != (tc.want == consumer.Ack) || recs[0].requeue != tc.requeue {
				t.Fatalf("ack record = %+v for decision %s", recs[0], tc.want)
			}
		})
	}
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	ch := &fakeChannel{msgs: make(chan amqp.Delivery, 2)}
	acker := &fakeAcker{}
	body := fmt.Sprintf(`{"auction_id":%q,"tx_hash":"0x%064x"}`, uuid.New(), 1)
	ch.msgs <- delivery(acker, 1, body)
	ch.msgs <- delivery(acker, 2, body)

	settler := settlerFunc(func(context.Context, uuid.UUID, domain.SettlementEvidence) (*domain.Auction, error) {
		return nil, nil
	})
	c := consumer.NewSettlementConsumer(ch, "q", settler, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(acker.records()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(acker.records()); n != 2 {
		t.Fatalf("acked %d deliveries, want 2", n)
	}
	if err := c.Close(); err != nil || !ch.closed {
		t.Fatalf("Close = %v, closed = %v", err, ch.closed)
	}
}

func TestRun_BrokerClosed(t *testing.T) {
	ch := &fakeChannel{msgs: make(chan amqp.Delivery)}
	close(ch.msgs)
	c := consumer.NewSettlementConsumer(ch, "q", nil, discard())
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil after the broker closed the channel")
	}
}
