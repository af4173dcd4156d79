// Package consumer receives settlement notifications from the payment side
// over AMQP and records them through the settlement service.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// consumerTag identifies this consumer on the broker.
const consumerTag = "auction-settlement"

// Settler records settlement evidence. Implemented by service.SettlementService.
type Settler interface {
	ConfirmSettlement(ctx context.Context, id uuid.UUID, ev domain.SettlementEvidence) (*domain.Auction, error)
}

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// SettlementMessage is the JSON body published on settlement.confirmed.
type SettlementMessage struct {
	AuctionID string `json:"auction_id"`
	TxHash    string `json:"tx_hash"`
	Payer     string `json:"payer,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Ack decisions
// ──────────────────────────────────────────────────────────────────────────────

// Decision is what the consumer tells the broker about one delivery.
type Decision int

const (
	Ack     Decision = iota // processed, or already reflected in the record
	Reject                  // terminal: redelivery can never succeed
	Requeue                 // transient: try again later
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	default:
		return "requeue"
	}
}

// Decide maps the outcome of ConfirmSettlement onto a broker decision.
// Duplicates already resolve to a nil error in the service, so they ack.
func Decide(err error) Decision {
	switch {
	case err == nil:
		return Ack
	case domain.IsTransient(err),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return Requeue
	default:
		// malformed, not found, window expired, invalid state, already
		// settled with other evidence, not the highest bidder
		return Reject
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// SettlementConsumer
// ──────────────────────────────────────────────────────────────────────────────

// SettlementConsumer drains the settlement queue with manual acks.
type SettlementConsumer struct {
	ch      Channel
	conn    *amqp.Connection // nil when built around an existing channel
	queue   string
	settler Settler
	timeout time.Duration
	logger  *slog.Logger
}

// Dial connects to the broker, declares the exchange, queue and binding, and
// applies the prefetch limit.
func Dial(cfg config.AMQPConfig, settler Settler, logger *slog.Logger) (*SettlementConsumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("consumer.Dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consumer.Dial: channel: %w", err)
	}
	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("consumer.Dial: %w", err)
	}
	c := NewSettlementConsumer(ch, cfg.Queue, settler, logger)
	c.conn = conn
	return c, nil
}

func declare(ch *amqp.Channel, cfg config.AMQPConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %q to %q: %w", cfg.Queue, cfg.RoutingKey, err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("qos: %w", err)
		}
	}
	return nil
}

// NewSettlementConsumer wraps an already declared channel.
func NewSettlementConsumer(ch Channel, queue string, settler Settler, logger *slog.Logger) *SettlementConsumer {
	return &SettlementConsumer{
		ch:      ch,
		queue:   queue,
		settler: settler,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled or the broker closes the delivery
// channel. A closed channel is returned as an error so the caller can restart.
func (c *SettlementConsumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consumer.Run: consume %q: %w", c.queue, err)
	}
	c.logger.Info("settlement consumer started", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("settlement consumer: shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("consumer.Run: delivery channel closed by broker")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery and settles it with the broker.
func (c *SettlementConsumer) Handle(ctx context.Context, d amqp.Delivery) Decision {
	decision, msg, err := c.process(ctx, d.Body)

	log := c.logger.With("delivery_tag", d.DeliveryTag, "auction_id", msg.AuctionID, "tx_hash", msg.TxHash, "decision", decision)
	switch decision {
	case Ack:
		log.Info("settlement notification processed")
		err = d.Ack(false)
	case Reject:
		log.Warn("settlement notification rejected", "err", err)
		err = d.Nack(false, false)
	default:
		log.Warn("settlement notification requeued", "err", err, "redelivered", d.Redelivered)
		err = d.Nack(false, true)
	}
	if err != nil {
		c.logger.Error("settlement consumer: ack failed", "delivery_tag", d.DeliveryTag, "err", err)
	}
	return decision
}

func (c *SettlementConsumer) process(ctx context.Context, body []byte) (Decision, SettlementMessage, error) {
	var msg SettlementMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return Reject, msg, fmt.Errorf("decode: %w", err)
	}
	id, err := uuid.Parse(msg.AuctionID)
	if err != nil {
		return Reject, msg, fmt.Errorf("auction_id: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err = c.settler.ConfirmSettlement(ctx, id, domain.SettlementEvidence{TxHash: msg.TxHash, Payer: msg.Payer})
	return Decide(err), msg, err
}

// Close releases the channel and, when Dial created it, the connection.
func (c *SettlementConsumer) Close() error {
	err := c.ch.Close()
	if c.conn != nil {
		err = errors.Join(err, c.conn.Close())
	}
	return err
}
