// Package events delivers committed auction changes to external subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ChannelPrefix is the pub/sub channel prefix; the full channel is
// "auction_events:{auctionID}" so subscribers can PSUBSCRIBE "auction_events:*".
const ChannelPrefix = "auction_events:"

// redisPublisher is the subset of redis.UniversalClient used here.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes every event on the auction's pub/sub channel.
type RedisPublisher struct {
	client redisPublisher
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("events: connect to redis: %w", err)
	}
	return rdb, nil
}

// NewRedisPublisher creates a RedisPublisher over client.
func NewRedisPublisher(client redisPublisher) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Channel returns the pub/sub channel for an auction.
func Channel(evt domain.AuctionEvent) string {
	return ChannelPrefix + evt.AuctionID.String()
}

// Publish implements service.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, evt domain.AuctionEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events.RedisPublisher: marshal: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(evt), payload).Err(); err != nil {
		return fmt.Errorf("events.RedisPublisher: publish %s: %w", evt.Type, err)
	}
	return nil
}
