// Package feed relays trading events between processes over Redis pub/sub.
// The daemon publishes applied tickets and detected opportunities; the api
// server subscribes and pushes them to its websocket clients. The shared
// database stays the source of truth, the feed is delivery only: a dropped
// message costs a live update, never state.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/models"
)

const (
	ticketChannel      = "feed:tickets"
	opportunityChannel = "feed:opportunities"

	queueSize = 256
)

// Config holds connection parameters for the event feed.
type Config struct {
	Addr     string
	Password string
	DB       int
}

type message struct {
	channel string
	data    []byte
}

// Feed is one side of the pub/sub link. A nil Feed publishes nothing and
// subscribes to nothing.
type Feed struct {
	rdb    *redis.Client
	queue  chan message
	logger zerolog.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Feed, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Feed{rdb: rdb, queue: make(chan message, queueSize), logger: logger}, nil
}

// PublishTicket enqueues one applied ledger event. It never blocks, so it is
// safe to wire directly as a ledger listener.
func (f *Feed) PublishTicket(ev ledger.Event) {
	f.publish(ticketChannel, ev)
}

// PublishOpportunity enqueues one detected opportunity. Wire it as the
// engine's opportunity notifier.
func (f *Feed) PublishOpportunity(opp models.ArbitrageOpportunity) {
	f.publish(opportunityChannel, opp)
}

func (f *Feed) publish(channel string, payload any) {
	if f == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error().Str("channel", channel).Err(err).Msg("feed encode failed")
		return
	}
	select {
	case f.queue <- message{channel: channel, data: data}:
	default:
		f.logger.Warn().Str("channel", channel).Msg("feed queue full, dropping event")
	}
}

// Run pumps queued events to Redis. Call it in a goroutine on the publishing
// side; it exits when the context ends.
func (f *Feed) Run(ctx context.Context) error {
	if f == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-f.queue:
			if err := f.rdb.Publish(ctx, msg.channel, msg.data).Err(); err != nil {
				f.logger.Warn().Str("channel", msg.channel).Err(err).Msg("feed publish failed")
			}
		}
	}
}

// Subscribe consumes the feed and hands every decoded event to the given
// callbacks. It blocks until the context ends or the subscription breaks;
// corrupt payloads are logged and skipped.
func (f *Feed) Subscribe(ctx context.Context, onTicket func(ledger.Event), onOpportunity func(models.ArbitrageOpportunity)) error {
	if f == nil {
		return nil
	}
	sub := f.rdb.Subscribe(ctx, ticketChannel, opportunityChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("feed: subscription closed")
			}
			switch msg.Channel {
			case ticketChannel:
				var ev ledger.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.logger.Warn().Err(err).Msg("feed ticket payload corrupt")
					continue
				}
				if onTicket != nil {
					onTicket(ev)
				}
			case opportunityChannel:
				var opp models.ArbitrageOpportunity
				if err := json.Unmarshal([]byte(msg.Payload), &opp); err != nil {
					f.logger.Warn().Err(err).Msg("feed opportunity payload corrupt")
					continue
				}
				if onOpportunity != nil {
					onOpportunity(opp)
				}
			}
		}
	}
}

// Close releases the connection pool.
func (f *Feed) Close() error {
	if f == nil {
		return nil
	}
	return f.rdb.Close()
}
