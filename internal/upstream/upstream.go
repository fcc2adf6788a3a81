// Package upstream is the Upstream Subscription Publisher (C8): it
// relays ref-count transitions from the Subscription Index onto the two
// Redis Streams the upstream market-data connector watches for demand.
package upstream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/redisx"
)

const (
	subscriptionsStream      = "polygon_ws:subscriptions"
	quoteSubscriptionsStream = "polygon_ws:quote_subscriptions"
	streamMaxLen             = 10000
)

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// Publisher is the Upstream Subscription Publisher (C8).
type Publisher struct {
	client *redis.Client
}

// New builds a Publisher that appends to the upstream streams through
// client (the gateway passes its general-purpose command client).
func New(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) publish(ctx context.Context, stream, action, symbol string) {
	_, err := redisx.Publish(ctx, p.client, stream, streamMaxLen, map[string]interface{}{
		"action":    action,
		"symbol":    symbol,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		logger.Upstream().Error().Err(err).Str("stream", stream).Str("symbol", symbol).Str("action", action).Msg("failed to publish upstream subscription demand")
	}
}

// PublishChartSubscribe relays a 0->1 chart-subscriber transition. Per
// spec.md §4.7, the gateway is never authoritative for scanner-driven
// symbol sets: callers must have already confirmed the symbol is not in
// symbolToLists before calling this (scanner demand dominates).
func (p *Publisher) PublishChartSubscribe(ctx context.Context, symbol string) {
	p.publish(ctx, subscriptionsStream, actionSubscribe, symbol)
}

// PublishChartUnsubscribe relays a 1->0 chart-subscriber transition.
func (p *Publisher) PublishChartUnsubscribe(ctx context.Context, symbol string) {
	p.publish(ctx, subscriptionsStream, actionUnsubscribe, symbol)
}

// PublishQuoteSubscribe relays a 0->1 quote ref-count transition.
func (p *Publisher) PublishQuoteSubscribe(ctx context.Context, symbol string) {
	p.publish(ctx, quoteSubscriptionsStream, actionSubscribe, symbol)
}

// PublishQuoteUnsubscribe relays a 1->0 quote ref-count transition.
func (p *Publisher) PublishQuoteUnsubscribe(ctx context.Context, symbol string) {
	p.publish(ctx, quoteSubscriptionsStream, actionUnsubscribe, symbol)
}
