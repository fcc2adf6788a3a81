// Package streams runs the Stream Consumers (C7) named in spec.md §4.6:
// one task per stream, each owning a dedicated Redis connection, short
// blocking reads, and immediate dispatch. The ranking-deltas stream is
// handled by internal/snapshot instead, since its dispatch logic is
// inseparable from the snapshot cache it mutates.
package streams

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/redisx"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/sampler"
	"github.com/tradeul/scanner-gateway/internal/subindex"
	"github.com/tradeul/scanner-gateway/internal/wsproto"
)

const (
	aggregatesStream = "stream:realtime:aggregates"
	aggregatesGroup  = "websocket_server_aggregates"
	quotesStream     = "stream:realtime:quotes"
	quotesGroup      = "websocket_server_quotes"
	filingsStream    = "stream:sec:filings"
	newsStream       = "stream:benzinga:news"
	consumerName     = "gateway"
)

// Config configures read cadence, shared across all consumers.
type Config struct {
	BlockTimeout time.Duration
	ReadCount    int64
	ReclaimIdle  time.Duration
	ReclaimEvery time.Duration
}

// AggregateConsumer feeds the Aggregate Sampler from stream:realtime:aggregates.
type AggregateConsumer struct {
	client  *redis.Client
	cfg     Config
	sampler *sampler.Sampler
}

func NewAggregateConsumer(client *redis.Client, cfg Config, s *sampler.Sampler) *AggregateConsumer {
	return &AggregateConsumer{client: client, cfg: cfg, sampler: s}
}

func (a *AggregateConsumer) Run(ctx context.Context) error {
	return runGroupConsumer(ctx, a.client, aggregatesStream, aggregatesGroup, a.cfg, func(m redisx.StreamMessage) {
		symbol := m.String("symbol")
		if symbol == "" {
			return
		}
		a.sampler.Ingest(symbol, decodePayload(m))
	})
}

// QuoteConsumer broadcasts stream:realtime:quotes directly to quoteSubscribers.
type QuoteConsumer struct {
	client *redis.Client
	cfg    Config
	index  *subindex.Index
	reg    *registry.Registry
}

func NewQuoteConsumer(client *redis.Client, cfg Config, index *subindex.Index, reg *registry.Registry) *QuoteConsumer {
	return &QuoteConsumer{client: client, cfg: cfg, index: index, reg: reg}
}

func (q *QuoteConsumer) Run(ctx context.Context) error {
	return runGroupConsumer(ctx, q.client, quotesStream, quotesGroup, q.cfg, func(m redisx.StreamMessage) {
		symbol := m.String("symbol")
		if symbol == "" {
			return
		}
		msg := wsproto.NewQuote(symbol, decodePayload(m))
		for _, connID := range q.index.QuoteSubscribers(symbol) {
			if conn, ok := q.reg.Get(connID); ok {
				conn.Send(msg)
			}
		}
	})
}

// FilingsConsumer tails stream:sec:filings (read-only, $ start) and
// broadcasts to every connection holding the filings flag.
type FilingsConsumer struct {
	client *redis.Client
	cfg    Config
	reg    *registry.Registry
}

func NewFilingsConsumer(client *redis.Client, cfg Config, reg *registry.Registry) *FilingsConsumer {
	return &FilingsConsumer{client: client, cfg: cfg, reg: reg}
}

func (f *FilingsConsumer) Run(ctx context.Context) error {
	return runTailConsumer(ctx, f.client, filingsStream, f.cfg, func(m redisx.StreamMessage) {
		msg := wsproto.NewSecFiling(decodePayload(m))
		f.reg.Range(func(c *registry.Connection) {
			c.Mu.Lock()
			wants := c.WantsFilings
			c.Mu.Unlock()
			if wants {
				c.Send(msg)
			}
		})
	})
}

// NewsConsumer tails stream:benzinga:news (read-only, $ start), broadcasts
// to news flag holders, and relays catalyst-alert messages to chart/list
// subscribers of the named symbol.
type NewsConsumer struct {
	client *redis.Client
	cfg    Config
	reg    *registry.Registry
	index  *subindex.Index
}

func NewNewsConsumer(client *redis.Client, cfg Config, reg *registry.Registry, index *subindex.Index) *NewsConsumer {
	return &NewsConsumer{client: client, cfg: cfg, reg: reg, index: index}
}

func (n *NewsConsumer) Run(ctx context.Context) error {
	return runTailConsumer(ctx, n.client, newsStream, n.cfg, func(m redisx.StreamMessage) {
		payload := decodePayload(m)

		if m.String("catalyst") == "true" {
			symbol := m.String("symbol")
			if symbol != "" {
				n.relayCatalystAlert(symbol, payload)
			}
		}

		msg := wsproto.NewBenzingaNews(payload)
		n.reg.Range(func(c *registry.Connection) {
			c.Mu.Lock()
			wants := c.WantsNews
			c.Mu.Unlock()
			if wants {
				c.Send(msg)
			}
		})
	})
}

func (n *NewsConsumer) relayCatalystAlert(symbol string, payload interface{}) {
	msg := wsproto.NewCatalystAlert(symbol, payload)
	seen := make(map[string]struct{})

	for _, connID := range n.index.ChartSubscribers(symbol) {
		seen[connID] = struct{}{}
	}
	for _, list := range n.index.SymbolLists(symbol) {
		for _, connID := range n.index.ListSubscribers(list) {
			seen[connID] = struct{}{}
		}
	}

	for connID := range seen {
		if conn, ok := n.reg.Get(connID); ok {
			conn.Send(msg)
		}
	}
}

// decodePayload turns the stream message's flat fields into a JSON
// object for direct embedding in an outbound message's payload.
func decodePayload(m redisx.StreamMessage) map[string]interface{} {
	if raw := m.String("payload"); raw != "" {
		var v map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	out := make(map[string]interface{}, len(m.Fields))
	for k, v := range m.Fields {
		out[k] = v
	}
	return out
}

// runGroupConsumer implements the durable-consumer-group loop shared by
// aggregates and quotes: blocking XREADGROUP, dispatch, batched XACK,
// NOGROUP self-heal, one-second backoff on error.
func runGroupConsumer(ctx context.Context, client *redis.Client, stream, group string, cfg Config, handle func(redisx.StreamMessage)) error {
	if err := redisx.EnsureGroup(ctx, client, stream, group, "0"); err != nil {
		logger.Streams().Error().Err(err).Str("stream", stream).Msg("failed to ensure consumer group")
	}

	lastReclaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if cfg.ReclaimEvery > 0 && time.Since(lastReclaim) >= cfg.ReclaimEvery {
			reclaimPending(ctx, client, stream, group, cfg, handle)
			lastReclaim = time.Now()
		}

		msgs, err := redisx.ReadGroup(ctx, client, group, consumerName, stream, cfg.ReadCount, cfg.BlockTimeout)
		if err != nil {
			if redisx.IsNoGroup(err) {
				logger.Streams().Warn().Str("stream", stream).Msg("consumer group missing, recreating")
				if gErr := redisx.EnsureGroup(ctx, client, stream, group, "0"); gErr != nil {
					logger.Streams().Error().Err(gErr).Msg("failed to recreate consumer group")
				}
				continue
			}
			logger.Streams().Error().Err(err).Str("stream", stream).Msg("read error")
			time.Sleep(time.Second)
			continue
		}

		if len(msgs) == 0 {
			continue
		}

		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			handle(m)
			ids = append(ids, m.ID)
		}
		if err := redisx.Ack(ctx, client, stream, group, ids...); err != nil {
			logger.Streams().Error().Err(err).Str("stream", stream).Msg("ack failed")
		}
	}
}

// reclaimPending reclaims and dispatches messages that were delivered
// to a now-dead consumer and never acked, so a crash mid-dispatch
// cannot stall a symbol's updates forever (supplemented feature, not
// named in the distilled spec but present in the original connector's
// consumer loop).
func reclaimPending(ctx context.Context, client *redis.Client, stream, group string, cfg Config, handle func(redisx.StreamMessage)) {
	msgs, err := redisx.ClaimIdle(ctx, client, stream, group, consumerName, cfg.ReclaimIdle, cfg.ReadCount)
	if err != nil {
		logger.Streams().Error().Err(err).Str("stream", stream).Msg("pending reclaim failed")
		return
	}
	if len(msgs) == 0 {
		return
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		handle(m)
		ids = append(ids, m.ID)
	}
	if err := redisx.Ack(ctx, client, stream, group, ids...); err != nil {
		logger.Streams().Error().Err(err).Str("stream", stream).Msg("ack after reclaim failed")
	}
}

// runTailConsumer implements the read-only "$ start" loop for streams
// with no durable consumer group (filings, news).
func runTailConsumer(ctx context.Context, client *redis.Client, stream string, cfg Config, handle func(redisx.StreamMessage)) error {
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, next, err := redisx.ReadTail(ctx, client, stream, lastID, cfg.ReadCount, cfg.BlockTimeout)
		if err != nil {
			logger.Streams().Error().Err(err).Str("stream", stream).Msg("read error")
			time.Sleep(time.Second)
			continue
		}

		for _, m := range msgs {
			handle(m)
		}
		lastID = next
	}
}
