// Package gateway wires the Connection Registry, Subscription Index,
// Snapshot+Delta Engine, Aggregate Sampler, Stream Consumers, Upstream
// Subscription Publisher, Pub/Sub Listener, Catalyst Recorder, and
// Status Broadcaster (C1-C11) into one running process, and exposes
// the HTTP/WebSocket surface named in spec.md §6. Lifecycle follows
// alanyoungcy-polymarketbot's internal/app/modes.go: one errgroup, one
// goroutine per long-lived task, shared context cancellation on first
// error or shutdown signal.
package gateway

import (
	"context"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tradeul/scanner-gateway/internal/auth"
	"github.com/tradeul/scanner-gateway/internal/catalyst"
	"github.com/tradeul/scanner-gateway/internal/config"
	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/pubsub"
	"github.com/tradeul/scanner-gateway/internal/redisx"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/sampler"
	"github.com/tradeul/scanner-gateway/internal/snapshot"
	"github.com/tradeul/scanner-gateway/internal/status"
	"github.com/tradeul/scanner-gateway/internal/streams"
	"github.com/tradeul/scanner-gateway/internal/subindex"
	"github.com/tradeul/scanner-gateway/internal/upstream"
)

// StreamClients holds the dedicated Redis connections spec.md §5
// requires: one per blocking consumer, plus one for pub/sub. None of
// these may be shared with the general command client.
type StreamClients struct {
	Deltas     *redis.Client
	Aggregates *redis.Client
	Quotes     *redis.Client
	Filings    *redis.Client
	News       *redis.Client
	Subscriber *redis.Client
}

// All returns every dedicated stream connection, for shutdown cleanup.
func (s StreamClients) All() []*redis.Client {
	return []*redis.Client{s.Deltas, s.Aggregates, s.Quotes, s.Filings, s.News, s.Subscriber}
}

// Gateway owns every component and the HTTP/WebSocket surface.
type Gateway struct {
	cfg   config.Config
	auth  *auth.Authenticator
	reg   *registry.Registry
	index *subindex.Index

	engine    *snapshot.Engine
	sampler   *sampler.Sampler
	ownership *pubsub.OwnershipCache
	upstream  *upstream.Publisher
	client    *redisx.Client

	aggregateConsumer *streams.AggregateConsumer
	quoteConsumer     *streams.QuoteConsumer
	filingsConsumer   *streams.FilingsConsumer
	newsConsumer      *streams.NewsConsumer
	pubsubListener    *pubsub.Listener
	catalystRecorder  *catalyst.Recorder
	statusBroadcaster *status.Broadcaster
}

// New builds a Gateway with every component wired per spec.md §2's
// component table. client is the general-purpose command client;
// streamClients supplies the dedicated blocking connections.
func New(cfg config.Config, client *redisx.Client, streamClients StreamClients, authenticator *auth.Authenticator) *Gateway {
	index := subindex.New()
	// The publisher issues non-blocking XAdd calls only; it must not
	// share a connection with a blocking XREADGROUP consumer, so it
	// rides the general-purpose client instead of a dedicated stream one.
	publisher := upstream.New(client.Client)
	reg := registry.New(cfg.OutboundQueueSize, nil)

	engine := snapshot.New(client, streamClients.Deltas, index, reg, snapshot.Config{
		Staleness:       cfg.SnapshotStaleness,
		CategoryLimit:   cfg.CategoryRowLimit,
		StreamBlock:     cfg.StreamBlockTimeout,
		StreamReadCount: cfg.StreamReadCount,
		ReclaimIdle:     cfg.PendingReclaimIdle,
		ReclaimEvery:    cfg.PendingReclaimEvery,
	})

	catalystRecorder := catalyst.New(client, catalyst.Config{
		Interval: cfg.CatalystInterval,
		MaxAge:   cfg.CatalystMaxAge,
		ListCap:  cfg.CatalystListCap,
		TTL:      cfg.CatalystTTL,
	})

	smp := sampler.New(sampler.Config{
		ThrottleInterval: cfg.ThrottleInterval,
		FlushPeriod:      cfg.SamplerFlushPeriod,
		Capacity:         cfg.SamplerCapacity,
	}, index, reg)
	smp.OnPriceObserved(catalystRecorder.Observe)

	ownership := pubsub.NewOwnershipCache()

	streamCfg := streams.Config{
		BlockTimeout: cfg.StreamBlockTimeout,
		ReadCount:    cfg.StreamReadCount,
		ReclaimIdle:  cfg.PendingReclaimIdle,
		ReclaimEvery: cfg.PendingReclaimEvery,
	}

	g := &Gateway{
		cfg:       cfg,
		auth:      authenticator,
		reg:       reg,
		index:     index,
		engine:    engine,
		sampler:   smp,
		ownership: ownership,
		upstream:  publisher,
		client:    client,

		aggregateConsumer: streams.NewAggregateConsumer(streamClients.Aggregates, streamCfg, smp),
		quoteConsumer:     streams.NewQuoteConsumer(streamClients.Quotes, streamCfg, index, reg),
		filingsConsumer:   streams.NewFilingsConsumer(streamClients.Filings, streamCfg, reg),
		newsConsumer:      streams.NewNewsConsumer(streamClients.News, streamCfg, reg, index),
		pubsubListener:    pubsub.New(streamClients.Subscriber, client, engine, index, reg, ownership),
		catalystRecorder:  catalystRecorder,
		statusBroadcaster: status.New(status.Config{
			Interval:     cfg.StatusInterval,
			InitialDelay: cfg.StatusInitialDelay,
			ConnectorURL: cfg.ConnectorBaseURL,
		}, reg),
	}

	reg.SetCleanup(g.cleanupConnection)

	return g
}

// Run starts every long-lived task under one errgroup and blocks until
// ctx is cancelled or any task returns an error, per spec.md §5's
// "independent long-lived tasks" model.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return g.engine.Run(ctx) })
	eg.Go(func() error { return g.aggregateConsumer.Run(ctx) })
	eg.Go(func() error { return g.quoteConsumer.Run(ctx) })
	eg.Go(func() error { return g.filingsConsumer.Run(ctx) })
	eg.Go(func() error { return g.newsConsumer.Run(ctx) })
	eg.Go(func() error { return g.pubsubListener.Run(ctx) })
	eg.Go(func() error { return g.catalystRecorder.Run(ctx) })
	eg.Go(func() error { return g.statusBroadcaster.Run(ctx) })
	eg.Go(func() error { return g.sampler.Run(ctx) })

	logger.WebSocket().Info().Msg("gateway components started")
	return eg.Wait()
}

// Registry exposes the Connection Registry for the HTTP surface's
// /health handler.
func (g *Gateway) Registry() *registry.Registry { return g.reg }

// Engine exposes the Snapshot+Delta Engine for /clear_cache.
func (g *Gateway) Engine() *snapshot.Engine { return g.engine }
