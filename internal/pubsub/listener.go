// Package pubsub is the Pub/Sub Listener (C9): it owns a dedicated
// subscriber connection (spec.md §4.8 — "must not issue non-pub/sub
// commands") and fans four channels out to snapshot cache invalidation,
// full-registry broadcasts, and user-scan lifecycle cleanup. Fan-in
// shape grounded on alanyoungcy-polymarketbot's signal_bus.go Subscribe.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/redisx"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/snapshot"
	"github.com/tradeul/scanner-gateway/internal/subindex"
	"github.com/tradeul/scanner-gateway/internal/wsproto"
)

const (
	channelNewDay        = "trading:new_day"
	channelSessionChange = "events:session:changed"
	channelMorningNews   = "notifications:morning_news"
	channelUserScans     = "ws:user_scans:changed"
)

type sessionChangedPayload struct {
	TradingDate    string `json:"trading_date"`
	CurrentSession string `json:"current_session"`
}

type userScanChangedPayload struct {
	Action string `json:"action"` // created, updated, deleted
	ScanID string `json:"scan_id"`
	UserID string `json:"user_id"`
}

// Listener is the Pub/Sub Listener (C9).
type Listener struct {
	client    *redis.Client
	general   *redisx.Client
	engine    *snapshot.Engine
	index     *subindex.Index
	reg       *registry.Registry
	ownership *OwnershipCache
}

// New builds a Listener. client is the dedicated subscriber connection
// (spec.md §4.8); general is the shared command client, used only once,
// at startup, to seed the current market session (see below).
func New(client *redis.Client, general *redisx.Client, engine *snapshot.Engine, index *subindex.Index, reg *registry.Registry, ownership *OwnershipCache) *Listener {
	return &Listener{client: client, general: general, engine: engine, index: index, reg: reg, ownership: ownership}
}

// Run seeds the current market session from market:session:status,
// then subscribes to all four channels and dispatches until ctx is
// cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.seedMarketSession(ctx)

	messages, err := redisx.Subscribe(ctx, l.client, channelNewDay, channelSessionChange, channelMorningNews, channelUserScans)
	if err != nil {
		return err
	}

	for msg := range messages {
		l.dispatch(msg)
	}
	return ctx.Err()
}

// seedMarketSession reads market:session:status once at startup (spec.md
// §6 names it among the Redis keys read) and broadcasts it exactly like
// an events:session:changed message would. Only connections registered
// at that moment receive it; the value is not stored, so a client that
// connects later gets no market_session_change until the next change event.
func (l *Listener) seedMarketSession(ctx context.Context) {
	var p sessionChangedPayload
	if err := l.general.GetJSON(ctx, redisx.MarketSessionKey(), &p); err != nil {
		if err != redisx.ErrNotFound {
			logger.PubSub().Warn().Err(err).Msg("failed to read market:session:status at startup")
		}
		return
	}
	l.reg.Range(func(c *registry.Connection) {
		c.Send(wsproto.NewMarketSessionChange(p.TradingDate, p.CurrentSession))
	})
}

func (l *Listener) dispatch(msg redisx.PubSubMessage) {
	switch msg.Channel {
	case channelNewDay:
		n := l.engine.ClearCache()
		logger.PubSub().Info().Int("cleared", n).Msg("new trading day, snapshot cache cleared")

	case channelSessionChange:
		var p sessionChangedPayload
		if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
			logger.PubSub().Error().Err(err).Str("channel", msg.Channel).Msg("malformed payload")
			return
		}
		out := wsproto.NewMarketSessionChange(p.TradingDate, p.CurrentSession)
		l.reg.Range(func(c *registry.Connection) { c.Send(out) })

	case channelMorningNews:
		var payload interface{}
		_ = json.Unmarshal([]byte(msg.Payload), &payload)
		out := wsproto.NewMorningNewsCall(payload)
		l.reg.Range(func(c *registry.Connection) { c.Send(out) })

	case channelUserScans:
		l.handleUserScanChanged(msg.Payload)

	default:
		logger.PubSub().Warn().Str("channel", msg.Channel).Msg("unhandled pub/sub channel")
	}
}

func (l *Listener) handleUserScanChanged(payload string) {
	var p userScanChangedPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		logger.PubSub().Error().Err(err).Msg("malformed ws:user_scans:changed payload")
		return
	}
	if p.ScanID == "" {
		return
	}
	list := wsproto.UserScanPrefix + p.ScanID

	switch p.Action {
	case "created":
		l.ownership.Set(p.ScanID, p.UserID)

	case "updated":
		l.ownership.Set(p.ScanID, p.UserID)
		l.engine.ClearCache()

	case "deleted":
		l.ownership.Delete(p.ScanID)

		// Capture the list's cached symbol membership before tearing
		// anything down; PurgeListMemberships below also removes
		// memberships this (possibly empty) snapshot does not name.
		symbols := l.engine.CachedSymbols(list)

		subscribers := l.index.DeleteList(list)
		notice := wsproto.NewScanDeleted(list)
		for _, connID := range subscribers {
			conn, ok := l.reg.Get(connID)
			if !ok {
				continue
			}
			conn.Send(notice)

			conn.Mu.Lock()
			delete(conn.Lists, list)
			delete(conn.ListSeq, list)
			conn.Mu.Unlock()
		}

		l.engine.Invalidate(list)
		// Purge symbols that, after losing this list, now belong to no
		// list at all, per spec.md §4.8's "purge symbols that now belong
		// to no list".
		l.index.PurgeListMemberships(list, symbols)

	default:
		logger.PubSub().Warn().Str("action", p.Action).Msg("unknown user-scan action")
	}
}
