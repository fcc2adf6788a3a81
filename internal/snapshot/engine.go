package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/redisx"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/subindex"
	"github.com/tradeul/scanner-gateway/internal/wsproto"
)

const (
	deltaStream       = "stream:ranking:deltas"
	deltaConsumerGrp  = "websocket_server_deltas"
	deltaConsumerName = "gateway"
)

// Config configures the engine's cache staleness and read cadence.
type Config struct {
	Staleness       time.Duration
	CategoryLimit   int
	StreamBlock     time.Duration
	StreamReadCount int64
	ReclaimIdle     time.Duration
	ReclaimEvery    time.Duration
}

// filteredUniverseEnvelope is the shape of scanner:filtered_complete:LAST.
type filteredUniverseEnvelope struct {
	Tickers []Row `json:"tickers"`
}

// Engine is the Snapshot + Delta Engine (C5).
type Engine struct {
	client *redisx.Client
	stream *redis.Client
	index  *subindex.Index
	reg    *registry.Registry
	cache  *memCache
	cfg    Config

	lastDeltaID string
}

// New builds an Engine. stream is a dedicated Redis client owned solely
// by this engine's consumer loop (spec.md §5's "each blocking consumer
// owns its own connection").
func New(client *redisx.Client, stream *redis.Client, index *subindex.Index, reg *registry.Registry, cfg Config) *Engine {
	return &Engine{
		client:      client,
		stream:      stream,
		index:       index,
		reg:         reg,
		cache:       newMemCache(cfg.Staleness),
		cfg:         cfg,
		lastDeltaID: "0",
	}
}

// ClearCache drops every cached list. Used by POST /clear_cache and the
// trading:new_day pub/sub channel.
func (e *Engine) ClearCache() int {
	return e.cache.Clear()
}

// Invalidate drops list's cache entry, used when a user-scan list is deleted.
func (e *Engine) Invalidate(list string) {
	e.cache.Invalidate(list)
}

// CachedSymbols returns the symbols currently cached for list, without
// triggering a Redis read, for use by cleanup paths that need to know a
// list's former membership.
func (e *Engine) CachedSymbols(list string) []string {
	rows, _, ok := e.cache.Get(list)
	if !ok {
		return nil
	}
	symbols := make([]string, 0, len(rows))
	for _, r := range rows {
		symbols = append(symbols, r.Symbol())
	}
	return symbols
}

// universe loads the full filtered-universe cache, used as the fallback
// source for a category whose per-category Redis key is absent.
func (e *Engine) universe(ctx context.Context) ([]Row, error) {
	var env filteredUniverseEnvelope
	if err := e.client.GetJSON(ctx, redisx.FilteredCompleteKey(), &env); err != nil {
		if err == redisx.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return env.Tickers, nil
}

// readCategory reads a category's Redis rows, falling back to a filter
// over the full universe when the per-category key is absent.
func (e *Engine) readCategory(ctx context.Context, list string) ([]Row, error) {
	var rows []Row
	err := e.client.GetJSON(ctx, redisx.CategoryKey(list), &rows)
	if err == nil {
		return rows, nil
	}
	if err != redisx.ErrNotFound {
		return nil, err
	}

	universe, uErr := e.universe(ctx)
	if uErr != nil {
		return nil, uErr
	}
	return FilterFor(list).Apply(universe), nil
}

func (e *Engine) readSequence(ctx context.Context, list string) int64 {
	seq, err := e.client.GetInt64(ctx, redisx.SequenceKey(list))
	if err != nil {
		return 0
	}
	return seq
}

// Snapshot returns list's current rows and sequence, preferring the
// in-memory cache and falling back to Redis per spec.md §4.4 steps 2-4.
func (e *Engine) Snapshot(ctx context.Context, list string) ([]Row, int64, error) {
	if rows, seq, ok := e.cache.Get(list); ok {
		return rows, seq, nil
	}

	rows, err := e.readCategory(ctx, list)
	if err != nil {
		return nil, 0, err
	}
	seq := e.readSequence(ctx, list)
	e.cache.Set(list, rows, seq)
	e.updateSymbolIndex(list, nil, rows)
	return rows, seq, nil
}

// HandleSubscribeList implements the client-facing side of subscribe_list
// (spec.md §4.4 "Initial snapshot" steps 2-4; ownership checking for
// uscan_-prefixed lists happens in the caller per §4.11).
func (e *Engine) HandleSubscribeList(ctx context.Context, conn *registry.Connection, list string) error {
	rows, seq, err := e.Snapshot(ctx, list)
	if err != nil {
		return err
	}

	conn.Mu.Lock()
	conn.Lists[list] = struct{}{}
	conn.ListSeq[list] = seq
	conn.Mu.Unlock()

	e.index.SubscribeList(list, conn.ID)
	conn.Send(wsproto.NewSnapshot(list, seq, toInterfaceRows(rows)))
	return nil
}

// HandleUnsubscribeList implements unsubscribe_list.
func (e *Engine) HandleUnsubscribeList(conn *registry.Connection, list string) {
	conn.Mu.Lock()
	delete(conn.Lists, list)
	delete(conn.ListSeq, list)
	conn.Mu.Unlock()

	e.index.UnsubscribeList(list, conn.ID)
}

// HandleResync resends list's current snapshot, idempotently.
func (e *Engine) HandleResync(ctx context.Context, conn *registry.Connection, list string) error {
	return e.HandleSubscribeList(ctx, conn, list)
}

func toInterfaceRows(rows []Row) []interface{} {
	out := make([]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// updateSymbolIndex diffs oldRows/newRows and updates symbolToLists
// accordingly (spec.md §4.4's "recompute symbolToLists[L] by diffing
// old and new symbol sets").
func (e *Engine) updateSymbolIndex(list string, oldRows, newRows []Row) {
	oldSet := make(map[string]struct{}, len(oldRows))
	for _, r := range oldRows {
		oldSet[r.Symbol()] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newRows))
	for _, r := range newRows {
		newSet[r.Symbol()] = struct{}{}
	}

	for symbol := range newSet {
		if _, existed := oldSet[symbol]; !existed {
			e.index.AddSymbolToList(symbol, list)
		}
	}
	for symbol := range oldSet {
		if _, still := newSet[symbol]; !still {
			e.index.RemoveSymbolFromList(symbol, list)
		}
	}
}

// Run consumes stream:ranking:deltas until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := redisx.EnsureGroup(ctx, e.stream, deltaStream, deltaConsumerGrp, "0"); err != nil {
		logger.Streams().Error().Err(err).Str("stream", deltaStream).Msg("failed to ensure consumer group")
	}

	lastReclaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.cfg.ReclaimEvery > 0 && time.Since(lastReclaim) >= e.cfg.ReclaimEvery {
			e.reclaimPending(ctx)
			lastReclaim = time.Now()
		}

		msgs, err := redisx.ReadGroup(ctx, e.stream, deltaConsumerGrp, deltaConsumerName, deltaStream, e.cfg.StreamReadCount, e.cfg.StreamBlock)
		if err != nil {
			if redisx.IsNoGroup(err) {
				logger.Streams().Warn().Str("stream", deltaStream).Msg("consumer group missing, recreating")
				if gErr := redisx.EnsureGroup(ctx, e.stream, deltaStream, deltaConsumerGrp, "0"); gErr != nil {
					logger.Streams().Error().Err(gErr).Msg("failed to recreate consumer group")
				}
				continue
			}
			logger.Streams().Error().Err(err).Str("stream", deltaStream).Msg("read error")
			time.Sleep(time.Second)
			continue
		}

		if len(msgs) == 0 {
			continue
		}

		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			e.dispatch(ctx, m)
			ids = append(ids, m.ID)
		}
		if err := redisx.Ack(ctx, e.stream, deltaStream, deltaConsumerGrp, ids...); err != nil {
			logger.Streams().Error().Err(err).Msg("ack failed")
		}
	}
}

// reclaimPending reclaims and re-dispatches messages left pending by a
// dead consumer instance (supplemented feature; see internal/streams
// for the same pattern applied to the other stream consumers).
func (e *Engine) reclaimPending(ctx context.Context) {
	msgs, err := redisx.ClaimIdle(ctx, e.stream, deltaStream, deltaConsumerGrp, deltaConsumerName, e.cfg.ReclaimIdle, e.cfg.StreamReadCount)
	if err != nil {
		logger.Streams().Error().Err(err).Str("stream", deltaStream).Msg("pending reclaim failed")
		return
	}
	if len(msgs) == 0 {
		return
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		e.dispatch(ctx, m)
		ids = append(ids, m.ID)
	}
	if err := redisx.Ack(ctx, e.stream, deltaStream, deltaConsumerGrp, ids...); err != nil {
		logger.Streams().Error().Err(err).Msg("ack after reclaim failed")
	}
}

func (e *Engine) dispatch(ctx context.Context, m redisx.StreamMessage) {
	list := m.String("list")
	if list == "" {
		return
	}
	msgType := m.String("type")

	switch msgType {
	case "snapshot":
		e.handleStreamSnapshot(ctx, m, list)
	case "delta":
		e.handleStreamDelta(ctx, m, list)
	default:
		logger.Streams().Warn().Str("type", msgType).Msg("unknown ranking delta message type")
	}
}

func (e *Engine) handleStreamSnapshot(ctx context.Context, m redisx.StreamMessage, list string) {
	var rows []Row
	if raw := m.String("rows"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rows); err != nil {
			logger.Streams().Error().Err(err).Msg("malformed snapshot rows")
			return
		}
	}
	seq := parseInt64(m.String("sequence"))

	oldRows, _, _ := e.cache.Get(list)
	e.cache.Set(list, rows, seq)
	e.updateSymbolIndex(list, oldRows, rows)

	e.broadcastList(list, seq, func() interface{} {
		return wsproto.NewSnapshot(list, seq, toInterfaceRows(rows))
	})
}

func (e *Engine) handleStreamDelta(ctx context.Context, m redisx.StreamMessage, list string) {
	var ops []DeltaOp
	if raw := m.String("ops"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ops); err != nil {
			logger.Streams().Error().Err(err).Msg("malformed delta ops")
			return
		}
	}
	seq := parseInt64(m.String("sequence"))

	for _, op := range ops {
		switch op.Action {
		case "remove":
			e.index.RemoveSymbolFromList(op.Symbol, list)
		default: // add, update, rerank
			e.index.AddSymbolToList(op.Symbol, list)
		}
	}

	e.cache.Invalidate(list)

	opsIface := make([]interface{}, len(ops))
	for i, op := range ops {
		opsIface[i] = op
	}

	e.broadcastList(list, seq, func() interface{} {
		return wsproto.NewDelta(list, seq, opsIface)
	})
}

// broadcastList implements spec.md §4.4's "Broadcast with gap detection"
// for every current subscriber of list.
func (e *Engine) broadcastList(list string, seq int64, buildDelta func() interface{}) {
	for _, connID := range e.index.ListSubscribers(list) {
		conn, ok := e.reg.Get(connID)
		if !ok {
			continue
		}

		conn.Mu.Lock()
		c := conn.ListSeq[list]

		switch {
		case seq <= c:
			conn.Mu.Unlock()
			continue

		case seq == c+1:
			conn.ListSeq[list] = seq
			conn.Mu.Unlock()
			conn.Send(buildDelta())

		default: // seq > c+1: gap, resync
			conn.ListSeq[list] = seq
			conn.Mu.Unlock()
			go e.resyncConnection(conn, list)
		}
	}
}

func (e *Engine) resyncConnection(conn *registry.Connection, list string) {
	rows, seq, ok := e.cache.Get(list)
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		rows, seq, err = e.Snapshot(ctx, list)
		if err != nil {
			logger.Streams().Error().Err(err).Str("list", list).Msg("resync snapshot read failed")
			return
		}
	}

	conn.Mu.Lock()
	conn.ListSeq[list] = seq
	conn.Mu.Unlock()

	conn.Send(wsproto.NewSnapshot(list, seq, toInterfaceRows(rows)))
}

func parseInt64(s string) int64 {
	var n int64
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return n
		}
		n = n*10 + int64(ch-'0')
	}
	return n
}
