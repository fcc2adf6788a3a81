// Package sampler is the Aggregate Sampler (C6): it throttles the
// high-frequency aggregates stream to at most one payload per symbol
// per interval, coalescing intermediate updates, and routes the
// flushed values to scanner-driven list subscribers while separately
// forwarding every aggregate untouched to chart subscribers.
//
// The per-symbol gate is a golang.org/x/time/rate.Limiter, the same
// library the teacher uses for its HTTP rate limiters
// (internal/middleware/ratelimit.go), repurposed here for a per-symbol
// throttle instead of a per-client one.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/subindex"
	"github.com/tradeul/scanner-gateway/internal/wsproto"
)

const bufferShards = 64

// Config configures the sampler's throttle and flush cadence.
type Config struct {
	ThrottleInterval time.Duration
	FlushPeriod      time.Duration
	Capacity         int
}

type bufferedEntry struct {
	payload interface{}
	limiter *rate.Limiter
}

type bufferShard struct {
	mu      sync.Mutex
	entries map[string]*bufferedEntry
}

// Sampler is the Aggregate Sampler (C6).
type Sampler struct {
	cfg   Config
	index *subindex.Index
	reg   *registry.Registry

	shards [bufferShards]*bufferShard
	size   int64 // approximate, guarded by sizeMu
	sizeMu sync.Mutex

	received uint64
	sent     uint64
	dropped  uint64
	statsMu  sync.Mutex

	// onPriceObserved lets C10 (Catalyst Snapshot Recorder) piggyback on
	// every aggregate dispatch to learn the latest price, per spec.md
	// §4.9's "updated as a side effect of aggregate dispatch".
	onPriceObserved func(symbol string, payload interface{})
}

// New builds a Sampler.
func New(cfg Config, index *subindex.Index, reg *registry.Registry) *Sampler {
	s := &Sampler{cfg: cfg, index: index, reg: reg}
	for i := range s.shards {
		s.shards[i] = &bufferShard{entries: make(map[string]*bufferedEntry)}
	}
	return s
}

// OnPriceObserved registers a callback invoked for every incoming
// aggregate, regardless of throttling, used to feed the catalyst
// recorder's last-known-price table.
func (s *Sampler) OnPriceObserved(fn func(symbol string, payload interface{})) {
	s.onPriceObserved = fn
}

func (s *Sampler) shardFor(symbol string) *bufferShard {
	h := xxhash.Sum64String(symbol)
	return s.shards[h%bufferShards]
}

// Ingest accepts one (symbol, payload) aggregate. The most recent value
// wins within a throttle window; chart subscribers receive every value
// immediately and untouched.
func (s *Sampler) Ingest(symbol string, payload interface{}) {
	s.statsMu.Lock()
	s.received++
	s.statsMu.Unlock()

	if s.onPriceObserved != nil {
		s.onPriceObserved(symbol, payload)
	}

	s.dispatchChart(symbol, payload)

	shard := s.shardFor(symbol)
	shard.mu.Lock()
	entry, exists := shard.entries[symbol]
	if !exists {
		s.sizeMu.Lock()
		full := s.size >= int64(s.cfg.Capacity)
		if !full {
			s.size++
		}
		s.sizeMu.Unlock()

		if full {
			shard.mu.Unlock()
			s.statsMu.Lock()
			s.dropped++
			s.statsMu.Unlock()
			return
		}

		entry = &bufferedEntry{limiter: rate.NewLimiter(rate.Every(s.cfg.ThrottleInterval), 1)}
		shard.entries[symbol] = entry
	}
	entry.payload = payload
	shard.mu.Unlock()
}

func (s *Sampler) dispatchChart(symbol string, payload interface{}) {
	if s.index.ChartRefCount(symbol) == 0 {
		return
	}
	msg := wsproto.NewChartAggregate(symbol, payload)
	for _, connID := range s.index.ChartSubscribers(symbol) {
		if conn, ok := s.reg.Get(connID); ok {
			conn.Send(msg)
		}
	}
}

// Run walks the buffer every FlushPeriod, dispatching the latest value
// of any symbol whose throttle window has elapsed. A sent symbol keeps
// its limiter until a whole window passes with no new value.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushPeriod)
	defer ticker.Stop()

	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.flush()
		case <-statsTicker.C:
			s.logStats()
		}
	}
}

func (s *Sampler) flush() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		var ready []string
		removed := 0
		for symbol, entry := range shard.entries {
			if !entry.limiter.Allow() {
				continue
			}
			if entry.payload == nil {
				// A full window passed with nothing new since the last send.
				delete(shard.entries, symbol)
				removed++
				continue
			}
			ready = append(ready, symbol)
		}
		toSend := make(map[string]interface{}, len(ready))
		for _, symbol := range ready {
			toSend[symbol] = shard.entries[symbol].payload
			shard.entries[symbol].payload = nil
		}
		shard.mu.Unlock()

		if removed > 0 {
			s.sizeMu.Lock()
			s.size -= int64(removed)
			s.sizeMu.Unlock()
		}

		for symbol, payload := range toSend {
			s.route(symbol, payload)
		}
	}
}

// route delivers a flushed value to every list the symbol currently
// belongs to, per spec.md §4.5's "Routing".
func (s *Sampler) route(symbol string, payload interface{}) {
	lists := s.index.SymbolLists(symbol)
	if len(lists) == 0 {
		return
	}

	msg := wsproto.NewAggregate(symbol, payload)
	delivered := make(map[string]struct{})
	for _, list := range lists {
		for _, connID := range s.index.ListSubscribers(list) {
			if _, already := delivered[connID]; already {
				continue // tolerated duplicate per spec, but skip to save writes
			}
			delivered[connID] = struct{}{}
			if conn, ok := s.reg.Get(connID); ok {
				conn.Send(msg)
			}
		}
	}

	s.statsMu.Lock()
	s.sent++
	s.statsMu.Unlock()
}

// Stats returns the sampler's counters since the last per-minute log
// reset, for the /health endpoint's additive details (SPEC_FULL.md §3).
func (s *Sampler) Stats() map[string]any {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return map[string]any{
		"sampler_received": s.received,
		"sampler_sent":     s.sent,
		"sampler_dropped":  s.dropped,
	}
}

func (s *Sampler) logStats() {
	s.statsMu.Lock()
	received, sent, dropped := s.received, s.sent, s.dropped
	s.received, s.sent, s.dropped = 0, 0, 0
	s.statsMu.Unlock()

	reduction := 0.0
	if received > 0 {
		reduction = 1 - float64(sent)/float64(received)
	}

	logger.Sampler().Info().
		Uint64("received", received).
		Uint64("sent", sent).
		Uint64("dropped", dropped).
		Float64("reduction_ratio", reduction).
		Msg("aggregate sampler throughput")
}
