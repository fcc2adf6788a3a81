// Package catalyst is the Catalyst Snapshot Recorder (C10): every 30
// seconds it pipelines the freshest last-known prices into a capped,
// TTL'd Redis list per symbol so a later catalyst alert has recent
// price context to show alongside it.
package catalyst

import (
	"context"
	"sync"
	"time"

	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/redisx"
)

// Config configures the recorder's interval, freshness window, list cap, and TTL.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
	ListCap  int64
	TTL      time.Duration
}

type priceEntry struct {
	payload    interface{}
	observedAt time.Time
}

// Recorder is the Catalyst Snapshot Recorder (C10).
type Recorder struct {
	client *redisx.Client
	cfg    Config

	mu     sync.Mutex
	prices map[string]priceEntry
}

// New builds a Recorder.
func New(client *redisx.Client, cfg Config) *Recorder {
	return &Recorder{client: client, cfg: cfg, prices: make(map[string]priceEntry)}
}

// Observe records symbol's latest price, meant to be wired as the
// Aggregate Sampler's per-aggregate side-channel callback (spec.md
// §4.9's "updated as a side effect of aggregate dispatch").
func (r *Recorder) Observe(symbol string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[symbol] = priceEntry{payload: payload, observedAt: time.Now()}
}

// Run ticks every Interval, pipelining a capped push for every symbol
// observed within MaxAge.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.MaxAge)

	r.mu.Lock()
	fresh := make(map[string]interface{})
	for symbol, entry := range r.prices {
		if entry.observedAt.After(cutoff) {
			fresh[symbol] = entry.payload
		}
	}
	r.mu.Unlock()

	for symbol, payload := range fresh {
		key := redisx.CatalystSnapshotKey(symbol)
		if err := r.client.PushCapped(ctx, key, payload, r.cfg.ListCap, r.cfg.TTL); err != nil {
			logger.Catalyst().Error().Err(err).Str("symbol", symbol).Msg("failed to record catalyst snapshot")
		}
	}
}
