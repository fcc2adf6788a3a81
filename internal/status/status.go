// Package status is the Status Broadcaster (C11): it polls the upstream
// connector's HTTP endpoint every 10 seconds and relays the current
// subscription set to every open connection.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/wsproto"
)

// Config configures the poll cadence and connector location.
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
	ConnectorURL string
}

type subscriptionsResponse struct {
	SubscribedTickers []string `json:"subscribed_tickers"`
}

// Broadcaster is the Status Broadcaster (C11).
type Broadcaster struct {
	cfg    Config
	reg    *registry.Registry
	client *http.Client
}

// New builds a Broadcaster.
func New(cfg Config, reg *registry.Registry) *Broadcaster {
	return &Broadcaster{
		cfg:    cfg,
		reg:    reg,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Run waits InitialDelay, then polls and broadcasts every Interval
// until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.cfg.InitialDelay):
	}

	b.poll(ctx)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

func (b *Broadcaster) poll(ctx context.Context) {
	tickers, err := b.fetchSubscriptions(ctx)
	if err != nil {
		logger.Status().Warn().Err(err).Msg("failed to poll upstream connector subscriptions")
		return
	}

	msg := wsproto.NewPolygonSubscriptionStatus(tickers)
	b.reg.Range(func(c *registry.Connection) { c.Send(msg) })
}

func (b *Broadcaster) fetchSubscriptions(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.ConnectorURL+"/subscriptions", nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body subscriptionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.SubscribedTickers, nil
}
