package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/tradeul/scanner-gateway/internal/apperr"
	"github.com/tradeul/scanner-gateway/internal/auth"
	"github.com/tradeul/scanner-gateway/internal/config"
	"github.com/tradeul/scanner-gateway/internal/gateway"
	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/middleware"
	"github.com/tradeul/scanner-gateway/internal/redisx"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)

	redisCfg := redisx.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	client, err := redisx.NewClient(redisCfg)
	if err != nil {
		logger.Redis().Fatal().Err(err).Msg("failed to connect general Redis client")
	}

	// Each blocking consumer owns its own connection (spec.md §5).
	streamClients, err := buildStreamClients(redisCfg)
	if err != nil {
		logger.Redis().Fatal().Err(err).Msg("failed to connect stream Redis clients")
	}

	authenticator := auth.New(cfg.AuthEnabled, cfg.JWKSURL)

	gw := gateway.New(cfg, client, *streamClients, authenticator)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(apperr.Recovery())

	httpLimiter := middleware.NewRateLimiter(float64(cfg.HTTPRateLimit), cfg.HTTPRateBurst)

	httpRoutes := router.Group("/")
	httpRoutes.Use(middleware.RequestID())
	httpRoutes.Use(middleware.StructuredLoggerWithConfigFunc(middleware.DefaultStructuredLoggerConfig()))
	httpRoutes.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	httpRoutes.Use(middleware.AllowedHTTPMethods())
	httpRoutes.Use(middleware.RequestSizeLimiter(1 << 20))
	httpRoutes.Use(httpLimiter.Middleware())
	httpRoutes.GET("/health", gw.Health)
	httpRoutes.POST("/clear_cache", gw.ClearCache)

	// The WebSocket upgrade route is mounted outside httpRoutes: none of
	// the plain-HTTP middleware (request timeout, size limiter) applies
	// to a long-lived upgraded connection.
	router.GET("/ws/scanner", gw.HandleWS)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // a WebSocket connection has no fixed response deadline
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error { return gw.Run(egCtx) })

	eg.Go(func() error {
		logger.HTTP().Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.HTTP().Info().Msg("shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.HTTP().Error().Err(err).Msg("HTTP server forced to shutdown")
		}
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.HTTP().Error().Err(err).Msg("gateway exited with error")
		os.Exit(1)
	}

	if err := client.Close(); err != nil {
		logger.Redis().Warn().Err(err).Msg("error closing general Redis client")
	}
	for _, c := range streamClients.All() {
		if err := c.Close(); err != nil {
			logger.Redis().Warn().Err(err).Msg("error closing stream Redis client")
		}
	}

	logger.HTTP().Info().Msg("gateway stopped")
}

func buildStreamClients(cfg redisx.Config) (*gateway.StreamClients, error) {
	deltas, err := redisx.NewStreamClient(cfg)
	if err != nil {
		return nil, err
	}
	aggregates, err := redisx.NewStreamClient(cfg)
	if err != nil {
		return nil, err
	}
	quotes, err := redisx.NewStreamClient(cfg)
	if err != nil {
		return nil, err
	}
	filings, err := redisx.NewStreamClient(cfg)
	if err != nil {
		return nil, err
	}
	news, err := redisx.NewStreamClient(cfg)
	if err != nil {
		return nil, err
	}
	subscriber, err := redisx.NewSubscriberClient(cfg)
	if err != nil {
		return nil, err
	}

	return &gateway.StreamClients{
		Deltas:     deltas,
		Aggregates: aggregates,
		Quotes:     quotes,
		Filings:    filings,
		News:       news,
		Subscriber: subscriber,
	}, nil
}
