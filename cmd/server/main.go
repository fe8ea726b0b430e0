/*
Package main runs the launchpad market-data server.

The server reads trades and markets from the registry, turns them into OHLC candles
for the charting front-end, and pushes live bars built from on-chain Trade events.
It serves the UDF datafeed protocol and the /stream websocket over HTTP, and a gRPC
health service for load balancers.

Usage:

	go run ./cmd/server -registry-url=https://... -chain-ws-url=wss://... -contract=0x...

Every flag can also be set through the environment or a .env file.
*/
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/onbonsai/launchpad-sub000/internal/api"
	"github.com/onbonsai/launchpad-sub000/internal/candles"
	"github.com/onbonsai/launchpad-sub000/internal/chain"
	"github.com/onbonsai/launchpad-sub000/internal/config"
	"github.com/onbonsai/launchpad-sub000/internal/datafeed"
	"github.com/onbonsai/launchpad-sub000/internal/live"
	"github.com/onbonsai/launchpad-sub000/internal/registry"
	"github.com/onbonsai/launchpad-sub000/internal/symbols"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

const shutdownTimeout = 10 * time.Second

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	feed, subscriber, err := newDatafeed(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initiate datafeed")
	}
	defer subscriber.Close()

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(feed, api.StreamConfig{
		QueueSize:  cfg.StreamQueueSize,
		PingPeriod: cfg.StreamPingPeriod,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			MaxConnectionAge:  30 * time.Minute,
			Time:              20 * time.Second,
			Timeout:           10 * time.Second,
		}),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc health server stopped")
		}
	}()

	stopped := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer close(stopped)
		<-sig
		log.Info().Msg("initiating graceful shutdown")
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
		grpcServer.GracefulStop()
	}()

	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("registry", cfg.RegistryURL).
		Str("contract", cfg.ContractAddress).
		Msg("server starting")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to serve")
	}
	<-stopped
}

// newDatafeed wires the registry client, chain watcher and live state into a Datafeed.
// The returned Subscriber must be closed on shutdown.
func newDatafeed(cfg config.Config) (*datafeed.Datafeed, *live.Subscriber, error) {
	registryClient, err := registry.NewClient(registry.Config{
		Endpoint: cfg.RegistryURL,
		PageSize: cfg.RegistryPageSize,
		Timeout:  cfg.RegistryTimeout,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create registry client")
		return nil, nil, err
	}

	watcher, err := chain.NewWatcher(chain.WatcherConfig{
		Endpoint: cfg.ChainWSURL,
		Contract: cfg.Contract(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create chain watcher")
		return nil, nil, err
	}

	decimals := int32(cfg.Decimals)
	state := live.NewState()
	history := candles.NewHistory(registryClient, decimals, state)
	subscriber := live.NewSubscriber(watcher, state, decimals)
	directory := symbols.NewDirectory(registryClient, cfg.QuoteAsset)

	return datafeed.New(directory, history, subscriber, decimals), subscriber, nil
}
