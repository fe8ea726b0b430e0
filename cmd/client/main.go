/*
Package main implements a command-line client for the live bar stream.

The client checks the server's gRPC health service, opens the /stream websocket,
subscribes to the given symbols and logs every bar it receives.

Usage:

	go run ./cmd/client -url=ws://localhost:8080/stream -health=localhost:50051 -symbols=Bonsai-1:BONSAI/USDC

The client runs until interrupted.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var (
	streamURL  = flag.String("url", "ws://localhost:8080/stream", "Stream websocket URL")
	healthAddr = flag.String("health", "localhost:50051", "gRPC health address, empty to skip the check")
	symbols    = flag.String("symbols", "", "Comma-separated list of full symbol names")
	resolution = flag.String("resolution", "1S", "Bar resolution")
)

type subscribeRequest struct {
	Op         string `json:"op"`
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Resolution string `json:"resolution"`
}

type message struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error"`
	Bar   *struct {
		Time  int64   `json:"time"`
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	} `json:"bar"`
}

func main() {
	flag.Parse()

	log := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	if *healthAddr != "" {
		status, err := checkHealth(ctx, *healthAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("health check failed")
		}
		log.Info().Str("status", status).Msg("server health")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *streamURL, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("did not connect")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	symbolList := strings.Split(*symbols, ",")
	names := make(map[string]string, len(symbolList))
	for i, symbol := range symbolList {
		id := strconv.Itoa(i)
		names[id] = symbol

		req, err := json.Marshal(subscribeRequest{Op: "subscribe", ID: id, Symbol: symbol, Resolution: *resolution})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to encode subscription")
		}
		if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
			log.Fatal().Err(err).Msg("could not subscribe")
		}
	}

	log.Info().Strs("symbols", symbolList).Str("resolution", *resolution).Msg("subscribing")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("stream has closed")
				return
			}
			log.Fatal().Err(err).Msg("failed to receive message")
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Msg("failed to decode message")
			continue
		}

		switch msg.Type {
		case "bar":
			if msg.Bar == nil {
				continue
			}
			log.Info().
				Str("symbol", names[msg.ID]).
				Str("time", time.UnixMilli(msg.Bar.Time).Format(time.RFC3339Nano)).
				Float64("open", msg.Bar.Open).
				Float64("high", msg.Bar.High).
				Float64("low", msg.Bar.Low).
				Float64("close", msg.Bar.Close).
				Msg("received bar")
		case "error":
			log.Error().Str("symbol", names[msg.ID]).Str("error", msg.Error).Msg("stream error")
		default:
			log.Info().Str("symbol", names[msg.ID]).Str("type", msg.Type).Msg("stream event")
		}
	}
}

// checkHealth queries the gRPC health service and returns the serving status.
func checkHealth(ctx context.Context, addr string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

func validateConfig() error {
	if strings.TrimSpace(*symbols) == "" {
		return fmt.Errorf("symbols list cannot be empty")
	}
	if *streamURL == "" {
		return fmt.Errorf("stream URL cannot be empty")
	}
	return nil
}
