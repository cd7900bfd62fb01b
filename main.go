// FILE: main.go
// Package main – program entrypoint and HTTP/metrics server.
//
// Boot sequence:
//  1. loadDotEnv(".env")    – optional .env overlay, never overrides set vars
//  2. LoadConfigFromEnv()   – build the immutable runtime Config
//  3. wire the selected Broker (robinhood | binance | paper)
//  4. Bootstrap() the orchestrator from order/trade history
//  5. start the Prometheus /healthz + /metrics server
//  6. run the tick loop until SIGINT/SIGTERM
//
// Grounded on the teacher's main.go boot sequence and graceful-shutdown
// idiom, generalized from the flag-driven backtest/live switch to the
// env-driven exchange-provider switch SPEC_FULL §6 calls for.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	_ = loadDotEnv(getEnv("POWERTRADER_ENV", ".env"))

	logLevel, err := zerolog.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg := LoadConfigFromEnv()

	var broker Broker
	switch cfg.ExchangeProvider {
	case "binance":
		bb, err := NewBinanceBroker(log)
		if err != nil {
			log.Fatal().Err(err).Msg("binance broker init failed")
		}
		broker = bb
	case "paper":
		priceSourceProvider := strings.ToLower(getEnv("PAPER_PRICE_SOURCE", "binance"))
		var priceSource Broker
		if priceSourceProvider == "robinhood" {
			rb, err := NewRobinhoodBroker(cfg, log)
			if err != nil {
				log.Fatal().Err(err).Msg("paper price-source (robinhood) init failed")
			}
			priceSource = rb
		} else {
			bb, err := NewBinanceBroker(log)
			if err != nil {
				log.Fatal().Err(err).Msg("paper price-source (binance) init failed")
			}
			priceSource = bb
		}
		startBal := decimal.NewFromFloat(getEnvFloat("PAPER_STARTING_BALANCE", 10000))
		broker = NewPaperBroker(priceSource, getEnv("PAPER_STATE_PATH", "paper_state.json"), cfg.QuoteAsset, startBal, log)
	default:
		rb, err := NewRobinhoodBroker(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("robinhood broker init failed")
		}
		broker = rb
	}

	hub := NewHub(cfg.HubDir)
	orch := NewOrchestrator(cfg, broker, hub, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	orch.Bootstrap(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := getEnvInt("PORT", 9090)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		log.Info().Int("port", port).Msg("serving /healthz and /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	log.Info().Str("exchange", broker.Name()).Strs("coins", cfg.Coins).Msg("starting control loop")
	orch.Run(ctx)

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}
