package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/dlobba/lwb-cc2538/go/internal/collector"
	"github.com/dlobba/lwb-cc2538/go/internal/config"
	"github.com/dlobba/lwb-cc2538/go/internal/report"
	"github.com/dlobba/lwb-cc2538/go/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (default $GLOSSY_CONFIG)")
	flag.Parse()

	config.LoadEnv()
	if *configPath == "" {
		*configPath = os.Getenv("GLOSSY_CONFIG")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := config.SetupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Name).
		Msg("connected to database")

	store := collector.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	jsCfg := report.DefaultJetStreamConfig()
	if cfg.NATSURL != "" {
		jsCfg.URL = cfg.NATSURL
	}
	nc, err := report.Connect(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create JetStream context")
	}
	if err := report.EnsureStream(ctx, js, jsCfg); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure round stream")
	}

	hub := collector.NewHub(collector.DefaultHubConfig())
	go hub.Start(ctx)

	consumer, err := collector.NewConsumer(ctx, js,
		collector.DefaultConsumerConfig(jsCfg, cfg.Collector.Consumer),
		store, hub, collector.ObserverSink{Observer: telemetry.Observer{}},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create consumer")
	}

	server := telemetry.NewServer(cfg.Collector.ListenAddr, map[string]http.Handler{
		"/ws/rounds":   hub,
		"/api/summary": summaryHandler(store),
	})
	// Websocket clients outlive the default write timeout.
	server.WriteTimeout = 0

	go func() {
		log.Info().Str("addr", server.Addr).Msg("collector HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("consumer stopped")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("collector stopped")
}

func summaryHandler(store *collector.PostgresStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(r.URL.Query().Get("run_id"))
		if err != nil {
			http.Error(w, "run_id must be a UUID", http.StatusBadRequest)
			return
		}
		totals, err := store.Summary(r.Context(), runID)
		if err != nil {
			log.Error().Err(err).Str("run_id", runID.String()).Msg("summary query failed")
			http.Error(w, "summary unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(totals)
	})
}
