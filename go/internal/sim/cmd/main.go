package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dlobba/lwb-cc2538/go/internal/config"
	"github.com/dlobba/lwb-cc2538/go/internal/report"
	"github.com/dlobba/lwb-cc2538/go/internal/round"
	"github.com/dlobba/lwb-cc2538/go/internal/sim"
	"github.com/dlobba/lwb-cc2538/go/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (default $GLOSSY_CONFIG)")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
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
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	clock := clockwork.NewRealClock()
	runID := uuid.New()
	observers := []round.Observer{telemetry.Observer{}}

	if cfg.NATSURL != "" {
		jsCfg := report.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATSURL
		pub, err := report.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create round publisher")
		}
		defer pub.Close()

		po := report.NewPublishingObserver(pub, runID, clock, 1024)
		flushed := make(chan struct{})
		go func() {
			defer close(flushed)
			po.Run(ctx)
		}()
		defer func() {
			cancel()
			<-flushed
			published, dropped := po.Stats()
			log.Info().Uint64("published", published).Uint64("dropped", dropped).Msg("round publisher stopped")
		}()
		observers = append(observers, po)
		log.Info().Str("url", jsCfg.URL).Str("stream", jsCfg.StreamName).Msg("publishing round reports")
	}

	if cfg.MetricsAddr != "" {
		server := telemetry.NewServer(cfg.MetricsAddr, nil)
		go func() {
			log.Info().Str("addr", server.Addr).Msg("metrics server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	network, err := sim.FromConfig(cfg, sim.Options{
		Clock:     clock,
		Output:    os.Stdout,
		Observers: observers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build simulated network")
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			log.Info().Msg("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("run_id", runID.String()).
		Uint16("initiator", cfg.InitiatorID).
		Int("nodes", len(cfg.Simulation.Nodes)).
		Msg("starting simulation")

	if err := network.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}
	log.Info().Strs("failed_nodes", failedIDs(network)).Msg("simulation stopped")
}

func failedIDs(n *sim.Network) []string {
	var ids []string
	for _, id := range n.Failed() {
		ids = append(ids, strconv.Itoa(int(id)))
	}
	return ids
}
