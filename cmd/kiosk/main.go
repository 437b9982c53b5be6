package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rangebridge/kiosk/internal/bridge"
	"github.com/rangebridge/kiosk/internal/endpoint"
	"github.com/rangebridge/kiosk/internal/kioskcfg"
	"github.com/rangebridge/kiosk/internal/stream"
	"github.com/rangebridge/kiosk/internal/timer"
	"github.com/rangebridge/kiosk/internal/watch"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("KIOSK_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := kioskcfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	resolver := endpoint.NewResolver(cfg.Endpoint, nil)
	log.Info().
		Str("api_url", resolver.APIURL()).
		Strs("channels", cfg.Channels).
		Msg("kiosk starting")

	registry := prometheus.NewRegistry()
	metrics := stream.NewMetrics(registry)

	manager := stream.NewManager(resolver, cfg.Stream, nil, nil, metrics)
	defer manager.Close()

	store := watch.NewStore(manager, cfg.Rules)
	bridgeClient := bridge.NewClient(resolver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, channel := range cfg.Channels {
		go runPanel(ctx, store, channel)
	}

	srv := setupStatusServer(cfg, manager, bridgeClient, registry)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server shutdown failed")
	}
}

// runPanel follows one channel and logs every state transition. The real
// display panels consume the same watcher interface.
func runPanel(ctx context.Context, store *watch.Store, channel string) {
	w := store.Watch(channel)
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-w.Snapshots():
			if !ok {
				return
			}
			log.Info().
				Str("channel", channel).
				Str("phase", snap.Timer.Phase.String()).
				Int("current_shot", snap.Timer.CurrentShot).
				Str("time", timer.FormatTime(snap.Timer.CurrentTime)).
				Str("connection", snap.Conn.Status.String()).
				Msg("panel state")
		}
	}
}
