package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	httpapi "github.com/farmbridge/farmbridge/internal/api/http"
	appConsultation "github.com/farmbridge/farmbridge/internal/application/consultation"
	"github.com/farmbridge/farmbridge/internal/application/notify"
	"github.com/farmbridge/farmbridge/internal/application/routing"
	"github.com/farmbridge/farmbridge/internal/config"
	domainConsultation "github.com/farmbridge/farmbridge/internal/domain/consultation"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
	mediabroker "github.com/farmbridge/farmbridge/internal/infrastructure/media"
	"github.com/farmbridge/farmbridge/internal/infrastructure/memstore"
	"github.com/farmbridge/farmbridge/internal/infrastructure/postgres"
	"github.com/farmbridge/farmbridge/internal/infrastructure/sse"
)

func main() {
	_ = godotenv.Load()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store  domainConsultation.Store
		feed   domainConsultation.ChangeFeed
		pinger httpapi.Pinger
	)
	switch cfg.StoreBackend {
	case "memory":
		mem := memstore.NewStore()
		store, feed = mem, mem
		logger.Warn().Msg("using in-memory store, data will not survive restarts")
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		store = postgres.NewConsultationRepository(pool)
		feed = postgres.NewFeed(pool, cfg.FeedPollInterval, logger)
		pinger = pool
	}

	var provider identity.Provider = identity.TrustingProvider{}
	if !cfg.TrustIdentity {
		log.Fatal("TRUST_IDENTITY_HEADERS=false requires an external identity provider")
	}

	// infrastructure
	hub := sse.NewHub(logger)
	broker := mediabroker.NewBroker(cfg.MediaMaxSessions, logger)

	// engine
	router := routing.NewRouter(logger)
	policy := notify.NewPolicy()
	notifier := notify.NewNotifier(router, policy, hub, logger)
	consultationSvc := appConsultation.NewService(store, broker, logger)

	// pump the store change feed into the router, resuming at the log tail
	// so a restart does not replay history through every dashboard
	fromSeq, err := feed.LatestSeq(ctx)
	if err != nil {
		log.Fatalf("change feed error: %v", err)
	}
	changes, err := feed.Changes(ctx, fromSeq)
	if err != nil {
		log.Fatalf("change feed error: %v", err)
	}
	go router.Run(ctx, changes)

	apiServer := httpapi.NewServer(consultationSvc, feed, notifier, provider, pinger, logger)
	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
	hub.Stop()
	cancel()
}
