package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"example.com/challenges/internal/api"
	"example.com/challenges/internal/auth"
	"example.com/challenges/internal/config"
	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/logging"
	"example.com/challenges/internal/outbox"
	"example.com/challenges/internal/persistence/memory"
	"example.com/challenges/internal/persistence/postgres"
	"example.com/challenges/internal/progress"
	httptransport "example.com/challenges/internal/transport/http"
)

type store interface {
	progress.Store
	domain.ChallengeRepository
}

// routes adds the prometheus endpoint next to the API routes.
type routes struct {
	api *api.Handler
}

func (r routes) RegisterRoutes(router *mux.Router) {
	r.api.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logFile := logging.Setup(logging.Params{
		Level:      cfg.LogLevel,
		FormatJSON: cfg.LogFormatJSON,
		FileName:   cfg.LogFile,
		ToStdout:   cfg.LogToStdout,
	})
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo       store
		dispatcher *outbox.Dispatcher
	)
	if cfg.PostgresURL == "" {
		log.Warn("POSTGRES_URL not set, using in-memory store without outbox delivery")
		repo = memory.NewStore()
	} else {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaWriteTimeout.Duration)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval.Duration, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	var engineOpts []progress.Option
	if cfg.LegacyTaxonomy {
		engineOpts = append(engineOpts, progress.WithLegacyTaxonomy())
	}
	engine := progress.NewEngine(repo, nil, engineOpts...)

	handler := api.NewHandler(domain.NewService(repo), engine, repo, log.WithField("component", "api"))
	serverCfg := httptransport.ServerConfig{
		Address:        cfg.HTTPAddress,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	router := httptransport.NewRouter(serverCfg, routes{api: handler}, authMiddleware, log.WithField("component", "http"))
	server := httptransport.NewServer(serverCfg, router)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infof("challenge api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
