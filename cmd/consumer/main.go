package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"example.com/challenges/internal/config"
	"example.com/challenges/internal/consumer"
	"example.com/challenges/internal/logging"
	"example.com/challenges/internal/notify"
	"example.com/challenges/internal/persistence/memory"
	"example.com/challenges/internal/persistence/postgres"
	"example.com/challenges/internal/progress"
)

type store interface {
	progress.Store
	consumer.WorkoutRecorder
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

	var repo store
	if cfg.PostgresURL == "" {
		log.Warn("POSTGRES_URL not set, tracking progress in memory")
		repo = memory.NewStore()
	} else {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)
	}

	observers := []notify.Observer{notify.LogObserver{Logger: log.WithField("component", "notify")}}
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warnf("redis ping failed, realtime notifications may be lost: %v", err)
		}
		observers = append(observers, notify.NewRedisObserver(rdb, cfg.NotifyChannelPrefix))
	}
	if cfg.WebhookURL != "" {
		observers = append(observers, notify.NewWebhookObserver(cfg.WebhookURL, cfg.WebhookToken, cfg.WebhookTimeout.Duration))
	}

	bus := notify.NewBus(observers, notify.WithBufferSize(cfg.NotifyBufferSize))
	bus.Start(ctx)

	engineOpts := []progress.Option{progress.WithLogger(log.WithField("component", "progress"))}
	if cfg.LegacyTaxonomy {
		engineOpts = append(engineOpts, progress.WithLegacyTaxonomy())
	}
	engine := progress.NewEngine(repo, bus, engineOpts...)
	handler := consumer.NewWorkoutHandler(repo, engine, log.WithField("component", "workout-handler"))

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Infof("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(log.WithField("topic", topic)))

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Infof("consumer started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("consumer stopped with error (topic=%s): %v", topic, err)
			}
		}(topic, reader)
	}

	<-stop
	log.Info("consumer shutdown requested")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := bus.Close(shutdownCtx); err != nil {
		log.Errorf("notification bus did not drain: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("metrics server shutdown error: %v", err)
	}
}
