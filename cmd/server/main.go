package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gitrewind/platform/pkg/common/config"
	"github.com/gitrewind/platform/pkg/common/database"
	"github.com/gitrewind/platform/pkg/common/kafka"
	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/content"
	"github.com/gitrewind/platform/pkg/explain"
	"github.com/gitrewind/platform/pkg/gateway/middleware"
	"github.com/gitrewind/platform/pkg/github"
	"github.com/gitrewind/platform/pkg/ingest"
	"github.com/gitrewind/platform/pkg/objectstore"
	"github.com/gitrewind/platform/pkg/replay"
)

func main() {
	logger.Init("server")
	cfg := config.Load()

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.ConnectRedis(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to redis")
	}
	defer database.CloseRedis(redisClient)

	store := replay.NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate replay tables")
	}

	policy, err := ingest.LoadPolicy(cfg.IngestPolicyPath)
	if err != nil {
		logger.Log.WithError(err).Warn("ingest policy load failed, using defaults")
	}

	fetcher := github.NewClient(cfg.GithubToken, redisClient, cfg.GithubCacheTTL, cfg.GithubRequestsPerS)
	blobs := objectstore.NewAdapter(redisClient, cfg.ObjectChunkBytes)
	contents := content.NewStore(blobs, cfg.InlineMaxBytes)

	var events ingest.EventPublisher
	if cfg.KafkaEventTopic != "" {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		defer producer.Close()
		events = producer
	}

	files := ingest.NewFileStage(fetcher, contents, store, policy)
	orchestrator := ingest.NewOrchestrator(store, store, fetcher, files, cfg.MaxCommitsPerRepo)
	retrier := ingest.NewRetrier(store, orchestrator, events, cfg.SweepBatchSize)
	if cfg.KafkaDLQTopic != "" {
		dlq := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
		defer dlq.Close()
		retrier.SetDeadLetterPublisher(dlq)
	}
	svc := ingest.NewService(store, orchestrator, retrier, events, cfg.MaxJobRetries)

	var explainer replay.Explainer
	if cfg.LLMAPIKey != "" {
		explainer = explain.NewClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModelName, cfg.LLMTimeout)
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	ingest.NewHTTPHandler(svc, cfg.MaxRequestBody).Register(api)
	replay.NewHTTPHandler(store, contents, fetcher, explainer).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("GitRewind server started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	if !cfg.DisableServerSweep {
		go func() {
			ticker := time.NewTicker(cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n, err := svc.RetryFailedJobs(context.Background()); err != nil {
						logger.Log.WithError(err).Warn("retry sweep failed")
					} else if n > 0 {
						logger.Log.WithField("retried", n).Info("retry sweep redrove jobs")
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down GitRewind server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	// Detached ingestion runs outlive their originating requests;
	// drain them before the process exits.
	svc.Wait()

	logger.Log.Info("GitRewind server stopped")
}
