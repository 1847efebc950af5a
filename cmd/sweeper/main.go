package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gitrewind/platform/pkg/common/config"
	"github.com/gitrewind/platform/pkg/common/database"
	"github.com/gitrewind/platform/pkg/common/kafka"
	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/content"
	"github.com/gitrewind/platform/pkg/github"
	"github.com/gitrewind/platform/pkg/ingest"
	"github.com/gitrewind/platform/pkg/objectstore"
	"github.com/gitrewind/platform/pkg/replay"
)

// The sweeper is a standalone redrive loop for deployments that turn
// off the in-server ticker (DISABLE_SERVER_SWEEP=true) and want retry
// processing isolated from request serving.
func main() {
	logger.Init("sweeper")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("Shutting down sweeper...")
		cancel()
	}()

	logger.Log.WithField("interval", cfg.SweepInterval.String()).Info("Sweeper started")

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	runSweep(ctx, retrier)
	for {
		select {
		case <-ticker.C:
			runSweep(ctx, retrier)
		case <-ctx.Done():
			logger.Log.Info("Sweeper stopped")
			return
		}
	}
}

func runSweep(ctx context.Context, retrier *ingest.Retrier) {
	n, err := retrier.RetryFailedJobs(ctx)
	if err != nil {
		logger.Log.WithError(err).Warn("retry sweep failed")
		return
	}
	if n > 0 {
		logger.Log.WithField("retried", n).Info("retry sweep redrove jobs")
	}
}
