package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/splitmerge/internal/api"
	cfgpkg "github.com/local/splitmerge/internal/config"
	"github.com/local/splitmerge/internal/dispatcher"
	"github.com/local/splitmerge/internal/executor"
	"github.com/local/splitmerge/internal/limiter"
	logpkg "github.com/local/splitmerge/internal/logger"
	"github.com/local/splitmerge/internal/metrics"
	"github.com/local/splitmerge/internal/queue"
	"github.com/local/splitmerge/internal/statuscheck"
	"github.com/local/splitmerge/internal/storage"
	"github.com/local/splitmerge/internal/store"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	if err := logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
	}
	defer logpkg.Close()
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb, err := store.Connect(ctx, cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	rq, err := queue.NewRedisQueue(ctx, rdb, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.DLQStream, time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init commit queue")
	}
	defer rq.Close()

	status := store.NewRedisStatus(rdb, 7*24*time.Hour)
	results, err := store.NewResultStore(rdb, cfg.Storage.SpoolDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init result store")
	}
	go results.RunSweeper(ctx, cfg.Preview.SweepEvery, cfg.Preview.TTL)

	// Documents in, outputs out: S3 when a bucket is configured
	var (
		source    storage.Source
		publisher storage.Publisher
		bucket    statuscheck.Pinger
	)
	if cfg.Storage.S3Bucket != "" {
		s3c, err := storage.NewS3Client(ctx, storage.S3Options{
			Bucket:       cfg.Storage.S3Bucket,
			Region:       cfg.Storage.S3Region,
			AccessKeyID:  cfg.Storage.AccessKeyID,
			SecretKey:    cfg.Storage.SecretKey,
			SourcePrefix: cfg.Storage.S3SourcePrefix,
			OutputPrefix: cfg.Storage.S3OutputPrefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init S3")
		}
		source, publisher, bucket = s3c, s3c, s3c
		log.Info().Str("bucket", cfg.Storage.S3Bucket).Msg("using S3 storage")
	} else {
		source = storage.NewLocalSource(cfg.Storage.SourceDir)
		publisher = storage.NewLocalPublisher(cfg.Storage.OutputDir)
		log.Info().Str("source_dir", cfg.Storage.SourceDir).Str("output_dir", cfg.Storage.OutputDir).Msg("using local storage")
	}

	exec := executor.New(source, results, rq, status, executor.Options{PreviewTTL: cfg.Preview.TTL})

	mux := http.NewServeMux()
	api.New(api.Dependencies{
		Executor:        exec,
		Results:         results,
		Status:          status,
		Health:          statuscheck.New(statuscheck.Options{Redis: rq, Storage: bucket, SpoolDir: cfg.Storage.SpoolDir}),
		Limiter:         limiter.New(cfg.Server.MaxInflight),
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
	}).RegisterRoutes(mux)

	// Commit worker (optional)
	var worker *dispatcher.Worker
	if cfg.Worker.Enabled {
		host, _ := os.Hostname()
		worker = dispatcher.New(dispatcher.Config{
			Concurrency:    cfg.Worker.Concurrency,
			MaxAttempts:    cfg.Worker.MaxAttempts,
			PollTimeout:    cfg.Worker.PollTimeout,
			RetryBackoff:   cfg.Worker.RetryBackoff,
			JobTimeout:     cfg.Worker.JobTimeout,
			ConsumerPrefix: host,
		}, rq, results, publisher, source, status,
			dispatcher.NewCircuitBreaker(rdb, cfg.Worker.RetryBackoff, cfg.Worker.MaxBackoff))
		worker.Start()
		go dispatcher.MonitorDepth(ctx, rq, cfg.Worker.DepthEvery)
	}

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if worker != nil {
		if err := worker.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("worker shutdown")
		}
	}
	log.Info().Msg("shutdown complete")
}
