package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/gallery/internal/config"
	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/observability"
	"github.com/your-org/gallery/internal/preindex"
	"github.com/your-org/gallery/internal/queue"
	"github.com/your-org/gallery/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8082", "metrics listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting pre-index worker",
		"concurrency", cfg.PreIndex.Concurrency,
		"collection", cfg.FaceDirectory.CollectionID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	rek, err := facedir.NewRekognition(ctx, cfg.FaceDirectory)
	if err != nil {
		slog.Error("create face directory client", "error", err)
		os.Exit(1)
	}
	if err := rek.EnsureCollection(ctx, cfg.FaceDirectory.CollectionID); err != nil {
		slog.Error("ensure face collection", "collection", cfg.FaceDirectory.CollectionID, "error", err)
		os.Exit(1)
	}
	dir := facedir.NewRateLimited(rek, cfg.FaceDirectory.RequestsPerSecond, cfg.FaceDirectory.Burst, cfg.FaceDirectory.Timeout)

	layout := storage.KeyLayout{
		PhotosPrefix:    cfg.MinIO.PhotosPrefix,
		ThumbnailPrefix: cfg.MinIO.ThumbnailPrefix,
	}
	builder := preindex.NewBuilder(db, minioStore, dir, layout, preindex.BuilderOptions{
		Collection:  cfg.FaceDirectory.CollectionID,
		Concurrency: cfg.PreIndex.Concurrency,
		MaxFaces:    cfg.PreIndex.MaxFaces,
		MaxBytes:    cfg.FaceDirectory.MaxImageBytes,
	})
	runner := preindex.NewRunner(builder, db, minioStore, cfg.PreIndex.ExportKey, producer, layout)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeJobs(ctx, "preindex-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var job models.PreIndexJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			slog.Error("unmarshal pre-index job", "error", err)
			return nil // Don't retry on unmarshal errors
		}
		return runner.Run(ctx, job, func() { _ = msg.InProgress() })
	})
	if err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.PreIndexQueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
