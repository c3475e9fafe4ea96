package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/gallery/internal/api"
	"github.com/your-org/gallery/internal/api/handlers"
	"github.com/your-org/gallery/internal/api/ws"
	"github.com/your-org/gallery/internal/config"
	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/internal/filter"
	"github.com/your-org/gallery/internal/matchcache"
	"github.com/your-org/gallery/internal/observability"
	"github.com/your-org/gallery/internal/preindex"
	"github.com/your-org/gallery/internal/queue"
	"github.com/your-org/gallery/internal/session"
	"github.com/your-org/gallery/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting gallery API", "port", cfg.Server.Port)

	tiers, err := filter.TiersFromConfig(cfg.Filter.Tiers)
	if err != nil {
		slog.Error("invalid filter tiers", "error", err)
		os.Exit(1)
	}

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
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Face directory
	rek, err := facedir.NewRekognition(ctx, cfg.FaceDirectory)
	if err != nil {
		slog.Error("create face directory client", "error", err)
		os.Exit(1)
	}
	if err := rek.EnsureCollection(ctx, cfg.FaceDirectory.CollectionID); err != nil {
		slog.Warn("ensure face collection", "collection", cfg.FaceDirectory.CollectionID, "error", err)
	}
	dir := facedir.NewRateLimited(rek, cfg.FaceDirectory.RequestsPerSecond, cfg.FaceDirectory.Burst, cfg.FaceDirectory.Timeout)

	layout := storage.KeyLayout{
		PhotosPrefix:    cfg.MinIO.PhotosPrefix,
		ThumbnailPrefix: cfg.MinIO.ThumbnailPrefix,
	}

	// Pre-indexed mapping. A missing mapping is not fatal: the fast path
	// then finds nothing and the live tiers take over.
	loadMapping := func(ctx context.Context) (*preindex.Mapping, error) {
		if cfg.PreIndex.Source == "file" {
			return preindex.LoadFile(layout, cfg.PreIndex.File)
		}
		return preindex.LoadStore(ctx, layout, db)
	}
	holder := preindex.NewHolder(preindex.LoadOrEmpty(func() (*preindex.Mapping, error) {
		return loadMapping(ctx)
	}))

	cache := matchcache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL, nil)

	live := filter.NewLiveMatcher(minioStore, dir, holder, layout, filter.LiveOptions{
		Collection:      cfg.FaceDirectory.CollectionID,
		MaxConcurrent:   cfg.FaceDirectory.MaxConcurrentSearches,
		MaxResults:      cfg.FaceDirectory.MaxResults,
		MaxImageBytes:   cfg.FaceDirectory.MaxImageBytes,
		InterBatchDelay: cfg.Filter.InterBatchDelay,
	})
	assembler := filter.NewAssembler(minioStore, layout, cfg.Filter.SignedURLTTL, cfg.Filter.SignConcurrency)
	orchestrator := filter.NewOrchestrator(tiers, filter.NewFastPath(holder), live, assembler, cache, filter.Options{
		LiveTimeout: cfg.Filter.LiveTimeout,
	})

	if cfg.Session.Secret == "" {
		cfg.Session.Secret = randomSecret()
		slog.Warn("session secret not configured, using a random one; sessions will not survive restarts")
	}
	sessions, err := session.NewManager(cfg.Session)
	if err != nil {
		slog.Error("create session manager", "error", err)
		os.Exit(1)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Every API instance consumes the event stream with its own consumer.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	events := api.NewEventRouter(hub, holder, cache, loadMapping)
	if err := consumer.ConsumeEvents(ctx, "api-"+uuid.NewString(), events.HandleMsg); err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey: cfg.Server.APIKey,
		Checks: []handlers.ReadinessCheck{
			{Name: "postgres", Check: db.Ping},
			{Name: "minio", Check: minioStore.Ping},
			{Name: "nats", Check: func(context.Context) error { return producer.Ping() }},
		},
		Filter:            orchestrator,
		Sessions:          sessions,
		Directory:         dir,
		Collection:        cfg.FaceDirectory.CollectionID,
		RegisterThreshold: cfg.Session.RegisterThreshold,
		MaxImageBytes:     cfg.FaceDirectory.MaxImageBytes,
		Jobs:              producer,
		Cache:             cache,
		CacheMaxEntries:   cfg.Cache.MaxEntries,
		CacheTTL:          cfg.Cache.TTL,
		Mapping:           holder,
		Hub:               hub,
	})

	// Live searches of large venues take a while; the write timeout covers
	// the whole chain.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Filter.LiveTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
