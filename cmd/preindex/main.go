// Command preindex builds the face-to-photo mapping once and exits.
//
//	preindex -config configs/config.yaml -venues venue_07,venue_09 -out mapping.json
//
// With -changed it only announces that the listed venues' photos changed,
// which makes running API instances drop their cached results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

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
	venuesFlag := flag.String("venues", "", "comma-separated venues to rebuild (default: all)")
	out := flag.String("out", "", "also write the stored mapping as JSON to this file (with -no-db: only the rebuilt venues)")
	skipDB := flag.Bool("no-db", false, "do not write the mapping to postgres")
	notify := flag.Bool("notify", false, "publish a completion event so API instances reload the mapping")
	changed := flag.String("changed", "", "comma-separated venues whose photos changed; announce and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *changed != "" {
		if err := announceChanged(ctx, cfg.NATS.URL, splitList(*changed)); err != nil {
			slog.Error("announce photo changes", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, splitList(*venuesFlag), *out, !*skipDB, *notify); err != nil {
		slog.Error("pre-index failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, venues []string, out string, writeDB, notify bool) error {
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("connect to minio: %w", err)
	}

	rek, err := facedir.NewRekognition(ctx, cfg.FaceDirectory)
	if err != nil {
		return fmt.Errorf("create face directory client: %w", err)
	}
	if err := rek.EnsureCollection(ctx, cfg.FaceDirectory.CollectionID); err != nil {
		return fmt.Errorf("ensure face collection: %w", err)
	}
	dir := facedir.NewRateLimited(rek, cfg.FaceDirectory.RequestsPerSecond, cfg.FaceDirectory.Burst, cfg.FaceDirectory.Timeout)

	var db *storage.PostgresStore
	if writeDB {
		db, err = storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
	}

	layout := storage.KeyLayout{
		PhotosPrefix:    cfg.MinIO.PhotosPrefix,
		ThumbnailPrefix: cfg.MinIO.ThumbnailPrefix,
	}
	var registry preindex.VenueRegistry
	if db != nil {
		registry = db
	}
	builder := preindex.NewBuilder(registry, minioStore, dir, layout, preindex.BuilderOptions{
		Collection:  cfg.FaceDirectory.CollectionID,
		Concurrency: cfg.PreIndex.Concurrency,
		MaxFaces:    cfg.PreIndex.MaxFaces,
		MaxBytes:    cfg.FaceDirectory.MaxImageBytes,
	})

	last := time.Now()
	rep, err := builder.Build(ctx, venues, func(p preindex.Progress) {
		if p.Processed == p.Total || time.Since(last) > 5*time.Second {
			last = time.Now()
			slog.Info("progress", "venue", p.Venue, "processed", p.Processed, "total", p.Total, "faces", p.Faces)
		}
	})
	if err != nil {
		return err
	}

	mapping := rep.Mapping
	if db != nil {
		if mapping, err = preindex.Persist(ctx, rep, db, minioStore, cfg.PreIndex.ExportKey, layout); err != nil {
			return err
		}
	}
	if out != "" {
		data, err := mapping.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode mapping: %w", err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		slog.Info("mapping written", "path", out)
	}

	fmt.Printf("venues=%d photos=%d faces=%d no_face=%d failed=%d duration=%s\n",
		len(rep.Venues), rep.Photos, rep.Faces, rep.NoFace, rep.Failed, rep.Duration.Round(time.Millisecond))

	if notify && db != nil {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer producer.Close()
		return producer.PublishPreIndexEvent(ctx, models.PreIndexEvent{
			Type:      models.PreIndexCompleted,
			JobID:     uuid.New(),
			Processed: rep.Photos,
			Total:     rep.Photos,
			Faces:     rep.Faces,
			Failed:    rep.Failed,
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

func announceChanged(ctx context.Context, natsURL string, venues []string) error {
	producer, err := queue.NewProducer(natsURL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer producer.Close()

	for _, v := range venues {
		ev := models.PhotosChanged{Venue: v, Timestamp: time.Now().UTC()}
		if err := producer.PublishPhotosChanged(ctx, ev); err != nil {
			return err
		}
		slog.Info("photo change announced", "venue", v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
