package preindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/storage"
)

// EventPublisher is satisfied by *queue.Producer.
type EventPublisher interface {
	PublishPreIndexEvent(ctx context.Context, ev models.PreIndexEvent) error
}

// progressEvery is how many photos pass between progress events.
const progressEvery = 25

// Runner executes rebuild jobs: build, persist, announce.
type Runner struct {
	builder   *Builder
	store     MappingStore
	exporter  Exporter
	exportKey string
	events    EventPublisher
	layout    storage.KeyLayout
}

func NewRunner(builder *Builder, store MappingStore, exporter Exporter, exportKey string, events EventPublisher, layout storage.KeyLayout) *Runner {
	return &Runner{
		builder:   builder,
		store:     store,
		exporter:  exporter,
		exportKey: exportKey,
		events:    events,
		layout:    layout,
	}
}

// Run executes one job. heartbeat, if set, is called with every progress
// update so a queue lease can be extended.
func (r *Runner) Run(ctx context.Context, job models.PreIndexJob, heartbeat func()) error {
	slog.Info("pre-index job started", "job_id", job.JobID, "venues", job.Venues)
	r.publish(ctx, models.PreIndexEvent{Type: models.PreIndexStarted, JobID: job.JobID})

	rep, err := r.builder.Build(ctx, job.Venues, func(p Progress) {
		if heartbeat != nil {
			heartbeat()
		}
		if p.Processed%progressEvery != 0 && p.Processed != p.Total {
			return
		}
		r.publish(ctx, models.PreIndexEvent{
			Type:      models.PreIndexProgress,
			JobID:     job.JobID,
			Venue:     p.Venue,
			Processed: p.Processed,
			Total:     p.Total,
			Faces:     p.Faces,
			Failed:    p.Failed,
		})
	})
	if err == nil {
		_, err = Persist(ctx, rep, r.store, r.exporter, r.exportKey, r.layout)
	}
	if err != nil {
		r.publish(ctx, models.PreIndexEvent{Type: models.PreIndexFailed, JobID: job.JobID, Error: err.Error()})
		return fmt.Errorf("job %s: %w", job.JobID, err)
	}

	r.publish(ctx, models.PreIndexEvent{
		Type:      models.PreIndexCompleted,
		JobID:     job.JobID,
		Processed: rep.Photos,
		Total:     rep.Photos,
		Faces:     rep.Faces,
		Failed:    rep.Failed,
	})
	slog.Info("pre-index job completed", "job_id", job.JobID, "photos", rep.Photos, "faces", rep.Faces, "duration", rep.Duration)
	return nil
}

func (r *Runner) publish(ctx context.Context, ev models.PreIndexEvent) {
	if r.events == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	if err := r.events.PublishPreIndexEvent(ctx, ev); err != nil {
		slog.Warn("publish pre-index event", "type", ev.Type, "error", err)
	}
}
