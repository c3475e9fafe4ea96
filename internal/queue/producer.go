package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/gallery/internal/models"
)

const (
	JobsStreamName    = "PREINDEX"
	JobsSubject       = "preindex.jobs"
	EventsStreamName  = "GALLERY_EVENTS"
	EventsSubjectBase = "gallery.events"

	PreIndexEventsSubject = EventsSubjectBase + ".preindex"
	PhotosSubjectBase     = EventsSubjectBase + ".photos"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        JobsStreamName,
			Subjects:    []string{JobsSubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  time.Minute,
			Description: "Pre-index rebuild jobs",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Description: "Pre-index progress and photo change events",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishJob enqueues a pre-index rebuild. The job id doubles as the
// JetStream message id, so a retried publish is deduplicated.
func (p *Producer) PublishJob(ctx context.Context, job models.PreIndexJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := p.js.Publish(ctx, JobsSubject, payload, jetstream.WithMsgID(job.JobID.String())); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// PublishPreIndexEvent reports rebuild progress to API instances.
func (p *Producer) PublishPreIndexEvent(ctx context.Context, ev models.PreIndexEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, PreIndexEventsSubject, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// PublishPhotosChanged announces that the photo set of a venue changed.
func (p *Producer) PublishPhotosChanged(ctx context.Context, ev models.PhotosChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal photos changed: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", PhotosSubjectBase, ev.Venue)
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish photos changed: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending rebuild jobs.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, JobsStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
