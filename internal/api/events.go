package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/gallery/internal/matchcache"
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/preindex"
	"github.com/your-org/gallery/internal/queue"
	"github.com/your-org/gallery/pkg/dto"
)

// Broadcaster is satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastEvent(event *dto.WSEvent)
}

// EventRouter applies gallery events to the API process: a completed
// rebuild swaps the mapping and purges the match cache, a photo change
// drops the venue's cached results. Every event is forwarded to the admin
// feed.
type EventRouter struct {
	hub     Broadcaster
	mapping *preindex.Holder
	cache   *matchcache.Cache
	reload  func(ctx context.Context) (*preindex.Mapping, error)
}

func NewEventRouter(hub Broadcaster, mapping *preindex.Holder, cache *matchcache.Cache, reload func(ctx context.Context) (*preindex.Mapping, error)) *EventRouter {
	return &EventRouter{hub: hub, mapping: mapping, cache: cache, reload: reload}
}

// HandleMsg is a queue.MessageHandler.
func (r *EventRouter) HandleMsg(ctx context.Context, msg jetstream.Msg) error {
	return r.Dispatch(ctx, msg.Subject(), msg.Data())
}

func (r *EventRouter) Dispatch(ctx context.Context, subject string, data []byte) error {
	switch {
	case subject == queue.PreIndexEventsSubject:
		var ev models.PreIndexEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("invalid pre-index event", "error", err)
			return nil
		}
		if ev.Type == models.PreIndexCompleted {
			if err := r.swapMapping(ctx); err != nil {
				return err
			}
		}
		r.hub.BroadcastEvent(&dto.WSEvent{Type: string(ev.Type), Venue: ev.Venue, PreIndex: &ev})

	case strings.HasPrefix(subject, queue.PhotosSubjectBase+"."):
		var ev models.PhotosChanged
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("invalid photos event", "error", err)
			return nil
		}
		if ev.Venue == "" {
			ev.Venue = strings.TrimPrefix(subject, queue.PhotosSubjectBase+".")
		}
		n := r.cache.InvalidateVenue(ev.Venue)
		slog.Info("venue photos changed, cache invalidated", "venue", ev.Venue, "entries", n)
		r.hub.BroadcastEvent(&dto.WSEvent{Type: "photos.changed", Venue: ev.Venue, Photos: &ev})
	}
	return nil
}

func (r *EventRouter) swapMapping(ctx context.Context) error {
	m, err := r.reload(ctx)
	if err != nil {
		return fmt.Errorf("reload mapping: %w", err)
	}
	r.mapping.Store(m)
	r.cache.Purge()
	slog.Info("pre-index mapping swapped", "entries", m.Len(), "photos", m.Photos())
	return nil
}
