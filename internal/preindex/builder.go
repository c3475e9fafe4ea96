package preindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/observability"
	"github.com/your-org/gallery/internal/storage"
)

// ErrNothingIndexed is returned when every photo of a rebuild failed for
// reasons other than its content. Persisting such a run would wipe a
// working mapping.
var ErrNothingIndexed = errors.New("pre-index: every photo failed")

// VenueRegistry lists the venues known to the database.
type VenueRegistry interface {
	ListVenues(ctx context.Context) ([]models.Venue, error)
}

// PhotoStore is the object store as seen by the builder.
type PhotoStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	GetObjectLimited(ctx context.Context, key string, maxBytes int64) ([]byte, error)
}

// MappingSink persists a rebuilt mapping. An empty venues slice replaces
// every entry.
type MappingSink interface {
	ReplaceMappingEntries(ctx context.Context, venues []string, entries []models.MappingEntry, venueOf func(string) string) error
}

// MappingStore is the mapping's system of record: it is replaced by a
// rebuild and read back for the export.
type MappingStore interface {
	MappingSink
	EntrySource
}

// Exporter uploads the JSON rendition of a mapping.
type Exporter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type BuilderOptions struct {
	Collection  string
	Concurrency int
	MaxFaces    int
	MaxBytes    int64
}

// Progress is reported after each photo.
type Progress struct {
	Venue     string
	Processed int
	Total     int
	Faces     int
	Failed    int
}

// Report summarises one Build run.
type Report struct {
	Venues   []string
	Full     bool
	Photos   int
	Faces    int
	NoFace   int
	Failed   int
	Duration time.Duration
	Mapping  *Mapping
}

type Builder struct {
	registry VenueRegistry
	photos   PhotoStore
	dir      facedir.Directory
	layout   storage.KeyLayout
	opts     BuilderOptions
}

// NewBuilder returns a builder. registry may be nil, in which case venues are
// discovered from the object store prefixes.
func NewBuilder(registry VenueRegistry, photos PhotoStore, dir facedir.Directory, layout storage.KeyLayout, opts BuilderOptions) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.MaxFaces <= 0 {
		opts.MaxFaces = 10
	}
	return &Builder{
		registry: registry,
		photos:   photos,
		dir:      dir,
		layout:   layout,
		opts:     opts,
	}
}

// Build indexes every photo of the given venues (all venues when empty) into
// the face collection and returns the resulting mapping. Photos that cannot
// be fetched or indexed are skipped.
func (b *Builder) Build(ctx context.Context, venues []string, progress func(Progress)) (*Report, error) {
	start := time.Now()
	full := len(venues) == 0
	if full {
		var err error
		venues, err = b.discoverVenues(ctx)
		if err != nil {
			return nil, err
		}
	}

	var (
		all      []models.MappingEntry
		report   = &Report{Venues: venues, Full: full}
		attempts int
		infra    int
	)
	for _, venue := range venues {
		entries, st, err := b.buildVenue(ctx, venue, progress)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
		report.Photos += st.total
		report.Faces += len(entries)
		report.NoFace += st.noFace
		report.Failed += st.failed
		attempts += st.total
		infra += st.infra
	}

	if attempts > 0 && infra == attempts {
		return nil, ErrNothingIndexed
	}

	report.Mapping = NewMapping(b.layout, all)
	report.Duration = time.Since(start)
	slog.Info("pre-index build finished",
		"venues", len(venues),
		"photos", report.Photos,
		"faces", report.Faces,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report, nil
}

func (b *Builder) discoverVenues(ctx context.Context) ([]string, error) {
	if b.registry != nil {
		list, err := b.registry.ListVenues(ctx)
		if err == nil && len(list) > 0 {
			venues := make([]string, 0, len(list))
			for _, v := range list {
				venues = append(venues, v.ID)
			}
			return venues, nil
		}
		if err != nil {
			slog.Warn("venue registry unavailable, listing object store", "error", err)
		}
	}

	prefixes, err := b.photos.ListPrefixes(ctx, b.layout.PhotosPrefix)
	if err != nil {
		return nil, fmt.Errorf("discover venues: %w", err)
	}
	venues := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		v := strings.TrimSuffix(strings.TrimPrefix(p, b.layout.PhotosPrefix), "/")
		if v != "" {
			venues = append(venues, v)
		}
	}
	sort.Strings(venues)
	return venues, nil
}

type venueStats struct {
	total  int
	noFace int
	failed int
	infra  int
}

func (b *Builder) buildVenue(ctx context.Context, venue string, progress func(Progress)) ([]models.MappingEntry, venueStats, error) {
	keys, err := b.photos.ListKeys(ctx, b.layout.VenuePrefix(venue))
	if err != nil {
		return nil, venueStats{}, fmt.Errorf("list photos of %s: %w", venue, err)
	}
	keys = storage.ImageKeys(keys)

	var (
		mu      sync.Mutex
		entries []models.MappingEntry
		st      = venueStats{total: len(keys)}
		done    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for _, key := range keys {
		g.Go(func() error {
			faces, err := b.indexPhoto(gctx, key)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			done++
			switch {
			case errors.Is(err, facedir.ErrNoFaceDetected):
				st.noFace++
				observability.PreIndexPhotos.WithLabelValues("no_face").Inc()
			case err != nil:
				st.failed++
				if !facedir.IsContentError(err) {
					st.infra++
				}
				observability.PreIndexPhotos.WithLabelValues("failed").Inc()
				slog.Debug("pre-index photo skipped", "key", key, "error", err)
			default:
				for _, f := range faces {
					entries = append(entries, models.MappingEntry{PhotoKey: key, FaceID: f})
				}
				observability.PreIndexPhotos.WithLabelValues("indexed").Inc()
			}
			if progress != nil {
				progress(Progress{
					Venue:     venue,
					Processed: done,
					Total:     len(keys),
					Faces:     len(entries),
					Failed:    st.failed,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, venueStats{}, fmt.Errorf("build %s: %w", venue, err)
	}
	slog.Info("venue indexed", "venue", venue, "photos", len(keys), "faces", len(entries), "failed", st.failed)
	return entries, st, nil
}

func (b *Builder) indexPhoto(ctx context.Context, key string) ([]string, error) {
	data, err := b.photos.GetObjectLimited(ctx, key, b.opts.MaxBytes)
	if err != nil {
		if errors.Is(err, storage.ErrObjectTooLarge) {
			return nil, fmt.Errorf("%w: %w", facedir.ErrImageTooLarge, err)
		}
		return nil, err
	}
	if err := facedir.ValidateImage(data, b.opts.MaxBytes); err != nil {
		return nil, err
	}
	return b.dir.IndexFaces(ctx, b.opts.Collection, data, key, b.opts.MaxFaces)
}

// Persist writes the report's mapping to the store and, when exportKey is
// set, uploads the JSON rendition of the whole stored mapping. A rebuild
// of some venues only replaces those venues, so the export is read back
// from the store to keep the other venues. Persist returns the mapping as
// stored.
func Persist(ctx context.Context, rep *Report, store MappingStore, exp Exporter, exportKey string, layout storage.KeyLayout) (*Mapping, error) {
	var venues []string
	if !rep.Full {
		venues = rep.Venues
	}
	if err := store.ReplaceMappingEntries(ctx, venues, rep.Mapping.Entries(), layout.VenueOfKey); err != nil {
		return nil, fmt.Errorf("persist mapping: %w", err)
	}

	stored := rep.Mapping
	if !rep.Full {
		var err error
		if stored, err = LoadStore(ctx, layout, store); err != nil {
			return nil, fmt.Errorf("reload mapping: %w", err)
		}
	}

	if exp == nil || exportKey == "" {
		return stored, nil
	}
	data, err := stored.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode mapping: %w", err)
	}
	if err := exp.PutObject(ctx, exportKey, data, "application/json"); err != nil {
		return nil, fmt.Errorf("export mapping: %w", err)
	}
	return stored, nil
}
