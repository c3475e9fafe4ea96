package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/observability"
	"github.com/your-org/gallery/internal/storage"
)

// ObjectStore is the part of the object store the live matcher reads.
type ObjectStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	GetObjectLimited(ctx context.Context, key string, maxBytes int64) ([]byte, error)
}

type LiveOptions struct {
	Collection string
	// MaxConcurrent caps the batch size, and with it the number of
	// in-flight directory searches of one request.
	MaxConcurrent   int
	MaxResults      int
	MaxImageBytes   int64
	InterBatchDelay time.Duration
}

// SearchOptions selects the variant of one live search.
type SearchOptions struct {
	Threshold float64
	// BatchSize of 0 selects BatchSizeFor(total photos).
	BatchSize int
	// UseMapping resolves photos whose mapping entries already contain the
	// requester's face without a directory call.
	UseMapping bool
}

// SearchOutcome is the result of one live search.
type SearchOutcome struct {
	Photos      []models.MatchedPhoto
	TotalPhotos int
	Resolved    int // answered from the mapping
	Searched    int
	Failed      int
	Batches     int
}

// LiveMatcher lists a venue's photos and searches the face directory with
// each of them, batch by batch.
type LiveMatcher struct {
	store   ObjectStore
	dir     facedir.Directory
	mapping MappingProvider
	layout  storage.KeyLayout
	opts    LiveOptions
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewLiveMatcher(store ObjectStore, dir facedir.Directory, mapping MappingProvider, layout storage.KeyLayout, opts LiveOptions) *LiveMatcher {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}
	return &LiveMatcher{
		store:   store,
		dir:     dir,
		mapping: mapping,
		layout:  layout,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

// Search returns the venue's photos in which the directory recognises face.
// Photos that cannot be fetched or searched are skipped; if every searched
// photo failed for reasons unrelated to its content the search fails with
// ErrUpstreamUnavailable.
func (m *LiveMatcher) Search(ctx context.Context, venue, face string, so SearchOptions) (*SearchOutcome, error) {
	keys, err := m.store.ListKeys(ctx, m.layout.VenuePrefix(venue))
	if err != nil {
		return nil, fmt.Errorf("%w: list photos of %s: %w", ErrUpstreamUnavailable, venue, err)
	}
	keys = storage.ImageKeys(keys)

	out := &SearchOutcome{TotalPhotos: len(keys)}

	pending := keys
	if so.UseMapping && m.mapping != nil {
		mapping := m.mapping.Load()
		pending = make([]string, 0, len(keys))
		for _, k := range keys {
			if mapping.HasFace(k, face) {
				out.Photos = append(out.Photos, newMatch(k, PreIndexedConfidence))
				out.Resolved++
				continue
			}
			pending = append(pending, k)
		}
	}

	size := so.BatchSize
	if size <= 0 {
		size = BatchSizeFor(len(keys))
	}
	size = ClampBatchSize(size, m.opts.MaxConcurrent)

	// Photos rejected for their content say nothing about the directory. It
	// is down when every other searched photo failed.
	var (
		infra    int
		rejected int
		lastErr  error
	)
	for i, batch := range Partition(pending, size) {
		if i > 0 && m.opts.InterBatchDelay > 0 {
			if err := m.sleep(ctx, m.opts.InterBatchDelay); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
			}
		}

		results := m.searchBatch(ctx, batch, face, so.Threshold)
		out.Batches++
		for _, r := range results {
			out.Searched++
			switch {
			case r.err != nil:
				out.Failed++
				if facedir.IsContentError(r.err) {
					rejected++
				} else {
					infra++
					lastErr = r.err
				}
			case r.matched:
				out.Photos = append(out.Photos, newMatch(r.key, r.similarity))
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
	}

	if infra > 0 && infra == out.Searched-rejected {
		return nil, fmt.Errorf("%w: all %d searched photos failed: %w", ErrUpstreamUnavailable, infra, lastErr)
	}

	if out.Failed > 0 {
		slog.Debug("live search skipped photos", "venue", venue, "failed", out.Failed, "searched", out.Searched)
	}
	return out, nil
}

type photoResult struct {
	key        string
	matched    bool
	similarity float64
	err        error
}

// searchBatch searches every photo of the batch concurrently and waits for
// all of them. Results keep the batch order.
func (m *LiveMatcher) searchBatch(ctx context.Context, batch []string, face string, threshold float64) []photoResult {
	results := make([]photoResult, len(batch))
	var g errgroup.Group
	for i, key := range batch {
		g.Go(func() error {
			matched, sim, err := m.searchPhoto(ctx, key, face, threshold)
			if err != nil {
				observability.PhotoFailures.WithLabelValues(failureReason(err)).Inc()
				slog.Debug("photo skipped", "key", key, "error", err)
			}
			results[i] = photoResult{key: key, matched: matched, similarity: sim, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *LiveMatcher) searchPhoto(ctx context.Context, key, face string, threshold float64) (bool, float64, error) {
	data, err := m.store.GetObjectLimited(ctx, key, m.opts.MaxImageBytes)
	if err != nil {
		if errors.Is(err, storage.ErrObjectTooLarge) {
			return false, 0, fmt.Errorf("%w: %w", facedir.ErrImageTooLarge, err)
		}
		return false, 0, fmt.Errorf("fetch %s: %w", key, err)
	}
	if err := facedir.ValidateImage(data, m.opts.MaxImageBytes); err != nil {
		return false, 0, err
	}

	candidates, err := m.dir.SearchFaces(ctx, m.opts.Collection, data, threshold, m.opts.MaxResults)
	if errors.Is(err, facedir.ErrNoFaceDetected) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	for _, c := range candidates {
		if c.FaceID == face {
			return true, c.Similarity, nil
		}
	}
	return false, 0, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, facedir.ErrImageTooLarge):
		return "too_large"
	case errors.Is(err, facedir.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, facedir.ErrThrottled):
		return "throttled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
