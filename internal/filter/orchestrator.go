// Package filter narrows a venue's photos down to the ones containing a
// registered face.
//
// An Orchestrator walks a chain of tiers. The pre-indexed tier answers from
// the offline mapping without external calls; live tiers search the face
// directory with every photo of the venue. The first tier producing a match
// wins, and the last tier's answer is returned even when it is empty.
package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/your-org/gallery/internal/config"
	"github.com/your-org/gallery/internal/matchcache"
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/observability"
)

type TierKind string

const (
	KindPreIndexed TierKind = "preindexed"
	KindLive       TierKind = "live"
)

// AutoVariant names the full chain in cache keys.
const AutoVariant = "auto"

type Tier struct {
	Name       string
	Kind       TierKind
	Threshold  float64
	BatchSize  int
	UseMapping bool
}

// TiersFromConfig converts and validates the configured chain: names are
// unique, a pre-indexed tier may only come first, and live thresholds never
// increase along the chain.
func TiersFromConfig(cfg []config.TierConfig) ([]Tier, error) {
	if len(cfg) == 0 {
		return nil, errors.New("no filter tiers configured")
	}
	tiers := make([]Tier, 0, len(cfg))
	seen := make(map[string]bool)
	lastThreshold := 101.0
	for i, c := range cfg {
		if c.Name == "" || c.Name == AutoVariant {
			return nil, fmt.Errorf("tier %d: invalid name %q", i, c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("tier %q: duplicate name", c.Name)
		}
		seen[c.Name] = true

		t := Tier{
			Name:       c.Name,
			Kind:       TierKind(c.Kind),
			Threshold:  c.Threshold,
			BatchSize:  c.BatchSize,
			UseMapping: c.UseMapping,
		}
		switch t.Kind {
		case KindPreIndexed:
			if i != 0 {
				return nil, fmt.Errorf("tier %q: pre-indexed tier must come first", c.Name)
			}
		case KindLive:
			if t.Threshold <= 0 || t.Threshold > 100 {
				return nil, fmt.Errorf("tier %q: threshold %.1f out of range", c.Name, t.Threshold)
			}
			if t.Threshold > lastThreshold {
				return nil, fmt.Errorf("tier %q: threshold %.1f above previous tier", c.Name, t.Threshold)
			}
			lastThreshold = t.Threshold
		default:
			return nil, fmt.Errorf("tier %q: unknown kind %q", c.Name, c.Kind)
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

type Request struct {
	VenueID  string
	FaceID   string
	UseCache bool
	// BatchSize overrides the live tiers' batch size when > 0.
	BatchSize int
	// Variant starts the chain at the named tier. Empty or "auto" runs the
	// whole chain.
	Variant string
}

type Result struct {
	Photos           []models.MatchedPhoto
	TotalPhotos      int
	MatchedCount     int
	FromCache        bool
	Method           string
	NoFaceRegistered bool
	ProcessingTime   time.Duration
}

// LiveSearcher is satisfied by *LiveMatcher.
type LiveSearcher interface {
	Search(ctx context.Context, venue, face string, so SearchOptions) (*SearchOutcome, error)
}

// ResultAssembler is satisfied by *Assembler.
type ResultAssembler interface {
	Assemble(ctx context.Context, photos []models.MatchedPhoto) []models.MatchedPhoto
}

type Options struct {
	// LiveTimeout bounds a chain run. The run is detached from the caller's
	// context so an abandoned request still fills the cache.
	LiveTimeout time.Duration
}

type Orchestrator struct {
	tiers     []Tier
	fast      *FastPath
	live      LiveSearcher
	assembler ResultAssembler
	cache     *matchcache.Cache
	opts      Options
	group     singleflight.Group
}

func NewOrchestrator(tiers []Tier, fast *FastPath, live LiveSearcher, assembler ResultAssembler, cache *matchcache.Cache, opts Options) *Orchestrator {
	return &Orchestrator{
		tiers:     tiers,
		fast:      fast,
		live:      live,
		assembler: assembler,
		cache:     cache,
		opts:      opts,
	}
}

// Tiers returns the configured chain.
func (o *Orchestrator) Tiers() []Tier {
	return o.tiers
}

// Filter runs the tier chain for one venue and face.
func (o *Orchestrator) Filter(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.FaceID == "" {
		observability.FilterRequests.WithLabelValues("none", "no_face").Inc()
		return &Result{Photos: []models.MatchedPhoto{}, NoFaceRegistered: true}, nil
	}

	chain, variant, err := o.chain(req.Variant)
	if err != nil {
		return nil, err
	}

	key := matchcache.Key{Venue: req.VenueID, FaceID: req.FaceID, Variant: variant}
	if req.UseCache {
		if e, ok := o.cache.Get(key); ok {
			observability.FilterRequests.WithLabelValues(e.Method, "cache").Inc()
			return &Result{
				Photos:         e.Photos,
				TotalPhotos:    e.TotalPhotos,
				MatchedCount:   len(e.Photos),
				FromCache:      true,
				Method:         e.Method,
				ProcessingTime: time.Since(start),
			}, nil
		}
	}

	flightKey := fmt.Sprintf("%s\x00%s\x00%s\x00%d", req.VenueID, req.FaceID, variant, req.BatchSize)
	ch := o.group.DoChan(flightKey, func() (any, error) {
		work := context.WithoutCancel(ctx)
		if o.opts.LiveTimeout > 0 {
			var cancel context.CancelFunc
			work, cancel = context.WithTimeout(work, o.opts.LiveTimeout)
			defer cancel()
		}
		return o.run(work, chain, req, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			observability.FilterRequests.WithLabelValues("none", "error").Inc()
			return nil, res.Err
		}
		e := res.Val.(matchcache.Entry)
		observability.FilterRequests.WithLabelValues(e.Method, "computed").Inc()
		observability.FilterDuration.WithLabelValues(e.Method).Observe(time.Since(start).Seconds())
		return &Result{
			Photos:         e.Photos,
			TotalPhotos:    e.TotalPhotos,
			MatchedCount:   len(e.Photos),
			Method:         e.Method,
			ProcessingTime: time.Since(start),
		}, nil
	}
}

func (o *Orchestrator) chain(variant string) ([]Tier, string, error) {
	if variant == "" || variant == AutoVariant {
		return o.tiers, AutoVariant, nil
	}
	for i, t := range o.tiers {
		if t.Name == variant {
			return o.tiers[i:], variant, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
}

func (o *Orchestrator) run(ctx context.Context, chain []Tier, req Request, key matchcache.Key) (matchcache.Entry, error) {
	// A mapping swap or photo change during the run makes its result stale.
	gen := o.cache.Generation()

	var (
		photos []models.MatchedPhoto
		total  int
		method string
	)
	for i, t := range chain {
		observability.TierInvocations.WithLabelValues(t.Name).Inc()
		method = t.Name

		switch t.Kind {
		case KindPreIndexed:
			photos = o.fast.Lookup(req.VenueID, req.FaceID)
			total = o.fast.VenuePhotoCount(req.VenueID)
		case KindLive:
			so := SearchOptions{
				Threshold:  t.Threshold,
				BatchSize:  t.BatchSize,
				UseMapping: t.UseMapping,
			}
			if req.BatchSize > 0 {
				so.BatchSize = req.BatchSize
			}
			out, err := o.live.Search(ctx, req.VenueID, req.FaceID, so)
			if err != nil {
				slog.Warn("live tier failed", "tier", t.Name, "venue", req.VenueID, "error", err)
				return matchcache.Entry{}, fmt.Errorf("tier %s: %w", t.Name, err)
			}
			photos, total = out.Photos, out.TotalPhotos
		}

		if len(photos) > 0 {
			break
		}
		if i < len(chain)-1 {
			slog.Debug("tier found no matches, falling back", "tier", t.Name, "venue", req.VenueID)
		}
	}

	if photos == nil {
		photos = []models.MatchedPhoto{}
	}
	e := matchcache.Entry{
		Photos:      o.assembler.Assemble(ctx, photos),
		TotalPhotos: total,
		Method:      method,
	}
	if !o.cache.PutIfCurrent(key, e, gen) {
		slog.Debug("cache invalidated during run, result not cached", "venue", req.VenueID)
	}
	return e, nil
}
