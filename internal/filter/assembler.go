package filter

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/storage"
)

// Presigner issues time-limited read URLs for stored objects.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Assembler attaches signed display and thumbnail URLs to matches.
type Assembler struct {
	signer      Presigner
	layout      storage.KeyLayout
	ttl         time.Duration
	concurrency int
}

func NewAssembler(signer Presigner, layout storage.KeyLayout, ttl time.Duration, concurrency int) *Assembler {
	if concurrency <= 0 {
		concurrency = 8
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Assembler{signer: signer, layout: layout, ttl: ttl, concurrency: concurrency}
}

// Assemble returns a copy of photos with URLs filled in. A photo whose URL
// cannot be signed is kept with that URL empty.
func (a *Assembler) Assemble(ctx context.Context, photos []models.MatchedPhoto) []models.MatchedPhoto {
	out := make([]models.MatchedPhoto, len(photos))
	copy(out, photos)

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := range out {
		g.Go(func() error {
			p := &out[i]
			p.URL = a.sign(ctx, p.Key)
			p.ThumbnailURL = a.sign(ctx, a.layout.ThumbnailKey(p.Key))
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (a *Assembler) sign(ctx context.Context, key string) string {
	u, err := a.signer.PresignGet(ctx, key, a.ttl)
	if err != nil {
		slog.Debug("presign failed", "key", key, "error", err)
		return ""
	}
	return u
}
