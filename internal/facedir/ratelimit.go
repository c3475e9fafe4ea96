package facedir

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/your-org/gallery/internal/observability"
)

// RateLimited caps the rate of calls reaching the wrapped Directory and
// bounds each call by timeout. One instance is shared by every request of
// the process.
type RateLimited struct {
	next    Directory
	limiter *rate.Limiter
	timeout time.Duration
}

// NewRateLimited wraps next. A timeout <= 0 leaves calls bounded only by
// the caller's context.
func NewRateLimited(next Directory, requestsPerSecond float64, burst int, timeout time.Duration) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

func (r *RateLimited) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RateLimited) IndexFaces(ctx context.Context, collection string, image []byte, externalID string, maxFaces int) ([]string, error) {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		observability.DirectoryCalls.WithLabelValues("index", "rate_wait").Inc()
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	ids, err := r.next.IndexFaces(callCtx, collection, image, externalID, maxFaces)
	observe("index", start, err)
	return ids, err
}

func (r *RateLimited) SearchFaces(ctx context.Context, collection string, image []byte, threshold float64, maxResults int) ([]Candidate, error) {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		observability.DirectoryCalls.WithLabelValues("search", "rate_wait").Inc()
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	candidates, err := r.next.SearchFaces(callCtx, collection, image, threshold, maxResults)
	observe("search", start, err)
	return candidates, err
}

func observe(op string, start time.Time, err error) {
	observability.DirectoryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNoFaceDetected):
		outcome = "no_face"
	case IsContentError(err):
		outcome = "rejected"
	case errors.Is(err, ErrThrottled):
		outcome = "throttled"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	observability.DirectoryCalls.WithLabelValues(op, outcome).Inc()
}

var _ Directory = (*RateLimited)(nil)
