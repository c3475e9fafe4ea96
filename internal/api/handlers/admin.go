package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/gallery/internal/filter"
	"github.com/your-org/gallery/internal/matchcache"
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/pkg/dto"
)

// JobPublisher is satisfied by *queue.Producer.
type JobPublisher interface {
	PublishJob(ctx context.Context, job models.PreIndexJob) error
}

type AdminHandler struct {
	jobs       JobPublisher
	cache      *matchcache.Cache
	mapping    filter.MappingProvider
	maxEntries int
	ttl        time.Duration
}

func NewAdminHandler(jobs JobPublisher, cache *matchcache.Cache, mapping filter.MappingProvider, maxEntries int, ttl time.Duration) *AdminHandler {
	return &AdminHandler{
		jobs:       jobs,
		cache:      cache,
		mapping:    mapping,
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// PreIndex handles POST /v1/admin/preindex. An empty body rebuilds every
// venue.
func (h *AdminHandler) PreIndex(c *gin.Context) {
	var req dto.PreIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := models.PreIndexJob{
		JobID:       uuid.New(),
		Venues:      req.Venues,
		RequestedAt: time.Now().UTC(),
	}
	if err := h.jobs.PublishJob(c.Request.Context(), job); err != nil {
		slog.Error("enqueue pre-index job", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
		return
	}

	slog.Info("pre-index job queued", "job_id", job.JobID, "venues", len(job.Venues))
	c.JSON(http.StatusAccepted, dto.PreIndexResponse{JobID: job.JobID, Venues: job.Venues, Status: "queued"})
}

// CacheStats handles GET /v1/admin/cache.
func (h *AdminHandler) CacheStats(c *gin.Context) {
	keys := h.cache.Keys()
	resp := dto.CacheStatsResponse{
		Entries:        len(keys),
		MaxEntries:     h.maxEntries,
		TTLSeconds:     int(h.ttl.Seconds()),
		MappingEntries: h.mapping.Load().Len(),
		MappingPhotos:  h.mapping.Load().Photos(),
		Keys:           make([]dto.CacheKey, 0, len(keys)),
	}
	// Face ids stay out of the response.
	for _, k := range keys {
		resp.Keys = append(resp.Keys, dto.CacheKey{Venue: k.Venue, Variant: k.Variant})
	}
	c.JSON(http.StatusOK, resp)
}

// PurgeCache handles DELETE /v1/admin/cache[?venue=].
func (h *AdminHandler) PurgeCache(c *gin.Context) {
	if venue := c.Query("venue"); venue != "" {
		c.JSON(http.StatusOK, dto.CachePurgeResponse{Removed: h.cache.InvalidateVenue(venue)})
		return
	}
	n := h.cache.Len()
	h.cache.Purge()
	c.JSON(http.StatusOK, dto.CachePurgeResponse{Removed: n})
}
