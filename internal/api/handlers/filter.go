package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/gallery/internal/filter"
	"github.com/your-org/gallery/pkg/dto"
)

// Filterer is satisfied by *filter.Orchestrator.
type Filterer interface {
	Filter(ctx context.Context, req filter.Request) (*filter.Result, error)
}

// FaceSource yields the face id of the caller's session, "" if none.
type FaceSource interface {
	FaceID(c *gin.Context) string
}

type FilterHandler struct {
	filter   Filterer
	sessions FaceSource
}

func NewFilterHandler(f Filterer, sessions FaceSource) *FilterHandler {
	return &FilterHandler{filter: f, sessions: sessions}
}

// Filter handles POST /v1/filter.
func (h *FilterHandler) Filter(c *gin.Context) {
	var req dto.FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: dto.CodeInvalidRequest})
		return
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	res, err := h.filter.Filter(c.Request.Context(), filter.Request{
		VenueID:   req.VenueID,
		FaceID:    h.sessions.FaceID(c),
		UseCache:  useCache,
		BatchSize: req.BatchSize,
		Variant:   req.Variant,
	})
	switch {
	case errors.Is(err, filter.ErrUnknownVariant):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: dto.CodeInvalidRequest})
		return
	case err != nil && c.Request.Context().Err() != nil:
		// The client is gone; the run keeps going and fills the cache.
		c.Abort()
		return
	case err != nil:
		slog.Error("filter failed", "venue", req.VenueID, "error", err)
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{
			Error: "photo matching is temporarily unavailable, please retry",
			Code:  dto.CodeUpstreamFailure,
		})
		return
	}

	if res.NoFaceRegistered {
		c.JSON(http.StatusOK, dto.ErrorResponse{
			Error: "register a face photo before filtering",
			Code:  dto.CodeNoFaceRegistered,
		})
		return
	}

	c.JSON(http.StatusOK, dto.FilterResponse{
		Success:          true,
		MatchedPhotos:    res.Photos,
		TotalPhotos:      res.TotalPhotos,
		MatchedCount:     res.MatchedCount,
		FromCache:        res.FromCache,
		Method:           res.Method,
		ProcessingTimeMs: res.ProcessingTime.Milliseconds(),
	})
}
