package dto

import "github.com/your-org/gallery/internal/models"

// Error codes of the filter surface.
const (
	CodeNoFaceRegistered = "NO_FACE_REGISTERED"
	CodeUpstreamFailure  = "UPSTREAM_FAILURE"
	CodeInvalidRequest   = "INVALID_REQUEST"
)

type FilterRequest struct {
	VenueID   string `json:"venueId" binding:"required"`
	UseCache  *bool  `json:"useCache,omitempty"`
	BatchSize int    `json:"batchSize,omitempty" binding:"gte=0,lte=100"`
	Variant   string `json:"variant,omitempty"`
}

type FilterResponse struct {
	Success          bool                  `json:"success"`
	MatchedPhotos    []models.MatchedPhoto `json:"matchedPhotos"`
	TotalPhotos      int                   `json:"totalPhotos"`
	MatchedCount     int                   `json:"matchedCount"`
	FromCache        bool                  `json:"fromCache"`
	Method           string                `json:"method"`
	ProcessingTimeMs int64                 `json:"processingTimeMs"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}
