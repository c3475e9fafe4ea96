package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/gallery/internal/models"
)

type PreIndexRequest struct {
	Venues []string `json:"venues,omitempty"`
}

type PreIndexResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Venues []string  `json:"venues,omitempty"`
	Status string    `json:"status"`
}

type CacheKey struct {
	Venue   string `json:"venue"`
	Variant string `json:"variant"`
}

type CacheStatsResponse struct {
	Entries        int        `json:"entries"`
	MaxEntries     int        `json:"max_entries"`
	TTLSeconds     int        `json:"ttl_seconds"`
	MappingEntries int        `json:"mapping_entries"`
	MappingPhotos  int        `json:"mapping_photos"`
	Keys           []CacheKey `json:"keys"`
}

type CachePurgeResponse struct {
	Removed int `json:"removed"`
}

// WSEvent is pushed to admin WebSocket clients.
type WSEvent struct {
	Type string `json:"type"`
	// Venue is set for venue-scoped events and used for client filtering.
	Venue    string                `json:"venue,omitempty"`
	PreIndex *models.PreIndexEvent `json:"preindex,omitempty"`
	Photos   *models.PhotosChanged `json:"photos,omitempty"`
}
