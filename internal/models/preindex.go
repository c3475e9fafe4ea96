package models

import (
	"time"

	"github.com/google/uuid"
)

// PreIndexJob is the message published to NATS to request a mapping rebuild.
type PreIndexJob struct {
	JobID       uuid.UUID `json:"job_id"`
	Venues      []string  `json:"venues,omitempty"` // empty means every venue
	RequestedAt time.Time `json:"requested_at"`
}

type PreIndexEventType string

const (
	PreIndexStarted   PreIndexEventType = "preindex.started"
	PreIndexProgress  PreIndexEventType = "preindex.progress"
	PreIndexCompleted PreIndexEventType = "preindex.completed"
	PreIndexFailed    PreIndexEventType = "preindex.failed"
)

// PreIndexEvent is published by the worker while a rebuild runs.
type PreIndexEvent struct {
	Type      PreIndexEventType `json:"type"`
	JobID     uuid.UUID         `json:"job_id"`
	Venue     string            `json:"venue,omitempty"`
	Processed int               `json:"processed"`
	Total     int               `json:"total"`
	Faces     int               `json:"faces"`
	Failed    int               `json:"failed"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// PhotosChanged announces that the photo set of a venue changed.
type PhotosChanged struct {
	Venue     string    `json:"venue"`
	Timestamp time.Time `json:"timestamp"`
}
