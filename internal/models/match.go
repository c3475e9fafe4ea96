package models

// MatchedPhoto is one photo returned by the filter pipeline.
type MatchedPhoto struct {
	ID           string  `json:"id"`
	Filename     string  `json:"filename"`
	Key          string  `json:"key"`
	Matched      bool    `json:"matched"`
	Confidence   float64 `json:"confidence"`
	URL          string  `json:"url,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
}

// MappingEntry associates a photo with one face detected in it.
type MappingEntry struct {
	PhotoKey string `json:"photo_key" db:"photo_key"`
	FaceID   string `json:"face_id" db:"face_id"`
}
