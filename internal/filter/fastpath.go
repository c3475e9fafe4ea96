package filter

import (
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/preindex"
	"github.com/your-org/gallery/internal/storage"
)

// PreIndexedConfidence is reported for matches found in the offline mapping.
const PreIndexedConfidence = 99.9

// MappingProvider returns the current pre-index mapping. It must never
// return nil.
type MappingProvider interface {
	Load() *preindex.Mapping
}

// FastPath answers from the pre-index mapping alone.
type FastPath struct {
	mapping MappingProvider
}

func NewFastPath(mapping MappingProvider) *FastPath {
	return &FastPath{mapping: mapping}
}

// Lookup returns the venue's photos the mapping associates with face.
func (f *FastPath) Lookup(venue, face string) []models.MatchedPhoto {
	keys := f.mapping.Load().Lookup(venue, face)
	photos := make([]models.MatchedPhoto, 0, len(keys))
	for _, k := range keys {
		photos = append(photos, newMatch(k, PreIndexedConfidence))
	}
	return photos
}

// VenuePhotoCount is the number of the venue's photos present in the mapping.
func (f *FastPath) VenuePhotoCount(venue string) int {
	return f.mapping.Load().VenuePhotoCount(venue)
}

func newMatch(key string, confidence float64) models.MatchedPhoto {
	return models.MatchedPhoto{
		ID:         storage.PhotoID(key),
		Filename:   storage.FilenameOfKey(key),
		Key:        key,
		Matched:    true,
		Confidence: confidence,
	}
}
