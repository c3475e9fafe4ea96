// Package facedir wraps the managed face-recognition service the gallery
// matches against. The service is opaque: it indexes faces found in image
// bytes into a named collection and searches a collection with a probe image.
package facedir

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNoFaceDetected = errors.New("no face detected")
	ErrInvalidImage   = errors.New("invalid image")
	ErrImageTooLarge  = errors.New("image too large")
	ErrThrottled      = errors.New("face directory throttled")
)

// Candidate is one face of the collection returned by a search.
type Candidate struct {
	FaceID     string
	Similarity float64 // percent, 0-100
}

// Directory is the face-recognition capability.
type Directory interface {
	// IndexFaces adds up to maxFaces faces found in image to the collection and
	// returns their ids. It returns ErrNoFaceDetected when the image has none.
	IndexFaces(ctx context.Context, collection string, image []byte, externalID string, maxFaces int) ([]string, error)
	// SearchFaces looks up the largest face of image in the collection and
	// returns candidates with similarity >= threshold, best first.
	SearchFaces(ctx context.Context, collection string, image []byte, threshold float64, maxResults int) ([]Candidate, error)
}

var supportedImageTypes = []string{"image/jpeg", "image/png"}

// ValidateImage rejects payloads the directory would refuse: anything above
// maxBytes and anything that is not a JPEG or PNG.
func ValidateImage(data []byte, maxBytes int64) error {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%d bytes exceeds %d: %w", len(data), maxBytes, ErrImageTooLarge)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty payload: %w", ErrInvalidImage)
	}
	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), supportedImageTypes...) {
		return fmt.Errorf("unsupported type %s: %w", mt.String(), ErrInvalidImage)
	}
	return nil
}

// IsContentError reports whether err is caused by the image itself rather
// than by the service being unavailable.
func IsContentError(err error) bool {
	return errors.Is(err, ErrInvalidImage) ||
		errors.Is(err, ErrImageTooLarge) ||
		errors.Is(err, ErrNoFaceDetected)
}
