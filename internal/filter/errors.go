package filter

import "errors"

var (
	// ErrUpstreamUnavailable means the face directory or the object store
	// could not be reached for the request as a whole. It is never reported
	// as an empty match list.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUnknownVariant is returned for a request naming a tier that is not
	// configured.
	ErrUnknownVariant = errors.New("unknown filter variant")
)
