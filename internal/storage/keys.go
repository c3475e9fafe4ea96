package storage

import (
	"path"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".heic": true,
	".heif": true,
}

// KeyLayout describes how photo and thumbnail keys are laid out in the bucket:
//
//	<PhotosPrefix><venue>/<filename>
//	<ThumbnailPrefix><venue>/<filename>
type KeyLayout struct {
	PhotosPrefix    string
	ThumbnailPrefix string
}

// VenuePrefix returns the listing prefix for a venue's photos.
func (l KeyLayout) VenuePrefix(venue string) string {
	return l.PhotosPrefix + venue + "/"
}

// PhotoKey builds the storage key for a photo.
func (l KeyLayout) PhotoKey(venue, filename string) string {
	return l.VenuePrefix(venue) + filename
}

// VenueOfKey returns the venue a photo key belongs to, or "" if the key
// is not under the photos prefix.
func (l KeyLayout) VenueOfKey(key string) string {
	rest, ok := strings.CutPrefix(key, l.PhotosPrefix)
	if !ok {
		return ""
	}
	venue, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return venue
}

// ThumbnailKey maps a photo key to the key of its thumbnail rendition.
func (l KeyLayout) ThumbnailKey(key string) string {
	return l.ThumbnailPrefix + strings.TrimPrefix(key, l.PhotosPrefix)
}

// FilenameOfKey returns the last path segment of a key.
func FilenameOfKey(key string) string {
	return path.Base(key)
}

// IsImageKey reports whether the key has a known image extension.
func IsImageKey(key string) bool {
	return imageExtensions[strings.ToLower(path.Ext(key))]
}

// PhotoID derives a URL-safe id from a storage key.
func PhotoID(key string) string {
	return strings.NewReplacer("/", "_", ".", "_").Replace(key)
}

// ImageKeys returns the keys that have a known image extension, in order.
func ImageKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if IsImageKey(k) {
			out = append(out, k)
		}
	}
	return out
}
