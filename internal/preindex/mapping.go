// Package preindex holds the offline photo → face mapping and the builder
// that produces it.
//
// A Mapping is immutable once built. The API process keeps the current one
// behind a Holder and replaces it wholesale when a rebuild completes.
package preindex

import (
	"slices"
	"sort"
	"sync/atomic"

	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/observability"
	"github.com/your-org/gallery/internal/storage"
)

// Mapping associates photo keys with every face indexed from them.
// The zero value and a nil *Mapping are both empty.
type Mapping struct {
	faces map[string][]string            // photo key -> face ids
	index map[string]map[string][]string // venue -> face id -> photo keys
	total int
}

// NewMapping builds a mapping from (photo, face) pairs. Duplicate pairs are
// collapsed and keys outside the layout's photos prefix are dropped.
func NewMapping(layout storage.KeyLayout, entries []models.MappingEntry) *Mapping {
	m := &Mapping{
		faces: make(map[string][]string),
		index: make(map[string]map[string][]string),
	}
	for _, e := range entries {
		if e.PhotoKey == "" || e.FaceID == "" {
			continue
		}
		venue := layout.VenueOfKey(e.PhotoKey)
		if venue == "" {
			continue
		}
		if slices.Contains(m.faces[e.PhotoKey], e.FaceID) {
			continue
		}
		m.faces[e.PhotoKey] = append(m.faces[e.PhotoKey], e.FaceID)

		byFace, ok := m.index[venue]
		if !ok {
			byFace = make(map[string][]string)
			m.index[venue] = byFace
		}
		byFace[e.FaceID] = append(byFace[e.FaceID], e.PhotoKey)
		m.total++
	}
	for _, byFace := range m.index {
		for _, keys := range byFace {
			sort.Strings(keys)
		}
	}
	return m
}

// Lookup returns the keys of a venue's photos that contain face, sorted.
// The returned slice must not be modified.
func (m *Mapping) Lookup(venue, face string) []string {
	if m == nil {
		return nil
	}
	return m.index[venue][face]
}

// HasFace reports whether face was indexed from the photo at key.
func (m *Mapping) HasFace(key, face string) bool {
	if m == nil {
		return false
	}
	return slices.Contains(m.faces[key], face)
}

// VenuePhotoCount is the number of distinct photos of a venue with at least
// one indexed face.
func (m *Mapping) VenuePhotoCount(venue string) int {
	if m == nil {
		return 0
	}
	seen := make(map[string]struct{})
	for _, keys := range m.index[venue] {
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	return len(seen)
}

// Len is the number of (photo, face) pairs.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return m.total
}

// Photos is the number of distinct photo keys.
func (m *Mapping) Photos() int {
	if m == nil {
		return 0
	}
	return len(m.faces)
}

// Entries flattens the mapping, ordered by photo key then insertion.
func (m *Mapping) Entries() []models.MappingEntry {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.faces))
	for k := range m.faces {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.MappingEntry, 0, m.total)
	for _, k := range keys {
		for _, f := range m.faces[k] {
			out = append(out, models.MappingEntry{PhotoKey: k, FaceID: f})
		}
	}
	return out
}

// Holder publishes the current mapping to concurrent readers.
type Holder struct {
	p atomic.Pointer[Mapping]
}

func NewHolder(m *Mapping) *Holder {
	h := &Holder{}
	h.Store(m)
	return h
}

// Load never returns nil.
func (h *Holder) Load() *Mapping {
	if m := h.p.Load(); m != nil {
		return m
	}
	return &Mapping{}
}

// Store replaces the mapping. A nil mapping installs an empty one.
func (h *Holder) Store(m *Mapping) {
	if m == nil {
		m = &Mapping{}
	}
	h.p.Store(m)
	observability.MappingEntries.Set(float64(m.Len()))
}
