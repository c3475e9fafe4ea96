package preindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/storage"
)

// EntrySource is the system of record for mapping entries.
type EntrySource interface {
	LoadMappingEntries(ctx context.Context) ([]models.MappingEntry, error)
}

// ParseJSON decodes a mapping file. Each value is either a list of face ids
// or, in the older one-face-per-photo form, a single face id string.
func ParseJSON(layout storage.KeyLayout, data []byte) (*Mapping, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}

	entries := make([]models.MappingEntry, 0, len(raw))
	for key, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) > 0 && value[0] == '"' {
			var face string
			if err := json.Unmarshal(value, &face); err != nil {
				return nil, fmt.Errorf("decode face id for %s: %w", key, err)
			}
			entries = append(entries, models.MappingEntry{PhotoKey: key, FaceID: face})
			continue
		}
		var faces []string
		if err := json.Unmarshal(value, &faces); err != nil {
			return nil, fmt.Errorf("decode face ids for %s: %w", key, err)
		}
		for _, f := range faces {
			entries = append(entries, models.MappingEntry{PhotoKey: key, FaceID: f})
		}
	}
	return NewMapping(layout, entries), nil
}

// MarshalJSON encodes the mapping in the list form read by ParseJSON.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string)
	if m != nil {
		for k, faces := range m.faces {
			out[k] = faces
		}
	}
	return json.Marshal(out)
}

// LoadFile reads a mapping file from disk.
func LoadFile(layout storage.KeyLayout, path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return ParseJSON(layout, data)
}

// LoadStore reads the mapping from its system of record.
func LoadStore(ctx context.Context, layout storage.KeyLayout, src EntrySource) (*Mapping, error) {
	entries, err := src.LoadMappingEntries(ctx)
	if err != nil {
		return nil, err
	}
	return NewMapping(layout, entries), nil
}

// LoadOrEmpty calls load and degrades to an empty mapping on failure, so a
// missing or corrupt mapping only disables the pre-indexed tier.
func LoadOrEmpty(load func() (*Mapping, error)) *Mapping {
	m, err := load()
	if err != nil {
		slog.Warn("pre-index mapping unavailable, starting empty", "error", err)
		return &Mapping{}
	}
	slog.Info("pre-index mapping loaded", "entries", m.Len(), "photos", m.Photos())
	return m
}
