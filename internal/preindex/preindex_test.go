package preindex

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/storage"
)

var layout = storage.KeyLayout{PhotosPrefix: "photos/", ThumbnailPrefix: "thumbnails/"}

func pngOfWidth(t *testing.T, w int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, 2))))
	return buf.Bytes()
}

func TestNewMapping_OneToMany(t *testing.T) {
	m := NewMapping(layout, []models.MappingEntry{
		{PhotoKey: "photos/venue_07/a.jpg", FaceID: "abc123"},
		{PhotoKey: "photos/venue_07/a.jpg", FaceID: "def456"},
		{PhotoKey: "photos/venue_07/a.jpg", FaceID: "abc123"},
		{PhotoKey: "photos/venue_07/b.jpg", FaceID: "abc123"},
		{PhotoKey: "photos/venue_08/c.jpg", FaceID: "abc123"},
		{PhotoKey: "elsewhere/d.jpg", FaceID: "abc123"},
	})

	assert.Equal(t, []string{"photos/venue_07/a.jpg", "photos/venue_07/b.jpg"}, m.Lookup("venue_07", "abc123"))
	assert.Equal(t, []string{"photos/venue_07/a.jpg"}, m.Lookup("venue_07", "def456"))
	assert.Empty(t, m.Lookup("venue_07", "nobody"))
	assert.Empty(t, m.Lookup("venue_99", "abc123"))
	assert.True(t, m.HasFace("photos/venue_07/a.jpg", "def456"))
	assert.Equal(t, 2, m.VenuePhotoCount("venue_07"))
	assert.Equal(t, 4, m.Len())
	assert.Equal(t, 3, m.Photos())
}

func TestNilMappingIsEmpty(t *testing.T) {
	var m *Mapping
	assert.Empty(t, m.Lookup("v", "f"))
	assert.False(t, m.HasFace("k", "f"))
	assert.Zero(t, m.Len())
	assert.Nil(t, m.Entries())
}

func TestParseJSON_BothForms(t *testing.T) {
	data := []byte(`{
		"photos/venue_07/a.jpg": "abc123",
		"photos/venue_07/b.jpg": ["abc123", "zzz"],
		"photos/venue_07/c.jpg": []
	}`)
	m, err := ParseJSON(layout, data)
	require.NoError(t, err)
	assert.Len(t, m.Lookup("venue_07", "abc123"), 2)
	assert.Equal(t, 3, m.Len())

	_, err = ParseJSON(layout, []byte(`{"photos/v/a.jpg": 42}`))
	assert.Error(t, err)
	_, err = ParseJSON(layout, []byte(`not json`))
	assert.Error(t, err)
}

func TestMarshalJSON_RoundTripsThroughFile(t *testing.T) {
	m := NewMapping(layout, []models.MappingEntry{
		{PhotoKey: "photos/v/a.jpg", FaceID: "f1"},
		{PhotoKey: "photos/v/a.jpg", FaceID: "f2"},
	})
	data, err := m.MarshalJSON()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mapping.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := LoadFile(layout, path)
	require.NoError(t, err)
	assert.Equal(t, m.Entries(), loaded.Entries())
}

func TestLoadOrEmpty_DegradesOnError(t *testing.T) {
	m := LoadOrEmpty(func() (*Mapping, error) { return LoadFile(layout, "/does/not/exist.json") })
	require.NotNil(t, m)
	assert.Zero(t, m.Len())
}

func TestHolder_SwapsWholesale(t *testing.T) {
	h := NewHolder(nil)
	assert.Zero(t, h.Load().Len())

	next := NewMapping(layout, []models.MappingEntry{{PhotoKey: "photos/v/a.jpg", FaceID: "f"}})
	h.Store(next)
	assert.Same(t, next, h.Load())
}

type fakePhotos struct {
	objects  map[string][]byte
	listErr  error
	prefixes []string
}

func (f *fakePhotos) ListKeys(_ context.Context, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakePhotos) ListPrefixes(context.Context, string) ([]string, error) {
	return f.prefixes, nil
}

func (f *fakePhotos) GetObjectLimited(_ context.Context, key string, _ int64) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

// fakeDirectory indexes faces by image content.
type fakeDirectory struct {
	mu     sync.Mutex
	faces  map[string][]string
	err    error
	called int
}

func (d *fakeDirectory) IndexFaces(_ context.Context, _ string, image []byte, _ string, _ int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.called++
	if d.err != nil {
		return nil, d.err
	}
	faces := d.faces[string(image)]
	if len(faces) == 0 {
		return nil, facedir.ErrNoFaceDetected
	}
	return faces, nil
}

func (d *fakeDirectory) SearchFaces(context.Context, string, []byte, float64, int) ([]facedir.Candidate, error) {
	return nil, nil
}

type fakeRegistry struct {
	venues []models.Venue
	err    error
}

func (r *fakeRegistry) ListVenues(context.Context) ([]models.Venue, error) {
	return r.venues, r.err
}

func TestBuilder_Build(t *testing.T) {
	one, two, none := pngOfWidth(t, 1), pngOfWidth(t, 2), pngOfWidth(t, 3)
	photos := &fakePhotos{objects: map[string][]byte{
		"photos/venue_07/a.jpg":   one,
		"photos/venue_07/b.jpg":   two,
		"photos/venue_07/c.jpg":   none,
		"photos/venue_07/bad.jpg": []byte("corrupted bytes"),
		"photos/venue_07/notes":   []byte("not an image key"),
		"photos/venue_08/d.png":   one,
	}}
	dir := &fakeDirectory{faces: map[string][]string{
		string(one): {"abc123"},
		string(two): {"abc123", "def456"},
	}}
	reg := &fakeRegistry{venues: []models.Venue{{ID: "venue_07"}, {ID: "venue_08"}}}

	b := NewBuilder(reg, photos, dir, layout, BuilderOptions{Collection: "c", Concurrency: 2, MaxBytes: 1 << 20})

	var (
		mu      sync.Mutex
		updates []Progress
	)
	rep, err := b.Build(context.Background(), nil, func(p Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.True(t, rep.Full)
	assert.Equal(t, []string{"venue_07", "venue_08"}, rep.Venues)
	assert.Equal(t, 5, rep.Photos)
	assert.Equal(t, 4, rep.Faces)
	assert.Equal(t, 1, rep.NoFace)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 4, dir.called, "the corrupted photo never reaches the directory")
	assert.Len(t, updates, 5)

	m := rep.Mapping
	assert.Equal(t, []string{"photos/venue_07/a.jpg", "photos/venue_07/b.jpg"}, m.Lookup("venue_07", "abc123"))
	assert.Equal(t, []string{"photos/venue_08/d.png"}, m.Lookup("venue_08", "abc123"))
}

func TestBuilder_FallsBackToPrefixes(t *testing.T) {
	img := pngOfWidth(t, 1)
	photos := &fakePhotos{
		objects:  map[string][]byte{"photos/venue_09/a.jpg": img},
		prefixes: []string{"photos/venue_09/"},
	}
	dir := &fakeDirectory{faces: map[string][]string{string(img): {"xyz999"}}}
	b := NewBuilder(&fakeRegistry{err: errors.New("db down")}, photos, dir, layout, BuilderOptions{})

	rep, err := b.Build(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"venue_09"}, rep.Venues)
	assert.Equal(t, 1, rep.Faces)
}

func TestBuilder_AllInfrastructureFailures(t *testing.T) {
	photos := &fakePhotos{objects: map[string][]byte{
		"photos/v/a.jpg": pngOfWidth(t, 1),
		"photos/v/b.jpg": pngOfWidth(t, 2),
	}}
	dir := &fakeDirectory{err: errors.New("connection refused")}
	b := NewBuilder(nil, photos, dir, layout, BuilderOptions{})

	_, err := b.Build(context.Background(), []string{"v"}, nil)
	assert.ErrorIs(t, err, ErrNothingIndexed)
}

func TestBuilder_ListingFailure(t *testing.T) {
	photos := &fakePhotos{listErr: errors.New("s3 down")}
	b := NewBuilder(nil, photos, &fakeDirectory{}, layout, BuilderOptions{})

	_, err := b.Build(context.Background(), []string{"v"}, nil)
	assert.Error(t, err)
}

// fakeSink is an in-memory mapping table.
type fakeSink struct {
	venues  []string
	entries []models.MappingEntry
	venueOf []string
	stored  []models.MappingEntry
}

func (s *fakeSink) ReplaceMappingEntries(_ context.Context, venues []string, entries []models.MappingEntry, venueOf func(string) string) error {
	s.venues = venues
	s.entries = entries
	replaced := make(map[string]bool)
	for _, v := range venues {
		replaced[v] = true
	}
	kept := s.stored[:0:0]
	for _, e := range s.stored {
		if len(venues) > 0 && !replaced[venueOf(e.PhotoKey)] {
			kept = append(kept, e)
		}
	}
	for _, e := range entries {
		s.venueOf = append(s.venueOf, venueOf(e.PhotoKey))
	}
	s.stored = append(kept, entries...)
	return nil
}

func (s *fakeSink) LoadMappingEntries(context.Context) ([]models.MappingEntry, error) {
	return s.stored, nil
}

type fakeExporter struct {
	key  string
	data []byte
}

func (e *fakeExporter) PutObject(_ context.Context, key string, data []byte, _ string) error {
	e.key, e.data = key, data
	return nil
}

func TestPersist(t *testing.T) {
	rep := &Report{
		Venues: []string{"v"},
		Full:   true,
		Mapping: NewMapping(layout, []models.MappingEntry{
			{PhotoKey: "photos/v/a.jpg", FaceID: "f1"},
		}),
	}
	sink, exp := &fakeSink{}, &fakeExporter{}

	stored, err := Persist(context.Background(), rep, sink, exp, "preindex/mapping.json", layout)
	require.NoError(t, err)
	assert.Nil(t, sink.venues)
	assert.Equal(t, []string{"v"}, sink.venueOf)
	assert.Len(t, sink.entries, 1)
	assert.Equal(t, 1, stored.Len())
	assert.Equal(t, "preindex/mapping.json", exp.key)
	assert.JSONEq(t, `{"photos/v/a.jpg":["f1"]}`, string(exp.data))

	_, err = Persist(context.Background(), rep, sink, nil, "", layout)
	require.NoError(t, err)
}

func TestPersist_PartialRebuildExportsEveryVenue(t *testing.T) {
	sink := &fakeSink{stored: []models.MappingEntry{
		{PhotoKey: "photos/v1/a.jpg", FaceID: "old"},
		{PhotoKey: "photos/v2/b.jpg", FaceID: "f2"},
	}}
	exp := &fakeExporter{}
	rep := &Report{
		Venues: []string{"v1"},
		Mapping: NewMapping(layout, []models.MappingEntry{
			{PhotoKey: "photos/v1/a.jpg", FaceID: "new"},
		}),
	}

	stored, err := Persist(context.Background(), rep, sink, exp, "preindex/mapping.json", layout)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, sink.venues)
	assert.Equal(t, 2, stored.Len())
	assert.Equal(t, []string{"photos/v2/b.jpg"}, stored.Lookup("v2", "f2"))
	assert.Empty(t, stored.Lookup("v1", "old"))
	assert.JSONEq(t, `{"photos/v1/a.jpg":["new"],"photos/v2/b.jpg":["f2"]}`, string(exp.data))
}
