package filter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/internal/models"
	"github.com/your-org/gallery/internal/preindex"
	"github.com/your-org/gallery/internal/storage"
)

var layout = storage.KeyLayout{PhotosPrefix: "photos/", ThumbnailPrefix: "thumbnails/"}

func pngOfWidth(t *testing.T, w int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, 1))))
	return buf.Bytes()
}

// fakeStore is an in-memory object store.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	tooLarge  map[string]bool
	listErr   error
	listCalls int
	getCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), tooLarge: make(map[string]bool)}
}

func (s *fakeStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	// S3 lists in key order.
	sort.Strings(keys)
	return keys, nil
}

func (s *fakeStore) GetObjectLimited(_ context.Context, key string, _ int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.tooLarge[key] {
		return nil, fmt.Errorf("object %s: %w", key, storage.ErrObjectTooLarge)
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (s *fakeStore) lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// fakeDirectory answers searches by image content and tracks how many
// searches run at once.
type fakeDirectory struct {
	mu         sync.Mutex
	candidates map[string][]facedir.Candidate
	err        error
	delay      time.Duration
	hang       map[string]bool // images whose search blocks until ctx ends
	searches   int
	thresholds []float64

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{candidates: make(map[string][]facedir.Candidate)}
}

func (d *fakeDirectory) IndexFaces(context.Context, string, []byte, string, int) ([]string, error) {
	return nil, errors.New("not used")
}

func (d *fakeDirectory) SearchFaces(ctx context.Context, _ string, img []byte, threshold float64, _ int) ([]facedir.Candidate, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		cur := d.maxInFlight.Load()
		if n <= cur || d.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.hang[string(img)] {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.searches++
	d.thresholds = append(d.thresholds, threshold)
	if d.err != nil {
		return nil, d.err
	}
	return d.candidates[string(img)], nil
}

func (d *fakeDirectory) searchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.searches
}

// venue fills store with n distinct photos of a venue and returns their keys
// and contents.
func venue(t *testing.T, store *fakeStore, name string, n int) ([]string, [][]byte) {
	t.Helper()
	keys := make([]string, n)
	imgs := make([][]byte, n)
	for i := range n {
		keys[i] = layout.PhotoKey(name, fmt.Sprintf("img_%03d.jpg", i))
		imgs[i] = pngOfWidth(t, i+1)
		store.objects[keys[i]] = imgs[i]
	}
	return keys, imgs
}

type staticMapping struct{ m *preindex.Mapping }

func (s staticMapping) Load() *preindex.Mapping { return s.m }

func mappingOf(entries ...models.MappingEntry) staticMapping {
	return staticMapping{m: preindex.NewMapping(layout, entries)}
}

type fakePresigner struct {
	fail map[string]bool
}

func (p *fakePresigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if p.fail[key] {
		return "", errors.New("sign failed")
	}
	return fmt.Sprintf("https://cdn.example/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func noSleep(context.Context, time.Duration) error { return nil }
