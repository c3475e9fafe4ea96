package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gallery/internal/facedir"
	"github.com/your-org/gallery/internal/models"
)

func TestBatchSizeFor(t *testing.T) {
	tests := []struct {
		photos int
		want   int
	}{
		{0, 10},
		{23, 10},
		{50, 10},
		{51, 15},
		{200, 15},
		{201, 20},
		{5000, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BatchSizeFor(tt.photos), "photos=%d", tt.photos)
	}
}

func TestClampBatchSize(t *testing.T) {
	assert.Equal(t, 12, ClampBatchSize(20, 12))
	assert.Equal(t, 10, ClampBatchSize(10, 12))
	assert.Equal(t, 1, ClampBatchSize(0, 12))
	assert.Equal(t, 40, ClampBatchSize(40, 0))
}

func TestPartition(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, Partition(keys, 2))
	assert.Equal(t, [][]string{{"a", "b", "c", "d", "e"}}, Partition(keys, 10))
	assert.Empty(t, Partition(nil, 3))
}

func newTestLiveMatcher(store *fakeStore, dir *fakeDirectory, mapping MappingProvider, maxConcurrent int) *LiveMatcher {
	m := NewLiveMatcher(store, dir, mapping, layout, LiveOptions{
		Collection:      "gallery",
		MaxConcurrent:   maxConcurrent,
		MaxImageBytes:   10 << 20,
		InterBatchDelay: 50 * time.Millisecond,
	})
	m.sleep = noSleep
	return m
}

func TestLiveMatcher_SequentialBoundedBatches(t *testing.T) {
	for _, tc := range []struct {
		photos, batch int
	}{
		{23, 5},
		{20, 5},
		{1, 5},
		{7, 1},
	} {
		store := newFakeStore()
		dir := newFakeDirectory()
		dir.delay = 2 * time.Millisecond
		venue(t, store, "venue_01", tc.photos)

		m := newTestLiveMatcher(store, dir, nil, 20)
		var sleeps int
		m.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }

		out, err := m.Search(context.Background(), "venue_01", "face", SearchOptions{Threshold: 70, BatchSize: tc.batch})
		require.NoError(t, err)

		wantBatches := (tc.photos + tc.batch - 1) / tc.batch
		assert.Equal(t, wantBatches, out.Batches, "photos=%d batch=%d", tc.photos, tc.batch)
		assert.Equal(t, wantBatches-1, sleeps)
		assert.LessOrEqual(t, int(dir.maxInFlight.Load()), tc.batch)
		assert.Equal(t, tc.photos, dir.searchCount())
		assert.Equal(t, tc.photos, out.TotalPhotos)
	}
}

func TestLiveMatcher_BatchClampedToCeiling(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	dir.delay = 2 * time.Millisecond
	venue(t, store, "v", 30)

	m := newTestLiveMatcher(store, dir, nil, 4)
	out, err := m.Search(context.Background(), "v", "face", SearchOptions{Threshold: 70, BatchSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 8, out.Batches)
	assert.LessOrEqual(t, int(dir.maxInFlight.Load()), 4)
}

func TestLiveMatcher_MatchesRequesterFace(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	keys, imgs := venue(t, store, "venue_09", 5)
	store.objects["photos/venue_09/readme.txt"] = []byte("ignored")
	dir.candidates[string(imgs[1])] = []facedir.Candidate{{FaceID: "other", Similarity: 99}, {FaceID: "xyz999", Similarity: 88.5}}
	dir.candidates[string(imgs[3])] = []facedir.Candidate{{FaceID: "xyz999", Similarity: 75}}
	dir.candidates[string(imgs[4])] = []facedir.Candidate{{FaceID: "other", Similarity: 97}}

	m := newTestLiveMatcher(store, dir, nil, 20)
	out, err := m.Search(context.Background(), "venue_09", "xyz999", SearchOptions{Threshold: 70})
	require.NoError(t, err)

	assert.Equal(t, 5, out.TotalPhotos)
	require.Len(t, out.Photos, 2)
	assert.Equal(t, keys[1], out.Photos[0].Key)
	assert.InDelta(t, 88.5, out.Photos[0].Confidence, 0.001)
	assert.Equal(t, "img_001.jpg", out.Photos[0].Filename)
	assert.True(t, out.Photos[0].Matched)
	assert.Equal(t, keys[3], out.Photos[1].Key)
	for _, th := range dir.thresholds {
		assert.Equal(t, 70.0, th)
	}
}

func TestLiveMatcher_CorruptPhotoIsIsolated(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	keys, imgs := venue(t, store, "v", 6)
	store.objects[keys[2]] = []byte("\x00\x01 not an image")
	store.tooLarge[keys[5]] = true
	for _, i := range []int{0, 2, 4, 5} {
		dir.candidates[string(imgs[i])] = []facedir.Candidate{{FaceID: "me", Similarity: 91}}
	}

	m := newTestLiveMatcher(store, dir, nil, 20)
	out, err := m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 70})
	require.NoError(t, err)

	assert.Len(t, out.Photos, 2, "photos 0 and 4 match; 2 is corrupt and 5 is oversized")
	assert.Equal(t, 2, out.Failed)
	assert.Equal(t, 4, dir.searchCount(), "rejected photos never reach the directory")
}

func TestLiveMatcher_NoFaceInPhotoIsNotAFailure(t *testing.T) {
	store := newFakeStore()
	venue(t, store, "v", 3)
	dir := newFakeDirectory()
	dir.err = facedir.ErrNoFaceDetected

	m := newTestLiveMatcher(store, dir, nil, 20)
	out, err := m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 70})
	require.NoError(t, err)
	assert.Empty(t, out.Photos)
	assert.Zero(t, out.Failed)
}

func TestLiveMatcher_DirectoryDown(t *testing.T) {
	store := newFakeStore()
	venue(t, store, "v", 4)
	dir := newFakeDirectory()
	dir.err = errors.New("dial tcp: connection refused")

	m := newTestLiveMatcher(store, dir, nil, 20)
	_, err := m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 70})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestLiveMatcher_DirectoryDownWithRejectedPhotos(t *testing.T) {
	store := newFakeStore()
	keys, _ := venue(t, store, "v", 5)
	store.objects[keys[0]] = []byte("garbage")
	store.tooLarge[keys[1]] = true
	dir := newFakeDirectory()
	dir.err = errors.New("dial tcp: connection refused")

	m := newTestLiveMatcher(store, dir, nil, 20)
	_, err := m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 70})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, 3, dir.searchCount())
}

func TestLiveMatcher_OnlyRejectedPhotos(t *testing.T) {
	store := newFakeStore()
	keys, _ := venue(t, store, "v", 2)
	store.objects[keys[0]] = []byte("garbage")
	store.objects[keys[1]] = []byte("more garbage")
	dir := newFakeDirectory()
	dir.err = errors.New("dial tcp: connection refused")

	m := newTestLiveMatcher(store, dir, nil, 20)
	out, err := m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 70})
	require.NoError(t, err)
	assert.Empty(t, out.Photos)
	assert.Equal(t, 2, out.Failed)
	assert.Zero(t, dir.searchCount())
}

func TestLiveMatcher_HungSearchSkipsPhoto(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	keys, imgs := venue(t, store, "v", 3)
	dir.hang = map[string]bool{string(imgs[1]): true}
	dir.candidates[string(imgs[0])] = []facedir.Candidate{{FaceID: "me", Similarity: 93}}

	m := NewLiveMatcher(store, facedir.NewRateLimited(dir, 0, 0, 30*time.Millisecond), nil, layout, LiveOptions{
		Collection:    "gallery",
		MaxConcurrent: 20,
	})

	start := time.Now()
	out, err := m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 70})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Photos, 1)
	assert.Equal(t, keys[0], out.Photos[0].Key)
}

func TestLiveMatcher_ListingFailure(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("bucket unreachable")

	m := newTestLiveMatcher(store, newFakeDirectory(), nil, 20)
	_, err := m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 70})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestLiveMatcher_EmptyVenue(t *testing.T) {
	m := newTestLiveMatcher(newFakeStore(), newFakeDirectory(), nil, 20)
	out, err := m.Search(context.Background(), "empty", "me", SearchOptions{Threshold: 70})
	require.NoError(t, err)
	assert.Zero(t, out.TotalPhotos)
	assert.Zero(t, out.Batches)
}

func TestLiveMatcher_UseMappingSkipsResolvedPhotos(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory()
	keys, _ := venue(t, store, "v", 4)
	mapping := mappingOf(
		models.MappingEntry{PhotoKey: keys[0], FaceID: "me"},
		models.MappingEntry{PhotoKey: keys[1], FaceID: "someone"},
	)

	m := newTestLiveMatcher(store, dir, mapping, 20)
	out, err := m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 70, UseMapping: true})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Resolved)
	assert.Equal(t, 3, dir.searchCount())
	require.Len(t, out.Photos, 1)
	assert.Equal(t, PreIndexedConfidence, out.Photos[0].Confidence)

	// The plain variant ignores the mapping.
	out, err = m.Search(context.Background(), "v", "me", SearchOptions{Threshold: 60})
	require.NoError(t, err)
	assert.Zero(t, out.Resolved)
	assert.Equal(t, 7, dir.searchCount())
}

func TestLiveMatcher_CancelledBetweenBatches(t *testing.T) {
	store := newFakeStore()
	venue(t, store, "v", 10)
	m := newTestLiveMatcher(store, newFakeDirectory(), nil, 20)
	m.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Search(ctx, "v", "me", SearchOptions{Threshold: 70, BatchSize: 2})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembler_SigningFailureKeepsPhoto(t *testing.T) {
	signer := &fakePresigner{fail: map[string]bool{"thumbnails/v/b.jpg": true}}
	a := NewAssembler(signer, layout, time.Hour, 2)

	in := []models.MatchedPhoto{
		newMatch("photos/v/a.jpg", 90),
		newMatch("photos/v/b.jpg", 80),
	}
	out := a.Assemble(context.Background(), in)

	require.Len(t, out, 2)
	assert.Equal(t, "https://cdn.example/photos/v/a.jpg?ttl=3600", out[0].URL)
	assert.Equal(t, "https://cdn.example/thumbnails/v/a.jpg?ttl=3600", out[0].ThumbnailURL)
	assert.NotEmpty(t, out[1].URL)
	assert.Empty(t, out[1].ThumbnailURL)
	assert.Empty(t, in[0].URL, "input is not modified")
}
