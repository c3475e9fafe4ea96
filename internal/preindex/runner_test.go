package preindex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/gallery/internal/models"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []models.PreIndexEvent
}

func (r *recordingEvents) PublishPreIndexEvent(_ context.Context, ev models.PreIndexEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []models.PreIndexEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PreIndexEventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestRunner_Run(t *testing.T) {
	img := pngOfWidth(t, 1)
	photos := &fakePhotos{objects: map[string][]byte{
		"photos/v/a.jpg": img,
		"photos/v/b.jpg": img,
	}}
	dir := &fakeDirectory{faces: map[string][]string{string(img): {"f"}}}
	sink, events := &fakeSink{}, &recordingEvents{}
	r := NewRunner(NewBuilder(nil, photos, dir, layout, BuilderOptions{Concurrency: 1}), sink, nil, "", events, layout)

	beats := 0
	job := models.PreIndexJob{JobID: uuid.New(), Venues: []string{"v"}}
	require.NoError(t, r.Run(context.Background(), job, func() { beats++ }))

	assert.Equal(t, 2, beats)
	assert.Len(t, sink.entries, 2)
	assert.Equal(t, []models.PreIndexEventType{
		models.PreIndexStarted,
		models.PreIndexProgress,
		models.PreIndexCompleted,
	}, events.types())
	for _, ev := range events.events {
		assert.Equal(t, job.JobID, ev.JobID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestRunner_FailureIsAnnounced(t *testing.T) {
	photos := &fakePhotos{objects: map[string][]byte{"photos/v/a.jpg": pngOfWidth(t, 1)}}
	dir := &fakeDirectory{err: errors.New("unreachable")}
	sink, events := &fakeSink{}, &recordingEvents{}
	r := NewRunner(NewBuilder(nil, photos, dir, layout, BuilderOptions{}), sink, nil, "", events, layout)

	err := r.Run(context.Background(), models.PreIndexJob{JobID: uuid.New(), Venues: []string{"v"}}, nil)
	assert.ErrorIs(t, err, ErrNothingIndexed)
	assert.Nil(t, sink.entries, "nothing persisted")
	types := events.types()
	require.NotEmpty(t, types)
	assert.Equal(t, models.PreIndexFailed, types[len(types)-1])
}
