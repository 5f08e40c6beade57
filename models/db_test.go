package models

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wlu03/story-to-scene-magic-08/config"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	log, _ := test.NewNullLogger()
	return NewGormStore(openTestDB(t, log))
}

func openTestDB(t *testing.T, log logrus.FieldLogger) *gorm.DB {
	t.Helper()
	db, err := OpenDB(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "stories.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestGormLogsGoThroughLogrus(t *testing.T) {
	log, hook := test.NewNullLogger()
	db := openTestDB(t, log)
	store := NewGormStore(db)
	hook.Reset()

	_, err := store.Load(context.Background(), "nope")
	require.ErrorIs(t, err, ErrStoryNotFound)
	assert.Empty(t, hook.AllEntries(), "missing rows are not logged")

	require.Error(t, db.Exec("SELECT * FROM no_such_table").Error)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "gorm", entry.Data["module"])
	assert.Contains(t, entry.Message, "no_such_table")
	assert.NotContains(t, entry.Message, "\x1b[")
}

func TestGormStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	story := NewStory("s-1", " Lighthouse ", "Once upon a time.\r\n\r\n\r\n\r\nThe end.")
	require.NoError(t, store.Create(ctx, story))

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Lighthouse", loaded.Title)
	assert.Equal(t, "Once upon a time.\n\nThe end.", loaded.SourceText)
	assert.Equal(t, StageUploaded, loaded.Stage)
	assert.Empty(t, loaded.Segments)

	loaded.Style = &StyleDescriptor{
		Characters:  []Character{{Name: "Mara", Description: "keeper", VisualTraits: []string{"red coat"}}},
		Setting:     Setting{Location: "coast", Era: "1900s", Mood: "stormy"},
		VisualStyle: VisualStyle{ArtStyle: "watercolor"},
	}
	loaded.Segments = []Segment{
		{ID: 2, NarrationText: "second", Status: SegmentPending},
		{ID: 1, NarrationText: "first", Status: SegmentPending},
	}
	loaded.Advance(StageGeneratingMedia, "Generating media")
	require.NoError(t, store.Save(ctx, loaded))

	again, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, again.Style)
	assert.Equal(t, "Mara", again.Style.Characters[0].Name)
	assert.Equal(t, []string{"red coat"}, again.Style.Characters[0].VisualTraits)
	require.Len(t, again.Segments, 2)
	assert.Equal(t, 1, again.Segments[0].ID)
	assert.Equal(t, 2, again.Segments[1].ID)
	assert.Equal(t, WeightGeneratingMedia, again.ProgressPercent)
}

func TestGormStoreSaveUpsertsSegments(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	story := NewStory("s-2", "t", "text")
	story.Segments = []Segment{{ID: 1, Status: SegmentPending}, {ID: 2, Status: SegmentPending}}
	story.Advance(StageGeneratingMedia, "media")
	require.NoError(t, store.Create(ctx, story))

	story.Segments[0].Begin("a-1")
	story.Segments[0].SetArtifact(KindImage, "stories/s-2/segments/1/image.png")
	story.Segments[0].Complete()
	require.NoError(t, store.Save(ctx, story))

	loaded, err := store.Load(ctx, "s-2")
	require.NoError(t, err)
	assert.Equal(t, SegmentCompleted, loaded.Segments[0].Status)
	assert.Equal(t, "stories/s-2/segments/1/image.png", loaded.Segments[0].Artifacts.Image)
	assert.Equal(t, "a-1", loaded.Segments[0].AttemptID)
	assert.Equal(t, SegmentPending, loaded.Segments[1].Status)
	assert.Equal(t, WeightGeneratingMedia+MediaWeightPool/2, loaded.ProgressPercent)
}

func TestGormStoreMissingStory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Load(ctx, "nope")
	assert.True(t, errors.Is(err, ErrStoryNotFound))

	err = store.Save(ctx, NewStory("nope", "t", "x"))
	assert.True(t, errors.Is(err, ErrStoryNotFound))

	err = store.Delete(ctx, "nope")
	assert.True(t, errors.Is(err, ErrStoryNotFound))
}

func TestGormStoreListNewestFirstAndByStage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		s := NewStory(id, id, "text")
		s.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(ctx, s))
	}
	mid, err := store.Load(ctx, "mid")
	require.NoError(t, err)
	mid.Advance(StageCompleted, "done")
	require.NoError(t, store.Save(ctx, mid))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

	open, err := store.ListByStages(ctx, StageUploaded, StageGeneratingMedia)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "old", open[0].ID)
	assert.Equal(t, "new", open[1].ID)
}

func TestGormStoreDeleteCascadesSegments(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	story := NewStory("s-3", "t", "text")
	story.Segments = []Segment{{ID: 1, Status: SegmentPending}}
	require.NoError(t, store.Create(ctx, story))
	require.NoError(t, store.Delete(ctx, "s-3"))

	var n int64
	require.NoError(t, store.db.Model(&Segment{}).Where("story_id = ?", "s-3").Count(&n).Error)
	assert.Zero(t, n)

	_, err := store.Load(ctx, "s-3")
	assert.ErrorIs(t, err, ErrStoryNotFound)
}
