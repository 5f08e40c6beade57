package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlu03/story-to-scene-magic-08/models"
)

func TestFileStoreWriteOpen(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("png-bytes")
	loc, err := store.Write(ctx, "s1", 2, models.KindImage, "image/png", data)
	require.NoError(t, err)
	assert.Equal(t, "stories/s1/segments/2/image.png", loc)

	ok, err := store.Exists(ctx, loc)
	require.NoError(t, err)
	assert.True(t, ok)

	obj, err := store.Open(ctx, loc)
	require.NoError(t, err)
	defer obj.Close()
	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), obj.Size())
	assert.Equal(t, "image/png", obj.ContentType())

	// overwrite in place
	loc2, err := store.Write(ctx, "s1", 2, models.KindImage, "image/png", []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, loc, loc2)
}

func TestFileStoreReadRange(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	loc, err := store.Write(ctx, "s1", 1, models.KindVideo, "video/mp4", data)
	require.NoError(t, err)

	got, err := ReadRange(ctx, store, loc, 100, 100)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data[100:200], got))

	tail, err := ReadRange(ctx, store, loc, 950, 100)
	require.NoError(t, err)
	assert.Len(t, tail, 50)

	_, err = ReadRange(ctx, store, loc, 1000, 1)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileStoreMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(ctx, "stories/none/segments/1/image.png")
	assert.True(t, errors.Is(err, ErrNotFound))

	loc, err := store.Write(ctx, "s9", 0, models.KindReference, "image/jpeg", []byte("ref"))
	require.NoError(t, err)
	assert.Equal(t, "stories/s9/segments/0/reference.jpg", loc)

	require.NoError(t, store.Delete(ctx, "s9"))
	ok, err := store.Exists(ctx, loc)
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting twice is fine
	require.NoError(t, store.Delete(ctx, "s9"))
}

func TestLocatorChecks(t *testing.T) {
	for _, loc := range []string{"", "etc/passwd", "stories/../x", "stories/a//b", `stories\a`} {
		assert.ErrorIs(t, CheckLocator(loc), ErrInvalidLocator, loc)
	}
	assert.NoError(t, CheckLocator("stories/a/segments/1/audio.mp3"))

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Write(context.Background(), "../x", 1, models.KindAudio, "audio/mpeg", nil)
	assert.ErrorIs(t, err, ErrInvalidLocator)
}

func TestExtensions(t *testing.T) {
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".mp3", ExtensionFor("audio/mpeg; charset=binary"))
	assert.Equal(t, ".bin", ExtensionFor("not a type"))
	assert.Equal(t, "video/mp4", ContentTypeFor("stories/a/segments/1/video.mp4"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("stories/a/segments/1/video.zzz"))
}
