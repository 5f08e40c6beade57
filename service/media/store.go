// Package media persists generated artifacts under
// stories/{story}/segments/{segment}/{kind}{ext} and streams them back.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/wlu03/story-to-scene-magic-08/models"
)

var (
	ErrNotFound       = errors.New("media object not found")
	ErrInvalidLocator = errors.New("invalid media locator")
)

// Object is a seekable view of a stored artifact.
type Object interface {
	io.ReadSeekCloser
	Size() int64
	ContentType() string
	ModTime() time.Time
}

type Store interface {
	Write(ctx context.Context, storyID string, segmentID int, kind models.ArtifactKind, contentType string, data []byte) (string, error)
	Open(ctx context.Context, locator string) (Object, error)
	Exists(ctx context.Context, locator string) (bool, error)
	Delete(ctx context.Context, storyID string) error
}

// Presigner is implemented by stores that can hand out time-limited links,
// which remote workers need to read reference assets.
type Presigner interface {
	PresignedURL(ctx context.Context, locator string, expiry time.Duration) (string, error)
}

// ReadRange returns length bytes starting at offset, fewer at end of object.
func ReadRange(ctx context.Context, s Store, locator string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("read range: negative offset or length")
	}
	obj, err := s.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	if offset >= obj.Size() {
		return nil, io.EOF
	}
	if _, err := obj.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("read range: seek: %w", err)
	}
	if remain := obj.Size() - offset; length > remain {
		length = remain
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(obj, buf); err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	return buf, nil
}

func storyPrefix(storyID string) string {
	return "stories/" + storyID + "/"
}

// ObjectKey is the locator for an artifact.
func ObjectKey(storyID string, segmentID int, kind models.ArtifactKind, contentType string) string {
	return fmt.Sprintf("%ssegments/%d/%s%s", storyPrefix(storyID), segmentID, kind, ExtensionFor(contentType))
}

// CheckLocator rejects locators outside the stories/ layout.
func CheckLocator(locator string) error {
	if !strings.HasPrefix(locator, "stories/") || strings.Contains(locator, "..") ||
		strings.Contains(locator, "\\") || path.Clean(locator) != locator {
		return fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return nil
}

func checkStoryID(storyID string) error {
	if storyID == "" || strings.ContainsAny(storyID, "/\\") || strings.Contains(storyID, "..") {
		return fmt.Errorf("%w: story id %q", ErrInvalidLocator, storyID)
	}
	return nil
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/wave": ".wav",
}

func ExtensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func ContentTypeFor(locator string) string {
	switch ext := path.Ext(locator); ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}
