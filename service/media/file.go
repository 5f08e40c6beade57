package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/wlu03/story-to-scene-magic-08/models"
)

// FileStore keeps artifacts in a local directory tree.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("media root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media root %s: %w", abs, err)
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) path(locator string) (string, error) {
	if err := CheckLocator(locator); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(locator)), nil
}

// Write stores data atomically: a temp file renamed into place.
func (s *FileStore) Write(ctx context.Context, storyID string, segmentID int, kind models.ArtifactKind, contentType string, data []byte) (string, error) {
	if err := checkStoryID(storyID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	locator := ObjectKey(storyID, segmentID, kind, contentType)
	dest, err := s.path(locator)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp media file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write media %s: %w", locator, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close media %s: %w", locator, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("publish media %s: %w", locator, err)
	}
	return locator, nil
}

type fileObject struct {
	*os.File
	info        fs.FileInfo
	contentType string
}

func (o *fileObject) Size() int64         { return o.info.Size() }
func (o *fileObject) ContentType() string { return o.contentType }
func (o *fileObject) ModTime() time.Time  { return o.info.ModTime() }

func (s *FileStore) Open(ctx context.Context, locator string) (Object, error) {
	p, err := s.path(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	if err != nil {
		return nil, fmt.Errorf("open media %s: %w", locator, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat media %s: %w", locator, err)
	}
	return &fileObject{File: f, info: info, contentType: ContentTypeFor(locator)}, nil
}

func (s *FileStore) Exists(ctx context.Context, locator string) (bool, error) {
	p, err := s.path(locator)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat media %s: %w", locator, err)
	}
}

func (s *FileStore) Delete(ctx context.Context, storyID string) error {
	if err := checkStoryID(storyID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, "stories", storyID)); err != nil {
		return fmt.Errorf("delete media of %s: %w", storyID, err)
	}
	return nil
}
