package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/config"
	"github.com/wlu03/story-to-scene-magic-08/models"
)

// MinioStore keeps artifacts in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	log    logrus.FieldLogger
}

func NewMinioStore(ctx context.Context, cfg config.MinIOConfig, log logrus.FieldLogger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	s := &MinioStore{client: client, bucket: cfg.Bucket, log: log.WithField("module", "media_minio")}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.WithField("bucket", s.bucket).Info("bucket created")
	return nil
}

func (s *MinioStore) Write(ctx context.Context, storyID string, segmentID int, kind models.ArtifactKind, contentType string, data []byte) (string, error) {
	if err := checkStoryID(storyID); err != nil {
		return "", err
	}
	locator := ObjectKey(storyID, segmentID, kind, contentType)
	_, err := s.client.PutObject(ctx, s.bucket, locator, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ContentTypeFor(locator),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", locator, err)
	}
	return locator, nil
}

type minioObject struct {
	*minio.Object
	info minio.ObjectInfo
}

func (o *minioObject) Size() int64         { return o.info.Size }
func (o *minioObject) ContentType() string { return o.info.ContentType }
func (o *minioObject) ModTime() time.Time  { return o.info.LastModified }

// Open returns a seekable object; seeks turn into ranged GETs.
func (s *MinioStore) Open(ctx context.Context, locator string) (Object, error) {
	if err := CheckLocator(locator); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", locator, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
		}
		return nil, fmt.Errorf("stat %s: %w", locator, err)
	}
	if info.ContentType == "" {
		info.ContentType = ContentTypeFor(locator)
	}
	return &minioObject{Object: obj, info: info}, nil
}

func (s *MinioStore) Exists(ctx context.Context, locator string) (bool, error) {
	if err := CheckLocator(locator); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, locator, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", locator, err)
}

// Delete removes every object under the story prefix.
func (s *MinioStore) Delete(ctx context.Context, storyID string) error {
	if err := checkStoryID(storyID); err != nil {
		return err
	}
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    storyPrefix(storyID),
		Recursive: true,
	})
	return drainRemoveErrors(s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}))
}

// drainRemoveErrors reads the channel to the end so the remover can finish.
func drainRemoveErrors(results <-chan minio.RemoveObjectError) error {
	var errs []error
	for rerr := range results {
		if rerr.Err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", rerr.ObjectName, rerr.Err))
		}
	}
	return errors.Join(errs...)
}

func (s *MinioStore) PresignedURL(ctx context.Context, locator string, expiry time.Duration) (string, error) {
	if err := CheckLocator(locator); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, locator, expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", locator, err)
	}
	return u.String(), nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
