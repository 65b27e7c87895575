package minio

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

var ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")

// ObjectStore is the dataset-file storage surface used by the application
// layer.
type ObjectStore interface {
	Put(ctx context.Context, objectKey string, data []byte, contentType string) error
	Get(ctx context.Context, objectKey string) ([]byte, error)
	Exists(ctx context.Context, objectKey string) (bool, error)
	Delete(ctx context.Context, objectKey string) error
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type minioStore struct {
	client *Client
	logger logging.Logger
}

// NewObjectStore builds the dataset object store over the connected client.
func NewObjectStore(client *Client, log logging.Logger) ObjectStore {
	return &minioStore{
		client: client,
		logger: log,
	}
}

func (s *minioStore) Put(ctx context.Context, objectKey string, data []byte, contentType string) error {
	if objectKey == "" {
		return errors.Validation("object key must not be empty")
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.api.PutObject(ctx, s.client.cfg.Bucket, objectKey,
		bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "failed to upload object")
	}
	return nil
}

func (s *minioStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.api.GetObject(ctx, s.client.cfg.Bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to open object")
	}
	defer obj.Close()

	// GetObject is lazy; the first Stat surfaces NoSuchKey.
	if _, err := obj.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to stat object")
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to read object")
	}
	return data, nil
}

func (s *minioStore) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := s.client.api.StatObject(ctx, s.client.cfg.Bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeStorageError, "failed to stat object")
	}
	return true, nil
}

func (s *minioStore) Delete(ctx context.Context, objectKey string) error {
	err := s.client.api.RemoveObject(ctx, s.client.cfg.Bucket, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "failed to delete object")
	}
	return nil
}

func (s *minioStore) PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if expiry == 0 {
		expiry = s.client.cfg.PresignExpiry
	}
	u, err := s.client.api.PresignedGetObject(ctx, s.client.cfg.Bucket, objectKey, expiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "failed to presign object URL")
	}
	return u.String(), nil
}
