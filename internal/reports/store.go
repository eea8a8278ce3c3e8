package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// Putter writes one object.
type Putter interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
}

type MinioStore struct {
	client *minio.Client
}

func NewMinioStoreWithClient(client *minio.Client) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &MinioStore{client: client}, nil
}

func (s *MinioStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("minio store not initialized")
	}
	_, err := s.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}
