package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore stages artifacts as objects in a Cloud Storage bucket. Directories
// are represented by zero-length "dir/" marker objects so that browsing
// tools show the same tree an SFTP consumer would see.
// It assumes Application Default Credentials are configured.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	uploadTimeout time.Duration
}

// NewGCSStore creates a storage client for bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return NewGCSStoreWithClient(client, bucket), nil
}

// NewGCSStoreWithClient wraps an existing storage client.
func NewGCSStoreWithClient(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, uploadTimeout: 2 * time.Minute}
}

func objectName(remote string) string {
	return strings.TrimPrefix(remote, "/")
}

// EnsureDir implements Store.
func (s *GCSStore) EnsureDir(ctx context.Context, dir string) error {
	obj := s.client.Bucket(s.bucket).Object(objectName(dir) + "/")

	_, err := obj.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("stat marker: %w", err)
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return fmt.Errorf("create marker: %w", err)
	}
	return nil
}

// Put implements Store. The object is only committed when the writer is
// closed; on a copy failure the upload context is cancelled first so the
// writer aborts instead of finalizing a partial object.
func (s *GCSStore) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName(remotePath)).NewWriter(ctx)

	if _, err := io.Copy(w, f); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

var _ Store = (*GCSStore)(nil)
