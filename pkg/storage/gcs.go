package storage

import (
	"context"
	"io"
	"path"

	gcs "cloud.google.com/go/storage"
	"github.com/cyclopcam/logs"
)

// StorageGCS is a Google Cloud Storage-based blob store.
// Credentials come from the environment (GOOGLE_APPLICATION_CREDENTIALS etc).
type StorageGCS struct {
	bucketName string
	client     *gcs.Client
	bucket     *gcs.BucketHandle
	log        logs.Log
}

func NewStorageGCS(ctx context.Context, log logs.Log, bucketName string) (*StorageGCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &StorageGCS{
		bucketName: bucketName,
		client:     client,
		bucket:     client.Bucket(bucketName),
		log:        log,
	}, nil
}

func (s *StorageGCS) WriteFile(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	w := s.bucket.Object(name).NewWriter(ctx)
	switch path.Ext(name) {
	case ".jpg", ".jpeg":
		w.ContentType = "image/jpeg"
	case ".png":
		w.ContentType = "image/png"
	case ".json":
		w.ContentType = "application/json"
	}
	return w, nil
}

func (s *StorageGCS) ReadFile(ctx context.Context, name string) (*File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	return &File{
		Reader:     r,
		ModifiedAt: r.Attrs.LastModified,
		Size:       r.Attrs.Size,
	}, nil
}

func (s *StorageGCS) DeleteFile(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	s.log.Infof("Deleting gs://%v/%v", s.bucketName, name)
	return s.bucket.Object(name).Delete(ctx)
}

func (s *StorageGCS) Location(name string) string {
	return "gs://" + s.bucketName + "/" + name
}

func (s *StorageGCS) Close() error {
	return s.client.Close()
}
