package storage

// Package storage is where alert artifacts end up: a local directory or a cloud bucket.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

var ErrInvalidName = errors.New("Invalid file name")

// Storage is an abstraction of a blob store
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(ctx context.Context, name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(ctx context.Context, name string) (*File, error)

	DeleteFile(ctx context.Context, name string) error

	// Human readable location of a file, eg "/var/lib/rtvd/alerts/x.jpg" or "gs://bucket/x.jpg"
	Location(name string) string
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

type Kind string

const (
	KindFilesystem Kind = "fs"
	KindGCS        Kind = "gcs"
)

// Open a Storage. For KindFilesystem, target is a directory. For KindGCS, target is a bucket name.
func Open(ctx context.Context, log logs.Log, kind Kind, target string) (Storage, error) {
	switch kind {
	case "", KindFilesystem:
		return NewStorageFS(log, target)
	case KindGCS:
		return NewStorageGCS(ctx, log, target)
	}
	return nil, fmt.Errorf("Unknown storage kind '%v'", kind)
}

func WriteFile(ctx context.Context, s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(ctx, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(ctx context.Context, s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, "..") {
		return fmt.Errorf("%w '%v'", ErrInvalidName, name)
	}
	return nil
}
