// Package storage is the S3-compatible object store behind the raw webhook
// archive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
)

// MaxObjectSize caps a single archived payload.
const MaxObjectSize int64 = 1 << 20

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("storage: object not found")

var allowedTypes = map[string]bool{
	"application/json": true,
	"text/plain":       true,
}

type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStore is the subset of S3 the archive uses.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	// Put overwrites key.
	Put(ctx context.Context, bucket, key, contentType string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// List returns the objects under prefix in key order.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// CheckObject rejects content types outside the archive's JSON/text set and
// empty or oversized bodies.
func CheckObject(contentType string, size int64) error {
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil || !allowedTypes[strings.ToLower(media)] {
		return fmt.Errorf("storage: content type %q not allowed", contentType)
	}
	switch {
	case size <= 0:
		return fmt.Errorf("storage: object is empty")
	case size > MaxObjectSize:
		return fmt.Errorf("storage: object of %d bytes exceeds %d", size, MaxObjectSize)
	}
	return nil
}
