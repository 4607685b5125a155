package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// ObjectOpener opens a writer for bucket/object; tests replace the Cloud Storage implementation.
type ObjectOpener func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// Archive stores immutable payload copies in a Cloud Storage bucket.
type Archive struct {
	bucket string
	open   ObjectOpener
}

// NewArchive constructs an Archive backed by the provided Cloud Storage client.
func NewArchive(client *gcs.Client, bucket string) (*Archive, error) {
	if client == nil {
		return nil, errors.New("storage archive: client is required")
	}
	return NewArchiveWithOpener(bucket, func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = contentType
		return w
	})
}

// NewArchiveWithOpener constructs an Archive over a custom opener.
func NewArchiveWithOpener(bucket string, open ObjectOpener) (*Archive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archive: bucket is required")
	}
	if open == nil {
		return nil, errors.New("storage archive: opener is required")
	}
	return &Archive{bucket: bucket, open: open}, nil
}

// Put writes data to object. Existing objects are left untouched.
func (a *Archive) Put(ctx context.Context, object string, data []byte, contentType string) error {
	if a == nil || a.open == nil {
		return errors.New("storage archive: not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return errors.New("storage archive: object name is required")
	}
	if contentType == "" {
		contentType = "application/json"
	}

	w := a.open(ctx, a.bucket, object, contentType)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage archive: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("storage archive: close %s: %w", object, err)
	}
	return nil
}

// Bucket returns the destination bucket name.
func (a *Archive) Bucket() string {
	if a == nil {
		return ""
	}
	return a.bucket
}
