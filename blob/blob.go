/*
Package blob is the file-storage collaborator.

PURPOSE:
  Transitions that carry documents (FIR copies, marriage certificates,
  bank passbooks) store the bytes here and keep only the returned
  reference on the case. The store write happens before the transactional
  case commit; a storage failure aborts the whole transition so a case
  never references a file that was never stored.

LIMITS:
  Only PDF, JPEG and PNG up to 10 MiB are accepted. Oversized or
  unsupported uploads are validation errors, not storage errors.

IMPLEMENTATIONS:
  - MinIO: production object storage (minio.go)
  - Memory: in-memory fake for tests (memory.go)
*/
package blob

import (
	"context"
	"io"

	"github.com/openpcr/caseflow/workflow"
)

// MaxSize is the largest accepted upload.
const MaxSize = 10 << 20

var allowedTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// Store accepts named files and serves them back by reference.
type Store interface {
	// Put stores the bytes and returns a stable reference.
	Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (string, error)

	// Get returns the bytes and content type for a reference.
	Get(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

// CheckUpload validates size and content type before any bytes move.
func CheckUpload(contentType string, size int64) error {
	if _, ok := allowedTypes[contentType]; !ok {
		return &workflow.ValidationError{Field: "file", Message: "only PDF, JPEG and PNG are accepted"}
	}
	if size <= 0 || size > MaxSize {
		return &workflow.ValidationError{Field: "file", Message: "file must be between 1 byte and 10 MiB"}
	}
	return nil
}

func extFor(contentType string) string {
	return allowedTypes[contentType]
}
