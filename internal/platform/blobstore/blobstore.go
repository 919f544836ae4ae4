// Package blobstore stores materialised export artifacts. It defines the
// BlobStore interface, an in-memory implementation for tests and development,
// a filesystem implementation, an S3 implementation, a sealing wrapper that
// encrypts content at rest, and an Echo download handler.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the maximum allowed artifact size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// AllowedContentTypes lists the artifact formats the exporter produces.
var AllowedContentTypes = map[string]bool{
	ContentTypeCSV:  true,
	ContentTypeXLSX: true,
}

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// BlobMetadata describes a stored artifact.
type BlobMetadata struct {
	ID          string            `json:"id"`
	FileName    string            `json:"file_name"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Hash        string            `json:"hash"`
	Profile     string            `json:"profile,omitempty"`
	RecordCount int               `json:"record_count"`
	Encrypted   bool              `json:"encrypted"`
	CreatedAt   time.Time         `json:"created_at"`
	CreatedBy   string            `json:"created_by,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// BlobStore defines the contract for artifact storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	GetMetadata(ctx context.Context, id string) (*BlobMetadata, error)
	Delete(ctx context.Context, id string) error
}

// prepare validates meta, reads content under the size limit and fills in
// the ID, size, hash and creation time. Backends share it so that every store
// assigns metadata the same way.
func prepare(meta BlobMetadata, content io.Reader) (BlobMetadata, []byte, error) {
	if meta.FileName == "" {
		return meta, nil, ErrMissingFileName
	}
	if !AllowedContentTypes[meta.ContentType] {
		return meta, nil, fmt.Errorf("%w: %s", ErrInvalidContentType, meta.ContentType)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return meta, nil, ErrFileTooLarge
	}

	h := sha256.Sum256(data)
	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = time.Now().UTC()
	if meta.Tags == nil {
		meta.Tags = make(map[string]string)
	}
	return meta, data, nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for testing/dev.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs: make(map[string]*storedBlob),
	}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}
