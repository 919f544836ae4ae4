package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSBlobStore keeps each artifact as <id>.bin next to an <id>.json metadata
// sidecar in a single directory.
type FSBlobStore struct {
	dir string
}

func NewFSBlobStore(dir string) (*FSBlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FSBlobStore{dir: dir}, nil
}

func (s *FSBlobStore) paths(id string) (string, string, error) {
	// ids are generated by prepare; anything else could escape the directory
	if _, err := uuid.Parse(id); err != nil {
		return "", "", ErrBlobNotFound
	}
	return filepath.Join(s.dir, id+".bin"), filepath.Join(s.dir, id+".json"), nil
}

func (s *FSBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	binPath, metaPath, err := s.paths(meta.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact id %q", meta.ID)
	}

	if err := os.WriteFile(binPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode artifact metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0o600); err != nil {
		os.Remove(binPath)
		return nil, fmt.Errorf("write artifact metadata: %w", err)
	}
	return &meta, nil
}

func (s *FSBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	binPath, _, _ := s.paths(id)
	data, err := os.ReadFile(binPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("read artifact: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

func (s *FSBlobStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	_, metaPath, err := s.paths(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read artifact metadata: %w", err)
	}
	var meta BlobMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode artifact metadata: %w", err)
	}
	return &meta, nil
}

func (s *FSBlobStore) Delete(_ context.Context, id string) error {
	binPath, metaPath, err := s.paths(id)
	if err != nil {
		return err
	}
	if err := os.Remove(metaPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("remove artifact metadata: %w", err)
	}
	if err := os.Remove(binPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
