package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Cipher seals and opens artifact bytes. hipaa.ArtifactCipher satisfies it.
type Cipher interface {
	EncryptBytes(data []byte) ([]byte, error)
	DecryptBytes(data []byte) ([]byte, error)
}

// EncryptedBlobStore wraps another BlobStore and encrypts content before it
// reaches the backend. Size and Hash in the returned metadata describe the
// sealed bytes.
type EncryptedBlobStore struct {
	inner  BlobStore
	cipher Cipher
}

func NewEncryptedBlobStore(inner BlobStore, c Cipher) *EncryptedBlobStore {
	return &EncryptedBlobStore{inner: inner, cipher: c}
}

func (s *EncryptedBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	plain, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(plain)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	sealed, err := s.cipher.EncryptBytes(plain)
	if err != nil {
		return nil, err
	}
	meta.Encrypted = true
	return s.inner.Upload(ctx, meta, bytes.NewReader(sealed))
}

func (s *EncryptedBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	rc, meta, err := s.inner.Download(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("reading artifact: %w", err)
	}
	if !meta.Encrypted {
		return io.NopCloser(bytes.NewReader(sealed)), meta, nil
	}
	plain, err := s.cipher.DecryptBytes(sealed)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(plain)), meta, nil
}

func (s *EncryptedBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	return s.inner.GetMetadata(ctx, id)
}

func (s *EncryptedBlobStore) Delete(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id)
}
