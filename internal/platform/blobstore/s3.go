package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the bucket settings for S3BlobStore. Credentials come from
// the default AWS chain.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
	Prefix    string
}

// S3BlobStore keeps artifacts in a single S3-compatible bucket. Content and
// metadata are separate objects under <prefix><id> and <prefix><id>.json.
type S3BlobStore struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3BlobStore(ctx context.Context, cfg S3Config) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "exports/"
	}
	return &S3BlobStore{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *S3BlobStore) contentKey(id string) string  { return s.prefix + id }
func (s *S3BlobStore) metadataKey(id string) string { return s.prefix + id + ".json" }

func (s *S3BlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode artifact metadata: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.contentKey(meta.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(meta.ContentType),
	})
	if err != nil {
		return nil, fmt.Errorf("put artifact: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.metadataKey(meta.ID)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("put artifact metadata: %w", err)
	}
	return &meta, nil
}

func (s *S3BlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.contentKey(id)),
	})
	if err != nil {
		return nil, nil, s.mapErr("get artifact", err)
	}
	return out.Body, meta, nil
}

func (s *S3BlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.metadataKey(id)),
	})
	if err != nil {
		return nil, s.mapErr("get artifact metadata", err)
	}
	defer out.Body.Close()

	var meta BlobMetadata
	if err := json.NewDecoder(out.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode artifact metadata: %w", err)
	}
	return &meta, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: []types.ObjectIdentifier{
				{Key: aws.String(s.contentKey(id))},
				{Key: aws.String(s.metadataKey(id))},
			},
			Quiet: aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *S3BlobStore) mapErr(op string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return ErrBlobNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
