// Package storage uploads extracted video frames and LoRA training bundles
// to S3 and hands back presigned GET URLs that the generation APIs can fetch.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// presignExpiry is how long uploaded object URLs stay fetchable. Generation
// jobs can sit in provider queues for a long time, so this is generous.
const presignExpiry = 7 * 24 * time.Hour

// FrameStore uploads files to one S3 bucket and presigns GET URLs for them.
type FrameStore struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
}

// NewFrameStore creates a FrameStore against bucket using the default AWS
// credential chain.
func NewFrameStore(ctx context.Context, bucket string) (*FrameStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &FrameStore{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        bucket,
	}, nil
}

// NewFrameStoreFromClient wires an existing S3 client, used by tests.
func NewFrameStoreFromClient(client *s3.Client, bucket string) *FrameStore {
	return &FrameStore{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        bucket,
	}
}

// contentTypeFor maps a filename to a Content-Type for upload.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".zip":
		return "application/zip"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// Upload puts the file at path into the bucket under a prefix/uuid key and
// returns a presigned GET URL. Keys embed a fresh UUID so repeated uploads
// of the same file always yield distinct URLs.
func (fs *FrameStore) Upload(ctx context.Context, path, prefix string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	key := fmt.Sprintf("%s/%s%s", prefix, uuid.NewString(), filepath.Ext(path))
	contentType := contentTypeFor(path)

	log.Debug().
		Str("bucket", fs.bucket).
		Str("key", key).
		Str("path", path).
		Msg("Uploading file to S3")

	_, err = fs.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(fs.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", path, err)
	}

	url, err := fs.PresignedURL(ctx, key)
	if err != nil {
		return "", err
	}

	log.Info().Str("key", key).Msg("File uploaded to S3")
	return url, nil
}

// UploadFrame uploads an extracted video frame.
func (fs *FrameStore) UploadFrame(ctx context.Context, path string) (string, error) {
	return fs.Upload(ctx, path, "frames")
}

// UploadTrainingBundle uploads a LoRA training zip.
func (fs *FrameStore) UploadTrainingBundle(ctx context.Context, path string) (string, error) {
	return fs.Upload(ctx, path, "training")
}

// PresignedURL creates a presigned GET URL for an object already in the
// bucket.
func (fs *FrameStore) PresignedURL(ctx context.Context, key string) (string, error) {
	result, err := fs.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = presignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}
