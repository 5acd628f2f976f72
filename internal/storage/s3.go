package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/maauso/media-ingest-api/internal/storage/objectid"
)

// Compile-time check that S3Uploader implements Uploader.
var _ Uploader = (*S3Uploader)(nil)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
	// Prober measures video duration, which S3 does not report. Optional.
	Prober DurationProber
}

// DurationProber measures the length in seconds of media held in memory.
type DurationProber interface {
	Duration(ctx context.Context, data []byte) (float64, error)
}

// S3Uploader stores uploads as objects in an S3 bucket. S3 performs no
// transformation, so profile options are kept as object metadata.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prober DurationProber
}

// NewS3Uploader creates a new S3Uploader instance.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prober: cfg.Prober,
	}, nil
}

// Upload puts data under <folder>/<generated id> and returns the key as the public id.
func (s *S3Uploader) Upload(ctx context.Context, data []byte, profile Profile) (Descriptor, error) {
	if s.bucket == "" {
		return Descriptor{}, ErrNotConfigured
	}

	key := path.Join(profile.Folder, objectid.Generate())

	metadata := map[string]string{}
	if profile.ResourceType != "" {
		metadata["resource-type"] = profile.ResourceType
	}
	if profile.Quality != "" {
		metadata["quality"] = profile.Quality
	}
	if profile.Format != "" {
		metadata["format"] = profile.Format
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(http.DetectContentType(data)),
		Metadata:      metadata,
	})
	if err != nil {
		return Descriptor{}, fmt.Errorf("upload to S3: %w", err)
	}

	desc := Descriptor{
		PublicID: key,
		Bytes:    int64(len(data)),
	}
	if profile.ResourceType == "video" && s.prober != nil {
		// An unmeasurable video is still stored; its duration stays unknown.
		if d, err := s.prober.Duration(ctx, data); err == nil {
			desc.Duration = &d
		}
	}
	return desc, nil
}

// Destroy deletes the object stored under publicID.
func (s *S3Uploader) Destroy(ctx context.Context, publicID string, _ Profile) error {
	if s.bucket == "" {
		return ErrNotConfigured
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(publicID),
	})
	if err != nil {
		return fmt.Errorf("%w: delete from S3: %w", ErrDestroyFailed, err)
	}
	return nil
}
