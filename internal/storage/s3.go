package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/xerrors"
)

const s3Scheme = "s3://"

type s3Storage struct {
	client *s3.Client
	config S3Config
}

type S3Config struct {
	Bucket string
}

func NewS3Storage(ctx context.Context, s S3Config) (Storage, error) {
	c, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to load AWS config: %w", err)
	}

	s3EndpointURL, hasEndpoint := os.LookupEnv("S3_ENDPOINT_URL")
	s3Client := s3.NewFromConfig(c, func(o *s3.Options) {
		o.UsePathStyle = true
		if hasEndpoint {
			o.BaseEndpoint = aws.String(s3EndpointURL)
		}
	})

	return &s3Storage{
		client: s3Client,
		config: s,
	}, nil
}

func (s *s3Storage) Put(ctx context.Context, key string, data []byte) (string, error) {
	contentType := http.DetectContentType(data)

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}); err != nil {
		return "", xerrors.Errorf("failed to upload to S3: %w", err)
	}

	return fmt.Sprintf("%s%s/%s", s3Scheme, s.config.Bucket, key), nil
}

func (s *s3Storage) Get(ctx context.Context, url string) ([]byte, error) {
	bucket, key, err := ParseS3URL(url, s.config.Bucket)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	var buffer bytes.Buffer
	_, err = buffer.ReadFrom(result.Body)
	if err != nil {
		return nil, xerrors.Errorf("failed to read S3 object: %w", err)
	}

	return buffer.Bytes(), nil
}

// IsS3URL reports whether url uses the s3:// scheme.
func IsS3URL(url string) bool {
	return strings.HasPrefix(url, s3Scheme)
}

// ParseS3URL splits s3://bucket/key. A bare key resolves against
// defaultBucket.
func ParseS3URL(url string, defaultBucket string) (string, string, error) {
	if !IsS3URL(url) {
		if defaultBucket == "" || url == "" {
			return "", "", xerrors.Errorf("no bucket for key %q", url)
		}
		return defaultBucket, url, nil
	}

	bucket, key, ok := strings.Cut(strings.TrimPrefix(url, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", xerrors.Errorf("invalid S3 URL %q", url)
	}
	return bucket, key, nil
}
