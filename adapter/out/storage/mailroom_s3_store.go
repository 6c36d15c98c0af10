package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mailroom_server/pkg/apperr"
)

// =============================================================================
// S3Store - S3 blob backend with presigned downloads
// =============================================================================

type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return apperr.BlobUnavailable(key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperr.BlobUnavailable(key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.BlobUnavailable(key, err)
	}
	return data, nil
}

func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration, filename, contentType string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(contentDisposition(filename))
	}
	if contentType != "" {
		input.ResponseContentType = aws.String(contentType)
	}

	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", apperr.BlobUnavailable(key, err)
	}
	return req.URL, nil
}

// contentDisposition renders an attachment disposition with the
// RFC 5987 encoded filename so non-ASCII names survive.
func contentDisposition(filename string) string {
	return fmt.Sprintf(`attachment; filename*=UTF-8''%s`, url.PathEscape(filename))
}
