package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const noteContentType = "text/plain; charset=utf-8"

// s3API is the minimal S3 interface required by S3Store.
// Defined here for testability.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes artifacts to a bucket and returns their virtual-hosted URLs.
type S3Store struct {
	api        s3API
	bucket     string
	region     string
	publicRead bool
}

type S3Option func(*S3Store)

// WithPublicRead sets the public-read canned ACL on every object.
func WithPublicRead(enabled bool) S3Option {
	return func(s *S3Store) {
		s.publicRead = enabled
	}
}

// WithRegion puts the region into returned object URLs.
func WithRegion(region string) S3Option {
	return func(s *S3Store) {
		s.region = strings.TrimSpace(region)
	}
}

func NewS3Store(api s3API, bucket string, opts ...S3Option) (*S3Store, error) {
	if api == nil {
		return nil, errors.New("storage: s3 api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket must not be empty")
	}
	s := &S3Store{api: api, bucket: bucket}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *S3Store) PutBlob(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if err := s.put(ctx, key, body, contentType); err != nil {
		return "", fmt.Errorf("storage: PutBlob: %w", err)
	}
	return s.objectURL(key), nil
}

func (s *S3Store) PutNote(ctx context.Context, key, text string) (string, error) {
	if err := s.put(ctx, key, []byte(text), noteContentType); err != nil {
		return "", fmt.Errorf("storage: PutNote: %w", err)
	}
	return s.objectURL(key), nil
}

func (s *S3Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	}
	if s.publicRead {
		in.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) objectURL(key string) string {
	host := s.bucket + ".s3.amazonaws.com"
	if s.region != "" {
		host = s.bucket + ".s3." + s.region + ".amazonaws.com"
	}
	u := url.URL{Scheme: "https", Host: host, Path: "/" + key}
	return u.String()
}
