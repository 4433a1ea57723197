package document

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bububa/nutrition-agents/components"
)

// S3Client is the subset of the s3 client used to fetch objects
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads s3://bucket/key objects
type S3 struct {
	client S3Client
}

var _ Fetcher = (*S3)(nil)

// NewS3 wraps an s3 client
func NewS3(client S3Client) *S3 {
	return &S3{client: client}
}

// NewS3FromRegion builds a client from the default aws credential chain
func NewS3FromRegion(ctx context.Context, region string) (*S3, error) {
	opts := make([]func(*awsconfig.LoadOptions) error, 0, 1)
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewS3(s3.NewFromConfig(cfg)), nil
}

// Schemes implements Fetcher
func (s *S3) Schemes() []string {
	return []string{"s3"}
}

// Fetch implements Fetcher
func (s *S3) Fetch(ctx context.Context, u *url.URL, limit int64) (*Blob, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, &components.InputError{Field: "uri", Reason: "s3 uri needs bucket and key"}
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &components.InputError{Field: "uri", Reason: "object not found", Err: err}
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer resp.Body.Close()
	if resp.ContentLength != nil && *resp.ContentLength > limit {
		return nil, ErrTooLarge
	}
	bs, err := readLimited(resp.Body, limit)
	if err != nil {
		return nil, err
	}
	return &Blob{
		Data: bs,
		MIME: aws.ToString(resp.ContentType),
		Meta: map[string]string{
			"source": "s3",
			"bucket": bucket,
			"key":    key,
		},
	}, nil
}
