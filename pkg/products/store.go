// Package products lists published velocity pair artifacts in S3.
package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultBucket is the public ITS_LIVE data bucket.
const DefaultBucket = "its-live-data"

// Store implements dedup.ProductStore over an S3 bucket.
type Store struct {
	client   s3.ListObjectsV2APIClient
	bucket   string
	maxPages int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxPages bounds the listing pages read per prefix. Zero means no bound.
func WithMaxPages(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.maxPages = n
		}
	}
}

// NewStore returns a Store reading bucket through client.
func NewStore(client s3.ListObjectsV2APIClient, bucket string, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("products: s3 client is required")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	s := &Store{client: client, bucket: bucket, maxPages: 10}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bucket returns the bucket the store reads.
func (s *Store) Bucket() string { return s.bucket }

// ListByPrefix returns every object key under prefix.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for pages := 0; paginator.HasMorePages(); pages++ {
		if s.maxPages > 0 && pages >= s.maxPages {
			break
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("products: list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
