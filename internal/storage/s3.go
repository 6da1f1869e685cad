package storage

import (
	"context"

	"github.com/aws/aws-sdk-go/aws/session"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"
)

type s3 struct {
	bucket *blob.Bucket
}

// NewS3 opens an S3 bucket using the default AWS credential and region
// chain (environment, shared config, instance profile).
func NewS3(ctx context.Context, bucketName string) (Bucket, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})

	if err != nil {
		return nil, err
	}

	bucket, err := s3blob.OpenBucket(ctx, sess, bucketName, nil)

	if err != nil {
		return nil, err
	}

	return &s3{bucket: bucket}, nil
}

func (s *s3) Get(ctx context.Context, key string) (data []byte, err error) {
	return s.bucket.ReadAll(ctx, key)
}
