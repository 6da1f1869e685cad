package storage

import (
	"context"

	"gocloud.dev/blob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcp"
)

type gcs struct {
	bucket *blob.Bucket
}

func NewGCS(ctx context.Context, bucketName string) (Bucket, error) {
	creds, err := gcp.DefaultCredentials(ctx)

	if err != nil {
		return nil, err
	}

	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))

	if err != nil {
		return nil, err
	}

	bucket, err := gcsblob.OpenBucket(ctx, client, bucketName, nil)

	if err != nil {
		return nil, err
	}

	return &gcs{bucket: bucket}, nil
}

func (g *gcs) Get(ctx context.Context, key string) (data []byte, err error) {
	return g.bucket.ReadAll(ctx, key)
}
