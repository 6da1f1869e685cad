package storage

import (
	"context"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
)

type local struct {
	bucket *blob.Bucket
}

func NewLocal(ctx context.Context, path string) (Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, "file://"+path)

	if err != nil {
		return nil, err
	}

	return &local{bucket: bucket}, nil
}

func (l *local) Get(ctx context.Context, key string) (data []byte, err error) {
	return l.bucket.ReadAll(ctx, key)
}
