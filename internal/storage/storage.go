// Package storage reads spec inputs (startup scripts, SSH public keys)
// from local paths, GCS or S3 buckets through the gocloud blob API.
package storage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type Bucket interface {
	Get(ctx context.Context, key string) (data []byte, err error)
}

// ReadRef loads the content behind a reference: "gs://bucket/key",
// "s3://bucket/key", or a plain local file path.
func ReadRef(ctx context.Context, ref string) ([]byte, error) {
	scheme, bucketName, key := parseRef(ref)

	var bucket Bucket
	var err error

	switch scheme {
	case "gs":
		bucket, err = NewGCS(ctx, bucketName)
	case "s3":
		bucket, err = NewS3(ctx, bucketName)
	case "file":
		bucket, err = NewLocal(ctx, bucketName)
	default:
		return nil, errors.Errorf("unsupported reference scheme %q in %q", scheme, ref)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "open bucket for %q", ref)
	}

	return bucket.Get(ctx, key)
}

// parseRef splits a reference into scheme, bucket and key. Local paths map
// onto a file bucket rooted at their directory.
func parseRef(ref string) (scheme, bucket, key string) {
	for _, s := range []string{"gs", "s3"} {
		prefix := s + "://"

		if strings.HasPrefix(ref, prefix) {
			rest := strings.TrimPrefix(ref, prefix)
			parts := strings.SplitN(rest, "/", 2)

			if len(parts) == 2 {
				return s, parts[0], parts[1]
			}

			return s, parts[0], ""
		}
	}

	return "file", filepath.Dir(ref), filepath.Base(ref)
}
