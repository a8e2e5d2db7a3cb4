package storage

import (
	"context"
)

const (
	BucketInputs  = "inputs"
	BucketResults = "results"
)

// Buckets lists the two logical buckets the dispatch engine uses.
var Buckets = []string{BucketInputs, BucketResults}

// BlobStore holds job input and result payloads, addressed by (bucket, key).
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	// Get returns common.ErrBlobNotFound when no object exists under the key.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	// List returns every key in a bucket, used by purge.
	List(ctx context.Context, bucket string) ([]string, error)
	// Ping verifies the backing store is reachable, used by the health
	// endpoint.
	Ping(ctx context.Context) error
}
