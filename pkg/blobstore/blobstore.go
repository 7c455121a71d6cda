// Package blobstore defines the capability interface boot images, egg
// bundles, and cloud-init artifacts are read from and written through,
// plus a local-filesystem reference implementation for tests and
// single-node deployments. Production backends (S3/MinIO/GCS/Azure) are
// external and out of scope here; anything satisfying Store is a drop-in
// replacement.
package blobstore

import (
	"io"
	"time"
)

// Method is the HTTP method a presigned URL is valid for.
type Method string

const (
	MethodGET Method = "GET"
	MethodPUT Method = "PUT"
)

// ObjectMeta describes a stored object without its content.
type ObjectMeta struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// Store is the capability interface every backend implements. Objects
// are addressed by (backend_id, bucket, key); the backend_id is the
// Store instance itself, selected by whatever wires it up.
type Store interface {
	// CreateBucket ensures bucket exists, creating it if necessary.
	CreateBucket(bucket string) error

	// Put writes data to bucket/key, overwriting any existing object.
	Put(bucket, key string, data io.Reader) error

	// Get opens bucket/key for reading. Callers must close the reader.
	Get(bucket, key string) (io.ReadCloser, error)

	// Head returns metadata for bucket/key without its content.
	Head(bucket, key string) (*ObjectMeta, error)

	// List returns metadata for every object in bucket whose key has
	// the given prefix.
	List(bucket, prefix string) ([]*ObjectMeta, error)

	// Delete removes bucket/key. Deleting an absent object is not an
	// error.
	Delete(bucket, key string) error

	// Presign returns a time-limited URL valid for method against
	// bucket/key, and the instant it expires.
	Presign(bucket, key string, method Method, ttl time.Duration) (url string, expiresAt time.Time, err error)
}
