package blobstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultBasePath is where the local backend stores its buckets when no
// override is given.
const DefaultBasePath = "/var/lib/fleetboot/blobstore"

// LocalStore implements Store on the local filesystem, one directory per
// bucket. Presigned URLs are HMAC-signed query strings against BaseURL;
// VerifyPresigned checks them the same way a handler serving BaseURL
// would, so the reference backend is self-contained for tests.
type LocalStore struct {
	basePath string
	baseURL  string
	signKey  []byte
}

// NewLocalStore creates a local backend rooted at basePath, presigning
// URLs against baseURL (e.g. "http://worker.local:8080/blobstore") and
// signed with signKey. An empty basePath falls back to DefaultBasePath.
func NewLocalStore(basePath, baseURL string, signKey []byte) (*LocalStore, error) {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blobstore base directory: %w", err)
	}
	return &LocalStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/"), signKey: signKey}, nil
}

func (s *LocalStore) bucketPath(bucket string) string {
	return filepath.Join(s.basePath, bucket)
}

func (s *LocalStore) objectPath(bucket, key string) string {
	return filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key))
}

// CreateBucket ensures the bucket directory exists.
func (s *LocalStore) CreateBucket(bucket string) error {
	return os.MkdirAll(s.bucketPath(bucket), 0o755)
}

// Put writes data to bucket/key, creating parent directories as needed.
func (s *LocalStore) Put(bucket, key string, data io.Reader) error {
	path := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Get opens bucket/key for reading.
func (s *LocalStore) Get(bucket, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.objectPath(bucket, key))
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Head stats bucket/key without reading its content.
func (s *LocalStore) Head(bucket, key string) (*ObjectMeta, error) {
	info, err := os.Stat(s.objectPath(bucket, key))
	if err != nil {
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	return &ObjectMeta{Bucket: bucket, Key: key, Size: info.Size()}, nil
}

// List walks bucket for every object whose key has the given prefix.
func (s *LocalStore) List(bucket, prefix string) ([]*ObjectMeta, error) {
	root := s.bucketPath(bucket)
	var out []*ObjectMeta

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		out = append(out, &ObjectMeta{Bucket: bucket, Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket: %w", err)
	}
	return out, nil
}

// Delete removes bucket/key. A missing object is not an error.
func (s *LocalStore) Delete(bucket, key string) error {
	err := os.Remove(s.objectPath(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Presign signs a query string against BaseURL good for ttl. VerifyPresigned
// validates the same signature.
func (s *LocalStore) Presign(bucket, key string, method Method, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	sig := s.sign(bucket, key, string(method), expiresAt)

	q := url.Values{}
	q.Set("bucket", bucket)
	q.Set("key", key)
	q.Set("method", string(method))
	q.Set("expires", strconv.FormatInt(expiresAt.Unix(), 10))
	q.Set("sig", sig)

	return s.baseURL + "/" + url.PathEscape(bucket) + "/" + key + "?" + q.Encode(), expiresAt, nil
}

func (s *LocalStore) sign(bucket, key, method string, expiresAt time.Time) string {
	mac := hmac.New(sha256.New, s.signKey)
	_, _ = mac.Write([]byte(bucket))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(key))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(method))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(strconv.FormatInt(expiresAt.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPresigned checks a presigned request's bucket/key/method/sig
// query parameters against the signing key and the current time,
// returning the bucket and key on success.
func (s *LocalStore) VerifyPresigned(query url.Values, method string) (bucket, key string, ok bool) {
	bucket = query.Get("bucket")
	key = query.Get("key")
	expiresStr := query.Get("expires")
	sig := query.Get("sig")

	expiresUnix, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return "", "", false
	}
	expiresAt := time.Unix(expiresUnix, 0)
	if time.Now().After(expiresAt) {
		return "", "", false
	}

	want := s.sign(bucket, key, method, expiresAt)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return "", "", false
	}
	return bucket, key, true
}
