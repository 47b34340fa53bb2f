// Package blobstore is the object storage gateway: fetch a remote object to
// a local path, publish a local file under a key, and hand out time-limited
// read URLs.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrTransport  = errors.New("blob store transport failure")
	ErrInvalidKey = errors.New("invalid object key")
)

// Ref addresses one object. An empty Bucket means the gateway's default.
type Ref struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (r Ref) String() string {
	if r.Bucket == "" {
		return r.Key
	}
	return r.Bucket + "/" + r.Key
}

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ContentType  string    `json:"content_type,omitempty"`
}

// Gateway is implemented by every storage backend. Implementations create
// buckets on first use.
type Gateway interface {
	Fetch(ctx context.Context, ref Ref, localPath string) error
	Publish(ctx context.Context, localPath string, ref Ref) error
	PresignedReadURL(ctx context.Context, ref Ref, ttl time.Duration) (string, error)
	Delete(ctx context.Context, ref Ref) error
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	DefaultBucket() string
}

// TransportError wraps a backend failure that is not a missing object.
type TransportError struct {
	Op        string
	Ref       Ref
	Err       error
	Retryable bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsTransient reports whether err is a transport failure worth retrying.
// Missing objects are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// CleanKey normalizes an object key and rejects keys that would escape the
// bucket.
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

func resolveBucket(ref Ref, def string) string {
	if ref.Bucket != "" {
		return ref.Bucket
	}
	return def
}

// The system mime table is not always installed in containers.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// ContentType guesses a media type from an object key or file name.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
