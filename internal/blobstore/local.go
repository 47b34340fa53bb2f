package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("invalid blob signature")
	ErrSignatureExpired = errors.New("blob link expired")
)

// LocalGateway keeps objects under root/<bucket>/<key>. Read URLs point at
// the service's own /blobs/ route and carry an HMAC over bucket, key and
// expiry.
type LocalGateway struct {
	root    string
	bucket  string
	baseURL string
	secret  []byte
	logger  *slog.Logger
	now     func() time.Time
}

func NewLocalGateway(root, bucket, baseURL string, secret []byte, logger *slog.Logger) (*LocalGateway, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("local blob store needs a signing secret")
	}
	if bucket == "" {
		return nil, fmt.Errorf("local blob store needs a default bucket")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalGateway{
		root:    root,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (g *LocalGateway) DefaultBucket() string { return g.bucket }

func (g *LocalGateway) objectPath(ref Ref) (Ref, string, error) {
	key, err := CleanKey(ref.Key)
	if err != nil {
		return ref, "", err
	}
	bucket := resolveBucket(ref, g.bucket)
	if bucket != path.Base(bucket) || bucket == "." || bucket == ".." {
		return ref, "", fmt.Errorf("%w: bucket %q", ErrInvalidKey, bucket)
	}
	ref = Ref{Bucket: bucket, Key: key}
	return ref, filepath.Join(g.root, bucket, filepath.FromSlash(key)), nil
}

func (g *LocalGateway) Fetch(ctx context.Context, ref Ref, localPath string) error {
	ref, src, err := g.objectPath(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "fetch", Ref: ref, Err: err}
	}

	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fetch %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return &TransportError{Op: "fetch", Ref: ref, Err: err}
	}
	defer in.Close()

	if err := copyAtomic(in, localPath); err != nil {
		return &TransportError{Op: "fetch", Ref: ref, Err: err}
	}
	return nil
}

func (g *LocalGateway) Publish(ctx context.Context, localPath string, ref Ref) error {
	ref, dst, err := g.objectPath(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "publish", Ref: ref, Err: err}
	}

	in, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "publish", Ref: ref, Err: err}
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &TransportError{Op: "publish", Ref: ref, Err: err}
	}
	if err := copyAtomic(in, dst); err != nil {
		return &TransportError{Op: "publish", Ref: ref, Err: err}
	}
	if g.logger != nil {
		g.logger.Debug("object published", "bucket", ref.Bucket, "key", ref.Key)
	}
	return nil
}

func (g *LocalGateway) PresignedReadURL(ctx context.Context, ref Ref, ttl time.Duration) (string, error) {
	ref, _, err := g.objectPath(ref)
	if err != nil {
		return "", err
	}
	expires := g.now().Add(clampTTL(ttl)).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", g.sign(ref, expires))
	return g.baseURL + "/blobs/" + escapePath(ref.Bucket) + "/" + escapePath(ref.Key) + "?" + q.Encode(), nil
}

func (g *LocalGateway) Delete(ctx context.Context, ref Ref) error {
	ref, p, err := g.objectPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &TransportError{Op: "delete", Ref: ref, Err: err}
	}
	return nil
}

func (g *LocalGateway) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if bucket == "" {
		bucket = g.bucket
	}
	base := filepath.Join(g.root, bucket)
	var out []ObjectInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".part") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, &TransportError{Op: "list", Ref: Ref{Bucket: bucket, Key: prefix}, Err: err}
	}
	return out, nil
}

// Open verifies a signed link and opens the object it names.
func (g *LocalGateway) Open(bucket, key, expires, sig string) (*os.File, error) {
	ref, p, err := g.objectPath(Ref{Bucket: bucket, Key: key})
	if err != nil {
		return nil, err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	want := g.sign(ref, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return nil, ErrSignatureInvalid
	}
	if g.now().Unix() > exp {
		return nil, ErrSignatureExpired
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (g *LocalGateway) sign(ref Ref, expires int64) string {
	mac := hmac.New(sha256.New, g.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", ref.Bucket, ref.Key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// copyAtomic writes r to dst through a sibling temp file so readers never
// observe a partial object.
func copyAtomic(r io.Reader, dst string) error {
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
