package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	minPresignTTL = time.Second
	maxPresignTTL = 7 * 24 * time.Hour
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioGateway stores objects in MinIO or any S3-compatible service.
type MinioGateway struct {
	client *minio.Client
	cfg    MinioConfig
	logger *slog.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

func NewMinioGateway(cfg MinioConfig, logger *slog.Logger) (*MinioGateway, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioGateway{client: client, cfg: cfg, logger: logger, ensured: make(map[string]bool)}, nil
}

func (g *MinioGateway) DefaultBucket() string { return g.cfg.Bucket }

// ensureBucket creates bucket once per process. A failed attempt is not
// remembered, so the next call tries again.
func (g *MinioGateway) ensureBucket(ctx context.Context, bucket string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ensured[bucket] {
		return nil
	}

	exists, err := g.client.BucketExists(ctx, bucket)
	if err != nil {
		return g.wrap("ensure bucket", Ref{Bucket: bucket}, err)
	}
	if !exists {
		err := g.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: g.cfg.Region})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			return g.wrap("make bucket", Ref{Bucket: bucket}, err)
		}
		if g.logger != nil {
			g.logger.Info("created bucket", "bucket", bucket)
		}
	}
	g.ensured[bucket] = true
	return nil
}

func (g *MinioGateway) Fetch(ctx context.Context, ref Ref, localPath string) error {
	key, err := CleanKey(ref.Key)
	if err != nil {
		return err
	}
	ref = Ref{Bucket: resolveBucket(ref, g.cfg.Bucket), Key: key}

	if err := g.client.FGetObject(ctx, ref.Bucket, ref.Key, localPath, minio.GetObjectOptions{}); err != nil {
		return g.wrap("fetch", ref, err)
	}
	return nil
}

func (g *MinioGateway) Publish(ctx context.Context, localPath string, ref Ref) error {
	key, err := CleanKey(ref.Key)
	if err != nil {
		return err
	}
	ref = Ref{Bucket: resolveBucket(ref, g.cfg.Bucket), Key: key}

	if err := g.ensureBucket(ctx, ref.Bucket); err != nil {
		return err
	}
	info, err := g.client.FPutObject(ctx, ref.Bucket, ref.Key, localPath, minio.PutObjectOptions{ContentType: ContentType(key)})
	if err != nil {
		return g.wrap("publish", ref, err)
	}
	if g.logger != nil {
		g.logger.Debug("object published", "bucket", ref.Bucket, "key", ref.Key, "size", info.Size)
	}
	return nil
}

func (g *MinioGateway) PresignedReadURL(ctx context.Context, ref Ref, ttl time.Duration) (string, error) {
	key, err := CleanKey(ref.Key)
	if err != nil {
		return "", err
	}
	ref = Ref{Bucket: resolveBucket(ref, g.cfg.Bucket), Key: key}

	u, err := g.client.PresignedGetObject(ctx, ref.Bucket, ref.Key, clampTTL(ttl), url.Values{})
	if err != nil {
		return "", g.wrap("presign", ref, err)
	}
	return u.String(), nil
}

func (g *MinioGateway) Delete(ctx context.Context, ref Ref) error {
	key, err := CleanKey(ref.Key)
	if err != nil {
		return err
	}
	ref = Ref{Bucket: resolveBucket(ref, g.cfg.Bucket), Key: key}

	if err := g.client.RemoveObject(ctx, ref.Bucket, ref.Key, minio.RemoveObjectOptions{}); err != nil {
		return g.wrap("delete", ref, err)
	}
	return nil
}

func (g *MinioGateway) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if bucket == "" {
		bucket = g.cfg.Bucket
	}
	// Returning early must stop the listing goroutine feeding the channel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []ObjectInfo
	for obj := range g.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, g.wrap("list", Ref{Bucket: bucket, Key: prefix}, obj.Err)
		}
		out = append(out, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
		})
	}
	return out, nil
}

// wrap maps a minio error to ErrNotFound or a TransportError.
func (g *MinioGateway) wrap(op string, ref Ref, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Op: op, Ref: ref, Err: err}
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchObject":
		return fmt.Errorf("%s %s: %w", op, ref, ErrNotFound)
	}
	return &TransportError{Op: op, Ref: ref, Err: err, Retryable: retryable(resp, err)}
}

func retryable(resp minio.ErrorResponse, err error) bool {
	switch resp.Code {
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "XMinioServerNotInitialized":
		return true
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minPresignTTL {
		return minPresignTTL
	}
	if ttl > maxPresignTTL {
		return maxPresignTTL
	}
	return ttl
}
