package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/catalog-media/pkg/config"
	"github.com/angelmondragon/catalog-media/pkg/logger"
)

const (
	pingTimeout   = 5 * time.Second
	publicHost    = "https://storage.googleapis.com"
	immutableFor  = "public, max-age=31536000, immutable"
	maxUploadRead = 64 << 20
)

// Client stores variant objects in the assets bucket and reads raw uploads
// from the intake bucket.
type Client struct {
	raw           *storage.Client
	assetsBucket  string
	uploadsBucket string
	publicBase    string
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Upload is a raw intake object with its custom metadata.
type Upload struct {
	Bucket     string
	Name       string
	Generation int64
	Data       []byte
	Metadata   map[string]string
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger, extra ...option.ClientOption) (*Client, error) {
	if cfg.AssetsBucket == "" {
		return nil, errors.New("gcs assets bucket is required")
	}

	opts := make([]option.ClientOption, 0, len(extra)+1)
	switch {
	case gcp.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case gcp.ApplicationCredentials != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	opts = append(opts, extra...)

	raw, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = publicHost + "/" + cfg.AssetsBucket
	}

	client := &Client{
		raw:           raw,
		assetsBucket:  cfg.AssetsBucket,
		uploadsBucket: cfg.UploadsBucket,
		publicBase:    base,
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.AssetsBucket), "gcs client initialized")
	}
	return client, nil
}

// Ping checks the assets bucket is reachable with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.raw == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.raw.Bucket(c.assetsBucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket check failed: %w", err)
	}
	return nil
}

// Put writes data under key in the assets bucket. Keys are unique per blob,
// so objects are served with an immutable cache policy.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := c.raw.Bucket(c.assetsBucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = immutableFor
	w.SendCRC32C = false
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", key, err)
	}
	return nil
}

// Delete removes key. A missing object is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.raw.Bucket(c.assetsBucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.raw.Bucket(c.assetsBucket).Object(key).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
}

// URL is the public location of key.
func (c *Client) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.publicBase + "/" + strings.Join(parts, "/")
}

// IsTransient reports whether err is worth retrying: throttling, server
// errors, and timeouts.
func (c *Client) IsTransient(err error) bool {
	return IsTransient(err)
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests ||
			apiErr.Code == http.StatusRequestTimeout ||
			apiErr.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// ReadUpload downloads an intake object along with its metadata. bucket
// defaults to the configured uploads bucket.
func (c *Client) ReadUpload(ctx context.Context, bucket, name string) (*Upload, error) {
	if bucket == "" {
		bucket = c.uploadsBucket
	}
	if bucket == "" {
		return nil, errors.New("gcs uploads bucket is required")
	}
	obj := c.raw.Bucket(bucket).Object(name)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("stat upload %s/%s: %w", bucket, name, err)
	}
	if attrs.Size > maxUploadRead {
		return nil, fmt.Errorf("upload %s/%s is %d bytes", bucket, name, attrs.Size)
	}

	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open upload %s/%s: %w", bucket, name, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload %s/%s: %w", bucket, name, err)
	}
	return &Upload{
		Bucket:     bucket,
		Name:       name,
		Generation: attrs.Generation,
		Data:       data,
		Metadata:   attrs.Metadata,
	}, nil
}

func (c *Client) AssetsBucket() string {
	if c == nil {
		return ""
	}
	return c.assetsBucket
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
