// Package export publishes rendered videos to an S3-compatible object store.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/jonathan/reel-forge/internal/fault"
)

// Object is one file to publish.
type Object struct {
	// Key is relative to the configured prefix.
	Key string
	// SourceURI is an http(s) URL, a file:// URL or a local path.
	SourceURI   string
	ContentType string
	Metadata    map[string]string
}

// Receipt describes a published object.
type Receipt struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
	URL    string
	// Existing is set when the object was already present and nothing was uploaded.
	Existing bool
}

// objectStore is the part of *minio.Client the publisher uses.
type objectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Publisher uploads objects under a bucket and prefix.
type Publisher struct {
	store      objectStore
	bucket     string
	prefix     string
	publicBase string
	http       *http.Client
}

// NewPublisher builds a Publisher backed by MinIO's client.
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := newMinIOClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return newPublisher(client, cfg, nil), nil
}

func newPublisher(store objectStore, cfg Config, hc *http.Client) *Publisher {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Publisher{
		store:      store,
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		http:       hc,
	}
}

// Publish uploads obj unless an object with the same key already exists, so
// publishing the same release twice is a no-op.
func (p *Publisher) Publish(ctx context.Context, obj Object) (*Receipt, error) {
	if obj.Key == "" || obj.SourceURI == "" {
		return nil, fault.Validationf("export object needs a key and a source")
	}
	key := p.objectKey(obj.Key)

	info, err := p.store.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return &Receipt{Bucket: p.bucket, Key: key, ETag: info.ETag, Size: info.Size, URL: p.url(key), Existing: true}, nil
	}
	if !isNotFound(err) {
		return nil, classify(fmt.Errorf("stat %s: %w", key, err))
	}

	body, size, contentType, err := p.open(ctx, obj.SourceURI)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	if obj.ContentType != "" {
		contentType = obj.ContentType
	}

	up, err := p.store.PutObject(ctx, p.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: obj.Metadata,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("upload %s: %w", key, err))
	}
	return &Receipt{Bucket: p.bucket, Key: key, ETag: up.ETag, Size: up.Size, URL: p.url(key)}, nil
}

func (p *Publisher) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

func (p *Publisher) url(key string) string {
	if p.publicBase == "" {
		return fmt.Sprintf("s3://%s/%s", p.bucket, key)
	}
	return p.publicBase + "/" + key
}

// open returns a reader over the source. size is -1 when unknown.
func (p *Publisher) open(ctx context.Context, uri string) (io.ReadCloser, int64, string, error) {
	u, err := url.Parse(uri)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, 0, "", fault.Fatal(fmt.Errorf("build download request: %w", err))
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return nil, 0, "", fmt.Errorf("download %s: %w", uri, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, 0, "", fault.Wrap(fault.FromStatus(resp.StatusCode),
				fmt.Errorf("download %s: HTTP %d", uri, resp.StatusCode))
		}
		size := resp.ContentLength
		if size < 0 {
			size = -1
		}
		return resp.Body, size, resp.Header.Get("Content-Type"), nil
	}

	filePath := uri
	if err == nil && u.Scheme == "file" {
		filePath = u.Path
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, 0, "", fault.Fatal(fmt.Errorf("open export source: %w", err))
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, "", fault.Fatal(fmt.Errorf("stat export source: %w", err))
	}
	return f, st.Size(), contentTypeFor(filePath), nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// classify maps object store responses onto fault kinds. Errors without an
// HTTP status stay unmarked and classify as transient.
func classify(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode != 0 {
		return fault.Wrap(fault.FromStatus(resp.StatusCode), err)
	}
	return err
}
