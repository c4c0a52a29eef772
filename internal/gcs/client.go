// Package gcs stores snapshot objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/snapshot"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// writeTimeout bounds a single object upload.
const writeTimeout = 2 * time.Minute

// Client is a snapshot.ObjectStore backed by one GCS bucket. It assumes
// Application Default Credentials unless options say otherwise.
type Client struct {
	client *storage.Client
	bucket string
}

// NewClient creates a Client for bucket.
func NewClient(ctx context.Context, bucket string, opts ...option.ClientOption) (*Client, error) {
	if bucket == "" {
		return nil, errors.New("NewClient: bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create storage client: %w", err)
	}
	return &Client{client: client, bucket: bucket}, nil
}

// Close closes the underlying storage client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Write uploads data as a JSON object with the given custom metadata.
func (c *Client) Write(ctx context.Context, name string, data []byte, metadata map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	w := c.client.Bucket(c.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = metadata

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", c.bucket, name, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", c.bucket, name, err)
	}
	return nil
}

// Read downloads an object from the client's bucket.
func (c *Client) Read(ctx context.Context, name string) ([]byte, error) {
	return c.readObject(ctx, c.bucket, name)
}

func (c *Client) readObject(ctx context.Context, bucket, name string) ([]byte, error) {
	rc, err := c.client.Bucket(bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", bucket, name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, name, err)
	}
	return data, nil
}

// List returns the attributes of every object under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]snapshot.ObjectInfo, error) {
	it := c.client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var out []snapshot.ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", c.bucket, prefix, err)
		}
		out = append(out, snapshot.ObjectInfo{
			Name:     attrs.Name,
			Metadata: attrs.Metadata,
			Created:  attrs.Created,
			Size:     attrs.Size,
		})
	}
	return out, nil
}

// FetchURI downloads the object addressed by a gs://bucket/path URI, which
// may live in a different bucket than the client's own.
func (c *Client) FetchURI(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return c.readObject(ctx, bucket, object)
}

// ParseURI splits "gs://bucket/path/to/file.json" into bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Filename returns the last path element of a GCS URI.
// e.g., "gs://bucket/exports/ledger.json" → "ledger.json"
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// Ensure Client implements snapshot.ObjectStore.
var _ snapshot.ObjectStore = (*Client)(nil)
