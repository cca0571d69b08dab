//go:build gcp

package merkle

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/parapet-labs/parapet/pkg/canonicalize"
)

// GCSPublisher writes anchors to a Google Cloud Storage bucket.
type GCSPublisher struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSPublisher builds a publisher using application default
// credentials.
func NewGCSPublisher(ctx context.Context, bucket, prefix string) (*GCSPublisher, error) {
	if bucket == "" {
		return nil, fmt.Errorf("anchor bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSPublisher{client: client, bucket: bucket, prefix: prefix}, nil
}

func (p *GCSPublisher) Publish(ctx context.Context, anchor Anchor) (string, error) {
	body, err := canonicalize.JCS(anchor)
	if err != nil {
		return "", fmt.Errorf("canonicalize anchor: %w", err)
	}
	object := p.prefix + strings.TrimPrefix(anchor.MerkleRoot, "sha256:") + ".anchor.json"

	w := p.client.Bucket(p.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return "gs://" + p.bucket + "/" + object, nil
}
