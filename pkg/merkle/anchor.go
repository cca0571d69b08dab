package merkle

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/parapet-labs/parapet/pkg/canonicalize"
	"github.com/parapet-labs/parapet/pkg/contracts"
)

// Anchor is one published batch root.
type Anchor struct {
	MerkleRoot   string    `json:"merkle_root"`
	ReceiptCount int       `json:"receipt_count"`
	EpisodeID    string    `json:"episode_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildAnchor computes the batch root over the given receipts.
func BuildAnchor(receipts []*contracts.Receipt, now time.Time) (Anchor, error) {
	hashes := make([]string, 0, len(receipts))
	episode := ""
	for i, r := range receipts {
		hashes = append(hashes, r.ReceiptHash)
		if i == 0 {
			episode = r.EpisodeID
		} else if episode != r.EpisodeID {
			episode = ""
		}
	}
	root, err := Root(hashes)
	if err != nil {
		return Anchor{}, err
	}
	return Anchor{
		MerkleRoot:   root,
		ReceiptCount: len(receipts),
		EpisodeID:    episode,
		CreatedAt:    now.UTC(),
	}, nil
}

// VerifyAnchor recomputes the batch root over the receipts and compares
// it against the anchor. The receipts must be in the order they were
// anchored; the root is order-sensitive.
func VerifyAnchor(receipts []*contracts.Receipt, anchor Anchor) error {
	if len(receipts) != anchor.ReceiptCount {
		return fmt.Errorf("anchor covers %d receipts, batch has %d", anchor.ReceiptCount, len(receipts))
	}
	recomputed, err := BuildAnchor(receipts, anchor.CreatedAt)
	if err != nil {
		return err
	}
	if recomputed.MerkleRoot != anchor.MerkleRoot {
		return fmt.Errorf("merkle root mismatch: anchor %s, batch %s", anchor.MerkleRoot, recomputed.MerkleRoot)
	}
	return nil
}

// ReceiptPayload is the anchor receipt fragment recorded in the ledger
// alongside external publication.
func (a Anchor) ReceiptPayload() map[string]any {
	return map[string]any{
		"merkle_root":   a.MerkleRoot,
		"receipt_count": a.ReceiptCount,
	}
}

// AnchorPublisher writes an anchor to an external transparency target
// and returns its location.
type AnchorPublisher interface {
	Publish(ctx context.Context, anchor Anchor) (string, error)
}

// s3API is the S3 surface the publisher needs.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher writes anchors to an S3 bucket, one object per batch.
type S3Publisher struct {
	client s3API
	bucket string
	prefix string
}

// S3PublisherConfig configures the S3 anchor target. Endpoint supports
// MinIO and LocalStack.
type S3PublisherConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3Publisher builds a publisher from default AWS config.
func NewS3Publisher(ctx context.Context, cfg S3PublisherConfig) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("anchor bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Publisher{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// NewS3PublisherWithClient wraps an existing client. Used by tests.
func NewS3PublisherWithClient(client s3API, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: prefix}
}

func (p *S3Publisher) Publish(ctx context.Context, anchor Anchor) (string, error) {
	body, err := canonicalize.JCS(anchor)
	if err != nil {
		return "", fmt.Errorf("canonicalize anchor: %w", err)
	}
	key := p.anchorKey(anchor)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("publish anchor: %w", err)
	}
	return "s3://" + p.bucket + "/" + key, nil
}

func (p *S3Publisher) anchorKey(anchor Anchor) string {
	return p.prefix + strings.TrimPrefix(anchor.MerkleRoot, "sha256:") + ".anchor.json"
}
