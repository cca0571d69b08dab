package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/parapet-labs/parapet/pkg/ledger"
	"github.com/parapet-labs/parapet/pkg/merkle"
)

// runAnchorCmd builds a Merkle anchor over an episode's receipts and
// optionally publishes it to an S3-compatible bucket.
func runAnchorCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("anchor", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptDir string
		episodeID  string
		bucket     string
		region     string
		endpoint   string
		prefix     string
	)
	cmd.StringVar(&receiptDir, "receipts", "", "Path to receipt directory (REQUIRED)")
	cmd.StringVar(&episodeID, "episode", "", "Episode to anchor (REQUIRED)")
	cmd.StringVar(&bucket, "bucket", "", "S3 bucket to publish the anchor to")
	cmd.StringVar(&region, "region", "us-east-1", "AWS region")
	cmd.StringVar(&endpoint, "endpoint", "", "Custom S3 endpoint (MinIO, LocalStack)")
	cmd.StringVar(&prefix, "prefix", "anchors/", "Object key prefix")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if receiptDir == "" || episodeID == "" {
		fmt.Fprintln(stderr, "Error: --receipts and --episode are required")
		return 2
	}

	ctx := context.Background()
	store, err := ledger.OpenFileStore(receiptDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer store.Close()

	receipts, err := store.ListEpisode(ctx, episodeID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(receipts) == 0 {
		fmt.Fprintf(stderr, "Error: episode %s has no receipts\n", episodeID)
		return 1
	}

	anchor, err := merkle.BuildAnchor(receipts, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "episode %s: %d receipts, root %s\n",
		episodeID, anchor.ReceiptCount, anchor.MerkleRoot)

	if bucket == "" {
		return 0
	}
	publisher, err := merkle.NewS3Publisher(ctx, merkle.S3PublisherConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: endpoint,
		Prefix:   prefix,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	location, err := publisher.Publish(ctx, anchor)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "anchor published to %s\n", location)
	return 0
}
