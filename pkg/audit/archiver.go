package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver persists a batch of entries outside the database before
// retention prunes them
type Archiver interface {
	Archive(ctx context.Context, batchEnd time.Time, entries []*Entry) (string, error)
}

// S3API is the subset of the S3 client the archiver uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes NDJSON batches to an S3 bucket, keyed by batch
// date so archives are browsable by time
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver writing to the given bucket under
// the given key prefix
func NewS3Archiver(client S3API, bucket, prefix string) *S3Archiver {
	if prefix == "" {
		prefix = "audit"
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Archive uploads the batch and returns the object key
func (a *S3Archiver) Archive(ctx context.Context, batchEnd time.Time, entries []*Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	data, err := exportNDJSON(entries)
	if err != nil {
		return "", fmt.Errorf("failed to serialize archive batch: %w", err)
	}

	// The highest entry ID makes the key unique per batch even when
	// one run uploads several batches for the same cutoff
	maxID := entries[0].ID
	for _, entry := range entries[1:] {
		if entry.ID > maxID {
			maxID = entry.ID
		}
	}

	key := fmt.Sprintf("%s/%s/audit-%d.ndjson",
		a.prefix,
		batchEnd.UTC().Format("2006/01/02"),
		maxID,
	)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	return key, nil
}
