package audit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts []*s3.PutObjectInput
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, params)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_Archive(t *testing.T) {
	client := &fakeS3{}
	archiver := NewS3Archiver(client, "audit-archive", "schedules-covers")

	batchEnd := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{ID: 2, Timestamp: batchEnd, Action: ActionDecisionAllow, TenantID: "tenant-1"},
		{ID: 1, Timestamp: batchEnd.Add(-time.Hour), Action: ActionGrantCreate, TenantID: "tenant-1"},
	}

	key, err := archiver.Archive(context.Background(), batchEnd, entries)
	require.NoError(t, err)
	assert.Equal(t, "schedules-covers/2026/08/30/audit-2.ndjson", key)

	require.Len(t, client.puts, 1)
	put := client.puts[0]
	assert.Equal(t, "audit-archive", *put.Bucket)
	assert.Equal(t, key, *put.Key)
	assert.Equal(t, "application/x-ndjson", *put.ContentType)

	body, err := io.ReadAll(put.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"action":"decision.allow"`)
	assert.Contains(t, string(body), `"action":"grant.create"`)
}

func TestS3Archiver_DistinctKeysPerBatch(t *testing.T) {
	client := &fakeS3{}
	archiver := NewS3Archiver(client, "audit-archive", "schedules-covers")

	batchEnd := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	first, err := archiver.Archive(context.Background(), batchEnd, []*Entry{
		{ID: 20, Timestamp: batchEnd, Action: ActionDecisionAllow},
		{ID: 19, Timestamp: batchEnd, Action: ActionDecisionAllow},
	})
	require.NoError(t, err)
	second, err := archiver.Archive(context.Background(), batchEnd, []*Entry{
		{ID: 18, Timestamp: batchEnd, Action: ActionDecisionAllow},
	})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	require.Len(t, client.puts, 2)
}

func TestS3Archiver_EmptyBatchSkipsUpload(t *testing.T) {
	client := &fakeS3{}
	archiver := NewS3Archiver(client, "audit-archive", "")

	key, err := archiver.Archive(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, client.puts)
}
