package workers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"estate_harvester/models"
)

type memBucket struct {
	mu      sync.Mutex
	objects map[string]string
	failOn  string
	uploads int
}

func newMemBucket() *memBucket { return &memBucket{objects: make(map[string]string)} }

func (b *memBucket) Key(name string) string { return "prefix/" + name }

func (b *memBucket) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *memBucket) UploadFile(ctx context.Context, key, filePath, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if filepath.Base(filePath) == b.failOn {
		return errors.New("access denied")
	}
	b.objects[key] = filePath
	b.uploads++
	return nil
}

func (b *memBucket) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads
}

func writeBatches(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}\n"), 0644))
	}
}

func TestPublishOnce_UploadsEachBatchOnce(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, "record0.jsonl", "record4.jsonl")
	bucket := newMemBucket()

	var lines []string
	p := NewBatchPublisher(dir, bucket, zap.NewNop())
	p.SetLogger(func(level models.LogLevel, source, message string) { lines = append(lines, message) })

	res, err := p.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Uploaded)
	require.Contains(t, bucket.objects, "prefix/records/record0.jsonl")
	require.Len(t, lines, 1)

	writeBatches(t, dir, "record9.jsonl")
	res, err = p.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, 3, bucket.count())
}

func TestPublishOnce_SkipsObjectsAlreadyInBucket(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, "record0.jsonl")
	bucket := newMemBucket()
	bucket.objects["prefix/records/record0.jsonl"] = "earlier"

	res, err := NewBatchPublisher(dir, bucket, zap.NewNop()).PublishOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Uploaded)
	require.Equal(t, 1, res.Skipped)
}

func TestPublishOnce_RetriesFailedUploads(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, "record0.jsonl", "record4.jsonl")
	bucket := newMemBucket()
	bucket.failOn = "record4.jsonl"
	p := NewBatchPublisher(dir, bucket, zap.NewNop())

	res, err := p.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)
	require.Equal(t, 1, res.Failed)

	bucket.failOn = ""
	res, err = p.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Uploaded)
}

func TestRun_TriggerPublishesImmediately(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, "record0.jsonl")
	bucket := newMemBucket()
	p := NewBatchPublisher(dir, bucket, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, time.Hour)
		close(done)
	}()

	p.Trigger()
	require.Eventually(t, func() bool { return bucket.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
