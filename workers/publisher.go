package workers

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"estate_harvester/models"
	"estate_harvester/storage"
)

// Uploader is the subset of S3-compatible storage the publisher needs.
type Uploader interface {
	Key(name string) string
	Exists(ctx context.Context, key string) (bool, error)
	UploadFile(ctx context.Context, key, filePath, contentType string) error
}

// BatchPublisher copies finished batch files to object storage. Batch
// files are immutable, so a file is uploaded at most once.
type BatchPublisher struct {
	recordsDir string
	uploader   Uploader
	logger     *zap.Logger
	logFunc    LogFunc
	triggerCh  chan struct{}

	mu        sync.Mutex
	published map[string]bool
}

func NewBatchPublisher(recordsDir string, uploader Uploader, logger *zap.Logger) *BatchPublisher {
	return &BatchPublisher{
		recordsDir: recordsDir,
		uploader:   uploader,
		logger:     logger,
		logFunc:    NoOpLogger,
		triggerCh:  make(chan struct{}, 1),
		published:  make(map[string]bool),
	}
}

func (p *BatchPublisher) SetLogger(fn LogFunc) {
	p.logFunc = fn
}

// Trigger causes the publisher to run immediately
func (p *BatchPublisher) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// PublishResult counts the outcome of one pass over the records directory.
type PublishResult struct {
	Uploaded int
	Skipped  int
	Failed   int
}

// PublishOnce uploads every batch file not yet in the bucket.
func (p *BatchPublisher) PublishOnce(ctx context.Context) (PublishResult, error) {
	var res PublishResult

	paths, err := storage.ListBatches(p.recordsDir)
	if err != nil {
		return res, fmt.Errorf("list batches: %w", err)
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		name := filepath.Base(path)
		if p.isPublished(name) {
			res.Skipped++
			continue
		}

		key := p.uploader.Key("records/" + name)
		exists, err := p.uploader.Exists(ctx, key)
		if err != nil {
			p.logger.Warn("publisher: head failed", zap.String("key", key), zap.Error(err))
			res.Failed++
			continue
		}
		if !exists {
			if err := p.uploader.UploadFile(ctx, key, path, "application/x-ndjson"); err != nil {
				p.logger.Warn("publisher: upload failed", zap.String("file", name), zap.Error(err))
				p.logFunc(models.LogLevelWarn, "publisher", fmt.Sprintf("upload %s failed: %v", name, err))
				res.Failed++
				continue
			}
			p.logger.Info("publisher: batch uploaded", zap.String("file", name), zap.String("key", key))
			res.Uploaded++
		} else {
			res.Skipped++
		}
		p.markPublished(name)
	}

	if res.Uploaded > 0 || res.Failed > 0 {
		p.logFunc(models.LogLevelInfo, "publisher",
			fmt.Sprintf("published %d batches, %d failed", res.Uploaded, res.Failed))
	}
	return res, nil
}

// Run publishes on every tick and on Trigger until ctx is done.
func (p *BatchPublisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publisher stopping")
			return
		case <-ticker.C:
		case <-p.triggerCh:
		}
		if _, err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("publisher: pass failed", zap.Error(err))
		}
	}
}

func (p *BatchPublisher) isPublished(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[name]
}

func (p *BatchPublisher) markPublished(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[name] = true
}
