package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"estate_harvester/storage"
)

// attachSinks connects the optional Postgres and S3 outputs configured in
// the environment. The returned func releases them.
func attachSinks(ctx context.Context) (*storage.S3Uploader, func(), error) {
	var pg *storage.PostgresStore
	var uploader *storage.S3Uploader

	if cfg.Postgres.URL != "" {
		var err error
		pg, err = storage.NewPostgresStore(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("summary sink enabled", zap.String("table", "transaction_summary"))
	}

	if cfg.S3.Enabled() {
		var err error
		uploader, err = storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			if pg != nil {
				pg.Close()
			}
			return nil, nil, fmt.Errorf("set up s3: %w", err)
		}
		logger.Info("s3 publishing enabled", zap.String("bucket", cfg.S3.Bucket), zap.String("prefix", cfg.S3.Prefix))
	}

	orchestrator.SetSinks(pg, uploader)
	return uploader, func() {
		if pg != nil {
			pg.Close()
		}
	}, nil
}
