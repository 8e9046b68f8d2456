package condense

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"estate_harvester/models"
	"estate_harvester/storage"
)

// SummarySink receives the condensed rows after the CSV is written.
type SummarySink interface {
	ReplaceSummary(ctx context.Context, rows [][]string) error
}

// Uploader publishes the summary file. Optional.
type Uploader interface {
	Key(name string) string
	UploadFile(ctx context.Context, key, filePath, contentType string) error
}

type Result struct {
	Files int
	Rows  int
	Path  string
}

type Condenser struct {
	recordsDir string
	outPath    string
	sink       SummarySink
	uploader   Uploader
	logger     *zap.Logger
}

func New(recordsDir, outPath string, logger *zap.Logger) *Condenser {
	return &Condenser{recordsDir: recordsDir, outPath: outPath, logger: logger}
}

func (c *Condenser) WithSink(sink SummarySink) *Condenser {
	c.sink = sink
	return c
}

func (c *Condenser) WithUploader(u Uploader) *Condenser {
	c.uploader = u
	return c
}

// Rows projects every record of every batch file onto the summary columns,
// in batch order.
func Rows(recordsDir string) ([][]string, int, error) {
	paths, err := storage.ListBatches(recordsDir)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}

	var rows [][]string
	for _, p := range paths {
		records, err := storage.ReadBatch(p)
		if err != nil {
			return nil, 0, err
		}
		for _, rec := range records {
			rows = append(rows, project(rec))
		}
	}
	return rows, len(paths), nil
}

// Run rewrites the summary CSV from scratch, then feeds the optional sinks.
func (c *Condenser) Run(ctx context.Context) (*Result, error) {
	rows, files, err := Rows(c.recordsDir)
	if err != nil {
		return nil, err
	}

	if err := storage.WriteCSV(c.outPath, models.SummaryHeader(), rows); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	c.logger.Info("summary written",
		zap.String("path", c.outPath), zap.Int("files", files), zap.Int("rows", len(rows)))

	if c.sink != nil {
		if err := c.sink.ReplaceSummary(ctx, rows); err != nil {
			return nil, fmt.Errorf("summary sink: %w", err)
		}
		c.logger.Info("summary loaded into database", zap.Int("rows", len(rows)))
	}

	if c.uploader != nil {
		key := c.uploader.Key("summary_data.csv")
		if err := c.uploader.UploadFile(ctx, key, c.outPath, "text/csv"); err != nil {
			return nil, fmt.Errorf("upload summary: %w", err)
		}
		c.logger.Info("summary uploaded", zap.String("key", key))
	}

	return &Result{Files: files, Rows: len(rows), Path: c.outPath}, nil
}

func project(rec map[string]any) []string {
	row := make([]string, len(models.SummaryColumns))
	for i, col := range models.SummaryColumns {
		row[i] = cell(rec[col.Field])
	}
	return row
}

// cell renders a JSON value. Numbers keep their original text; nested
// values are re-encoded.
func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
