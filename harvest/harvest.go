package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"estate_harvester/models"
	"estate_harvester/storage"
)

const logSource = "harvest"

// TransactionSearcher returns the raw transaction-search payload for one
// unit.
type TransactionSearcher interface {
	SearchTransactions(ctx context.Context, cuntcode, estateURL string) ([]byte, error)
}

// Checkpoint persists the index of the next unit row to harvest.
type Checkpoint interface {
	Load() (int, bool, error)
	Save(index int) error
}

// Ledger records runs and their log lines. Optional.
type Ledger interface {
	CreateRun(run *models.HarvestRun) error
	UpdateRun(run *models.HarvestRun) error
	LastRun(table string) (*models.HarvestRun, error)
	Log(runID *string, level models.LogLevel, message, source string) error
}

// Rotator moves the outbound address, letting the next attempt start
// without waiting out the rate limit. Optional.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// Result describes one harvesting attempt. Rate limiting is reported here
// rather than as an error.
type Result struct {
	RunID       string
	Start       int
	Next        int
	Requests    int
	Records     int
	BatchPath   string
	RateLimited bool
	Done        bool
}

type Harvester struct {
	searcher   TransactionSearcher
	checkpoint Checkpoint
	ledger     Ledger
	limiter    *rate.Limiter
	rotator    Rotator
	recordsDir string
	logger     *zap.Logger
}

// New builds a harvester. rps <= 0 disables pacing; ledger may be nil.
func New(searcher TransactionSearcher, checkpoint Checkpoint, ledger Ledger, recordsDir string, rps float64, logger *zap.Logger) *Harvester {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Harvester{
		searcher:   searcher,
		checkpoint: checkpoint,
		ledger:     ledger,
		limiter:    rate.NewLimiter(limit, 1),
		recordsDir: recordsDir,
		logger:     logger,
	}
}

func (h *Harvester) SetRotator(r Rotator) {
	h.rotator = r
}

// Harvest requests transactions for units from the checkpoint onward and
// writes what it collected to one batch file. table identifies the unit
// table in the ledger.
func (h *Harvester) Harvest(ctx context.Context, table string, units []models.Unit) (*Result, error) {
	if len(units) == 0 {
		return &Result{Done: true}, nil
	}
	final := len(units) - 1

	start, ok, err := h.checkpoint.Load()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		start = 0
	}
	if start < 0 {
		return nil, fmt.Errorf("checkpoint %d is negative", start)
	}

	res := &Result{Start: start, Next: start}
	if start > final {
		h.logger.Warn("checkpoint is past the end of the unit table",
			zap.Int("checkpoint", start), zap.Int("rows", len(units)))
		res.Done = true
		return res, nil
	}
	if start == final && h.finished(table, final) {
		res.Done = true
		return res, nil
	}

	run := &models.HarvestRun{
		ID:         uuid.New().String(),
		Table:      table,
		StartIndex: start,
		NextIndex:  start,
		Status:     models.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	res.RunID = run.ID
	if h.ledger != nil {
		if err := h.ledger.CreateRun(run); err != nil {
			h.logger.Warn("failed to record run", zap.Error(err))
		}
	}
	h.log(run.ID, models.LogLevelInfo, fmt.Sprintf("harvesting rows %d-%d of %s", start, final, table))

	var batch []json.RawMessage
	for i := start; i <= final; i++ {
		unit := units[i]
		if !unit.HasCuntcode() {
			h.logger.Debug("skipping unit without cuntcode", zap.Int("row", i))
			continue
		}

		if err := h.limiter.Wait(ctx); err != nil {
			return h.interrupt(run, res, batch, i, err)
		}

		body, err := h.searcher.SearchTransactions(ctx, unit.Cuntcode, unit.URL)
		res.Requests++
		if err != nil {
			return h.interrupt(run, res, batch, i, err)
		}

		records, limited, err := ParsePayload(body)
		if err != nil {
			err = fmt.Errorf("row %d (%s): %w", i, unit.Cuntcode, err)
			h.finish(run, models.RunStatusFailed, err)
			return res, err
		}
		if limited {
			h.log(run.ID, models.LogLevelWarn, fmt.Sprintf("rate limited at row %d", i))
			if err := h.flush(run, res, batch, i); err != nil {
				h.finish(run, models.RunStatusFailed, err)
				return res, err
			}
			res.RateLimited = true
			h.finish(run, models.RunStatusRateLimited, nil)
			return res, nil
		}

		h.logger.Debug("unit harvested",
			zap.Int("row", i), zap.String("cuntcode", unit.Cuntcode), zap.Int("records", len(records)))
		batch = append(batch, records...)
	}

	if err := h.flush(run, res, batch, final); err != nil {
		h.finish(run, models.RunStatusFailed, err)
		return res, err
	}
	res.Done = true
	h.log(run.ID, models.LogLevelInfo, fmt.Sprintf("table complete, %d records in this batch", res.Records))
	h.finish(run, models.RunStatusCompleted, nil)
	return res, nil
}

// RunUntilDone repeats Harvest, waiting delay after every rate-limited
// attempt, until the table is finished or ctx is cancelled. With a rotator
// set, a successful rotation replaces the wait.
func (h *Harvester) RunUntilDone(ctx context.Context, table string, units []models.Unit, delay time.Duration) (*Result, error) {
	for {
		res, err := h.Harvest(ctx, table, units)
		if err != nil || res.Done {
			return res, err
		}

		if h.rotator != nil {
			err := h.rotator.Rotate(ctx)
			if err == nil {
				h.log(res.RunID, models.LogLevelInfo, fmt.Sprintf("exit rotated, resuming at row %d", res.Next))
				continue
			}
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			h.logger.Warn("exit rotation failed, waiting instead", zap.Error(err))
		}

		h.logger.Info("harvest paused",
			zap.Int("next", res.Next), zap.Int("rows", len(units)), zap.Duration("retry_in", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, ctx.Err()
		case <-timer.C:
		}
	}
}

// ParsePayload splits a transaction-search response into its records. An
// "error" key means the API limit was hit.
func ParsePayload(body []byte) (records []json.RawMessage, rateLimited bool, err error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", models.ErrUnexpectedShape, err)
	}
	if _, ok := payload["error"]; ok {
		return nil, true, nil
	}

	data := bytes.TrimSpace(payload["data"])
	if len(data) == 0 || data[0] != '[' {
		return nil, false, fmt.Errorf("%w: data is not a list", models.ErrUnexpectedShape)
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("%w: %v", models.ErrUnexpectedShape, err)
	}
	return records, false, nil
}

// finished reports whether the ledger saw a completed run that already
// covered the final row.
func (h *Harvester) finished(table string, final int) bool {
	if h.ledger == nil {
		return false
	}
	last, err := h.ledger.LastRun(table)
	if err != nil {
		h.logger.Warn("failed to read last run", zap.Error(err))
		return false
	}
	return last != nil && last.Status == models.RunStatusCompleted && last.NextIndex == final
}

// interrupt keeps the rows gathered before a transport failure or
// cancellation, checkpoints the row that was not finished and returns err.
func (h *Harvester) interrupt(run *models.HarvestRun, res *Result, batch []json.RawMessage, row int, cause error) (*Result, error) {
	if err := h.flush(run, res, batch, row); err != nil {
		cause = errors.Join(cause, err)
	}
	cause = fmt.Errorf("row %d: %w", row, cause)
	h.finish(run, models.RunStatusFailed, cause)
	return res, cause
}

// flush writes the batch, then moves the checkpoint to next.
func (h *Harvester) flush(run *models.HarvestRun, res *Result, batch []json.RawMessage, next int) error {
	path, err := storage.WriteBatch(h.recordsDir, res.Start, run.ID, batch)
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if err := h.checkpoint.Save(next); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	res.Next = next
	res.Records = len(batch)
	res.BatchPath = path
	run.NextIndex = next
	run.Records = len(batch)
	run.BatchPath = path
	if path != "" {
		h.log(run.ID, models.LogLevelInfo, fmt.Sprintf("wrote %d records to %s", len(batch), path))
	}
	return nil
}

func (h *Harvester) finish(run *models.HarvestRun, status models.RunStatus, err error) {
	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	if err != nil {
		run.Error = err.Error()
		h.log(run.ID, models.LogLevelError, err.Error())
	}
	if h.ledger != nil {
		if err := h.ledger.UpdateRun(run); err != nil {
			h.logger.Warn("failed to update run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
}

func (h *Harvester) log(runID string, level models.LogLevel, message string) {
	switch level {
	case models.LogLevelError:
		h.logger.Error(message, zap.String("run_id", runID))
	case models.LogLevelWarn:
		h.logger.Warn(message, zap.String("run_id", runID))
	default:
		h.logger.Info(message, zap.String("run_id", runID))
	}
	if h.ledger != nil {
		if err := h.ledger.Log(&runID, level, message, logSource); err != nil {
			h.logger.Warn("failed to write ledger log", zap.String("run_id", runID), zap.Error(err))
		}
	}
}
