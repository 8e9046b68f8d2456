package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"go.uber.org/zap"

	"estate_harvester/condense"
	"estate_harvester/config"
	"estate_harvester/harvest"
	"estate_harvester/httputil"
	"estate_harvester/models"
	"estate_harvester/resolver"
	"estate_harvester/scraper"
	"estate_harvester/storage"
	"estate_harvester/vpn"
)

// ErrEstatesFailed is returned by Resolve when at least one estate could
// not be resolved. The unit tables are still written for the rest.
var ErrEstatesFailed = errors.New("some estates failed to resolve")

// Orchestrator wires the pipeline stages to their stores and runs them.
type Orchestrator struct {
	cfg    *config.Config
	store  *storage.SQLiteStore
	api    *scraper.APIClient
	logger *zap.Logger

	pgStore  *storage.PostgresStore
	uploader *storage.S3Uploader

	// Serializes harvest and condense between the scheduler and manual
	// triggers; only one harvester may touch the checkpoint.
	mu sync.Mutex
}

func NewOrchestrator(cfg *config.Config, store *storage.SQLiteStore, logger *zap.Logger) *Orchestrator {
	clients := httputil.NewClients(cfg.Site, cfg.ProxyURL)
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		api:    scraper.NewAPIClient(cfg.Site, clients.Site),
		logger: logger,
	}
}

// SetSinks attaches the optional condense outputs. Either may be nil.
func (o *Orchestrator) SetSinks(pg *storage.PostgresStore, uploader *storage.S3Uploader) {
	o.pgStore = pg
	o.uploader = uploader
}

// ResolveOptions controls where estate captures come from.
type ResolveOptions struct {
	// RecordDir saves every browser capture for later offline runs.
	RecordDir string
	// ReplayDir reads captures from disk instead of launching a browser.
	ReplayDir string
}

// Resolve turns the estates spreadsheet into the unit tables.
func (o *Orchestrator) Resolve(ctx context.Context, opts ResolveOptions) (*resolver.Result, error) {
	estates, err := storage.ReadEstates(o.cfg.EstatesPath)
	if err != nil {
		return nil, fmt.Errorf("read estates: %w", err)
	}
	o.logger.Info("estates loaded", zap.String("path", o.cfg.EstatesPath), zap.Int("count", len(estates)))

	var extractor resolver.Extractor
	if opts.ReplayDir != "" {
		extractor = &resolver.RecordedExtractor{Dir: opts.ReplayDir}
	} else {
		ex, err := scraper.NewExtractor(o.cfg.Browser, o.cfg.Site, o.logger.Named("browser"))
		if err != nil {
			return nil, err
		}
		extractor = ex
	}

	source := resolver.NewBrowserSource(extractor, o.api, o.logger)
	source.RecordDir = opts.RecordDir

	res := resolver.New(source, o.api, o.logger).ResolveAll(ctx, estates)

	if err := storage.WriteUnits(o.cfg.UnitCodesPath(), res.Units); err != nil {
		return res, fmt.Errorf("write unit codes: %w", err)
	}
	if err := storage.WriteUnits(o.cfg.ManualGatherPath(), res.Missed); err != nil {
		return res, fmt.Errorf("write manual gather: %w", err)
	}

	o.logger.Info("unit tables written",
		zap.Int("units", len(res.Units)),
		zap.Int("missed", len(res.Missed)),
		zap.Int("failed_estates", len(res.Failed)))

	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%w: %d of %d", ErrEstatesFailed, len(res.Failed), len(estates))
	}
	return res, nil
}

// Checkpoint is a harvest checkpoint that can also be reset.
type Checkpoint interface {
	harvest.Checkpoint
	Clear() error
}

// Checkpoint returns the configured checkpoint backend for the unit table.
func (o *Orchestrator) Checkpoint() (Checkpoint, error) {
	switch o.cfg.Harvest.CheckpointBackend {
	case "", "file":
		return storage.NewFileCheckpoint(o.cfg.CheckpointPath()), nil
	case "sqlite":
		return o.store.Checkpoint(o.cfg.UnitCodesPath()), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", o.cfg.Harvest.CheckpointBackend)
	}
}

// Harvest runs the harvester over the unit table. With once set it stops
// after a single attempt instead of waiting out rate limits.
func (o *Orchestrator) Harvest(ctx context.Context, once bool) (*harvest.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.harvest(ctx, once)
}

func (o *Orchestrator) harvest(ctx context.Context, once bool) (*harvest.Result, error) {
	table := o.cfg.UnitCodesPath()
	units, err := storage.ReadUnits(table)
	if err != nil {
		return nil, fmt.Errorf("read unit table: %w", err)
	}

	cp, err := o.Checkpoint()
	if err != nil {
		return nil, err
	}

	h := harvest.New(o.api, cp, o.store, o.cfg.RecordsDir(), o.cfg.Harvest.RequestsPerSecond, o.logger.Named("harvest"))
	if o.cfg.VPN.Rotate {
		h.SetRotator(vpn.NewRotator(o.cfg.VPN, o.logger.Named("vpn")))
	}
	if once {
		return h.Harvest(ctx, table, units)
	}
	return h.RunUntilDone(ctx, table, units, o.cfg.Harvest.RetryDelay)
}

// Condense rebuilds the summary from every batch file.
func (o *Orchestrator) Condense(ctx context.Context) (*condense.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.condense(ctx)
}

func (o *Orchestrator) condense(ctx context.Context) (*condense.Result, error) {
	c := condense.New(o.cfg.RecordsDir(), o.cfg.SummaryPath(), o.logger.Named("condense"))
	if o.pgStore != nil {
		c.WithSink(o.pgStore)
	}
	if o.uploader != nil {
		c.WithUploader(o.uploader)
	}
	return c.Run(ctx)
}

// RunScheduled is one daemon tick: a single harvest attempt followed by a
// condense. A rate-limited attempt is not an error.
func (o *Orchestrator) RunScheduled(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	res, err := o.harvest(ctx, true)
	if err != nil {
		o.record(models.LogLevelError, fmt.Sprintf("scheduled harvest failed: %v", err))
		return err
	}
	if res.RateLimited {
		o.record(models.LogLevelWarn, fmt.Sprintf("scheduled harvest rate limited at row %d", res.Next))
	}

	if _, err := o.condense(ctx); err != nil {
		o.record(models.LogLevelError, fmt.Sprintf("scheduled condense failed: %v", err))
		return err
	}
	return nil
}

// Status summarizes harvesting progress.
type Status struct {
	Table         string
	Rows          int
	Checkpoint    int
	HasCheckpoint bool
	Batches       int
	Runs          []models.HarvestRun
}

func (o *Orchestrator) Status(runLimit int) (*Status, error) {
	st := &Status{Table: o.cfg.UnitCodesPath()}

	units, err := storage.ReadUnits(st.Table)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read unit table: %w", err)
	}
	st.Rows = len(units)

	cp, err := o.Checkpoint()
	if err != nil {
		return nil, err
	}
	if st.Checkpoint, st.HasCheckpoint, err = cp.Load(); err != nil {
		return nil, err
	}

	batches, err := storage.ListBatches(o.cfg.RecordsDir())
	if err != nil {
		return nil, err
	}
	st.Batches = len(batches)

	if st.Runs, err = o.store.RecentRuns(runLimit); err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return st, nil
}

// RunLogs returns the ledger log lines written during one run.
func (o *Orchestrator) RunLogs(runID string) ([]models.HarvestLog, error) {
	logs, err := o.store.RunLogs(runID)
	if err != nil {
		return nil, fmt.Errorf("run logs %s: %w", runID, err)
	}
	return logs, nil
}

// VPNStatus reports the exit tunnel state. ok is false when rotation is off.
func (o *Orchestrator) VPNStatus(ctx context.Context) (status string, ok bool) {
	if !o.cfg.VPN.Rotate {
		return "", false
	}
	status, err := vpn.NewRotator(o.cfg.VPN, o.logger.Named("vpn")).Status(ctx)
	if err != nil {
		return "unavailable: " + err.Error(), true
	}
	return status, true
}

func (o *Orchestrator) record(level models.LogLevel, message string) {
	if err := o.store.Log(nil, level, message, "daemon"); err != nil {
		o.logger.Warn("failed to write ledger log", zap.Error(err))
	}
}
