package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	billing "rental-cloud/internal/billing/domain"
	metering "rental-cloud/internal/metering/domain"
	"rental-cloud/internal/observability/metrics"
)

// BatchOptions tunes a batch generation run. Zero values fall back to the
// coordinator defaults.
type BatchOptions struct {
	// BatchSize is the number of readings processed per chunk.
	BatchSize int
	// MaxConcurrent bounds in-flight generations across the whole run.
	MaxConcurrent int
	// ChunkDelay is the pause between chunks to ease database pressure.
	ChunkDelay time.Duration
	// SkipExisting pre-filters readings that already have a bill detail.
	SkipExisting bool
	// DryRun validates every reading without writing anything.
	DryRun bool
	// OnProgress, when set, is called after every processed chunk.
	OnProgress func(processed, total int)
}

// BatchError records one failed reading in a batch run.
type BatchError struct {
	ReadingID string
	Message   string
}

// BatchResult aggregates the outcome of a batch generation run.
// Total = Success + Failed + Skipped always holds.
type BatchResult struct {
	Total    int
	Success  int
	Failed   int
	Skipped  int
	Errors   []BatchError
	Duration time.Duration
}

// BatchCoordinator drives bulk utility bill generation over meter readings.
// Readings are processed in chunks; within a chunk, workers acquire a slot
// from a bounded pool and each reading runs in its own transaction so one
// failure never poisons its neighbors.
type BatchCoordinator struct {
	engine   *RuleEngine
	bills    billing.Repository
	readings metering.ReadingRepository
	log      zerolog.Logger
	clock    Clock

	defaultBatchSize     int
	defaultMaxConcurrent int
	defaultChunkDelay    time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// BatchOption configures the coordinator.
type BatchOption func(*BatchCoordinator)

// WithBatchDefaults sets the fallback chunk size, concurrency bound and
// inter-chunk delay used when a run's options leave them zero.
func WithBatchDefaults(batchSize, maxConcurrent int, chunkDelay time.Duration) BatchOption {
	return func(c *BatchCoordinator) {
		if batchSize > 0 {
			c.defaultBatchSize = batchSize
		}
		if maxConcurrent > 0 {
			c.defaultMaxConcurrent = maxConcurrent
		}
		if chunkDelay >= 0 {
			c.defaultChunkDelay = chunkDelay
		}
	}
}

// WithBatchClock overrides the coordinator clock.
func WithBatchClock(clock Clock) BatchOption {
	return func(c *BatchCoordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewBatchCoordinator constructs the batch coordinator.
func NewBatchCoordinator(
	engine *RuleEngine,
	bills billing.Repository,
	readings metering.ReadingRepository,
	log zerolog.Logger,
	opts ...BatchOption,
) (*BatchCoordinator, error) {
	if engine == nil {
		return nil, errors.New("billing batch: nil rule engine")
	}
	if bills == nil || readings == nil {
		return nil, errors.New("billing batch: nil repository")
	}
	c := &BatchCoordinator{
		engine:               engine,
		bills:                bills,
		readings:             readings,
		log:                  log,
		clock:                SystemClock{},
		defaultBatchSize:     20,
		defaultMaxConcurrent: 4,
		defaultChunkDelay:    100 * time.Millisecond,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateUtilityBills processes the given readings in chunks. With
// SkipExisting, readings that are already billed or already carry a bill
// detail are counted as skipped before any chunk runs. A failed chunk does
// not abort the run; its unprocessed readings are recorded as failed and the
// next chunk proceeds.
func (c *BatchCoordinator) GenerateUtilityBills(ctx context.Context, readingIDs []string, opts BatchOptions) (*BatchResult, error) {
	start := c.clock.Now()
	c.applyDefaults(&opts)

	result := &BatchResult{Total: len(readingIDs)}
	pending := readingIDs
	if opts.SkipExisting {
		var err error
		pending, err = c.filterExisting(ctx, readingIDs, result)
		if err != nil {
			return nil, err
		}
	}

	sem := make(chan struct{}, opts.MaxConcurrent)
	var mu sync.Mutex
	processed := result.Skipped

	for chunkStart := 0; chunkStart < len(pending); chunkStart += opts.BatchSize {
		chunkEnd := chunkStart + opts.BatchSize
		if chunkEnd > len(pending) {
			chunkEnd = len(pending)
		}
		chunk := pending[chunkStart:chunkEnd]

		var wg sync.WaitGroup
		for _, readingID := range chunk {
			if err := ctx.Err(); err != nil {
				// Context gone: the rest of this chunk cannot run.
				mu.Lock()
				result.Failed++
				result.Errors = append(result.Errors, BatchError{ReadingID: readingID, Message: err.Error()})
				mu.Unlock()
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(readingID string) {
				defer wg.Done()
				defer func() { <-sem }()
				err := c.processOne(ctx, readingID, opts.DryRun)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
					result.Errors = append(result.Errors, BatchError{ReadingID: readingID, Message: err.Error()})
					metrics.BatchItem(metrics.ResultError)
					return
				}
				result.Success++
				metrics.BatchItem(metrics.ResultSuccess)
			}(readingID)
		}
		wg.Wait()

		processed += len(chunk)
		if opts.OnProgress != nil {
			opts.OnProgress(processed, result.Total)
		}
		if chunkEnd < len(pending) && opts.ChunkDelay > 0 {
			if err := c.sleep(ctx, opts.ChunkDelay); err != nil {
				c.failRemaining(result, pending[chunkEnd:], err)
				break
			}
		}
	}

	result.Duration = c.clock.Now().Sub(start)
	metrics.ObserveBatch(result.Duration)
	c.log.Info().
		Int("total", result.Total).
		Int("success", result.Success).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Bool("dry_run", opts.DryRun).
		Msg("batch bill generation finished")
	return result, nil
}

// GeneratePendingUtilityBills collects unbilled readings created in the
// given window and batches them with SkipExisting enabled. Used by the
// scheduled sweep.
func (c *BatchCoordinator) GeneratePendingUtilityBills(ctx context.Context, from, to time.Time, opts BatchOptions) (*BatchResult, error) {
	readings, err := c.readings.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(readings))
	for _, r := range readings {
		if r.IsBilled || r.Status == metering.ReadingCancelled {
			continue
		}
		ids = append(ids, r.ID)
	}
	opts.SkipExisting = true
	return c.GenerateUtilityBills(ctx, ids, opts)
}

func (c *BatchCoordinator) applyDefaults(opts *BatchOptions) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = c.defaultBatchSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = c.defaultMaxConcurrent
	}
	if opts.ChunkDelay <= 0 {
		opts.ChunkDelay = c.defaultChunkDelay
	}
}

func (c *BatchCoordinator) filterExisting(ctx context.Context, readingIDs []string, result *BatchResult) ([]string, error) {
	pending := make([]string, 0, len(readingIDs))
	for _, id := range readingIDs {
		reading, err := c.readings.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, metering.ErrReadingNotFound) {
				result.Skipped++
				continue
			}
			return nil, err
		}
		if reading.IsBilled {
			result.Skipped++
			continue
		}
		count, err := c.bills.CountDetailsByReading(ctx, id)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			result.Skipped++
			continue
		}
		pending = append(pending, id)
	}
	return pending, nil
}

func (c *BatchCoordinator) processOne(ctx context.Context, readingID string, dryRun bool) error {
	if dryRun {
		return c.engine.ValidateReadingForBilling(ctx, readingID)
	}
	_, err := c.engine.GenerateUtilityBillForReading(ctx, readingID)
	return err
}

func (c *BatchCoordinator) failRemaining(result *BatchResult, readingIDs []string, err error) {
	for _, id := range readingIDs {
		result.Failed++
		result.Errors = append(result.Errors, BatchError{ReadingID: id, Message: err.Error()})
	}
}
