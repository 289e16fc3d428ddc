package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds batch scanner configuration
type Config struct {
	// MaxConcurrency is the number of partitions scanned in parallel.
	// Throughput is bounded by the shared rate limiter, not by this value.
	MaxConcurrency int
	// ProgressEvery logs progress after this many completed partitions
	ProgressEvery int
}

// DefaultConfig returns the default batch configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		ProgressEvery:  100,
	}
}

// PartitionScanner scans one partition; implemented by *Scanner.
type PartitionScanner interface {
	Scan(ctx context.Context, key string) (*ScanResult, error)
}

// PartitionResult is the outcome of one partition: either Result or Err is set.
type PartitionResult struct {
	Key    string
	Result *ScanResult
	Err    error
}

// BatchScanner scans many partitions through a bounded worker pool.
type BatchScanner struct {
	scanner PartitionScanner
	config  Config
	logger  zerolog.Logger
}

// NewBatchScanner creates a new batch scanner
func NewBatchScanner(scanner PartitionScanner, config Config, logger zerolog.Logger) *BatchScanner {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 100
	}

	return &BatchScanner{
		scanner: scanner,
		config:  config,
		logger:  logger,
	}
}

// ScanAll scans every key and passes each completed partition to emit. emit is
// called from a single goroutine. Partition failures are reported through emit;
// a fatal error (see IsFatal) cancels the remaining work and is returned.
// Partitions in flight at cancellation are dropped.
func (b *BatchScanner) ScanAll(ctx context.Context, keys []string, emit func(PartitionResult)) error {
	start := time.Now()

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatal     error
	)
	setFatal := func(err error) {
		fatalOnce.Do(func() {
			fatal = err
			cancel()
		})
	}

	keyQueue := make(chan string)
	results := make(chan PartitionResult)

	go func() {
		defer close(keyQueue)
		for _, key := range keys {
			select {
			case keyQueue <- key:
			case <-poolCtx.Done():
				return
			}
		}
	}()

	workers := b.config.MaxConcurrency
	if workers > len(keys) {
		workers = len(keys)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go b.worker(poolCtx, keyQueue, results, setFatal, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	completed, failed := 0, 0
	for r := range results {
		completed++
		if r.Err != nil {
			failed++
		}
		emit(r)

		if completed%b.config.ProgressEvery == 0 {
			b.logger.Info().
				Int("completed", completed).
				Int("failed", failed).
				Int("total", len(keys)).
				Float64("progress_pct", float64(completed)/float64(len(keys))*100).
				Msg("Scan progress")
		}
	}

	if fatal != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("scan cancelled after %d/%d partitions: %w", completed, len(keys), ctx.Err())
		}
		return fatal
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan cancelled after %d/%d partitions: %w", completed, len(keys), err)
	}

	b.logger.Info().
		Int("partitions", len(keys)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Scan complete")

	return nil
}

// worker scans partitions from the queue
func (b *BatchScanner) worker(ctx context.Context, keyQueue <-chan string, results chan<- PartitionResult, setFatal func(error), wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	scanned := 0

	for key := range keyQueue {
		if ctx.Err() != nil {
			b.logger.Debug().
				Int("worker_id", workerID).
				Int("partitions_scanned", scanned).
				Msg("Worker stopping (context cancelled)")
			return
		}

		res, err := b.scanner.Scan(ctx, key)
		if err != nil && IsFatal(err) {
			setFatal(err)
			return
		}

		select {
		case results <- PartitionResult{Key: key, Result: res, Err: err}:
		case <-ctx.Done():
			return
		}
		scanned++
	}

	if scanned > 0 {
		b.logger.Debug().
			Int("worker_id", workerID).
			Int("partitions_scanned", scanned).
			Msg("Worker completed")
	}
}
