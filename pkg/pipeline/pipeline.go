// Package pipeline sequences a daily ingestion: every partition is scanned
// into one bronze snapshot, and a snapshot is transformed into silver tables.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/offer-pipeline/pkg/audit"
	"github.com/Sternrassler/offer-pipeline/pkg/bronze"
	"github.com/Sternrassler/offer-pipeline/pkg/client"
	"github.com/Sternrassler/offer-pipeline/pkg/pagination"
	"github.com/Sternrassler/offer-pipeline/pkg/partition"
	"github.com/Sternrassler/offer-pipeline/pkg/silver"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	partitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_partitions_total",
		Help: "Partitions processed by fetch runs, by result",
	}, []string{"result"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_records_total",
		Help: "Records written, by layer",
	}, []string{"layer"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offers_run_duration_seconds",
		Help:    "Run duration by stage",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"stage"})
)

var (
	// ErrFatal marks errors that abort a run.
	ErrFatal = errors.New("fatal")

	// ErrNoPartitions is returned when no partition of a run succeeded.
	ErrNoPartitions = fmt.Errorf("%w: no partition succeeded", ErrFatal)
)

// ScannerFactory returns the partition scanner for one target date.
type ScannerFactory func(date string) (pagination.PartitionScanner, error)

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	Scanners   ScannerFactory
	Partitions *partition.Set
	Bronze     *bronze.Store
	Silver     silver.Sink
	Summaries  SummaryStore
	Workers    int
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Orchestrator runs fetch and transform stages.
type Orchestrator struct {
	deps Deps
}

// New validates deps and returns an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Bronze == nil {
		return nil, fmt.Errorf("bronze store is required")
	}
	if deps.Workers <= 0 {
		deps.Workers = 1
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{deps: deps}, nil
}

// FetcherScanners builds scanners over fetcher. With loc set, each date's
// search is restricted to offers created on that date in loc.
func FetcherScanners(fetcher *client.Fetcher, cfg pagination.ScanConfig, loc *time.Location, logger zerolog.Logger) ScannerFactory {
	return func(date string) (pagination.PartitionScanner, error) {
		f := fetcher
		if loc != nil {
			params, err := CreationDateParams(date, loc)
			if err != nil {
				return nil, err
			}
			f = fetcher.WithParams(params)
		}
		return pagination.NewScanner(f, cfg, logger), nil
	}
}

// RunFetch scans every partition and writes the bronze snapshot for date.
// Partition failures are reported in the summary. Token grant failures, zero
// successful partitions, cancellation and snapshot write failures are fatal.
func (o *Orchestrator) RunFetch(ctx context.Context, date string) (*RunSummary, error) {
	start := o.deps.Now()
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	if o.deps.Scanners == nil || o.deps.Partitions == nil {
		return nil, fmt.Errorf("scanner factory and partitions are required for fetch")
	}

	runID := uuid.NewString()
	ctx = audit.WithRunID(ctx, runID)
	logger := o.deps.Logger.With().Str("run_id", runID).Str("date", date).Logger()

	scanner, err := o.deps.Scanners(date)
	if err != nil {
		return nil, err
	}

	keys := o.deps.Partitions.Codes()
	summary := &RunSummary{RunID: runID, Date: date, Attempted: len(keys)}

	logger.Info().
		Int("partitions", len(keys)).
		Int("workers", o.deps.Workers).
		Msg("Fetch run started")

	var records []json.RawMessage
	batch := pagination.NewBatchScanner(scanner, pagination.Config{MaxConcurrency: o.deps.Workers}, logger)
	scanErr := batch.ScanAll(ctx, keys, func(r pagination.PartitionResult) {
		if r.Err != nil {
			summary.Failed++
			partitionsTotal.WithLabelValues("failed").Inc()
			failure := PartitionFailure{Key: r.Key, Error: r.Err.Error()}
			var pErr *pagination.PartitionError
			if errors.As(r.Err, &pErr) {
				failure.Offset = pErr.Offset
				failure.Error = pErr.Err.Error()
			}
			summary.Failures = append(summary.Failures, failure)
			return
		}
		summary.Succeeded++
		partitionsTotal.WithLabelValues("succeeded").Inc()
		if r.Result.Truncated {
			summary.Truncated++
		}
		records = append(records, r.Result.Records...)
	})

	sort.Slice(summary.Failures, func(i, j int) bool { return summary.Failures[i].Key < summary.Failures[j].Key })
	summary.Records = len(records)
	summary.Duration = o.deps.Now().Sub(start)

	if scanErr != nil {
		logger.Error().Err(scanErr).Int("succeeded", summary.Succeeded).Msg("Fetch run aborted")
		return summary, fmt.Errorf("%w: %w", ErrFatal, scanErr)
	}
	if summary.Succeeded == 0 {
		summary.log(logger)
		return summary, ErrNoPartitions
	}

	unique, _ := bronze.Dedup(records)
	summary.Unique = len(unique)

	snap := &bronze.Snapshot{
		Date:      date,
		RunID:     runID,
		FetchedAt: o.deps.Now().UTC(),
		Records:   unique,
	}
	if err := o.deps.Bronze.Write(ctx, snap); err != nil {
		return summary, fmt.Errorf("%w: write bronze snapshot: %w", ErrFatal, err)
	}
	recordsTotal.WithLabelValues("bronze").Add(float64(summary.Unique))

	summary.Duration = o.deps.Now().Sub(start)
	runDuration.WithLabelValues("fetch").Observe(summary.Duration.Seconds())
	summary.log(logger)

	if o.deps.Summaries != nil {
		if err := o.deps.Summaries.SaveRun(ctx, summary); err != nil {
			logger.Warn().Err(err).Msg("Failed to store run summary")
		}
	}

	return summary, nil
}

// RunTransform reads the bronze snapshot of date, transforms it and replaces
// the silver tables of date.
func (o *Orchestrator) RunTransform(ctx context.Context, date string) (*TransformSummary, error) {
	start := o.deps.Now()
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	if o.deps.Silver == nil {
		return nil, fmt.Errorf("silver sink is required for transform")
	}
	logger := o.deps.Logger.With().Str("date", date).Logger()

	snap, err := o.deps.Bronze.Read(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatal, err)
	}

	tables, err := silver.Transform(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: transform: %w", ErrFatal, err)
	}
	skipped, partial := 0, 0
	for _, s := range tables.Skipped {
		if s.Relation != "" {
			partial++
			logger.Warn().
				Int("index", s.Index).
				Str("offer_id", s.ID).
				Str("relation", s.Relation).
				Str("reason", s.Reason).
				Msg("Relation skipped")
			continue
		}
		skipped++
		logger.Warn().
			Int("index", s.Index).
			Str("offer_id", s.ID).
			Str("reason", s.Reason).
			Msg("Record skipped")
	}

	if err := o.deps.Silver.Replace(ctx, date, tables); err != nil {
		return nil, fmt.Errorf("%w: write silver tables: %w", ErrFatal, err)
	}
	recordsTotal.WithLabelValues("silver").Add(float64(len(tables.Offers)))

	summary := &TransformSummary{
		Date:     date,
		Records:  len(snap.Records),
		Offers:   len(tables.Offers),
		Rows:     tables.RowCount(),
		Skipped:  skipped,
		Partial:  partial,
		Duration: o.deps.Now().Sub(start),
	}
	runDuration.WithLabelValues("transform").Observe(summary.Duration.Seconds())

	logger.Info().
		Int("records", summary.Records).
		Int("offers", summary.Offers).
		Int("rows", summary.Rows).
		Int("skipped", summary.Skipped).
		Int("partial", summary.Partial).
		Dur("duration", summary.Duration).
		Msg("Transform run complete")

	return summary, nil
}

// Run fetches date and then transforms it.
func (o *Orchestrator) Run(ctx context.Context, date string) (*RunSummary, *TransformSummary, error) {
	fetched, err := o.RunFetch(ctx, date)
	if err != nil {
		return fetched, nil, err
	}
	transformed, err := o.RunTransform(ctx, date)
	return fetched, transformed, err
}
