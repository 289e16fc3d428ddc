package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/offer-pipeline/pkg/auth"
	"github.com/Sternrassler/offer-pipeline/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	partitionScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_partition_scans_total",
		Help: "Total partition scans by result (success, failed, truncated)",
	}, []string{"result"})

	partitionRecords = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offers_partition_records",
		Help:    "Records collected per successful partition scan",
		Buckets: []float64{0, 1, 10, 50, 150, 500, 1000, 3150},
	})
)

// DefaultMaxOffset is the highest range start the search endpoint accepts.
const DefaultMaxOffset = 3000

// PageFetcher fetches one window of a partition; implemented by *client.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, key string, w client.Window) (*client.Page, error)
}

// ScanConfig holds scanner configuration
type ScanConfig struct {
	// PageSize is the window limit (at most 150)
	PageSize int
	// MaxOffset is the highest window offset requested; larger partitions are truncated
	MaxOffset int
}

// DefaultScanConfig returns the limits of the public search endpoint
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		PageSize:  client.DefaultPageSize,
		MaxOffset: DefaultMaxOffset,
	}
}

// ScanResult is the outcome of a successful partition scan.
type ScanResult struct {
	Key     string
	Records []json.RawMessage
	Pages   int
	// Total is the count reported by the API, or client.UnknownTotal.
	Total int
	// Truncated is set when the scan stopped at MaxOffset before reaching Total.
	Truncated bool
	Duration  time.Duration
}

// PartitionError reports a failed partition. Records collected before the
// failing window are discarded.
type PartitionError struct {
	Key    string
	Offset int
	Err    error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %s failed at offset %d: %v", e.Key, e.Offset, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the whole run rather than one
// partition. Timeouts of single requests are not fatal; cancellation of the
// run surfaces as client.ErrContextCancelled.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return auth.IsGrantError(err) || errors.Is(err, client.ErrContextCancelled)
}

// Scanner drives a PageFetcher across every window of one partition.
type Scanner struct {
	fetcher PageFetcher
	config  ScanConfig
	logger  zerolog.Logger
}

// NewScanner creates a scanner
func NewScanner(fetcher PageFetcher, config ScanConfig, logger zerolog.Logger) *Scanner {
	if config.PageSize <= 0 || config.PageSize > client.DefaultPageSize {
		config.PageSize = client.DefaultPageSize
	}
	if config.MaxOffset <= 0 {
		config.MaxOffset = DefaultMaxOffset
	}
	return &Scanner{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// Scan fetches all records of the partition key. Partition-level failures are
// returned as *PartitionError; grant failures and cancellation are returned
// as-is (see IsFatal).
func (s *Scanner) Scan(ctx context.Context, key string) (*ScanResult, error) {
	start := time.Now()
	res := &ScanResult{Key: key, Total: client.UnknownTotal}
	offset := 0

	for {
		if offset > s.config.MaxOffset {
			res.Truncated = true
			break
		}

		page, err := s.fetcher.Fetch(ctx, key, client.Window{Offset: offset, Limit: s.config.PageSize})
		if err != nil {
			if IsFatal(err) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", client.ErrContextCancelled, ctx.Err())
			}
			partitionScansTotal.WithLabelValues("failed").Inc()
			return nil, &PartitionError{Key: key, Offset: offset, Err: err}
		}

		res.Pages++
		if page.Total != client.UnknownTotal {
			res.Total = page.Total
		}

		n := len(page.Records)
		if n == 0 {
			break
		}
		res.Records = append(res.Records, page.Records...)
		offset += n

		if res.Total != client.UnknownTotal {
			if offset >= res.Total {
				break
			}
		} else if n < s.config.PageSize {
			break
		}
	}

	res.Duration = time.Since(start)

	result := "success"
	if res.Truncated {
		result = "truncated"
		s.logger.Warn().
			Str("partition", key).
			Int("total", res.Total).
			Int("records", len(res.Records)).
			Msg("Partition truncated at maximum offset")
	}
	partitionScansTotal.WithLabelValues(result).Inc()
	partitionRecords.Observe(float64(len(res.Records)))

	s.logger.Debug().
		Str("partition", key).
		Int("pages", res.Pages).
		Int("records", len(res.Records)).
		Int("total", res.Total).
		Dur("duration", res.Duration).
		Msg("Partition scanned")

	return res, nil
}
