package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PartitionFailure is one partition that contributed no records.
type PartitionFailure struct {
	Key    string `json:"key"`
	Offset int    `json:"offset"`
	Error  string `json:"error"`
}

// RunSummary reports the outcome of a fetch run.
type RunSummary struct {
	RunID     string             `json:"run_id"`
	Date      string             `json:"date"`
	Attempted int                `json:"attempted"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Truncated int                `json:"truncated"`
	Records   int                `json:"records"`
	Unique    int                `json:"unique"`
	Duration  time.Duration      `json:"duration"`
	Failures  []PartitionFailure `json:"failures,omitempty"`
}

// TransformSummary reports the outcome of a transform run.
type TransformSummary struct {
	Date     string        `json:"date"`
	Records  int           `json:"records"`
	Offers   int           `json:"offers"`
	Rows     int           `json:"rows"`
	Skipped  int           `json:"skipped"`
	Partial  int           `json:"partial"`
	Duration time.Duration `json:"duration"`
}

// SummaryStore keeps the last summary of each date for operators.
type SummaryStore interface {
	SaveRun(ctx context.Context, s *RunSummary) error
}

// RedisSummaryStore writes run summaries to a hash per date.
type RedisSummaryStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSummaryStore creates a store writing keys "<prefix>:<date>".
func NewRedisSummaryStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSummaryStore {
	if prefix == "" {
		prefix = "offers:runs"
	}
	return &RedisSummaryStore{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the hash key for date.
func (s *RedisSummaryStore) Key(date string) string {
	return s.prefix + ":" + date
}

// SaveRun implements SummaryStore.
func (s *RedisSummaryStore) SaveRun(ctx context.Context, sum *RunSummary) error {
	key := s.Key(sum.Date)
	failed := make([]string, len(sum.Failures))
	for i, f := range sum.Failures {
		failed[i] = f.Key
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		"run_id":      sum.RunID,
		"attempted":   strconv.Itoa(sum.Attempted),
		"succeeded":   strconv.Itoa(sum.Succeeded),
		"failed":      strconv.Itoa(sum.Failed),
		"truncated":   strconv.Itoa(sum.Truncated),
		"records":     strconv.Itoa(sum.Records),
		"unique":      strconv.Itoa(sum.Unique),
		"duration_ms": strconv.FormatInt(sum.Duration.Milliseconds(), 10),
		"failed_keys": strings.Join(failed, ","),
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run summary %s: %w", key, err)
	}
	return nil
}

func (s *RunSummary) log(logger zerolog.Logger) {
	ev := logger.Info()
	if s.Failed > 0 {
		ev = logger.Warn()
	}
	ev.Str("run_id", s.RunID).
		Str("date", s.Date).
		Int("attempted", s.Attempted).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("truncated", s.Truncated).
		Int("records", s.Records).
		Int("unique", s.Unique).
		Dur("duration", s.Duration).
		Msg("Fetch run complete")

	for _, f := range s.Failures {
		logger.Warn().
			Str("run_id", s.RunID).
			Str("partition", f.Key).
			Int("offset", f.Offset).
			Str("error", f.Error).
			Msg("Partition failed")
	}
}
