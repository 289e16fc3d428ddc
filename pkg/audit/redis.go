package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultStream is the Redis stream that receives audit entries.
const DefaultStream = "offers:audit"

// DefaultMaxLen caps the stream length (approximate trimming).
const DefaultMaxLen = 1_000_000

// RedisSink appends entries to a Redis stream with XADD.
type RedisSink struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisSink creates a sink writing to stream (DefaultStream when empty).
func NewRedisSink(client *redis.Client, stream string, logger zerolog.Logger) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{
		client:  client,
		stream:  stream,
		maxLen:  DefaultMaxLen,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Record implements Recorder. Failures are logged and counted only.
func (s *RedisSink) Record(ctx context.Context, e Entry) {
	e = stamp(ctx, e)

	// Detached from ctx so a cancelled run still records its last calls.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err := s.client.XAdd(wctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: Fields(e),
	}).Err()
	if err != nil {
		auditErrorsTotal.WithLabelValues("redis").Inc()
		s.logger.Warn().Err(err).Str("stream", s.stream).Msg("Failed to append audit entry")
	}
}

// Fields flattens an entry into stream field/value pairs.
func Fields(e Entry) map[string]any {
	f := map[string]any{
		"ts":        e.Timestamp.Format(time.RFC3339Nano),
		"run_id":    e.RunID,
		"partition": e.Partition,
		"offset":    strconv.Itoa(e.Offset),
		"limit":     strconv.Itoa(e.Limit),
		"attempt":   strconv.Itoa(e.Attempt),
		"status":    strconv.Itoa(e.Status),
		"returned":  strconv.Itoa(e.Returned),
		"total":     strconv.Itoa(e.Total),
		"duration":  strconv.FormatInt(e.Duration.Milliseconds(), 10),
	}
	if e.Error != "" {
		f["error"] = e.Error
	}
	return f
}

// Stream returns the stream name.
func (s *RedisSink) Stream() string {
	return s.stream
}
