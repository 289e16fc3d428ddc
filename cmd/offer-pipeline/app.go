package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/offer-pipeline/pkg/audit"
	"github.com/Sternrassler/offer-pipeline/pkg/auth"
	"github.com/Sternrassler/offer-pipeline/pkg/bronze"
	"github.com/Sternrassler/offer-pipeline/pkg/client"
	"github.com/Sternrassler/offer-pipeline/pkg/config"
	"github.com/Sternrassler/offer-pipeline/pkg/logging"
	"github.com/Sternrassler/offer-pipeline/pkg/partition"
	"github.com/Sternrassler/offer-pipeline/pkg/pipeline"
	"github.com/Sternrassler/offer-pipeline/pkg/ratelimit"
	"github.com/Sternrassler/offer-pipeline/pkg/silver"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// summaryTTL bounds how long run summaries stay in Redis.
const summaryTTL = 30 * 24 * time.Hour

// stages selects what an app wires.
type stages struct {
	fetch     bool
	transform bool
}

// app holds the wired pipeline and everything that must be closed after it.
type app struct {
	cfg     *config.Config
	loc     *time.Location
	logger  zerolog.Logger
	orch    *pipeline.Orchestrator
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, s stages) (_ *app, err error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, loc: loc, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, err := bronze.NewStore(cfg.Bronze.Dir, logging.NewLogger(logging.ComponentBronze))
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		Bronze:  store,
		Workers: cfg.Fetch.Workers,
		Logger:  logging.NewLogger(logging.ComponentPipeline),
	}

	var rdb *redis.Client
	if cfg.Audit.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Audit.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid audit.redis_url: %w", err)
		}
		rdb = redis.NewClient(opts)
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		deps.Summaries = pipeline.NewRedisSummaryStore(rdb, "", summaryTTL)
	}

	if s.fetch {
		if err := cfg.ValidateFetch(); err != nil {
			return nil, err
		}
		if deps.Scanners, err = a.wireFetch(rdb); err != nil {
			return nil, err
		}
		if deps.Partitions, err = partition.Load(cfg.Fetch.PartitionsFile); err != nil {
			return nil, err
		}
	}

	if s.transform {
		if deps.Silver, err = a.wireSilver(ctx); err != nil {
			return nil, err
		}
	}

	if a.orch, err = pipeline.New(deps); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) wireFetch(rdb *redis.Client) (pipeline.ScannerFactory, error) {
	cfg := a.cfg

	tokens, err := auth.NewTokenManager(cfg.AuthConfig(), logging.NewLogger(logging.ComponentAuth))
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.NewLimiter(cfg.Fetch.MinInterval, logging.NewLogger(logging.ComponentRateLimit))
	if err != nil {
		return nil, err
	}

	auditLogger := logging.NewLogger(logging.ComponentAudit)
	var sinks audit.Multi
	if cfg.Audit.File != "" {
		f, err := audit.OpenFile(cfg.Audit.File, auditLogger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, f.Close)
		sinks = append(sinks, f)
	}
	if rdb != nil {
		sinks = append(sinks, audit.NewRedisSink(rdb, cfg.Audit.Stream, auditLogger))
	}
	var rec audit.Recorder = audit.Nop{}
	if len(sinks) > 0 {
		rec = sinks
	}

	fetcher, err := client.New(cfg.ClientConfig(), tokens, limiter, rec, logging.NewLogger(logging.ComponentFetcher))
	if err != nil {
		return nil, err
	}

	var loc *time.Location
	if cfg.Fetch.FilterByDate {
		loc = a.loc
	}
	return pipeline.FetcherScanners(fetcher, cfg.ScanConfig(), loc, logging.NewLogger(logging.ComponentScanner)), nil
}

func (a *app) wireSilver(ctx context.Context) (silver.Sink, error) {
	logger := logging.NewLogger(logging.ComponentSilver)
	if a.cfg.Silver.Driver == "csv" {
		return silver.NewCSVSink(a.cfg.Silver.Dir, logger)
	}

	db, err := silver.OpenDB(a.cfg.Silver.Driver, a.cfg.Silver.DSN)
	if err != nil {
		return nil, err
	}
	sink, err := silver.NewSQLSink(db, a.cfg.Silver.Driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.closers = append(a.closers, sink.Close)
	if err := sink.Migrate(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// Close releases everything opened by newApp, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}

// date returns the date argument, or yesterday in the configured time zone.
func (a *app) date(args []string) (string, error) {
	if len(args) == 0 {
		return pipeline.Yesterday(time.Now(), a.loc), nil
	}
	return pipeline.ParseDate(args[0])
}
