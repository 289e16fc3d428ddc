package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/offer-pipeline/pkg/logging"
	"github.com/Sternrassler/offer-pipeline/pkg/metrics"
	"github.com/Sternrassler/offer-pipeline/pkg/pipeline"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func (c *cli) scheduleCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run yesterday's fetch and transform on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, stages{fetch: true, transform: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return a.schedule(cmd.Context(), runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "now", false, "also run once immediately")
	return cmd
}

// schedule runs the daily job until ctx is cancelled, serving metrics and
// health on the configured address.
func (a *app) schedule(ctx context.Context, runNow bool) error {
	logger := logging.NewLogger(logging.ComponentScheduler)
	jobs := newDailyJob(a.orch, a.loc, logger)

	sched := cron.New(cron.WithLocation(a.loc))
	if _, err := sched.AddFunc(a.cfg.Schedule.Spec, func() { jobs.run(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule.spec %q: %w", a.cfg.Schedule.Spec, err)
	}

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sched.Start()
	logger.Info().
		Str("spec", a.cfg.Schedule.Spec).
		Str("timezone", a.loc.String()).
		Str("metrics_addr", a.cfg.Metrics.Addr).
		Msg("Scheduler started")

	if runNow {
		jobs.start(ctx)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		err = fmt.Errorf("metrics server: %w", err)
	}

	// Wait for runs in progress; their context is already cancelled.
	<-sched.Stop().Done()
	jobs.wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	logger.Info().Msg("Scheduler stopped")
	return err
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// runner is the part of the orchestrator a daily job needs.
type runner interface {
	Run(ctx context.Context, date string) (*pipeline.RunSummary, *pipeline.TransformSummary, error)
}

// dailyJob runs yesterday's date and skips a tick while a run is in progress.
type dailyJob struct {
	orch    runner
	loc     *time.Location
	logger  zerolog.Logger
	now     func() time.Time
	running chan struct{}
	wg      sync.WaitGroup
}

func newDailyJob(orch runner, loc *time.Location, logger zerolog.Logger) *dailyJob {
	return &dailyJob{
		orch:    orch,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
		running: make(chan struct{}, 1),
	}
}

// start runs the job in the background; wait blocks until it returns.
func (j *dailyJob) start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()
}

func (j *dailyJob) wait() {
	j.wg.Wait()
}

// run returns false when the tick was skipped.
func (j *dailyJob) run(ctx context.Context) bool {
	select {
	case j.running <- struct{}{}:
	default:
		j.logger.Warn().Msg("Previous run still in progress, skipping tick")
		return false
	}
	defer func() { <-j.running }()

	date := pipeline.Yesterday(j.now(), j.loc)
	fetched, transformed, err := j.orch.Run(ctx, date)
	if err != nil {
		j.logger.Error().Err(err).Str("date", date).Msg("Scheduled run failed")
		return true
	}
	j.logger.Info().
		Str("date", date).
		Str("run_id", fetched.RunID).
		Int("failed_partitions", fetched.Failed).
		Int("offers", transformed.Offers).
		Msg("Scheduled run complete")
	return true
}
