package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/pfrederiksen/city-events/internal/config"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/metrics"
	"github.com/pfrederiksen/city-events/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

func (a *app) scheduleCmd() *cobra.Command {
	var (
		metricsAddr string
		runNow      bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured cron jobs and serve Prometheus metrics",
		Long: `Run every job in schedule.jobs on its cron spec until interrupted.
A job scrapes its cities like 'run'. A job still running when its next
tick comes is skipped. Metrics are served on /metrics and liveness on /healthz.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				metricsAddr = a.cfg.Schedule.MetricsAddr
			}
			if len(a.cfg.Schedule.Jobs) == 0 {
				return errors.New("no jobs configured under schedule.jobs")
			}
			return a.schedule(cmd.Context(), metricsAddr, runNow)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /metrics (defaults to schedule.metrics_addr)")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run every job once at startup")

	return cmd
}

func (a *app) schedule(ctx context.Context, metricsAddr string, runNow bool) error {
	m := metrics.New()
	p, err := a.newPipeline(ctx, "", m)
	if err != nil {
		return err
	}

	cl := cronLogger{log: a.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ids := make([]cron.EntryID, 0, len(a.cfg.Schedule.Jobs))
	for _, job := range a.cfg.Schedule.Jobs {
		id, err := c.AddFunc(job.Spec, func() { a.runJob(ctx, p, job) })
		if err != nil {
			return fmt.Errorf("scheduling job %s: %w", job.Name, err)
		}
		ids = append(ids, id)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	c.Start()
	for i, id := range ids {
		job := a.cfg.Schedule.Jobs[i]
		a.log.Info("Job scheduled", logger.Fields{
			"job":    job.Name,
			"spec":   job.Spec,
			"cities": job.Cities,
			"next":   c.Entry(id).Next.Format(time.RFC3339),
		})
	}
	a.log.Info("Scheduler started", logger.Fields{"jobs": len(ids), "metrics_addr": metricsAddr})

	if runNow {
		for _, id := range ids {
			// WrappedJob goes through the chain, so overlapping ticks are still skipped
			go c.Entry(id).WrappedJob.Run()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutting down scheduler", nil)
	case runErr = <-serveErr:
		a.log.Error("Metrics server failed", logger.Fields{"addr": metricsAddr}, runErr)
	}

	stopped := c.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("Metrics server shutdown", nil, err)
	}
	select {
	case <-stopped.Done():
	case <-shutdownCtx.Done():
		a.log.Warn("Jobs still running at shutdown", nil, shutdownCtx.Err())
	}

	if runErr != nil {
		return fmt.Errorf("serving metrics: %w", runErr)
	}
	return nil
}

// runJob scrapes a job's cities and logs a summary
func (a *app) runJob(ctx context.Context, p *pipeline.Pipeline, job config.Job) {
	log := a.log.With(logger.Fields{"job": job.Name})
	log.Info("Job started", logger.Fields{"cities": job.Cities})

	reports, err := p.RunAll(ctx, job.Cities, a.cfg.Schedule.Parallel)
	if err != nil {
		log.Error("Job failed", nil, err)
		return
	}

	var done, newEvents int
	for _, r := range reports {
		if r.State == pipeline.StateDone {
			done++
		}
		newEvents += r.New
	}
	fields := logger.Fields{"cities": len(reports), "done": done, "new": newEvents}
	if done < len(reports) {
		log.Warn("Job finished with incomplete cities", fields, nil)
		return
	}
	log.Info("Job finished", fields)
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

// Info carries cron's scheduling chatter, so it is logged at debug level
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, kvFields(keysAndValues), err)
}

func kvFields(keysAndValues []interface{}) logger.Fields {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make(logger.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
