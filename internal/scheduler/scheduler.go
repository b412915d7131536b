package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// Ingester runs one processor batch.
type Ingester interface {
	Ingest(ctx context.Context) (*models.BatchSummary, error)
}

// Monitor runs one monitor cycle.
type Monitor interface {
	RunCycle(ctx context.Context) (*models.CycleResult, error)
}

// Scheduler runs ingestion and monitoring on independent cron schedules. Each
// stage is guarded so it never overlaps itself and a panic is recovered.
type Scheduler struct {
	cron     *cron.Cron
	cfg      config.SchedulingConfig
	ingester Ingester
	monitor  Monitor
	logger   *zap.Logger

	ingestJob  cron.Job
	monitorJob cron.Job

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler evaluating cron expressions in loc.
func NewScheduler(cfg config.SchedulingConfig, loc *time.Location, ingester Ingester, monitor Monitor, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{logger: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithLogger(cl)),
		cfg:      cfg,
		ingester: ingester,
		monitor:  monitor,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	// Recover sits inside SkipIfStillRunning so a panicking run still hands
	// the guard back to the next one.
	s.ingestJob = cron.NewChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)).Then(cron.FuncJob(s.runIngest))
	s.monitorJob = cron.NewChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)).Then(cron.FuncJob(s.runMonitor))
	return s
}

// Start registers both stages and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddJob(s.cfg.IngestCron, s.ingestJob); err != nil {
		return fmt.Errorf("schedule ingestion %q: %w", s.cfg.IngestCron, err)
	}
	if _, err := s.cron.AddJob(s.cfg.MonitorCron, s.monitorJob); err != nil {
		return fmt.Errorf("schedule monitoring %q: %w", s.cfg.MonitorCron, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("ingest_cron", s.cfg.IngestCron),
		zap.String("monitor_cron", s.cfg.MonitorCron),
		zap.String("timezone", s.cron.Location().String()),
	)
	return nil
}

// TriggerIngest runs an ingestion outside the schedule, for example after the
// source file changed. It is skipped if an ingestion is already running.
func (s *Scheduler) TriggerIngest() {
	go s.ingestJob.Run()
}

// Stop stops scheduling, cancels running stages and waits for them up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("stopping scheduler")
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) runIngest() {
	ctx, cancel := s.stageContext(s.cfg.IngestTimeout)
	defer cancel()

	summary, err := s.ingester.Ingest(ctx)
	if err != nil {
		s.logger.Error("scheduled ingestion failed",
			zap.Bool("retryable", models.IsRetryable(err)),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("scheduled ingestion finished",
		zap.String("batch_id", summary.BatchID),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("rejected", summary.Rejected),
	)
}

func (s *Scheduler) runMonitor() {
	ctx, cancel := s.stageContext(s.cfg.MonitorTimeout)
	defer cancel()

	result, err := s.monitor.RunCycle(ctx)
	if err != nil {
		s.logger.Error("scheduled monitor cycle failed", zap.Error(err))
		return
	}
	s.logger.Debug("scheduled monitor cycle finished", zap.Int("alerts", len(result.Alerts)))
}

func (s *Scheduler) stageContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(s.ctx)
	}
	return context.WithTimeout(s.ctx, timeout)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
