// Package monitoring evaluates recent lab records against the alert tiers and
// hands raised alerts to the archive and the notifier.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// RecordStore reads committed records.
type RecordStore interface {
	ListRecordsSince(ctx context.Context, since time.Time) ([]models.LabRecord, error)
	ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.LabRecord, error)
}

// Archive persists raised alerts.
type Archive interface {
	SaveAlerts(ctx context.Context, alerts []models.Alert) error
}

// Dispatcher delivers alerts to people and systems.
type Dispatcher interface {
	Dispatch(ctx context.Context, alerts []models.Alert) []models.Delivery
}

// Options tune a monitoring Service.
type Options struct {
	WindowDays int
	Thresholds Thresholds
	Location   *time.Location
	// Archive is optional.
	Archive Archive
}

// Service runs monitor cycles.
type Service struct {
	store      RecordStore
	dispatcher Dispatcher
	archive    Archive
	thresholds Thresholds
	windowDays int
	location   *time.Location
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a monitor over store that notifies through dispatcher.
func NewService(store RecordStore, dispatcher Dispatcher, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.WindowDays < 0 {
		opts.WindowDays = 0
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		archive:    opts.Archive,
		thresholds: opts.Thresholds,
		windowDays: opts.WindowDays,
		location:   opts.Location,
		logger:     logger,
		now:        time.Now,
	}
}

// windowStart is the first calendar date of the monitored window.
func (s *Service) windowStart() time.Time {
	y, m, d := s.now().In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -s.windowDays)
}

// Evaluate computes the window metrics and the alerts they raise. An empty
// window raises nothing.
func (s *Service) Evaluate(ctx context.Context) (models.MetricSnapshot, []models.Alert, error) {
	since := s.windowStart()

	records, err := s.store.ListRecordsSince(ctx, since)
	if err != nil {
		return models.MetricSnapshot{WindowStart: since}, nil, fmt.Errorf("load monitoring window: %w", err)
	}

	snapshot := computeSnapshot(records, since, s.thresholds.ExpectedEquipment)
	alerts := classify(snapshot, s.thresholds, s.now().UTC())
	return snapshot, alerts, nil
}

// Summary computes the metric breakdown of the records matching filter. When
// filter names an instrument, only that instrument is expected to report.
func (s *Service) Summary(ctx context.Context, filter models.RecordFilter) (*models.DataSummary, error) {
	records, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load summary records: %w", err)
	}

	expected := s.thresholds.ExpectedEquipment
	if filter.Equipment != "" {
		expected = []models.Equipment{filter.Equipment}
	}

	summary := &models.DataSummary{
		Equipment: filter.Equipment,
		Metrics:   computeSnapshot(records, filter.From, expected),
	}
	if !filter.From.IsZero() {
		summary.StartDate = filter.From.Format(models.DateLayout)
	}
	if !filter.To.IsZero() {
		summary.EndDate = filter.To.Format(models.DateLayout)
	}

	if len(records) > 0 {
		first, last := records[0].Date, records[0].Date
		for _, r := range records[1:] {
			if r.Date.Before(first) {
				first = r.Date
			}
			if r.Date.After(last) {
				last = r.Date
			}
		}
		summary.FirstDate = first.Format(models.DateLayout)
		summary.LastDate = last.Format(models.DateLayout)
		summary.DaysCovered = int(last.Sub(first).Hours()/24) + 1
	}
	return summary, nil
}

// RunCycle evaluates the window, archives and dispatches any alerts. Archive
// and delivery failures are logged and reported in the result; only a failed
// evaluation is returned as an error.
func (s *Service) RunCycle(ctx context.Context) (*models.CycleResult, error) {
	result := &models.CycleResult{StartedAt: s.now().UTC()}

	snapshot, alerts, err := s.Evaluate(ctx)
	result.Snapshot = snapshot
	if err != nil {
		result.Error = err.Error()
		s.logger.Error("monitor cycle failed", zap.Bool("retryable", models.IsRetryable(err)), zap.Error(err))
		return result, err
	}
	result.Alerts = alerts

	if len(alerts) == 0 {
		s.logger.Info("monitor cycle clean",
			zap.Int("records", snapshot.TotalRecords),
			zap.Float64("avg_yield", snapshot.AvgYield),
		)
		return result, nil
	}

	s.logger.Warn("alerts raised",
		zap.Int("count", len(alerts)),
		zap.String("severity", string(alerts[0].Severity)),
		zap.Int("records", snapshot.TotalRecords),
		zap.Float64("avg_yield", snapshot.AvgYield),
		zap.Float64("repeat_rate", snapshot.RepeatRate),
	)

	if s.archive != nil {
		if err := s.archive.SaveAlerts(ctx, alerts); err != nil {
			result.Error = fmt.Sprintf("archive alerts: %v", err)
			s.logger.Warn("alert archive failed", zap.Error(err))
		}
	}

	if s.dispatcher != nil {
		result.Deliveries = s.dispatcher.Dispatch(ctx, alerts)
		var failed []error
		for _, d := range result.Deliveries {
			if !d.Delivered {
				failed = append(failed, fmt.Errorf("%s: %s", d.Channel, d.Error))
			}
		}
		if len(failed) > 0 {
			s.logger.Warn("some alert deliveries failed", zap.Int("failed", len(failed)), zap.Error(errors.Join(failed...)))
		}
	}

	return result, nil
}
