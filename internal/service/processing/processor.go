// Package processing turns raw source rows into validated lab records and
// persists each pass over a source as one atomic batch.
package processing

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/labpulse/internal/domain/models"
	"github.com/mamadbah2/labpulse/internal/source"
)

// BatchWriter is the transactional write surface of one batch.
type BatchWriter interface {
	UpsertRecord(ctx context.Context, record *models.LabRecord) (bool, error)
	RecomputeDailyStatistics(ctx context.Context, date time.Time) error
	Commit() error
	Rollback() error
}

// Store opens batches.
type Store interface {
	BeginBatch(ctx context.Context) (BatchWriter, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context) (BatchWriter, error)

// BeginBatch calls f.
func (f StoreFunc) BeginBatch(ctx context.Context) (BatchWriter, error) {
	return f(ctx)
}

// Service validates source rows and writes them through the store.
type Service struct {
	store  Store
	reader source.Reader
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a processing service reading from reader.
func NewService(store Store, reader source.Reader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		reader: reader,
		logger: logger,
		now:    time.Now,
	}
}

// Ingest reads the configured source once and processes it as a single batch.
// The returned error is the same value recorded in the summary.
func (s *Service) Ingest(ctx context.Context) (*models.BatchSummary, error) {
	location := s.reader.Location()

	rows, err := s.reader.Rows(ctx)
	if err != nil {
		summary := s.newSummary(location)
		summary.Fail(err)
		summary.FinishedAt = s.now().UTC()
		s.logger.Error("source unavailable, batch skipped",
			zap.String("batch_id", summary.BatchID),
			zap.String("source", location),
			zap.Error(err),
		)
		return summary, err
	}

	return s.ProcessBatch(ctx, location, rows)
}

// ProcessBatch validates every row of rows and upserts the valid ones inside
// one transaction, then refreshes the statistics of each touched date.
// Malformed rows are rejected without aborting; any storage failure or
// source failure rolls the whole batch back.
func (s *Service) ProcessBatch(ctx context.Context, src string, rows iter.Seq2[source.Row, error]) (*models.BatchSummary, error) {
	summary := s.newSummary(src)
	logger := s.logger.With(zap.String("batch_id", summary.BatchID), zap.String("source", src))

	fail := func(err error) (*models.BatchSummary, error) {
		summary.Fail(err)
		summary.FinishedAt = s.now().UTC()
		logger.Error("batch aborted",
			zap.Int("rejected", summary.Rejected),
			zap.Bool("retryable", models.IsRetryable(err)),
			zap.Error(err),
		)
		return summary, err
	}

	batch, err := s.store.BeginBatch(ctx)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if !summary.Committed {
			if rbErr := batch.Rollback(); rbErr != nil {
				logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	touched := make(map[string]time.Time)
	for row, rowErr := range rows {
		if rowErr != nil {
			var malformed *models.MalformedRecordError
			if errors.As(rowErr, &malformed) {
				summary.Reject(malformed)
				logger.Warn("row rejected", zap.Int("row", malformed.Row), zap.String("reason", malformed.Reason))
				continue
			}
			return fail(readError(src, rowErr))
		}

		record, rejection := toRecord(row)
		if rejection != nil {
			summary.Reject(rejection)
			logger.Warn("row rejected",
				zap.Int("row", rejection.Row),
				zap.String("field", rejection.Field),
				zap.String("reason", rejection.Reason),
			)
			continue
		}

		inserted, err := batch.UpsertRecord(ctx, record)
		if err != nil {
			return fail(err)
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
		touched[record.Date.Format(models.DateLayout)] = record.Date
	}

	dates := make([]string, 0, len(touched))
	for day := range touched {
		dates = append(dates, day)
	}
	sort.Strings(dates)

	for _, day := range dates {
		if err := batch.RecomputeDailyStatistics(ctx, touched[day]); err != nil {
			return fail(err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fail(err)
	}

	summary.Committed = true
	summary.DatesTouched = dates
	summary.FinishedAt = s.now().UTC()
	logger.Info("batch committed",
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("rejected", summary.Rejected),
		zap.Strings("dates", dates),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// readError classifies a failure that stopped iteration over src.
func readError(src string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("read %s: %w: %w", src, models.ErrIngestTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("read %s: ingestion canceled: %w", src, err)
	default:
		return fmt.Errorf("read %s: %w", src, err)
	}
}

func (s *Service) newSummary(src string) *models.BatchSummary {
	return &models.BatchSummary{
		BatchID:   uuid.NewString(),
		Source:    src,
		StartedAt: s.now().UTC(),
	}
}
